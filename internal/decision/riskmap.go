package decision

import (
	"fmt"
	"math"

	"genesis/internal/config"
)

// sizeForConfidence 在风险映射表上查找仓位：取 min_confidence 不超过
// confidence 的最高档。表的有序性与单调性在配置加载期已校验，
// 这里只防运行期才可能出现的坏值。
func sizeForConfidence(steps []config.RiskStep, conf float64) (float64, error) {
	if len(steps) == 0 {
		return 0, fmt.Errorf("risk_map 为空")
	}
	if math.IsNaN(conf) || math.IsInf(conf, 0) {
		return 0, fmt.Errorf("confidence 非法: %v", conf)
	}
	if conf < steps[0].MinConfidence {
		return 0, fmt.Errorf("confidence=%.4f 低于首档 min_confidence=%.4f", conf, steps[0].MinConfidence)
	}
	size := steps[0].Size
	for _, st := range steps[1:] {
		if conf < st.MinConfidence {
			break
		}
		size = st.Size
	}
	if math.IsNaN(size) || math.IsInf(size, 0) || size < 0 {
		return 0, fmt.Errorf("映射结果非法: %v", size)
	}
	return size, nil
}
