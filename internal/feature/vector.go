package feature

import (
	"fmt"
	"math"
	"sort"
)

// Vector 为命名特征到有限浮点值的映射。输出保证无 NaN/Inf——
// 校验失败的向量不会离开 extractor。
type Vector map[string]float64

// 特征键。两条计算路径输出完全一致的键集合。
const (
	KeyClose    = "close"
	KeyRet1     = "ret_1"
	KeyRet5     = "ret_5"
	KeyEMAFast  = "ema_fast_gap"
	KeyEMASlow  = "ema_slow_gap"
	KeyRSI      = "rsi"
	KeyATRPct   = "atr_pct"
	KeyADX      = "adx"
	KeySlope    = "slope"
	KeyVolRatio = "vol_ratio"
	KeyRangePct = "range_pct"
)

// RequiredKeys 为完整向量必须包含的键（排序固定）。
var RequiredKeys = []string{
	KeyADX, KeyATRPct, KeyClose, KeyEMAFast, KeyEMASlow,
	KeyRSI, KeyRangePct, KeyRet1, KeyRet5, KeySlope, KeyVolRatio,
}

// Validate 确认所有必需键存在且数值有限，失败时点名第一个非法字段。
func (v Vector) Validate() error {
	for _, key := range RequiredKeys {
		val, ok := v[key]
		if !ok {
			return fmt.Errorf("feature %q missing", key)
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("feature %q is not finite (%v)", key, val)
		}
	}
	return nil
}

// Keys 返回向量中的键（排序后），只在日志与测试中使用。
func (v Vector) Keys() []string {
	out := make([]string, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone 深拷贝；缓存命中时返回拷贝，避免调用方改写缓存内容。
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
