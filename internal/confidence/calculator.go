package confidence

import (
	"fmt"
	"math"

	"genesis/internal/config"
	"genesis/internal/probability"
)

// QualityInputs 为市场质量信号。DataQuality 取 [0,1]，由调用方按
// 数据完整度给出；其余为原始量纲。
type QualityInputs struct {
	ATRPct      float64
	SpreadBps   float64
	VolumeScore float64
	DataQuality float64
}

// Calculator 把模型概率与市场质量映射成标量置信度。纯函数：
// 固定概率下对每个质量输入单调非降。
type Calculator struct {
	cfg config.ConfidenceConfig
}

func NewCalculator(cfg config.ConfidenceConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Score 计算置信度。
//
// 名义上界为 [0,1]，但 volume 项的上限由 volume_ratio_cap 决定：
// cap 配置超过默认值 1.0 时结果可能轻微越过 1。这是沿袭下来的
// 已记录行为，clamp=false（默认）时保持原样，clamp=true 时硬夹。
func (c *Calculator) Score(p probability.Pair, q QualityInputs) (float64, error) {
	edge := math.Abs(p.Buy - p.Sell)
	if math.IsNaN(edge) {
		return 0, fmt.Errorf("confidence: probability pair contains NaN")
	}

	// 波动项：ATR 越靠近参考值越好，超出后线性衰减，下限 0。
	volQ := 1.0
	if c.cfg.ATRRefPct > 0 && q.ATRPct > c.cfg.ATRRefPct {
		volQ = math.Max(0, 1-(q.ATRPct-c.cfg.ATRRefPct)/c.cfg.ATRRefPct)
	}
	// 点差项：参考点差内为 1，之外反比衰减。
	spreadQ := 1.0
	if c.cfg.SpreadRefBps > 0 && q.SpreadBps > c.cfg.SpreadRefBps {
		spreadQ = c.cfg.SpreadRefBps / q.SpreadBps
	}
	// 量能项：cap 之内线性，之上截断到 cap。cap > 1 时该项可以大于 1。
	volumeQ := math.Min(math.Max(q.VolumeScore, 0), c.cfg.VolumeRatioCap)
	dataQ := math.Min(math.Max(q.DataQuality, 0), 1)

	// 权重在默认 cap=1.0 时合计为 1，score 不超过 edge；cap 放宽后
	// volume 项可超 1，score 随之轻微越过 1——不在这里偷偷修正。
	score := edge * (0.4*volQ + 0.25*spreadQ + 0.2*volumeQ + 0.15*dataQ)
	if c.cfg.Clamp {
		score = math.Min(math.Max(score, 0), 1)
	} else if score < 0 {
		score = 0
	}
	return score, nil
}
