package fibonacci

import (
	"math"
	"strconv"

	"genesis/internal/config"
	"genesis/internal/market"
)

// Ratios 为固定的回撤比例集合。
var Ratios = []float64{0.236, 0.382, 0.5, 0.618, 0.786}

// LevelKey 是回撤位键的唯一规范表示（三位小数的字符串，如 "0.618"）。
// 上下游（gate、离场评估器）必须统一经由该函数取键：字符串键与
// 数值键混用曾导致持有数据却查不到的 "no data" 误报。
func LevelKey(ratio float64) string {
	return strconv.FormatFloat(ratio, 'f', 3, 64)
}

// Context 为某个 timeframe 在当前 bar 的回撤上下文。
// Available=false 时其余字段不可信，下游一律当 "gate 无结论" 处理，
// 放行与否由配置的 missing_policy 决定——这里绝不默认放行。
type Context struct {
	Timeframe    string
	Available    bool
	Unavailable  string // Available=false 的原因
	SwingHigh    float64
	SwingLow     float64
	SwingHighIdx int
	SwingLowIdx  int
	UpMove       bool
	Levels       map[string]float64
	NearestKey   string
	// NearestDistATR 为当前收盘价到最近回撤位的距离（ATR 单位）。
	NearestDistATR float64
}

// Provider 按 timeframe 参数化的回撤位计算器。HTF 与 LTF 各持有一个
// 实例，算法完全共享——两份近似拷贝各自演化正是要避免的。
type Provider struct {
	cfg config.FibTimeframeConfig
}

func NewProvider(cfg config.FibTimeframeConfig) *Provider {
	return &Provider{cfg: cfg}
}

// MissingPolicy 返回该 timeframe 的缺数据策略。
func (p *Provider) MissingPolicy() string { return p.cfg.MissingPolicy }

// Tolerance 返回近位容差（ATR 倍数）。
func (p *Provider) Tolerance() float64 { return p.cfg.ToleranceATR }

// AllowOverride 返回该 timeframe 是否允许推翻 HTF 拦截（仅 LTF 配置）。
func (p *Provider) AllowOverride() bool { return p.cfg.AllowOverride }

// Compute 基于截至当前 bar 的 K 线与当前 ATR 计算上下文。
// candles 必须已经是 as-of 切片——这里看不到、也不准看到未来 bar。
func (p *Provider) Compute(candles []market.Candle, atr float64) Context {
	ctx := Context{Timeframe: p.cfg.Timeframe}
	if len(candles) < p.cfg.SwingLookback {
		ctx.Unavailable = "insufficient swing history"
		return ctx
	}
	if atr <= 0 || math.IsNaN(atr) || math.IsInf(atr, 0) {
		ctx.Unavailable = "atr unavailable"
		return ctx
	}
	window := candles[len(candles)-p.cfg.SwingLookback:]
	hiIdx, loIdx := 0, 0
	for i, c := range window {
		if c.High > window[hiIdx].High {
			hiIdx = i
		}
		if c.Low < window[loIdx].Low {
			loIdx = i
		}
	}
	high := window[hiIdx].High
	low := window[loIdx].Low
	if high-low <= atr*0.25 {
		// 摆动区间过窄，回撤位挤在一起没有意义。
		ctx.Unavailable = "degenerate swing range"
		return ctx
	}

	ctx.SwingHigh = high
	ctx.SwingLow = low
	base := len(candles) - p.cfg.SwingLookback
	ctx.SwingHighIdx = base + hiIdx
	ctx.SwingLowIdx = base + loIdx
	ctx.UpMove = loIdx < hiIdx

	ctx.Levels = make(map[string]float64, len(Ratios))
	span := high - low
	for _, r := range Ratios {
		var price float64
		if ctx.UpMove {
			price = high - span*r
		} else {
			price = low + span*r
		}
		ctx.Levels[LevelKey(r)] = price
	}

	close := candles[len(candles)-1].Close
	// 按固定比例顺序扫描，等距并列时取更小的 ratio，结果可复现。
	nearestKey := ""
	nearestDist := math.MaxFloat64
	for _, r := range Ratios {
		key := LevelKey(r)
		d := math.Abs(close-ctx.Levels[key]) / atr
		if d < nearestDist {
			nearestDist = d
			nearestKey = key
		}
	}
	ctx.NearestKey = nearestKey
	ctx.NearestDistATR = nearestDist
	ctx.Available = true
	return ctx
}

// Level 按规范键读取回撤位价格。
func (c Context) Level(key string) (float64, bool) {
	if !c.Available || c.Levels == nil {
		return 0, false
	}
	price, ok := c.Levels[key]
	return price, ok
}

// Resample 把基础周期 K 线按 factor 聚合成高周期序列（不足一组的
// 尾部保留为部分 bar，保证 as-of 语义）。factor<=1 时原样返回。
func Resample(candles []market.Candle, factor int) []market.Candle {
	if factor <= 1 || len(candles) == 0 {
		return candles
	}
	out := make([]market.Candle, 0, len(candles)/factor+1)
	for start := 0; start < len(candles); start += factor {
		end := start + factor
		if end > len(candles) {
			end = len(candles)
		}
		group := candles[start:end]
		agg := market.Candle{
			OpenTime:  group[0].OpenTime,
			CloseTime: group[len(group)-1].CloseTime,
			Open:      group[0].Open,
			High:      group[0].High,
			Low:       group[0].Low,
			Close:     group[len(group)-1].Close,
		}
		for _, c := range group {
			if c.High > agg.High {
				agg.High = c.High
			}
			if c.Low < agg.Low {
				agg.Low = c.Low
			}
			agg.Volume += c.Volume
			agg.Trades += c.Trades
		}
		out = append(out, agg)
	}
	return out
}
