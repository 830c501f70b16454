package feature

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"genesis/internal/config"
	"genesis/internal/market"
)

// 指标周期。EMA/RSI/量能周期为引擎内固定值；ATR/ADX 周期跟随配置，
// 以便和波动分档、regime 分类共用同一套序列。
const (
	emaFastPeriod = 21
	emaSlowPeriod = 50
	rsiPeriod     = 14
	volSMAPeriod  = 20
	slopePeriod   = 20
)

// MinBars 为产出一个完整特征向量需要的最少 K 线数。
// EMA(50) 的 warmup 之外再加一段衰减余量，保证窗口路径与全量
// 预计算路径在文档化容差内等价。
const MinBars = 4 * emaSlowPeriod

// Table 为与完整 K 线序列按下标对齐的指标预计算表。
// 下标 i 的值只依赖 <= i 的 K 线（全部为因果指标），因此 fast path
// 读表不会引入未来信息。
type Table struct {
	Length  int
	emaFast []float64
	emaSlow []float64
	rsi     []float64
	atr     []float64
	adx     []float64
	volSMA  []float64
	// firstOpenTime/lastOpenTime 用于对齐校验。
	firstOpenTime int64
	lastOpenTime  int64
}

// BuildTable 对完整序列做一次指标预计算。回放启动前调用一次，
// 热路径内只读。
func BuildTable(candles []market.Candle, cfg *config.Config) (*Table, error) {
	if len(candles) < MinBars {
		return nil, fmt.Errorf("precompute table: need >= %d candles, got %d", MinBars, len(candles))
	}
	closes := market.Closes(candles)
	highs := market.Highs(candles)
	lows := market.Lows(candles)
	volumes := market.Volumes(candles)

	atrPeriod := cfg.Engine.ATRZones.Period
	adxPeriod := cfg.Engine.Regime.ADXPeriod

	t := &Table{
		Length:        len(candles),
		emaFast:       talib.Ema(closes, emaFastPeriod),
		emaSlow:       talib.Ema(closes, emaSlowPeriod),
		rsi:           talib.Rsi(closes, rsiPeriod),
		atr:           talib.Atr(highs, lows, closes, atrPeriod),
		adx:           talib.Adx(highs, lows, closes, adxPeriod),
		volSMA:        talib.Sma(volumes, volSMAPeriod),
		firstOpenTime: candles[0].OpenTime,
		lastOpenTime:  candles[len(candles)-1].OpenTime,
	}
	return t, nil
}

// VerifyAligned 确认表与给定序列同源同长。回放引擎在声明
// precomputed 模式时调用；失败必须升级为硬错误，而不是降级慢路径。
func (t *Table) VerifyAligned(candles []market.Candle) error {
	if t == nil {
		return fmt.Errorf("precompute table: table is nil")
	}
	if t.Length != len(candles) {
		return fmt.Errorf("precompute table: length %d != series length %d", t.Length, len(candles))
	}
	if len(candles) == 0 {
		return fmt.Errorf("precompute table: empty series")
	}
	if candles[0].OpenTime != t.firstOpenTime || candles[len(candles)-1].OpenTime != t.lastOpenTime {
		return fmt.Errorf("precompute table: open_time range mismatch (table %d..%d, series %d..%d)",
			t.firstOpenTime, t.lastOpenTime, candles[0].OpenTime, candles[len(candles)-1].OpenTime)
	}
	return nil
}

// at 返回全局下标 i 处的各指标值。调用方保证 i < Length。
func (t *Table) at(i int) (emaFast, emaSlow, rsi, atr, adx, volSMA float64) {
	return t.emaFast[i], t.emaSlow[i], t.rsi[i], t.atr[i], t.adx[i], t.volSMA[i]
}
