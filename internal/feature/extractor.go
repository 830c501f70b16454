package feature

import (
	"errors"
	"fmt"

	talib "github.com/markcheno/go-talib"

	"genesis/internal/cache"
	"genesis/internal/config"
	"genesis/internal/logger"
	"genesis/internal/market"
)

// EquivalenceTol 为 fast/slow 两条路径的相对容差。窗口路径的
// EMA/RSI/ATR warmup 与全量预计算存在指数衰减的残差，MinBars 长度
// 的窗口把残差压到该量级以内；由原始价格直接导出的特征两条路径
// 完全一致。
const EquivalenceTol = 2e-2

// ErrTableMissing 表示声明了 precomputed 模式但指标表缺失或未对齐。
// 严格模式下由回放引擎升级为 run 级硬错误。
var ErrTableMissing = errors.New("precomputed table missing or misaligned")

// Extractor 从 K 线窗口产出 as-of 特征向量：下标 i 的向量只依赖
// <= i 的数据。两条路径：
//   - fast：读预计算表（按全局下标显式重映射）；
//   - slow：对窗口切片重算指标。
//
// 单个 Extractor 归属于一次回放 run，内部不加锁。
type Extractor struct {
	cfg     *config.Config
	cfgHash string
	table   *Table
	cache   *cache.LRU
	log     *logger.Scoped

	useTable       bool
	fallbackWarned bool
}

// NewExtractor 构造提取器并解析执行模式。
// precomputed 模式要求表存在且与序列对齐：严格模式下缺表直接报错，
// 非严格模式降级 slow path 并记录一次告警（绝不静默）。
func NewExtractor(cfg *config.Config, series []market.Candle, table *Table, log *logger.Scoped) (*Extractor, error) {
	if log == nil {
		log = logger.WithScope("feature")
	}
	e := &Extractor{
		cfg:     cfg,
		cfgHash: cfg.EngineHash(),
		table:   table,
		cache:   cache.NewLRU(cfg.Replay.FeatureCacheSize),
		log:     log,
	}
	if cfg.Replay.Execution == config.ExecutionPrecomputed {
		if err := table.VerifyAligned(series); err != nil {
			if cfg.Replay.StrictMode {
				return nil, fmt.Errorf("%w: %v", ErrTableMissing, err)
			}
			e.log.Warnf("precomputed table unavailable, falling back to window path: %v", err)
			e.fallbackWarned = true
			e.table = nil
		} else {
			e.useTable = true
		}
	}
	return e, nil
}

// Mode 返回实际生效的执行路径，写入 run metadata。
func (e *Extractor) Mode() string {
	if e.useTable {
		return config.ExecutionPrecomputed
	}
	return config.ExecutionWindow
}

// CacheStats 返回特征缓存命中统计。
func (e *Extractor) CacheStats() (hits, misses int64) { return e.cache.Stats() }

// Extract 计算 series[localIdx] 的特征向量。series 可以是全局序列的
// 子切片，globalStart 给出其在全局序列中的起点；fast path 读表时用
// globalStart+localIdx 做显式下标重映射。
func (e *Extractor) Extract(series []market.Candle, globalStart, localIdx int) (Vector, error) {
	if localIdx < 0 || localIdx >= len(series) {
		return nil, fmt.Errorf("feature extract: index %d out of range (len=%d)", localIdx, len(series))
	}
	if localIdx+1 < MinBars {
		return nil, fmt.Errorf("feature extract: need %d bars of history, have %d", MinBars, localIdx+1)
	}
	globalIdx := globalStart + localIdx
	lo := localIdx + 1 - MinBars
	window := series[lo : localIdx+1]

	key := cache.Key{
		BarIndex:   globalIdx,
		WindowHash: cache.HashWindow(window),
		ConfigHash: e.cfgHash,
	}
	if cached, ok := e.cache.Get(key); ok {
		return cached.(Vector).Clone(), nil
	}

	var vec Vector
	var err error
	if e.useTable {
		vec, err = e.fromTable(window, globalIdx)
	} else {
		vec, err = e.fromWindow(window)
	}
	if err != nil {
		return nil, err
	}
	if err := vec.Validate(); err != nil {
		return nil, fmt.Errorf("feature extract at bar %d: %w", globalIdx, err)
	}
	e.cache.Put(key, vec.Clone())
	return vec, nil
}

// fromTable 为 fast path：指标值直接按全局下标读表。
func (e *Extractor) fromTable(window []market.Candle, globalIdx int) (Vector, error) {
	if globalIdx >= e.table.Length {
		return nil, fmt.Errorf("%w: index %d beyond table length %d", ErrTableMissing, globalIdx, e.table.Length)
	}
	emaFast, emaSlow, rsi, atr, adx, volSMA := e.table.at(globalIdx)
	return e.assemble(window, emaFast, emaSlow, rsi, atr, adx, volSMA)
}

// fromWindow 为 slow path：对窗口重算指标，取末位值。
func (e *Extractor) fromWindow(window []market.Candle) (Vector, error) {
	closes := market.Closes(window)
	highs := market.Highs(window)
	lows := market.Lows(window)
	volumes := market.Volumes(window)
	last := len(window) - 1

	emaFast := talib.Ema(closes, emaFastPeriod)[last]
	emaSlow := talib.Ema(closes, emaSlowPeriod)[last]
	rsi := talib.Rsi(closes, rsiPeriod)[last]
	atr := talib.Atr(highs, lows, closes, e.cfg.Engine.ATRZones.Period)[last]
	adx := talib.Adx(highs, lows, closes, e.cfg.Engine.Regime.ADXPeriod)[last]
	volSMA := talib.Sma(volumes, volSMAPeriod)[last]
	return e.assemble(window, emaFast, emaSlow, rsi, atr, adx, volSMA)
}

// assemble 把指标值与原始价格派生特征拼成向量。原始派生部分
// 两条路径共用，保证键集合与数值完全一致。
func (e *Extractor) assemble(window []market.Candle, emaFast, emaSlow, rsi, atr, adx, volSMA float64) (Vector, error) {
	last := len(window) - 1
	cur := window[last]
	if cur.Close <= 0 {
		return nil, fmt.Errorf("feature close price must be > 0, got %v", cur.Close)
	}
	if emaFast <= 0 || emaSlow <= 0 {
		return nil, fmt.Errorf("feature ema warmup incomplete (fast=%v slow=%v)", emaFast, emaSlow)
	}

	ret1 := window[last].Close/window[last-1].Close - 1
	ret5 := window[last].Close/window[last-5].Close - 1
	volRatio := 0.0
	if volSMA > 0 {
		volRatio = cur.Volume / volSMA
	}

	vec := Vector{
		KeyClose:    cur.Close,
		KeyRet1:     ret1,
		KeyRet5:     ret5,
		KeyEMAFast:  cur.Close/emaFast - 1,
		KeyEMASlow:  cur.Close/emaSlow - 1,
		KeyRSI:      rsi,
		KeyATRPct:   atr / cur.Close,
		KeyADX:      adx,
		KeySlope:    regressionSlope(market.Closes(window), slopePeriod),
		KeyVolRatio: volRatio,
		KeyRangePct: (cur.High - cur.Low) / cur.Close,
	}
	return vec, nil
}

// regressionSlope 对末端 period 个收盘价做最小二乘，返回按价格归一的
// 每 bar 斜率。纯原始数据派生，与表无关。
func regressionSlope(closes []float64, period int) float64 {
	if len(closes) < period || period < 2 {
		return 0
	}
	tail := closes[len(closes)-period:]
	n := float64(period)
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range tail {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	mean := sumY / n
	if mean == 0 {
		return 0
	}
	return slope / mean
}
