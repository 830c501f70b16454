package replay

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"genesis/internal/confidence"
	"genesis/internal/config"
	"genesis/internal/decision"
	"genesis/internal/feature"
	"genesis/internal/fibonacci"
	"genesis/internal/logger"
	"genesis/internal/market"
	"genesis/internal/probability"
	"genesis/internal/regime"
)

// Engine 为确定性回放引擎：严格单向遍历 K 线，任何指标、回撤位、
// 概率都只用当前 bar 及之前的数据计算。同一份输入、同一份配置
// 必然产出相同的 Artifact（RunID 与时间戳除外）。
type Engine struct {
	cfg      *config.Config
	provider probability.Provider
	log      *logger.Scoped
}

// NewEngine 构造回放引擎。provider 给出逐 bar 的方向概率。
func NewEngine(cfg *config.Config, provider probability.Provider, log *logger.Scoped) *Engine {
	if log == nil {
		log = logger.WithScope("replay")
	}
	return &Engine{cfg: cfg, provider: provider, log: log}
}

// Run 在给定序列上执行一次完整回放。baseTimeframe 为输入序列的
// 周期，须与配置里 LTF 周期一致。执行模式（precomputed/window）
// 在进入第一根 bar 之前就已定死，中途不允许漂移。
func (e *Engine) Run(ctx context.Context, candles []market.Candle, baseTimeframe string) (*Artifact, error) {
	if err := market.ValidateSeries(candles); err != nil {
		return nil, fmt.Errorf("replay: 输入序列非法: %w", err)
	}
	rc := e.cfg.Replay
	ec := e.cfg.Engine

	if ec.Fibonacci.LTF.Timeframe != baseTimeframe {
		return nil, fmt.Errorf("replay: 序列周期 %s 与 LTF 配置 %s 不一致", baseTimeframe, ec.Fibonacci.LTF.Timeframe)
	}
	htfFactor, err := market.ResampleFactor(baseTimeframe, ec.Fibonacci.HTF.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("replay: HTF 周期换算失败: %w", err)
	}

	// 执行模式一致性在 bar 0 之前裁决：precomputed 模式建表失败，
	// 严格模式下直接判 run 失败；非严格模式降级为 window 并告警。
	var table *feature.Table
	if rc.Execution == config.ExecutionPrecomputed {
		table, err = feature.BuildTable(candles, e.cfg)
		if err != nil {
			if rc.StrictMode {
				return nil, fmt.Errorf("replay: 执行模式不一致（strict）: %w", err)
			}
			e.log.Warnf("指标表构建失败，降级为 window 模式: %v", err)
			table = nil
		}
	}
	extractor, err := feature.NewExtractor(e.cfg, candles, table, e.log)
	if err != nil {
		return nil, fmt.Errorf("replay: 特征提取器初始化失败: %w", err)
	}

	classifier := regime.NewClassifier(ec.Regime)
	calc := confidence.NewCalculator(ec.Confidence)
	decider := decision.NewEngine(&e.cfg.Engine, e.log)
	state := decision.NewState()
	exits := NewExitEvaluator(ec.Exits)
	htfProv := fibonacci.NewProvider(ec.Fibonacci.HTF)
	ltfProv := fibonacci.NewProvider(ec.Fibonacci.LTF)

	art := &Artifact{
		RunID:        uuid.NewString(),
		StartedAt:    time.Now(),
		ConfigHash:   e.cfg.Hash(),
		EngineHash:   e.cfg.EngineHash(),
		Execution:    rc.Execution,
		StrictMode:   rc.StrictMode,
		Seed:         rc.Seed,
		FeatureMode:  extractor.Mode(),
		ReasonCounts: map[decision.Reason]int{},
		Equity:       make([]float64, 0, len(candles)),
	}

	var (
		pos      *Position
		realized float64
		volPct   = &rollingPercentile{cap: 256}
	)

	// 单 bar 可恢复错误计入预算；预算超限带着现场诊断立刻中止。
	tolerate := func(i int, stage string, err error) error {
		art.Errors = append(art.Errors, BarError{BarIndex: i, Stage: stage, Message: err.Error()})
		art.ReasonCounts[decision.ReasonMissingData]++
		if len(art.Equity) >= rc.MinBarsForRate {
			rate := float64(len(art.Errors)) / float64(len(art.Equity))
			if rate > rc.MaxErrorRate {
				return fmt.Errorf("replay: 错误率 %.4f 超限 %.4f，bar=%d stage=%s: %v",
					rate, rc.MaxErrorRate, i, stage, err)
			}
		}
		return nil
	}
	markEquity := func(close float64) {
		eq := realized
		if pos != nil {
			eq += pos.PnL(close)
		}
		art.Equity = append(art.Equity, eq)
	}

	// 取消只在进入序列前生效：run 一旦开始就整体跑完或整体失败，
	// 不存在跑到一半被掐断的中间态。
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("replay: run 取消: %w", err)
	}

	for i := range candles {
		bar := candles[i]

		// 预热段不产生决策也不计错误。
		if i+1 < feature.MinBars {
			markEquity(bar.Close)
			continue
		}

		feats, err := extractor.Extract(candles, 0, i)
		if err != nil {
			markEquity(bar.Close)
			if berr := tolerate(i, "feature", err); berr != nil {
				return nil, berr
			}
			// 输入缺失时分类器维持现状并打低置信标记
			classifier.Step(regime.Inputs{Slope: math.NaN(), ADX: math.NaN(), VolPercentile: math.NaN()})
			continue
		}

		snap := classifier.Step(regime.Inputs{
			Slope:         feats[feature.KeySlope],
			ADX:           feats[feature.KeyADX],
			VolPercentile: volPct.observe(feats[feature.KeyATRPct]),
		})

		probs, err := e.provider.Predict(feats)
		if err != nil {
			markEquity(bar.Close)
			if berr := tolerate(i, "probability", err); berr != nil {
				return nil, berr
			}
			continue
		}

		conf, err := calc.Score(probs, confidence.QualityInputs{
			ATRPct:      feats[feature.KeyATRPct],
			SpreadBps:   feats[feature.KeyRangePct] * 1e4,
			VolumeScore: feats[feature.KeyVolRatio],
			DataQuality: 1,
		})
		if err != nil {
			markEquity(bar.Close)
			if berr := tolerate(i, "confidence", err); berr != nil {
				return nil, berr
			}
			continue
		}

		// 回撤位上下文严格用截至当前 bar 的数据（含 HTF 的部分 bar）。
		asOf := candles[:i+1]
		atrAbs := feats[feature.KeyATRPct] * bar.Close
		ltfCtx := ltfProv.Compute(fibTail(asOf, ec.Fibonacci.LTF.SwingLookback), atrAbs)
		htfSeries := fibonacci.Resample(fibTail(asOf, ec.Fibonacci.HTF.SwingLookback*htfFactor), htfFactor)
		htfCtx := htfProv.Compute(htfSeries, atrAbs)

		// 决策管线每根 bar 都要走完：滞回计数与 ATR 分位史依赖
		// 逐 bar 推进，持仓期间冻结会让平仓后残留的旧 streak
		// 立刻满足滞回条件。持仓时的放行决策只记原因、不开新仓。
		res := decider.Evaluate(decision.Input{
			BarIndex:   i,
			Features:   feats,
			Probs:      probs,
			Regime:     snap,
			Confidence: conf,
			HTF:        &htfCtx,
			LTF:        &ltfCtx,
		}, state)
		art.ReasonCounts[res.Reason]++

		if pos == nil && res.Reason == decision.ReasonOK && res.Size > 0 {
			pos = exits.OpenPosition(res, bar, conf, snap.Regime)
		}

		// 出场评估在决策之后。当根新开的仓位按收盘成交，bar 内
		// 极值发生在入场之前，因此出场从下一根 bar 起才参与评估。
		if pos != nil && pos.EntryBar != i {
			sig := exits.Evaluate(pos, ExitInput{
				BarIndex:   i,
				Bar:        bar,
				Confidence: conf,
				Regime:     snap.Regime,
				HTF:        &htfCtx,
				ATR:        atrAbs,
			})
			if sig.Triggered {
				realized += closeTrade(art, pos, i, sig, ec.EV.CostBps)
				state.StartCooldown(i, ec.Signal.CooldownBars)
				pos = nil
			}
		}
		markEquity(bar.Close)
	}

	// 数据走完仍有持仓：按末根收盘强平，留痕为 end_of_data。
	if pos != nil && len(candles) > 0 {
		last := len(candles) - 1
		realized += closeTrade(art, pos, last, ExitSignal{
			Triggered: true, Kind: ExitEndOfData, Price: candles[last].Close,
		}, ec.EV.CostBps)
		pos = nil
		if len(art.Equity) > 0 {
			art.Equity[len(art.Equity)-1] = realized
		}
	}

	art.FinishedAt = time.Now()
	art.Stats = computeStats(art.Trades, art.Equity, len(candles), len(art.Errors))
	hits, misses := extractor.CacheStats()
	e.log.Infof("run=%s 完成: bars=%d trades=%d return=%.4f cache_hit=%d/%d",
		art.RunID, len(candles), len(art.Trades), art.Stats.TotalReturn, hits, hits+misses)
	return art, nil
}

// closeTrade 记录一笔平仓并返回扣除双边手续费后的已实现收益。
// costBps 为单边成本（与 EV gate 建模的 cost_bps 同源）。
func closeTrade(art *Artifact, pos *Position, exitBar int, sig ExitSignal, costBps float64) float64 {
	commission := pos.Commission(costBps)
	pnl := pos.PnL(sig.Price) - commission
	art.Trades = append(art.Trades, TradeRecord{
		Side:       pos.Side,
		EntryBar:   pos.EntryBar,
		ExitBar:    exitBar,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  sig.Price,
		Size:       pos.Size,
		PnL:        pnl,
		Commission: commission,
		ExitKind:   sig.Kind,
		ExitNote:   sig.Note,
	})
	return pnl
}

// rollingPercentile 维护有限窗口内的波动分位（秩分位，等值取中位）。
type rollingPercentile struct {
	window []float64
	cap    int
}

func (r *rollingPercentile) observe(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN()
	}
	r.window = append(r.window, v)
	if len(r.window) > r.cap {
		r.window = r.window[1:]
	}
	below, equal := 0, 0
	for _, x := range r.window {
		switch {
		case x < v:
			below++
		case x == v:
			equal++
		}
	}
	return (float64(below) + 0.5*float64(equal)) / float64(len(r.window))
}

// fibTail 取序列末端至多 n 根 bar（n<=0 时整段返回）。
func fibTail(candles []market.Candle, n int) []market.Candle {
	if n <= 0 || len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}
