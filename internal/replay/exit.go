package replay

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"genesis/internal/config"
	"genesis/internal/decision"
	"genesis/internal/fibonacci"
	"genesis/internal/market"
	"genesis/internal/regime"
)

// ExitKind 为平仓触发类型。
type ExitKind string

const (
	ExitStopLoss       ExitKind = "stop_loss"
	ExitTakeProfit     ExitKind = "take_profit"
	ExitMaxHold        ExitKind = "max_hold"
	ExitConfidenceDrop ExitKind = "confidence_drop"
	ExitRegimeFlip     ExitKind = "regime_flip"
	ExitHTFTrailing    ExitKind = "htf_trailing"
	ExitEndOfData      ExitKind = "end_of_data"
)

// Position 为回放中的持仓。价格边界判断走 decimal，避免
// 浮点误差在止损线附近产生平台相关的翻转。
type Position struct {
	Side            decision.Action
	EntryBar        int
	EntryPrice      float64
	Size            float64
	EntryConfidence float64
	EntryRegime     regime.Regime

	stopPrice    float64
	targetPrice  float64
	trailingStop float64
}

// ExitSignal 为单根 bar 上的平仓判定结果。
type ExitSignal struct {
	Triggered bool
	Kind      ExitKind
	Price     float64
	Note      string
}

// ExitEvaluator 按固定优先级评估平仓条件：止损、止盈、最长持有、
// 置信度衰减、regime 翻转、HTF 回撤位追踪。同一根 bar 内止损与
// 止盈同时可达时按止损成交，这是悲观且可复现的取法。
type ExitEvaluator struct {
	cfg config.ExitConfig
}

func NewExitEvaluator(cfg config.ExitConfig) *ExitEvaluator {
	return &ExitEvaluator{cfg: cfg}
}

var (
	decOne     = decimal.NewFromInt(1)
	decimalEps = decimal.NewFromFloat(1e-8)
)

func decFromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func decToFloat(v decimal.Decimal) float64 {
	f, _ := v.Float64()
	return f
}

func decimalLTE(a, b float64) bool { return decFromFloat(a).Cmp(decFromFloat(b)) <= 0 }
func decimalGTE(a, b float64) bool { return decFromFloat(a).Cmp(decFromFloat(b)) >= 0 }

// relativePrice 由入场价与百分比推出目标价：多头止损在下、止盈在上，
// 空头相反。direction 为 +1（上方）或 -1（下方）。
func relativePrice(entry, pct float64, direction int) float64 {
	base := decFromFloat(entry)
	p := decFromFloat(pct)
	var factor decimal.Decimal
	if direction >= 0 {
		factor = decOne.Add(p)
	} else {
		factor = decOne.Sub(p)
	}
	return decToFloat(base.Mul(factor))
}

// OpenPosition 以当根收盘价建仓并预先算好止损/止盈线。
func (e *ExitEvaluator) OpenPosition(res decision.Result, bar market.Candle, conf float64, reg regime.Regime) *Position {
	pos := &Position{
		Side:            res.Action,
		EntryBar:        res.BarIndex,
		EntryPrice:      bar.Close,
		Size:            res.Size,
		EntryConfidence: conf,
		EntryRegime:     reg,
	}
	if e.cfg.StopLossPct > 0 {
		if pos.Side == decision.ActionLong {
			pos.stopPrice = relativePrice(bar.Close, e.cfg.StopLossPct, -1)
		} else {
			pos.stopPrice = relativePrice(bar.Close, e.cfg.StopLossPct, +1)
		}
	}
	if e.cfg.TakeProfitPct > 0 {
		if pos.Side == decision.ActionLong {
			pos.targetPrice = relativePrice(bar.Close, e.cfg.TakeProfitPct, +1)
		} else {
			pos.targetPrice = relativePrice(bar.Close, e.cfg.TakeProfitPct, -1)
		}
	}
	return pos
}

// ExitInput 为平仓评估所需的当根 bar 上下文。
type ExitInput struct {
	BarIndex   int
	Bar        market.Candle
	Confidence float64
	Regime     regime.Regime
	HTF        *fibonacci.Context
	ATR        float64
}

// Evaluate 按固定顺序检查各平仓条件，返回第一个触发者。
// 顺序即优先级，同 bar 多条件可达时只认最靠前的一个。
func (e *ExitEvaluator) Evaluate(pos *Position, in ExitInput) ExitSignal {
	if sig := e.checkStopLoss(pos, in.Bar); sig.Triggered {
		return sig
	}
	if sig := e.checkTakeProfit(pos, in.Bar); sig.Triggered {
		return sig
	}
	if e.cfg.MaxHoldBars > 0 && in.BarIndex-pos.EntryBar >= e.cfg.MaxHoldBars {
		return ExitSignal{Triggered: true, Kind: ExitMaxHold, Price: in.Bar.Close,
			Note: fmt.Sprintf("held=%d max=%d", in.BarIndex-pos.EntryBar, e.cfg.MaxHoldBars)}
	}
	if e.cfg.ConfidenceDrop > 0 && !math.IsNaN(in.Confidence) &&
		pos.EntryConfidence-in.Confidence >= e.cfg.ConfidenceDrop {
		return ExitSignal{Triggered: true, Kind: ExitConfidenceDrop, Price: in.Bar.Close,
			Note: fmt.Sprintf("entry=%.4f now=%.4f", pos.EntryConfidence, in.Confidence)}
	}
	if e.cfg.ExitOnRegimeFlip && regimeAgainst(pos.Side, in.Regime) {
		return ExitSignal{Triggered: true, Kind: ExitRegimeFlip, Price: in.Bar.Close,
			Note: fmt.Sprintf("entry_regime=%s now=%s", pos.EntryRegime, in.Regime)}
	}
	if sig := e.checkTrailing(pos, in); sig.Triggered {
		return sig
	}
	return ExitSignal{}
}

// checkStopLoss 用 bar 内极值判断止损是否可达，成交价取止损线本身。
func (e *ExitEvaluator) checkStopLoss(pos *Position, bar market.Candle) ExitSignal {
	if pos.stopPrice <= 0 {
		return ExitSignal{}
	}
	hit := false
	if pos.Side == decision.ActionLong {
		hit = decimalLTE(bar.Low, pos.stopPrice)
	} else {
		hit = decimalGTE(bar.High, pos.stopPrice)
	}
	if !hit {
		return ExitSignal{}
	}
	return ExitSignal{Triggered: true, Kind: ExitStopLoss, Price: pos.stopPrice,
		Note: fmt.Sprintf("stop=%.8f", pos.stopPrice)}
}

func (e *ExitEvaluator) checkTakeProfit(pos *Position, bar market.Candle) ExitSignal {
	if pos.targetPrice <= 0 {
		return ExitSignal{}
	}
	hit := false
	if pos.Side == decision.ActionLong {
		hit = decimalGTE(bar.High, pos.targetPrice)
	} else {
		hit = decimalLTE(bar.Low, pos.targetPrice)
	}
	if !hit {
		return ExitSignal{}
	}
	return ExitSignal{Triggered: true, Kind: ExitTakeProfit, Price: pos.targetPrice,
		Note: fmt.Sprintf("target=%.8f", pos.targetPrice)}
}

// checkTrailing 维护并检查 HTF 回撤位追踪止损：以配置指定的回撤位
// 为锚，按 ATR 倍数留出缓冲，止损线只朝有利方向棘轮推进。
// 回撤位上下文不可用时本条件静默跳过，不让追踪退化成随机平仓。
func (e *ExitEvaluator) checkTrailing(pos *Position, in ExitInput) ExitSignal {
	if !e.cfg.TrailingEnabled || in.HTF == nil || !in.HTF.Available {
		return ExitSignal{}
	}
	level, ok := in.HTF.Level(e.cfg.TrailingLevelKey)
	if !ok || math.IsNaN(in.ATR) || in.ATR <= 0 {
		return ExitSignal{}
	}

	buffer := decFromFloat(in.ATR).Mul(decFromFloat(e.cfg.TrailingATRMult))
	var candidate float64
	if pos.Side == decision.ActionLong {
		candidate = decToFloat(decFromFloat(level).Sub(buffer))
	} else {
		candidate = decToFloat(decFromFloat(level).Add(buffer))
	}
	if shouldRatchet(pos.Side, candidate, pos.trailingStop) {
		pos.trailingStop = candidate
	}
	if pos.trailingStop <= 0 {
		return ExitSignal{}
	}

	breached := false
	if pos.Side == decision.ActionLong {
		breached = decimalLTE(in.Bar.Close, pos.trailingStop)
	} else {
		breached = decimalGTE(in.Bar.Close, pos.trailingStop)
	}
	if !breached {
		return ExitSignal{}
	}
	return ExitSignal{Triggered: true, Kind: ExitHTFTrailing, Price: in.Bar.Close,
		Note: fmt.Sprintf("level=%s stop=%.8f", e.cfg.TrailingLevelKey, pos.trailingStop)}
}

// shouldRatchet 判断追踪线是否朝有利方向推进（带 eps 死区防抖）。
func shouldRatchet(side decision.Action, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	cand := decFromFloat(candidate)
	curr := decFromFloat(current)
	if side == decision.ActionLong {
		return cand.Cmp(curr.Add(decimalEps)) > 0
	}
	return cand.Cmp(curr.Sub(decimalEps)) < 0
}

// regimeAgainst 判断当前 regime 是否与持仓方向对立。
func regimeAgainst(side decision.Action, reg regime.Regime) bool {
	switch side {
	case decision.ActionLong:
		return reg == regime.Bear
	case decision.ActionShort:
		return reg == regime.Bull
	}
	return false
}

// Commission 按单边 bps 成本计算一笔完整交易的双边手续费
// （与收益同为按仓位加权的比例量纲）。
func (p *Position) Commission(costBps float64) float64 {
	if costBps <= 0 {
		return 0
	}
	return p.Size * costBps / 1e4 * 2
}

// PnL 计算平仓前的毛收益率（按仓位加权，不含手续费）。
func (p *Position) PnL(exitPrice float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	raw := (exitPrice - p.EntryPrice) / p.EntryPrice
	if p.Side == decision.ActionShort {
		raw = -raw
	}
	return raw * p.Size
}
