package decision

// Action 为决策方向。
type Action string

const (
	ActionLong  Action = "long"
	ActionShort Action = "short"
	ActionNone  Action = "none"
)

// Reason 为封闭的机器可读原因码。每次拒绝恰好由一个 gate 给出
// 一个原因码，任何两个 gate 不会对同一输入给出相同的拒绝。
type Reason string

const (
	ReasonOK              Reason = "OK"
	ReasonMissingData     Reason = "MISSING_DATA"
	ReasonEVBlock         Reason = "EV_BLOCK"
	ReasonProbaBlock      Reason = "PROBA_BLOCK"
	ReasonEdgeTooSmall    Reason = "EDGE_TOO_SMALL"
	ReasonHTFFibBlock     Reason = "HTF_FIB_BLOCK"
	ReasonLTFFibBlock     Reason = "LTF_FIB_BLOCK"
	ReasonHysteresisBlock Reason = "HYSTERESIS_BLOCK"
	ReasonCooldownBlock   Reason = "COOLDOWN_BLOCK"
	ReasonConfidenceBlock Reason = "CONFIDENCE_BLOCK"
	ReasonSizingError     Reason = "SIZING_ERROR"
)

// Reasons 为全部原因码（顺序固定，供测试枚举）。
var Reasons = []Reason{
	ReasonOK, ReasonMissingData, ReasonEVBlock, ReasonProbaBlock,
	ReasonEdgeTooSmall, ReasonHTFFibBlock, ReasonLTFFibBlock,
	ReasonHysteresisBlock, ReasonCooldownBlock, ReasonConfidenceBlock,
	ReasonSizingError,
}
