package config

// Config 为整个引擎的根配置。所有字段都必须显式出现在配置文件或
// defaults 中，核心路径内不得读环境变量。
type Config struct {
	LogLevel string       `mapstructure:"log_level" json:"log_level"`
	Data     DataConfig   `mapstructure:"data" json:"data"`
	Engine   EngineConfig `mapstructure:"engine" json:"engine"`
	Replay   ReplayConfig `mapstructure:"replay" json:"replay"`
	HTTP     HTTPConfig   `mapstructure:"http" json:"http"`
}

// DataConfig 指定本地数据根目录。
type DataConfig struct {
	CandleRoot string `mapstructure:"candle_root" json:"candle_root"`
	ResultRoot string `mapstructure:"result_root" json:"result_root"`
	// ModelWeights 为概率模型权重 JSON 的路径（外部训练产物）。
	ModelWeights string `mapstructure:"model_weights" json:"model_weights"`
}

// HTTPConfig 控制回测 HTTP API。
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Addr    string `mapstructure:"addr" json:"addr"`
}

// EngineConfig 聚合决策管线所有参数。
type EngineConfig struct {
	MaxPosition float64          `mapstructure:"max_position" json:"max_position"`
	EV          EVConfig         `mapstructure:"ev" json:"ev"`
	ATRZones    ATRZoneConfig    `mapstructure:"atr_zones" json:"atr_zones"`
	Thresholds  ThresholdConfig  `mapstructure:"thresholds" json:"thresholds"`
	Signal      SignalConfig     `mapstructure:"signal" json:"signal"`
	Regime      RegimeConfig     `mapstructure:"regime" json:"regime"`
	Confidence  ConfidenceConfig `mapstructure:"confidence" json:"confidence"`
	Fibonacci   FibonacciConfig  `mapstructure:"fibonacci" json:"fibonacci"`
	RiskMap     []RiskStep       `mapstructure:"risk_map" json:"risk_map"`
	Exits       ExitConfig       `mapstructure:"exits" json:"exits"`
}

// EVConfig 描述期望值过滤器：payoff 为盈亏比，cost 为单边成本（bp）。
type EVConfig struct {
	PayoffRatio float64 `mapstructure:"payoff_ratio" json:"payoff_ratio"`
	CostBps     float64 `mapstructure:"cost_bps" json:"cost_bps"`
}

// ATRZoneConfig 用 ATR 百分位把市场切成低/中/高波动三档。
type ATRZoneConfig struct {
	Period  int     `mapstructure:"period" json:"period"`
	LowPct  float64 `mapstructure:"low_pct" json:"low_pct"`
	HighPct float64 `mapstructure:"high_pct" json:"high_pct"`
}

// ThresholdConfig 是入场概率阈值的唯一来源：按 regime、再按 ATR 档位。
// 历史版本同时存在顶层 entry_threshold 与分档阈值两套可独立配置的来源，
// 二者漂移曾导致分档阈值被悄悄覆盖；现在顶层键仅作废弃检测，load 时
// 一旦出现即报 ConfigurationError。
type ThresholdConfig struct {
	ByRegime map[string]ZoneThresholds `mapstructure:"by_regime" json:"by_regime"`
	// LegacyEntry 仅用于侦测废弃键 thresholds.entry，正常配置不得设置。
	LegacyEntry *float64 `mapstructure:"entry" json:"entry,omitempty"`
}

// ZoneThresholds 按波动档位给出入场概率阈值。
type ZoneThresholds struct {
	Low  float64 `mapstructure:"low" json:"low"`
	Mid  float64 `mapstructure:"mid" json:"mid"`
	High float64 `mapstructure:"high" json:"high"`
}

// SignalConfig 控制方向信号的稳定性要求。
type SignalConfig struct {
	HysteresisSteps int     `mapstructure:"hysteresis_steps" json:"hysteresis_steps"`
	CooldownBars    int     `mapstructure:"cooldown_bars" json:"cooldown_bars"`
	MinEdge         float64 `mapstructure:"min_edge" json:"min_edge"`
}

// RegimeConfig 控制市场状态分类器。
type RegimeConfig struct {
	HysteresisBars int     `mapstructure:"hysteresis_bars" json:"hysteresis_bars"`
	TrendPeriod    int     `mapstructure:"trend_period" json:"trend_period"`
	ADXPeriod      int     `mapstructure:"adx_period" json:"adx_period"`
	BullSlope      float64 `mapstructure:"bull_slope" json:"bull_slope"`
	BearSlope      float64 `mapstructure:"bear_slope" json:"bear_slope"`
	RangingADX     float64 `mapstructure:"ranging_adx" json:"ranging_adx"`
	// VolatilePct 为无趋势时区分 ranging/balanced 的波动分位阈值，
	// 0 表示关闭该细分（所有无趋势 bar 归为 ranging）。
	VolatilePct float64 `mapstructure:"volatile_pct" json:"volatile_pct"`
}

// ConfidenceConfig 控制置信度计算与各 regime 的置信度下限。
type ConfidenceConfig struct {
	VolumeRatioCap float64            `mapstructure:"volume_ratio_cap" json:"volume_ratio_cap"`
	SpreadRefBps   float64            `mapstructure:"spread_ref_bps" json:"spread_ref_bps"`
	ATRRefPct      float64            `mapstructure:"atr_ref_pct" json:"atr_ref_pct"`
	// Clamp 把最终置信度硬夹到 [0,1]。参考实现允许 volume 项在
	// cap 放宽时轻微越界，默认保持该行为（false）。
	Clamp  bool               `mapstructure:"clamp" json:"clamp"`
	Floors map[string]float64 `mapstructure:"floors" json:"floors"`
}

// FibonacciConfig 为 HTF/LTF 两套同构参数。
type FibonacciConfig struct {
	HTF FibTimeframeConfig `mapstructure:"htf" json:"htf"`
	LTF FibTimeframeConfig `mapstructure:"ltf" json:"ltf"`
}

// FibTimeframeConfig 描述单个 timeframe 的回撤位参数。
// MissingPolicy 决定上下文不可用时 gate 放行还是拦截，必须显式配置。
type FibTimeframeConfig struct {
	Timeframe     string  `mapstructure:"timeframe" json:"timeframe"`
	SwingLookback int     `mapstructure:"swing_lookback" json:"swing_lookback"`
	ToleranceATR  float64 `mapstructure:"tolerance_atr" json:"tolerance_atr"`
	MissingPolicy string  `mapstructure:"missing_policy" json:"missing_policy"`
	// AllowOverride 仅 LTF 有意义：满足近位条件时可推翻 HTF 的拦截。
	AllowOverride bool `mapstructure:"allow_override" json:"allow_override"`
}

// RiskStep 为置信度→仓位映射表的一档，表必须按 min_confidence 递增、
// size 单调不减。
type RiskStep struct {
	MinConfidence float64 `mapstructure:"min_confidence" json:"min_confidence"`
	Size          float64 `mapstructure:"size" json:"size"`
}

// ExitConfig 为离场条件，入场时快照、持仓期间不变。
type ExitConfig struct {
	StopLossPct       float64 `mapstructure:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct     float64 `mapstructure:"take_profit_pct" json:"take_profit_pct"`
	MaxHoldBars       int     `mapstructure:"max_hold_bars" json:"max_hold_bars"`
	ConfidenceDrop    float64 `mapstructure:"confidence_drop" json:"confidence_drop"`
	ExitOnRegimeFlip  bool    `mapstructure:"exit_on_regime_flip" json:"exit_on_regime_flip"`
	TrailingEnabled   bool    `mapstructure:"trailing_enabled" json:"trailing_enabled"`
	TrailingATRMult   float64 `mapstructure:"trailing_atr_mult" json:"trailing_atr_mult"`
	TrailingLevelKey  string  `mapstructure:"trailing_level_key" json:"trailing_level_key"`
}

// ReplayConfig 控制回放执行模式与错误预算。
type ReplayConfig struct {
	// Execution 为 precomputed（要求注入指标表，缺失即硬错误）或
	// window（逐窗口重算）。
	Execution string `mapstructure:"execution" json:"execution"`
	// StrictMode 为 true 时禁止 precomputed→window 的降级，用于
	// 参数扫描等确定性对比场景。
	StrictMode bool `mapstructure:"strict_mode" json:"strict_mode"`
	// MaxErrorRate 为单 bar 可恢复错误的比率上限，超出即判定 run 失败。
	MaxErrorRate float64 `mapstructure:"max_error_rate" json:"max_error_rate"`
	// MinBarsForRate 在样本过少时避免误杀（错误率仅在 bar 数达到该值后生效）。
	MinBarsForRate int `mapstructure:"min_bars_for_rate" json:"min_bars_for_rate"`
	// FeatureCacheSize 为特征 LRU 容量。
	FeatureCacheSize int `mapstructure:"feature_cache_size" json:"feature_cache_size"`
	// Seed 记录进 run metadata，保证字节级重现。
	Seed int64 `mapstructure:"seed" json:"seed"`
}

// RegimeNames 为合法的市场状态集合（顺序固定，供校验与遍历）。
var RegimeNames = []string{"bull", "bear", "ranging", "balanced"}

// ZoneNames 为合法的波动档位。
var ZoneNames = []string{"low", "mid", "high"}

// MissingPolicyBlock / MissingPolicyPass 为 fib gate 缺数据策略。
const (
	MissingPolicyBlock = "block"
	MissingPolicyPass  = "pass"
)

// ExecutionPrecomputed / ExecutionWindow 为回放执行模式。
const (
	ExecutionPrecomputed = "precomputed"
	ExecutionWindow      = "window"
)
