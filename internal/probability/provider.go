package probability

// Pair 为外部概率模型的输出，p_buy/p_sell 均在 [0,1]。
type Pair struct {
	Buy  float64 `json:"p_buy"`
	Sell float64 `json:"p_sell"`
}

// Provider 是外部概率模型的接口：纯函数，核心不训练也不修改它。
// 输入是命名特征到有限浮点值的映射（特征提取器保证无 NaN/Inf）。
type Provider interface {
	Predict(features map[string]float64) (Pair, error)
	Name() string
}

// Static 按固定序列逐次返回概率，回放测试中用来构造确定性的信号路径。
// 序列耗尽后复用最后一组。
type Static struct {
	Pairs []Pair
	idx   int
}

func (s *Static) Name() string { return "static" }

func (s *Static) Predict(map[string]float64) (Pair, error) {
	if len(s.Pairs) == 0 {
		return Pair{Buy: 0.5, Sell: 0.5}, nil
	}
	p := s.Pairs[s.idx]
	if s.idx < len(s.Pairs)-1 {
		s.idx++
	}
	return p, nil
}
