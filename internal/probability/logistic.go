package probability

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/tidwall/gjson"
)

// Logistic 读取外部训练产物（JSON 权重文件）并执行两分类 logistic 推理。
// 权重文件格式：
//
//	{
//	  "model": "logreg-v3",
//	  "bias":  {"buy": -0.12, "sell": -0.30},
//	  "weights": {
//	    "buy":  {"rsi": 0.8, "ema_gap": 1.2, ...},
//	    "sell": {"rsi": -0.6, ...}
//	  }
//	}
//
// 训练与标定发生在仓外，这里只做只读推理。
type Logistic struct {
	name     string
	biasBuy  float64
	biasSell float64
	wBuy     map[string]float64
	wSell    map[string]float64
	features []string
}

// LoadLogistic 解析权重文件。未知结构直接报错，不做猜测。
func LoadLogistic(path string) (*Logistic, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model weights: %w", err)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.Get("weights.buy").Exists() || !doc.Get("weights.sell").Exists() {
		return nil, fmt.Errorf("model weights: missing weights.buy / weights.sell in %s", path)
	}
	m := &Logistic{
		name:     doc.Get("model").String(),
		biasBuy:  doc.Get("bias.buy").Float(),
		biasSell: doc.Get("bias.sell").Float(),
		wBuy:     make(map[string]float64),
		wSell:    make(map[string]float64),
	}
	if m.name == "" {
		m.name = "logistic"
	}
	seen := make(map[string]struct{})
	collect := func(node gjson.Result, dst map[string]float64) error {
		var iterErr error
		node.ForEach(func(key, value gjson.Result) bool {
			w := value.Float()
			if math.IsNaN(w) || math.IsInf(w, 0) {
				iterErr = fmt.Errorf("model weights: non-finite weight for feature %q", key.String())
				return false
			}
			dst[key.String()] = w
			seen[key.String()] = struct{}{}
			return true
		})
		return iterErr
	}
	if err := collect(doc.Get("weights.buy"), m.wBuy); err != nil {
		return nil, err
	}
	if err := collect(doc.Get("weights.sell"), m.wSell); err != nil {
		return nil, err
	}
	for f := range seen {
		m.features = append(m.features, f)
	}
	sort.Strings(m.features)
	return m, nil
}

func (m *Logistic) Name() string { return m.name }

// Features 返回模型引用的特征名（排序后），供启动期与特征提取器对账。
func (m *Logistic) Features() []string {
	return append([]string(nil), m.features...)
}

// Predict 执行推理。缺特征是调用方的 bug：直接报错并点名字段，
// 不能悄悄按 0 处理——那会系统性偏置概率。
func (m *Logistic) Predict(features map[string]float64) (Pair, error) {
	score := func(bias float64, weights map[string]float64) (float64, error) {
		z := bias
		for name, w := range weights {
			v, ok := features[name]
			if !ok {
				return 0, fmt.Errorf("model feature %q missing from feature vector", name)
			}
			z += w * v
		}
		return z, nil
	}
	zBuy, err := score(m.biasBuy, m.wBuy)
	if err != nil {
		return Pair{}, err
	}
	zSell, err := score(m.biasSell, m.wSell)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Buy: sigmoid(zBuy), Sell: sigmoid(zSell)}, nil
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
