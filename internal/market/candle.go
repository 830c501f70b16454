package market

import (
	"fmt"
	"math"
)

// Candle 表示一根 K 线，毫秒时间戳。写入后不可变。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Valid 检查单根 K 线的数值是否可用于回放。
func (c Candle) Valid() bool {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if c.High < c.Low {
		return false
	}
	return c.OpenTime > 0
}

// ValidateSeries 校验序列可作为回放输入：open_time 严格递增、无重复、逐根数值有效。
// 回放引擎在第 0 根之前调用，失败即整体拒绝。
func ValidateSeries(candles []Candle) error {
	if len(candles) == 0 {
		return fmt.Errorf("candle series 不能为空")
	}
	var prev int64 = -1
	for i, c := range candles {
		if !c.Valid() {
			return fmt.Errorf("candle[%d] 数值非法 (open_time=%d)", i, c.OpenTime)
		}
		if c.OpenTime <= prev {
			return fmt.Errorf("candle[%d] open_time=%d 未严格递增（前值 %d）", i, c.OpenTime, prev)
		}
		prev = c.OpenTime
	}
	return nil
}

// Closes 提取收盘价序列。
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs 提取最高价序列。
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows 提取最低价序列。
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Volumes 提取成交量序列。
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
