package backtest

import (
	"context"
	"fmt"
	"strconv"

	"genesis/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

// BinanceSource 基于 Binance USDT 合约 /fapi/v1/klines 拉取 K 线。
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(apiBase string) *BinanceSource {
	c := futures.NewClient("", "")
	if apiBase != "" {
		c.BaseURL = apiBase
	}
	return &BinanceSource{client: c}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	limit := req.Limit
	if limit <= 0 || limit > 1500 {
		limit = 1000
	}
	svc := b.client.NewKlinesService().
		Symbol(req.Symbol).
		Interval(req.Interval).
		Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance 拉取失败: %w", err)
	}
	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, market.Candle{
			OpenTime:  k.OpenTime,
			Open:      parsePrice(k.Open),
			High:      parsePrice(k.High),
			Low:       parsePrice(k.Low),
			Close:     parsePrice(k.Close),
			Volume:    parsePrice(k.Volume),
			CloseTime: k.CloseTime,
			Trades:    k.TradeNum,
		})
	}
	return out, nil
}

func parsePrice(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
