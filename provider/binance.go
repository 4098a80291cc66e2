package provider

import (
	"context"
	"strconv"

	binance "github.com/adshao/go-binance/v2"

	"tradeengine/types"
)

// BinanceSource implements Source via github.com/adshao/go-binance/v2's
// kline service. It is the manager's default is_system provider.
type BinanceSource struct {
	client *binance.Client
}

// NewBinanceSource builds a Binance source. Passing empty credentials is
// valid — public kline data does not require authentication.
func NewBinanceSource(apiKey, apiSecret string) *BinanceSource {
	return &BinanceSource{client: binance.NewClient(apiKey, apiSecret)}
}

func (b *BinanceSource) ID() string { return "binance" }

func (b *BinanceSource) Available() bool { return b.client != nil }

var binanceIntervals = map[string]string{
	"M1":  "1m",
	"M5":  "5m",
	"M15": "15m",
	"M30": "30m",
	"H1":  "1h",
	"H4":  "4h",
	"D1":  "1d",
	"W1":  "1w",
	"MN1": "1M",
}

func (b *BinanceSource) FetchOHLC(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error) {
	interval, ok := binanceIntervals[timeframe]
	if !ok {
		interval = "5m"
	}

	fetchCtx, cancel := contextWithTimeout(ctx)
	defer cancel()

	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(count).
		Do(fetchCtx)
	if err != nil {
		return nil, err
	}

	return klinesToBars(klines), nil
}

func klinesToBars(klines []*binance.Kline) []types.Bar {
	bars := make([]types.Bar, 0, len(klines))
	for _, k := range klines {
		bars = append(bars, types.Bar{
			Timestamp: msToTime(k.OpenTime),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return bars
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
