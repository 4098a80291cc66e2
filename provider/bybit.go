package provider

import (
	"context"
	"encoding/json"
	"fmt"

	bybit "github.com/bybit-exchange/bybit.go.api"

	"tradeengine/types"
)

// BybitSource implements Source via github.com/bybit-exchange/bybit.go.api's
// v5 market kline endpoint, normalizing its response shape into the same
// OHLC Bar tuple every other provider produces.
type BybitSource struct {
	client *bybit.Client
}

func NewBybitSource(apiKey, apiSecret string) *BybitSource {
	return &BybitSource{client: bybit.NewBybitHttpClient(apiKey, apiSecret)}
}

func (b *BybitSource) ID() string { return "bybit" }

func (b *BybitSource) Available() bool { return b.client != nil }

var bybitIntervals = map[string]string{
	"M1":  "1",
	"M5":  "5",
	"M15": "15",
	"M30": "30",
	"H1":  "60",
	"H4":  "240",
	"D1":  "D",
	"W1":  "W",
	"MN1": "M",
}

// bybitKlineRow is one row of the v5 "Get Kline" response list, shaped
// [startTime, open, high, low, close, volume, turnover] as strings.
type bybitKlineRow [7]string

func (b *BybitSource) FetchOHLC(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error) {
	interval, ok := bybitIntervals[timeframe]
	if !ok {
		interval = "5"
	}

	fetchCtx, cancel := contextWithTimeout(ctx)
	defer cancel()

	params := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"interval": interval,
		"limit":    count,
	}

	resp, err := b.client.NewUtaBybitServiceWithParams(params).GetMarketKline(fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("bybit kline request: %w", err)
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("bybit kline marshal result: %w", err)
	}

	var parsed struct {
		List []bybitKlineRow `json:"list"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bybit kline unmarshal result: %w", err)
	}

	bars := make([]types.Bar, 0, len(parsed.List))
	// Bybit returns rows newest-first; reverse while converting.
	for i := len(parsed.List) - 1; i >= 0; i-- {
		row := parsed.List[i]
		ts := parseInt(row[0])
		bars = append(bars, types.Bar{
			Timestamp: msToTime(ts),
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
		})
	}
	return bars, nil
}
