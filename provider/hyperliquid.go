package provider

import (
	"context"
	"fmt"

	hyperliquid "github.com/sonirico/go-hyperliquid"

	"tradeengine/types"
)

// HyperliquidSource implements Source via github.com/sonirico/go-hyperliquid's
// candle-snapshot info endpoint. It demonstrates the manager selecting
// across a third, differently-shaped SDK, all normalized to the same
// OHLC Bar tuple.
type HyperliquidSource struct {
	client *hyperliquid.Client
}

func NewHyperliquidSource(testnet bool) *HyperliquidSource {
	base := hyperliquid.MainnetAPIURL
	if testnet {
		base = hyperliquid.TestnetAPIURL
	}
	return &HyperliquidSource{client: hyperliquid.NewClient(base)}
}

func (h *HyperliquidSource) ID() string { return "hyperliquid" }

func (h *HyperliquidSource) Available() bool { return h.client != nil }

var hyperliquidIntervals = map[string]string{
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

func (h *HyperliquidSource) FetchOHLC(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error) {
	interval, ok := hyperliquidIntervals[timeframe]
	if !ok {
		interval = "5m"
	}

	fetchCtx, cancel := contextWithTimeout(ctx)
	defer cancel()

	end := nowMillis()
	start := end - int64(count)*intervalMillis(interval)

	candles, err := h.client.Info.CandleSnapshot(fetchCtx, symbol, interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid candle snapshot: %w", err)
	}

	bars := make([]types.Bar, 0, len(candles))
	for _, c := range candles {
		bars = append(bars, types.Bar{
			Timestamp: msToTime(c.OpenTime),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return bars, nil
}

func intervalMillis(interval string) int64 {
	switch interval {
	case "1m":
		return 60_000
	case "5m":
		return 5 * 60_000
	case "15m":
		return 15 * 60_000
	case "30m":
		return 30 * 60_000
	case "1h":
		return 3_600_000
	case "4h":
		return 4 * 3_600_000
	case "1d":
		return 86_400_000
	case "1w":
		return 7 * 86_400_000
	default:
		return 5 * 60_000
	}
}
