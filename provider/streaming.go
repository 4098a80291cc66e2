package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradeengine/internal/obs/log"
	"tradeengine/types"
)

// StreamingSource serves fetch_ohlc from an in-memory ring buffer that is
// kept warm by a background websocket kline subscription, instead of a
// REST round trip per call. The accumulate-then-serve shape is grounded
// in the teacher's real-time bar-collection idiom (vwap_collector.go).
type StreamingSource struct {
	url       string
	dialer    *websocket.Dialer
	mu        sync.RWMutex
	buffers   map[string][]types.Bar // key: "symbol|timeframe"
	maxBars   int
	connected bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewStreamingSource creates a streaming provider that will dial wsURL
// once Start is called. It is not system-eligible by default; callers
// register it with Meta{IsSystem:false} unless they intend it as the
// scanner's primary feed.
func NewStreamingSource(wsURL string, maxBars int) *StreamingSource {
	if maxBars <= 0 {
		maxBars = 500
	}
	return &StreamingSource{
		url:     wsURL,
		dialer:  websocket.DefaultDialer,
		buffers: make(map[string][]types.Bar),
		maxBars: maxBars,
		stopCh:  make(chan struct{}),
	}
}

func (s *StreamingSource) ID() string { return "streaming" }

func (s *StreamingSource) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Start dials the websocket and begins appending incoming bars to the
// per-(symbol,timeframe) ring buffer until ctx is cancelled or Stop is
// called. Connection failures are logged and retried with a fixed
// backoff; the number of attempts is not limited.
func (s *StreamingSource) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			default:
			}

			conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
			if err != nil {
				log.Warnf("streaming provider: dial %s failed: %v", s.url, err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				case <-s.stopCh:
					return
				}
				continue
			}

			s.mu.Lock()
			s.connected = true
			s.mu.Unlock()

			s.readLoop(ctx, conn)

			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			_ = conn.Close()
		}
	}()
}

type streamKlineMessage struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

func (s *StreamingSource) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("streaming provider: read failed: %v", err)
			return
		}

		var msg streamKlineMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		bar := types.Bar{
			Timestamp: msToTime(msg.Timestamp),
			Open:      msg.Open,
			High:      msg.High,
			Low:       msg.Low,
			Close:     msg.Close,
			Volume:    msg.Volume,
		}

		key := msg.Symbol + "|" + msg.Timeframe
		s.mu.Lock()
		buf := append(s.buffers[key], bar)
		if len(buf) > s.maxBars {
			buf = buf[len(buf)-s.maxBars:]
		}
		s.buffers[key] = buf
		s.mu.Unlock()
	}
}

// Stop terminates the background dial/read loop.
func (s *StreamingSource) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *StreamingSource) FetchOHLC(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, ok := s.buffers[symbol+"|"+timeframe]
	if !ok || len(buf) == 0 {
		return nil, fmt.Errorf("streaming provider: no cached bars for %s|%s", symbol, timeframe)
	}
	if count > len(buf) {
		count = len(buf)
	}
	out := make([]types.Bar, count)
	copy(out, buf[len(buf)-count:])
	return out, nil
}
