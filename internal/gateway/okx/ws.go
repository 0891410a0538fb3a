package okx

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"perpilot/internal/logger"
	"perpilot/internal/pkg/sliceutil"
)

// PublicTickerStream 订阅公共 tickers 频道，维护各合约最新价，断线自动重连。
// 监控层优先读这里的价格，连接不可用时回退 REST ticker。
type PublicTickerStream struct {
	url     string
	instIDs []string

	mu   sync.RWMutex
	last map[string]tickSample
}

type tickSample struct {
	price float64
	at    time.Time
}

// 超过该时长未更新视为过期，Latest 返回 false。
const tickStaleAfter = 30 * time.Second

func NewPublicTickerStream(url string, instIDs []string) *PublicTickerStream {
	return &PublicTickerStream{
		url:     url,
		instIDs: sliceutil.Strings(instIDs),
		last:    make(map[string]tickSample),
	}
}

// Latest 返回合约最新价；无数据或数据过期时 ok 为 false。
func (s *PublicTickerStream) Latest(instID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.last[instID]
	if !ok || sample.price <= 0 || time.Since(sample.at) > tickStaleAfter {
		return 0, false
	}
	return sample.price, true
}

// Run 维持连接直到 ctx 结束，重连间隔指数退避。
func (s *PublicTickerStream) Run(ctx context.Context) error {
	b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := b.Duration()
		logger.Warnf("行情 WS 断开: %v，%s 后重连", err, wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (s *PublicTickerStream) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	args := make([]map[string]string, 0, len(s.instIDs))
	for _, id := range s.instIDs {
		args = append(args, map[string]string{"channel": "tickers", "instId": id})
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return err
	}
	logger.Infof("✓ 行情 WS 已连接，订阅 %d 个合约", len(s.instIDs))

	done := make(chan struct{})
	defer close(done)
	// OKX 要求 30 秒内有消息往来，空闲时发送文本 ping。
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(40 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if string(raw) == "pong" {
			continue
		}
		var msg struct {
			Event string `json:"event"`
			Arg   struct {
				Channel string `json:"channel"`
				InstID  string `json:"instId"`
			} `json:"arg"`
			Data []struct {
				Last string `json:"last"`
				Ts   string `json:"ts"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Event != "" || msg.Arg.Channel != "tickers" || len(msg.Data) == 0 {
			continue
		}
		price := parseF(msg.Data[len(msg.Data)-1].Last)
		if price <= 0 {
			continue
		}
		s.mu.Lock()
		s.last[msg.Arg.InstID] = tickSample{price: price, at: time.Now()}
		s.mu.Unlock()
	}
}
