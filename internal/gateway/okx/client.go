package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"perpilot/internal/logger"
	"perpilot/internal/pkg/text"
)

// Config 连接 OKX v5 REST 所需配置。
type Config struct {
	BaseURL    string
	APIKey     string
	SecretKey  string
	Passphrase string
	Simulated  bool // 模拟盘
	Timeout    time.Duration
	PublicRPS  int
}

// Client OKX v5 REST 客户端。公共与私有接口共用一个客户端，
// 统一客户端侧限速，私有接口自动签名。
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time

	instMu    sync.RWMutex
	instCache map[string]Instrument
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.okx.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	rps := cfg.PublicRPS
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		now:        time.Now,
		instCache:  make(map[string]Instrument),
	}
}

// doRequest 发送请求并解包统一响应。requestPath 需带查询串，签名覆盖查询串与请求体。
func (c *Client) doRequest(ctx context.Context, method, requestPath string, body any, private bool) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if private {
		ts := isoTimestamp(c.now())
		req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", signRequest(c.cfg.SecretKey, ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
		if c.cfg.Simulated {
			req.Header.Set("x-simulated-trading", "1")
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 OKX 失败: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		logger.Debugf("okx %s %s -> %d", method, requestPath, resp.StatusCode)
		return nil, &httpStatusError{Status: resp.StatusCode, Body: text.Truncate(string(raw), 200)}
	}
	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if envelope.Code != "0" {
		return nil, &APIError{Code: envelope.Code, Msg: envelope.Msg, Data: envelope.Data}
	}
	return envelope.Data, nil
}

func (c *Client) getJSON(ctx context.Context, requestPath string, private bool, dst any) error {
	data, err := c.doRequest(ctx, http.MethodGet, requestPath, nil, private)
	if err != nil {
		return err
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("解析 data 失败: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, requestPath string, body any, dst any) error {
	data, err := c.doRequest(ctx, http.MethodPost, requestPath, body, true)
	if err != nil {
		return err
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("解析 data 失败: %w", err)
	}
	return nil
}

// IsTransient 判断错误是否值得重试：业务错误与取消不重试，
// 传输层错误与 5xx/429 视为瞬时故障。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}
