package coins

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// InstrumentProvider 合约列表来源接口，返回 OKX 永续合约 instId。
type InstrumentProvider interface {
	List(ctx context.Context) ([]string, error)
	Name() string
}

// NormalizeInstID 将 ETH / eth-usdt / ETHUSDT 等写法统一为 ETH-USDT-SWAP。
func NormalizeInstID(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, "-SWAP") {
		return s
	}
	s = strings.ReplaceAll(s, "/", "-")
	if !strings.Contains(s, "-") {
		s = strings.TrimSuffix(s, "USDT")
		if s == "" {
			return ""
		}
		s += "-USDT"
	}
	return s + "-SWAP"
}

// 默认实现：静态列表
type DefaultInstrumentProvider struct{ instIDs []string }

func NewDefaultProvider(instIDs []string) *DefaultInstrumentProvider {
	return &DefaultInstrumentProvider{instIDs: instIDs}
}
func (p *DefaultInstrumentProvider) Name() string { return "default" }
func (p *DefaultInstrumentProvider) List(ctx context.Context) ([]string, error) {
	if len(p.instIDs) == 0 {
		return nil, errors.New("默认合约列表为空")
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(p.instIDs))
	for _, s := range p.instIDs {
		id := NormalizeInstID(s)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, errors.New("标准化后列表为空")
	}
	return out, nil
}

// HTTP 实现：从自定义 API 拉取。支持两种返回格式：
// 1) ["ETH-USDT-SWAP","BTC",...]
// 2) {"symbols": ["ETH-USDT-SWAP","BTC",...]}
type HTTPInstrumentProvider struct {
	URL    string
	Client *http.Client
}

func NewHTTPProvider(url string) *HTTPInstrumentProvider {
	return &HTTPInstrumentProvider{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}
func (p *HTTPInstrumentProvider) Name() string { return "http" }
func (p *HTTPInstrumentProvider) List(ctx context.Context) ([]string, error) {
	if p.URL == "" {
		return nil, errors.New("symbols.api_url 未配置")
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, errors.New("http 状态异常")
	}
	// 尝试解析两种形式
	var arr []string
	if err := json.NewDecoder(resp.Body).Decode(&arr); err == nil {
		return NewDefaultProvider(arr).List(ctx)
	}
	// 回退解析对象包装
	resp.Body.Close()
	req2, _ := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	resp2, err := p.Client.Do(req2)
	if err != nil {
		return nil, err
	}
	defer resp2.Body.Close()
	var obj struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&obj); err != nil {
		return nil, err
	}
	return NewDefaultProvider(obj.Symbols).List(ctx)
}
