package okx

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"perpilot/internal/market"
)

// 公共行情接口。实现 market.Source 与 market.MetricsFetcher。

// normalizeBar 将配置里的小写周期映射为 OKX 写法（1h -> 1H, 1d -> 1D）。
func normalizeBar(bar string) string {
	bar = strings.TrimSpace(bar)
	if bar == "" {
		return "5m"
	}
	suf := bar[len(bar)-1]
	if suf == 'h' || suf == 'd' {
		return bar[:len(bar)-1] + strings.ToUpper(string(suf))
	}
	return bar
}

// barMillis 周期时长（毫秒），用于补齐 K 线收盘时间。
func barMillis(bar string) int64 {
	bar = normalizeBar(bar)
	if len(bar) < 2 {
		return 60_000
	}
	n := int64(0)
	for i := 0; i < len(bar)-1; i++ {
		ch := bar[i]
		if ch < '0' || ch > '9' {
			return 60_000
		}
		n = n*10 + int64(ch-'0')
	}
	if n <= 0 {
		n = 1
	}
	switch bar[len(bar)-1] {
	case 'm':
		return n * 60_000
	case 'H':
		return n * 3_600_000
	case 'D':
		return n * 86_400_000
	default:
		return 60_000
	}
}

// Candles 拉取最近 K 线。OKX 返回倒序，这里转为时间升序；最后一根可能尚未收盘。
func (c *Client) Candles(ctx context.Context, instID, bar string, limit int) (market.Candles, error) {
	if limit <= 0 {
		limit = 100
	}
	path := fmt.Sprintf("/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
		url.QueryEscape(instID), url.QueryEscape(normalizeBar(bar)), limit)
	var rows [][]string
	if err := c.getJSON(ctx, path, false, &rows); err != nil {
		return nil, err
	}
	span := barMillis(bar)
	out := make(market.Candles, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		ts := int64(parseF(row[0]))
		out = append(out, market.Candle{
			OpenTime:  ts,
			CloseTime: ts + span - 1,
			Open:      parseF(row[1]),
			High:      parseF(row[2]),
			Low:       parseF(row[3]),
			Close:     parseF(row[4]),
			Volume:    parseF(row[5]),
		})
	}
	return out, nil
}

// Ticker 最新行情。
func (c *Client) Ticker(ctx context.Context, instID string) (market.Ticker, error) {
	path := "/api/v5/market/ticker?instId=" + url.QueryEscape(instID)
	var rows []struct {
		InstID    string `json:"instId"`
		Last      string `json:"last"`
		BidPx     string `json:"bidPx"`
		AskPx     string `json:"askPx"`
		High24h   string `json:"high24h"`
		Low24h    string `json:"low24h"`
		Vol24h    string `json:"vol24h"`
		VolCcy24h string `json:"volCcy24h"`
		Ts        string `json:"ts"`
	}
	if err := c.getJSON(ctx, path, false, &rows); err != nil {
		return market.Ticker{}, err
	}
	if len(rows) == 0 {
		return market.Ticker{}, fmt.Errorf("ticker 返回空数据: %s", instID)
	}
	r := rows[0]
	return market.Ticker{
		InstID:    r.InstID,
		Last:      parseF(r.Last),
		Bid:       parseF(r.BidPx),
		Ask:       parseF(r.AskPx),
		High24h:   parseF(r.High24h),
		Low24h:    parseF(r.Low24h),
		Vol24h:    parseF(r.Vol24h),
		VolCcy24h: parseF(r.VolCcy24h),
		Ts:        int64(parseF(r.Ts)),
	}, nil
}

// Instrument 合约元数据，带进程内缓存（面值与精度不随行情变化）。
func (c *Client) Instrument(ctx context.Context, instID string) (Instrument, error) {
	c.instMu.RLock()
	cached, ok := c.instCache[instID]
	c.instMu.RUnlock()
	if ok {
		return cached, nil
	}
	path := fmt.Sprintf("/api/v5/public/instruments?instType=SWAP&instId=%s", url.QueryEscape(instID))
	var rows []Instrument
	if err := c.getJSON(ctx, path, false, &rows); err != nil {
		return Instrument{}, err
	}
	if len(rows) == 0 {
		return Instrument{}, fmt.Errorf("合约不存在: %s", instID)
	}
	inst := rows[0]
	c.instMu.Lock()
	c.instCache[instID] = inst
	c.instMu.Unlock()
	return inst, nil
}

// Funding 最新资金费率（0.0001 即 0.01%）。
func (c *Client) Funding(ctx context.Context, instID string) (float64, error) {
	path := "/api/v5/public/funding-rate?instId=" + url.QueryEscape(instID)
	var rows []struct {
		FundingRate string `json:"fundingRate"`
	}
	if err := c.getJSON(ctx, path, false, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("funding-rate 返回空数据: %s", instID)
	}
	return parseF(rows[0].FundingRate), nil
}

// OI 未平仓量（币本位，oiCcy）。
func (c *Client) OI(ctx context.Context, instID string) (float64, error) {
	path := "/api/v5/public/open-interest?instId=" + url.QueryEscape(instID)
	var rows []struct {
		Oi    string `json:"oi"`
		OiCcy string `json:"oiCcy"`
	}
	if err := c.getJSON(ctx, path, false, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("open-interest 返回空数据: %s", instID)
	}
	return parseF(rows[0].OiCcy), nil
}
