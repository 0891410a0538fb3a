package okx

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// 私有账户接口。

// Balance 账户 USDT 权益（总权益与可用）。
func (c *Client) Balance(ctx context.Context) (Balance, error) {
	var rows []struct {
		TotalEq string `json:"totalEq"`
		Details []struct {
			Ccy     string `json:"ccy"`
			Eq      string `json:"eq"`
			AvailEq string `json:"availEq"`
		} `json:"details"`
	}
	if err := c.getJSON(ctx, "/api/v5/account/balance?ccy=USDT", true, &rows); err != nil {
		return Balance{}, err
	}
	if len(rows) == 0 {
		return Balance{}, fmt.Errorf("balance 返回空数据")
	}
	out := Balance{TotalEq: parseF(rows[0].TotalEq)}
	for _, d := range rows[0].Details {
		if strings.EqualFold(d.Ccy, "USDT") {
			out.AvailEq = parseF(d.AvailEq)
			if out.AvailEq == 0 {
				out.AvailEq = parseF(d.Eq)
			}
			break
		}
	}
	return out, nil
}

// Positions 当前 SWAP 持仓；instID 为空时返回全部。已平仓（pos=0）的行被过滤。
func (c *Client) Positions(ctx context.Context, instID string) ([]Position, error) {
	path := "/api/v5/account/positions?instType=SWAP"
	if instID != "" {
		path += "&instId=" + url.QueryEscape(instID)
	}
	var rows []struct {
		InstID  string `json:"instId"`
		PosSide string `json:"posSide"`
		Pos     string `json:"pos"`
		AvgPx   string `json:"avgPx"`
		Upl     string `json:"upl"`
		Lever   string `json:"lever"`
		LiqPx   string `json:"liqPx"`
		MgnMode string `json:"mgnMode"`
		CTime   string `json:"cTime"`
	}
	if err := c.getJSON(ctx, path, true, &rows); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(rows))
	for _, r := range rows {
		pos := parseF(r.Pos)
		if pos == 0 {
			continue
		}
		out = append(out, Position{
			InstID:  r.InstID,
			PosSide: r.PosSide,
			Pos:     pos,
			AvgPx:   parseF(r.AvgPx),
			Upl:     parseF(r.Upl),
			Lever:   parseF(r.Lever),
			LiqPx:   parseF(r.LiqPx),
			MgnMode: r.MgnMode,
			CTime:   int64(parseF(r.CTime)),
		})
	}
	return out, nil
}

// Side 归一化持仓方向：双向持仓取 posSide，单向持仓按张数符号判断。
func (p Position) Side() string {
	switch strings.ToLower(p.PosSide) {
	case "long", "short":
		return strings.ToLower(p.PosSide)
	}
	if p.Pos > 0 {
		return "long"
	}
	return "short"
}

// SetLeverage 设置合约杠杆。
func (c *Client) SetLeverage(ctx context.Context, instID string, lever int, mgnMode string) error {
	body := map[string]string{
		"instId":  instID,
		"lever":   fmt.Sprintf("%d", lever),
		"mgnMode": mgnMode,
	}
	return c.postJSON(ctx, "/api/v5/account/set-leverage", body, nil)
}
