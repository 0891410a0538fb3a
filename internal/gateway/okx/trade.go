package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// 私有交易接口。

// OrderRequest 市价单参数。Sz 为合约张数的字符串表示。
type OrderRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`    // buy | sell
	PosSide string `json:"posSide"` // long | short
	OrdType string `json:"ordType"` // market
	Sz      string `json:"sz"`
	ClOrdID string `json:"clOrdId,omitempty"`
}

// TPSLRequest 止盈止损条件委托（oco），触发后按市价执行（ordPx=-1）。
type TPSLRequest struct {
	InstID      string `json:"instId"`
	TdMode      string `json:"tdMode"`
	Side        string `json:"side"` // 平多为 sell，平空为 buy
	PosSide     string `json:"posSide"`
	OrdType     string `json:"ordType"` // oco
	Sz          string `json:"sz"`
	TpTriggerPx string `json:"tpTriggerPx"`
	TpOrdPx     string `json:"tpOrdPx"`
	SlTriggerPx string `json:"slTriggerPx"`
	SlOrdPx     string `json:"slOrdPx"`
}

// PlaceOrder 市价下单。交易所拒单（envelope code 非 0）时会尽量提取逐单
// 的 sCode/sMsg，让上层拿到具体拒绝原因。
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.OrdType == "" {
		req.OrdType = "market"
	}
	var rows []OrderResult
	if err := c.postJSON(ctx, "/api/v5/trade/order", req, &rows); err != nil {
		return OrderResult{}, enrichOrderReject(err)
	}
	if len(rows) == 0 {
		return OrderResult{}, fmt.Errorf("下单回执为空")
	}
	r := rows[0]
	if r.SCode != "" && r.SCode != "0" {
		return r, &APIError{Code: r.SCode, Msg: r.SMsg}
	}
	return r, nil
}

// enrichOrderReject 将 data 中首条回执的 sCode/sMsg 提升为错误主体。
func enrichOrderReject(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || len(apiErr.Data) == 0 {
		return err
	}
	var rows []OrderResult
	if jsonErr := json.Unmarshal(apiErr.Data, &rows); jsonErr != nil || len(rows) == 0 {
		return err
	}
	if rows[0].SCode != "" && rows[0].SCode != "0" {
		return &APIError{Code: rows[0].SCode, Msg: rows[0].SMsg}
	}
	return err
}

// PlaceTPSL 挂止盈止损。
func (c *Client) PlaceTPSL(ctx context.Context, req TPSLRequest) (AlgoOrder, error) {
	if req.OrdType == "" {
		req.OrdType = "oco"
	}
	if req.TpOrdPx == "" {
		req.TpOrdPx = "-1"
	}
	if req.SlOrdPx == "" {
		req.SlOrdPx = "-1"
	}
	var rows []AlgoOrder
	if err := c.postJSON(ctx, "/api/v5/trade/order-algo", req, &rows); err != nil {
		return AlgoOrder{}, err
	}
	if len(rows) == 0 {
		return AlgoOrder{}, fmt.Errorf("条件委托回执为空")
	}
	r := rows[0]
	if r.SCode != "" && r.SCode != "0" {
		return r, &APIError{Code: r.SCode, Msg: r.SMsg}
	}
	return r, nil
}

// PendingAlgos 查询未触发的条件委托。
func (c *Client) PendingAlgos(ctx context.Context, instID string) ([]AlgoOrder, error) {
	path := "/api/v5/trade/orders-algo-pending?ordType=oco"
	if instID != "" {
		path += "&instId=" + url.QueryEscape(instID)
	}
	var rows []AlgoOrder
	if err := c.getJSON(ctx, path, true, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// CancelAlgoItem 撤销条件委托的定位参数。
type CancelAlgoItem struct {
	AlgoID string `json:"algoId"`
	InstID string `json:"instId"`
}

// CancelAlgos 批量撤销条件委托，请求体为数组。
func (c *Client) CancelAlgos(ctx context.Context, items []CancelAlgoItem) error {
	if len(items) == 0 {
		return nil
	}
	return c.postJSON(ctx, "/api/v5/trade/cancel-algos", items, nil)
}

// PendingOrders 查询未成交普通委托。
func (c *Client) PendingOrders(ctx context.Context, instID string) ([]PendingOrder, error) {
	path := "/api/v5/trade/orders-pending?instType=SWAP"
	if instID != "" {
		path += "&instId=" + url.QueryEscape(instID)
	}
	var rows []PendingOrder
	if err := c.getJSON(ctx, path, true, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ClosePosition 市价全平。autoCxl 让交易所顺带撤掉关联的条件委托。
func (c *Client) ClosePosition(ctx context.Context, instID, mgnMode, posSide string) error {
	body := map[string]any{
		"instId":  instID,
		"mgnMode": mgnMode,
		"autoCxl": true,
	}
	if posSide != "" {
		body["posSide"] = posSide
	}
	return c.postJSON(ctx, "/api/v5/trade/close-position", body, nil)
}
