package okx

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// OKX v5 统一响应包裹，code != "0" 即业务失败。
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// APIError 交易所返回的业务错误（保证金不足、参数错误等）。
// 该类错误重试无意义，执行层据此直接拒单。
// Data 保留原始 data 字段，下单失败时内含逐单的 sCode/sMsg。
type APIError struct {
	Code string
	Msg  string
	Data json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okx 业务错误 code=%s msg=%s", e.Code, e.Msg)
}

// httpStatusError 非 2xx 的传输层错误，5xx/429 视为瞬时可重试。
type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("okx http 状态异常 status=%d body=%s", e.Status, e.Body)
}

// Retryable 上游 5xx 与限流可在下一次尝试恢复。
func (e *httpStatusError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// Instrument 合约元数据（公共接口）。
type Instrument struct {
	InstID   string `json:"instId"`
	InstType string `json:"instType"`
	CtVal    string `json:"ctVal"`  // 单张合约面值（币）
	CtValCcy string `json:"ctValCcy"`
	LotSz    string `json:"lotSz"`  // 下单数量精度（张）
	MinSz    string `json:"minSz"`  // 最小下单数量（张）
	TickSz   string `json:"tickSz"`
	Lever    string `json:"lever"` // 最大杠杆
	State    string `json:"state"`
}

// Balance 账户权益（USDT 计）。
type Balance struct {
	TotalEq float64
	AvailEq float64
}

// Position 交易所持仓原始数据的解析结果。
type Position struct {
	InstID   string
	PosSide  string  // long | short
	Pos      float64 // 持仓张数（净持仓模式下可能为负）
	AvgPx    float64 // 开仓均价
	Upl      float64 // 未实现盈亏
	Lever    float64
	LiqPx    float64
	MgnMode  string
	CTime    int64
}

// OrderResult 下单回执。
type OrderResult struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// AlgoOrder 条件委托（止盈止损）回执与查询结构。
type AlgoOrder struct {
	AlgoID      string `json:"algoId"`
	InstID      string `json:"instId"`
	OrdType     string `json:"ordType"`
	State       string `json:"state"`
	Side        string `json:"side"`
	PosSide     string `json:"posSide"`
	Sz          string `json:"sz"`
	TpTriggerPx string `json:"tpTriggerPx"`
	SlTriggerPx string `json:"slTriggerPx"`
	SCode       string `json:"sCode"`
	SMsg        string `json:"sMsg"`
}

// PendingOrder 未成交普通委托。
type PendingOrder struct {
	OrdID   string `json:"ordId"`
	InstID  string `json:"instId"`
	Side    string `json:"side"`
	PosSide string `json:"posSide"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	State   string `json:"state"`
}

// parseF 解析 OKX 的字符串数字，空串返回 0。
func parseF(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
