package okx

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"perpilot/internal/decision"
	okxgw "perpilot/internal/gateway/okx"
	"perpilot/internal/market"
)

// Gateway 执行层依赖的交易所能力集合。
type Gateway interface {
	Balance(ctx context.Context) (okxgw.Balance, error)
	Positions(ctx context.Context, instID string) ([]okxgw.Position, error)
	Instrument(ctx context.Context, instID string) (okxgw.Instrument, error)
	Ticker(ctx context.Context, instID string) (market.Ticker, error)
	SetLeverage(ctx context.Context, instID string, lever int, mgnMode string) error
	PlaceOrder(ctx context.Context, req okxgw.OrderRequest) (okxgw.OrderResult, error)
	PlaceTPSL(ctx context.Context, req okxgw.TPSLRequest) (okxgw.AlgoOrder, error)
	PendingAlgos(ctx context.Context, instID string) ([]okxgw.AlgoOrder, error)
	CancelAlgos(ctx context.Context, items []okxgw.CancelAlgoItem) error
	PendingOrders(ctx context.Context, instID string) ([]okxgw.PendingOrder, error)
	ClosePosition(ctx context.Context, instID, mgnMode, posSide string) error
}

// PriceSource 最新价来源（WSS 行情），取不到时返回 false。
type PriceSource interface {
	Latest(instID string) (float64, bool)
}

// RejectedError 交易所明确拒单（保证金不足、参数不合法等），重试无意义。
type RejectedError struct {
	Stage string
	Err   error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("交易所拒单[%s]: %v", e.Stage, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// State 本地跟踪的持仓状态。
type State int

const (
	StateOpen State = iota + 1
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Tracked 当前跟踪的唯一持仓。
type Tracked struct {
	OrdID            string
	TraceID          string
	InstID           string
	Side             string // long | short
	Contracts        float64
	BaseSize         float64
	EntryPrice       float64
	StopLoss         float64
	TakeProfit       float64
	AlgoID           string
	State            State
	OpenedAt         time.Time
	CloseRequestedAt time.Time
	CloseKind        string
	RecordID         int64
}

// Result 一次执行的回执。
type Result struct {
	Action     decision.Action
	OrdID      string
	EntryPrice float64
	Contracts  float64
	BaseSize   float64
	ExitPrice  float64
	PnLUSD     float64
	Note       string
}

// posSideFor 指令方向对应的 posSide。
func posSideFor(side string) string {
	if side == "short" {
		return "short"
	}
	return "long"
}

// orderSideFor 开仓方向对应的下单方向。
func orderSideFor(posSide string) string {
	if posSide == "short" {
		return "sell"
	}
	return "buy"
}

// closeSideFor 平仓方向对应的下单方向（平多卖出、平空买入）。
func closeSideFor(posSide string) string {
	if posSide == "short" {
		return "buy"
	}
	return "sell"
}

// formatContracts 张数转字符串，保留实际精度。
func formatContracts(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// newClOrdID 生成满足交易所约束的客户端订单号（字母数字、32 位以内）。
func newClOrdID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "pp" + raw[:24]
}

func directionSign(side string) float64 {
	if side == "short" {
		return -1
	}
	return 1
}
