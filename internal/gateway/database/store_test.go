package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *DecisionLogStore {
	t.Helper()
	store, err := NewDecisionLogStore(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStorePath(t *testing.T) {
	_, err := NewDecisionLogStore("  ")
	require.Error(t, err, "空路径应拒绝")

	// 多级目录自动创建。
	nested := filepath.Join(t.TempDir(), "data", "live", "decisions.db")
	store, err := NewDecisionLogStore(nested)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestDecisionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := DecisionRecord{
		TraceID:      "trace-1",
		Timestamp:    base,
		InstID:       "ETH-USDT-SWAP",
		ProviderID:   "deepseek",
		Action:       "open_long",
		SizeFraction: 0.05,
		EntryRef:     3320.5,
		StopLoss:     3285,
		TakeProfit:   3390,
		Confidence:   "high",
		Reasoning:    "突破放量",
		RawJSON:      `{"trading_decision":{"action":"open_long"}}`,
	}
	id, err := store.InsertDecision(ctx, rec)
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = store.InsertDecision(ctx, DecisionRecord{
		TraceID: "trace-2", Timestamp: base.Add(time.Minute),
		InstID: "ETH-USDT-SWAP", Action: "hold", Status: DecisionStatusSkipped,
	})
	require.NoError(t, err)
	_, err = store.InsertDecision(ctx, DecisionRecord{
		TraceID: "trace-3", Timestamp: base.Add(2 * time.Minute),
		InstID: "ETH-USDT-SWAP", Action: "open_short", Status: DecisionStatusRejected,
		Error: "触发风控限制 cooldown: 距上次开仓 10m0s，冷却期 30m0s 未满",
	})
	require.NoError(t, err)

	n, err := store.CountDecisions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	recent, err := store.ListRecentDecisions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "trace-3", recent[0].TraceID, "按时间倒序返回")
	assert.Equal(t, "trace-2", recent[1].TraceID)
	assert.Contains(t, recent[0].Error, "冷却期")

	all, err := store.ListRecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	got := all[2]
	assert.Equal(t, "trace-1", got.TraceID)
	assert.Equal(t, DecisionStatusPending, got.Status, "未指定状态默认 pending")
	assert.Equal(t, "deepseek", got.ProviderID)
	assert.InDelta(t, 0.05, got.SizeFraction, 1e-9)
	assert.InDelta(t, 3285, got.StopLoss, 1e-9)
	assert.InDelta(t, 3390, got.TakeProfit, 1e-9)
	assert.Equal(t, "high", got.Confidence)
	assert.Equal(t, "突破放量", got.Reasoning)
	assert.Contains(t, got.RawJSON, "open_long")
	assert.Equal(t, base.UnixMilli(), got.Timestamp.UnixMilli())
}

func TestUpdateDecisionStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.InsertDecision(ctx, DecisionRecord{
		TraceID: "t-1", InstID: "ETH-USDT-SWAP", Action: "open_long",
	})
	require.NoError(t, err)

	require.NoError(t, store.UpdateDecisionStatus(ctx, id, DecisionStatusFailed, "下单重试 3 次仍失败"))
	recent, err := store.ListRecentDecisions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, DecisionStatusFailed, recent[0].Status)
	assert.Contains(t, recent[0].Error, "重试")

	// 状态翻转为成功时错误信息清空。
	require.NoError(t, store.UpdateDecisionStatus(ctx, id, DecisionStatusExecuted, ""))
	recent, err = store.ListRecentDecisions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, DecisionStatusExecuted, recent[0].Status)
	assert.Empty(t, recent[0].Error)
}

func TestUpsertOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertOrder(ctx, OrderRecord{InstID: "ETH-USDT-SWAP", Side: "long"})
	require.Error(t, err, "缺少 ord_id 应拒绝")

	opened := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first, err := store.UpsertOrder(ctx, OrderRecord{
		TraceID: "t-1", OrdID: "ord-1", AlgoID: "algo-1",
		InstID: "ETH-USDT-SWAP", Side: "long",
		Contracts: 0.03, BaseSize: 0.003, EntryPrice: 3320.5,
		StopLoss: 3285, TakeProfit: 3390,
		Status: OrderStatusOpen, OpenedAt: &opened,
	})
	require.NoError(t, err)
	assert.Positive(t, first)

	// 同一 ord_id 再写：状态更新、空字段保留旧值。
	second, err := store.UpsertOrder(ctx, OrderRecord{
		OrdID: "ord-1", InstID: "ETH-USDT-SWAP", Side: "long",
		Contracts: 0.03, Status: OrderStatusClosing,
	})
	require.NoError(t, err)
	assert.Equal(t, first, second, "upsert 不应产生新行")

	orders, err := store.ListRecentOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	got := orders[0]
	assert.Equal(t, OrderStatusClosing, got.Status)
	assert.Equal(t, "t-1", got.TraceID, "空 trace_id 不应覆盖旧值")
	assert.Equal(t, "algo-1", got.AlgoID)
	assert.InDelta(t, 3320.5, got.EntryPrice, 1e-9)
	assert.InDelta(t, 3285, got.StopLoss, 1e-9)
	require.NotNil(t, got.OpenedAt)
	assert.Equal(t, opened.UnixMilli(), got.OpenedAt.UnixMilli())
}

func TestOpenOrdersAndStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []OrderRecord{
		{OrdID: "o-open", InstID: "ETH-USDT-SWAP", Side: "long", Contracts: 1, Status: OrderStatusOpen},
		{OrdID: "o-closing", InstID: "ETH-USDT-SWAP", Side: "short", Contracts: 1, Status: OrderStatusClosing},
		{OrdID: "o-closed", InstID: "ETH-USDT-SWAP", Side: "long", Contracts: 1, Status: OrderStatusClosed},
		{OrdID: "o-failed", InstID: "ETH-USDT-SWAP", Side: "long", Contracts: 1, Status: OrderStatusFailed},
	}
	for _, rec := range seed {
		_, err := store.UpsertOrder(ctx, rec)
		require.NoError(t, err)
	}

	open, err := store.ListOpenOrders(ctx)
	require.NoError(t, err)
	ids := make(map[string]bool, len(open))
	for _, o := range open {
		ids[o.OrdID] = true
	}
	assert.Equal(t, map[string]bool{"o-open": true, "o-closing": true}, ids)

	require.NoError(t, store.MarkOrderStatus(ctx, "o-open", OrderStatusFailed))
	open, err = store.ListOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "o-closing", open[0].OrdID)
}

func TestMarkOrderClosedAndPnL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, ordID := range []string{"w-1", "w-2", "w-3"} {
		_, err := store.UpsertOrder(ctx, OrderRecord{
			OrdID: ordID, InstID: "ETH-USDT-SWAP", Side: "long",
			Contracts: 0.03, EntryPrice: 3300, Status: OrderStatusOpen,
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.MarkOrderClosed(ctx, "w-1", 3330, 3.63, "take_profit"))
	require.NoError(t, store.MarkOrderClosed(ctx, "w-2", 3280, -2.13, "stop_loss"))

	orders, err := store.ListRecentOrders(ctx, 10)
	require.NoError(t, err)
	byID := make(map[string]OrderRecord, len(orders))
	for _, o := range orders {
		byID[o.OrdID] = o
	}
	closed := byID["w-1"]
	assert.Equal(t, OrderStatusClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	assert.InDelta(t, 3330, *closed.ExitPrice, 1e-9)
	require.NotNil(t, closed.PnLUSD)
	assert.InDelta(t, 3.63, *closed.PnLUSD, 1e-9)
	assert.Equal(t, "take_profit", closed.CloseReason)
	assert.NotNil(t, closed.ClosedAt)
	assert.Nil(t, byID["w-3"].ExitPrice, "未平仓订单不应有出场信息")

	since := time.Now().Add(-time.Hour)
	total, err := store.SumRealizedPnLSince(ctx, since)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, total, 1e-9, "只汇总已平仓订单的盈亏")

	total, err = store.SumRealizedPnLSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, total, "时间窗之外不计入")
}

func TestCountOpenedSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, rec := range []OrderRecord{
		{OrdID: "c-1", InstID: "ETH-USDT-SWAP", Side: "long", Contracts: 1, Status: OrderStatusOpen},
		{OrdID: "c-2", InstID: "ETH-USDT-SWAP", Side: "short", Contracts: 1, Status: OrderStatusClosed},
		{OrdID: "c-3", InstID: "ETH-USDT-SWAP", Side: "long", Contracts: 1, Status: OrderStatusFailed},
	} {
		_, err := store.UpsertOrder(ctx, rec)
		require.NoError(t, err)
	}

	n, err := store.CountOpenedSince(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "失败订单不计入开仓次数")

	n, err = store.CountOpenedSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMonitorEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendMonitorEvent(ctx, MonitorEvent{
		OrderID: 1, InstID: "ETH-USDT-SWAP", Event: EventStopTriggered,
		Detail:    map[string]interface{}{"price": 3279.5, "stop_loss": 3280.0},
		Timestamp: base,
	}))
	require.NoError(t, store.AppendMonitorEvent(ctx, MonitorEvent{
		OrderID: 1, InstID: "ETH-USDT-SWAP", Event: EventCloseConfirmed,
		Timestamp: base.Add(time.Minute),
	}))
	require.NoError(t, store.AppendMonitorEvent(ctx, MonitorEvent{
		OrderID: 2, InstID: "ETH-USDT-SWAP", Event: EventCloseTimeout,
		Timestamp: base.Add(2 * time.Minute),
	}))

	all, err := store.ListMonitorEvents(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, EventCloseTimeout, all[0].Event, "按时间倒序返回")

	forOrder, err := store.ListMonitorEvents(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, forOrder, 2)
	assert.Equal(t, EventCloseConfirmed, forOrder[0].Event)
	assert.Equal(t, EventStopTriggered, forOrder[1].Event)
	require.NotNil(t, forOrder[1].Detail)
	assert.InDelta(t, 3279.5, forOrder[1].Detail["price"].(float64), 1e-9)
	assert.Equal(t, base.UnixMilli(), forOrder[1].Timestamp.UnixMilli())
}

func TestClosedStoreRejectsOps(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "重复关闭应为空操作")

	_, err := store.InsertDecision(context.Background(), DecisionRecord{TraceID: "x", InstID: "y", Action: "hold"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未初始化")
}
