package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"perpilot/internal/gateway/database"
)

// Seed a SQLite database with mock decision and order data for the admin UI.
// Usage: go run scripts/seed_mock_data.go [db_path]
// Default db_path: data/live/decisions.db
func main() {
	dbPath := "data/live/decisions.db"
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		dbPath = strings.TrimSpace(os.Args[1])
	}

	store, err := database.NewDecisionLogStore(dbPath)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := seedDecisions(ctx, store); err != nil {
		panic(err)
	}
	if err := seedOrders(ctx, store); err != nil {
		panic(err)
	}

	fmt.Printf("✓ mock data seeded into %s\n", dbPath)
}

func seedDecisions(ctx context.Context, store *database.DecisionLogStore) error {
	now := time.Now()
	samples := []database.DecisionRecord{
		{
			TraceID:    "mock-trace-hold",
			Timestamp:  now.Add(-95 * time.Minute),
			InstID:     "ETH-USDT-SWAP",
			ProviderID: "deepseek",
			Action:     "hold",
			EntryRef:   3312.5,
			Confidence: "medium",
			Reasoning:  "短期均线纠缠，量能不足，等待方向确认。",
			RawJSON:    `{"trading_decision":{"action":"hold","confidence_level":"medium"}}`,
			Status:     database.DecisionStatusSkipped,
		},
		{
			TraceID:      "mock-trace-long",
			Timestamp:    now.Add(-60 * time.Minute),
			InstID:       "ETH-USDT-SWAP",
			ProviderID:   "deepseek",
			Action:       "open_long",
			SizeFraction: 0.05,
			EntryRef:     3320.0,
			StopLoss:     3285.0,
			TakeProfit:   3390.0,
			Confidence:   "high",
			Reasoning:    "5m 级别放量突破前高，资金费率转正，顺势做多。",
			RawJSON:      `{"trading_decision":{"action":"open_long","confidence_level":"high"},"position_management":{"position_size":0.05,"stop_loss_price":3285,"take_profit_price":3390}}`,
			Status:       database.DecisionStatusExecuted,
		},
		{
			TraceID:      "mock-trace-short",
			Timestamp:    now.Add(-20 * time.Minute),
			InstID:       "ETH-USDT-SWAP",
			ProviderID:   "deepseek",
			Action:       "open_short",
			SizeFraction: 0.08,
			EntryRef:     3350.0,
			StopLoss:     3382.0,
			TakeProfit:   3290.0,
			Confidence:   "low",
			Reasoning:    "上影线密集，尝试抢顶。",
			Status:       database.DecisionStatusRejected,
			Error:        "触发风控限制 cooldown: 距上次开仓 20m0s，冷却 30m0s",
		},
	}
	for _, rec := range samples {
		if _, err := store.InsertDecision(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func seedOrders(ctx context.Context, store *database.DecisionLogStore) error {
	now := time.Now()

	openedAt := now.Add(-58 * time.Minute)
	prev := database.OrderRecord{
		TraceID:    "mock-trace-prev",
		OrdID:      "mock-ord-001",
		AlgoID:     "mock-algo-001",
		InstID:     "ETH-USDT-SWAP",
		Side:       "short",
		Contracts:  0.5,
		BaseSize:   0.05,
		EntryPrice: 3402.0,
		StopLoss:   3436.0,
		TakeProfit: 3330.0,
		Status:     database.OrderStatusOpen,
		OpenedAt:   &openedAt,
	}
	id, err := store.UpsertOrder(ctx, prev)
	if err != nil {
		return err
	}
	if err := store.AppendMonitorEvent(ctx, database.MonitorEvent{
		OrderID:   id,
		InstID:    prev.InstID,
		Event:     database.EventTargetTriggered,
		Detail:    map[string]interface{}{"last": 3329.4, "take_profit": 3330.0},
		Timestamp: now.Add(-31 * time.Minute),
	}); err != nil {
		return err
	}
	if err := store.MarkOrderClosed(ctx, prev.OrdID, 3329.4, 3.63, "take_profit"); err != nil {
		return err
	}

	live := database.OrderRecord{
		TraceID:    "mock-trace-long",
		OrdID:      "mock-ord-002",
		AlgoID:     "mock-algo-002",
		InstID:     "ETH-USDT-SWAP",
		Side:       "long",
		Contracts:  0.5,
		BaseSize:   0.05,
		EntryPrice: 3320.6,
		StopLoss:   3285.0,
		TakeProfit: 3390.0,
		Status:     database.OrderStatusOpen,
		OpenedAt:   &now,
	}
	if _, err := store.UpsertOrder(ctx, live); err != nil {
		return err
	}
	return nil
}
