package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OrderStatus 订单生命周期状态。
type OrderStatus int

const (
	// OrderStatusOpen 已成交、持仓中。
	OrderStatusOpen OrderStatus = 1
	// OrderStatusClosing 已发出平仓指令、等待确认。
	OrderStatusClosing OrderStatus = 2
	// OrderStatusClosed 已平仓。
	OrderStatusClosed OrderStatus = 3
	// OrderStatusFailed 下单失败或被拒。
	OrderStatusFailed OrderStatus = 4
)

// OrderRecord 一笔实盘订单及其持仓快照。
type OrderRecord struct {
	ID          int64       `json:"id"`
	TraceID     string      `json:"trace_id"`
	OrdID       string      `json:"ord_id"`
	AlgoID      string      `json:"algo_id,omitempty"`
	InstID      string      `json:"inst_id"`
	Side        string      `json:"side"`
	Contracts   float64     `json:"contracts"`
	BaseSize    float64     `json:"base_size"`
	EntryPrice  float64     `json:"entry_price"`
	StopLoss    float64     `json:"stop_loss"`
	TakeProfit  float64     `json:"take_profit"`
	Status      OrderStatus `json:"status"`
	OpenedAt    *time.Time  `json:"opened_at,omitempty"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
	ExitPrice   *float64    `json:"exit_price,omitempty"`
	PnLUSD      *float64    `json:"pnl_usd,omitempty"`
	CloseReason string      `json:"close_reason,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// UpsertOrder 以 ord_id 为键写入或更新订单。
// 已存在时仅覆盖调用方带来的新字段，空值保留旧值。
func (s *DecisionLogStore) UpsertOrder(ctx context.Context, rec OrderRecord) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	if rec.OrdID == "" {
		return 0, fmt.Errorf("订单缺少 ord_id")
	}
	now := time.Now().UnixMilli()
	_, err = db.ExecContext(ctx, `
		INSERT INTO orders (
			trace_id, ord_id, algo_id, inst_id, side,
			contracts, base_size, entry_price, stop_loss, take_profit,
			status, opened_at, closed_at, exit_price, pnl_usd, close_reason,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ord_id) DO UPDATE SET
			trace_id     = COALESCE(excluded.trace_id, orders.trace_id),
			algo_id      = COALESCE(excluded.algo_id, orders.algo_id),
			contracts    = excluded.contracts,
			base_size    = COALESCE(excluded.base_size, orders.base_size),
			entry_price  = COALESCE(excluded.entry_price, orders.entry_price),
			stop_loss    = COALESCE(excluded.stop_loss, orders.stop_loss),
			take_profit  = COALESCE(excluded.take_profit, orders.take_profit),
			status       = excluded.status,
			opened_at    = COALESCE(excluded.opened_at, orders.opened_at),
			closed_at    = COALESCE(excluded.closed_at, orders.closed_at),
			exit_price   = COALESCE(excluded.exit_price, orders.exit_price),
			pnl_usd      = COALESCE(excluded.pnl_usd, orders.pnl_usd),
			close_reason = COALESCE(excluded.close_reason, orders.close_reason),
			updated_at   = excluded.updated_at`,
		nullIfEmptyString(rec.TraceID),
		rec.OrdID,
		nullIfEmptyString(rec.AlgoID),
		rec.InstID,
		rec.Side,
		rec.Contracts,
		nullIfZeroFloat(rec.BaseSize),
		nullIfZeroFloat(rec.EntryPrice),
		nullIfZeroFloat(rec.StopLoss),
		nullIfZeroFloat(rec.TakeProfit),
		int(rec.Status),
		timeToMillisPtr(rec.OpenedAt),
		timeToMillisPtr(rec.ClosedAt),
		floatPtrOrNil(rec.ExitPrice),
		floatPtrOrNil(rec.PnLUSD),
		nullIfEmptyString(rec.CloseReason),
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("写入订单失败: %w", err)
	}
	var id int64
	if err := db.QueryRowContext(ctx, `SELECT id FROM orders WHERE ord_id = ?`, rec.OrdID).Scan(&id); err != nil {
		return 0, fmt.Errorf("查询订单 ID 失败: %w", err)
	}
	return id, nil
}

// MarkOrderClosed 标记订单已平仓并记录出场信息。
func (s *DecisionLogStore) MarkOrderClosed(ctx context.Context, ordID string, exitPrice, pnlUSD float64, reason string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.ExecContext(ctx, `
		UPDATE orders SET
			status = ?, closed_at = ?, exit_price = ?, pnl_usd = ?,
			close_reason = COALESCE(?, close_reason), updated_at = ?
		WHERE ord_id = ?`,
		int(OrderStatusClosed), now, exitPrice, pnlUSD,
		nullIfEmptyString(reason), now, ordID)
	if err != nil {
		return fmt.Errorf("标记订单平仓失败: %w", err)
	}
	return nil
}

// MarkOrderStatus 仅更新订单状态。
func (s *DecisionLogStore) MarkOrderStatus(ctx context.Context, ordID string, status OrderStatus) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE ord_id = ?`,
		int(status), time.Now().UnixMilli(), ordID)
	if err != nil {
		return fmt.Errorf("更新订单状态失败: %w", err)
	}
	return nil
}

// ListOpenOrders 返回持仓中或平仓确认中的订单。
func (s *DecisionLogStore) ListOpenOrders(ctx context.Context) ([]OrderRecord, error) {
	return s.listOrders(ctx, `WHERE status IN (?, ?) ORDER BY created_at DESC`,
		int(OrderStatusOpen), int(OrderStatusClosing))
}

// ListRecentOrders 按创建时间倒序返回最近 limit 条订单。
func (s *DecisionLogStore) ListRecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listOrders(ctx, `ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *DecisionLogStore) listOrders(ctx context.Context, tail string, args ...interface{}) ([]OrderRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, trace_id, ord_id, algo_id, inst_id, side,
		       contracts, base_size, entry_price, stop_loss, take_profit,
		       status, opened_at, closed_at, exit_price, pnl_usd, close_reason,
		       created_at, updated_at
		FROM orders `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		rec, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SumRealizedPnLSince 汇总 since 之后平仓订单的已实现盈亏（USDT）。
func (s *DecisionLogStore) SumRealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var total sql.NullFloat64
	err = db.QueryRowContext(ctx, `
		SELECT SUM(pnl_usd) FROM orders
		WHERE status = ? AND closed_at >= ?`,
		int(OrderStatusClosed), since.UnixMilli()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("汇总已实现盈亏失败: %w", err)
	}
	return total.Float64, nil
}

// CountOpenedSince 统计 since 之后创建且未失败的订单数，供开仓频控使用。
func (s *DecisionLogStore) CountOpenedSince(ctx context.Context, since time.Time) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM orders
		WHERE status != ? AND created_at >= ?`,
		int(OrderStatusFailed), since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("统计开仓次数失败: %w", err)
	}
	return n, nil
}

func scanOrderRow(rows *sql.Rows) (OrderRecord, error) {
	var (
		rec       OrderRecord
		traceID   sql.NullString
		algoID    sql.NullString
		baseSize  sql.NullFloat64
		entry     sql.NullFloat64
		stopLoss  sql.NullFloat64
		takeP     sql.NullFloat64
		status    int
		openedAt  sql.NullInt64
		closedAt  sql.NullInt64
		exitPrice sql.NullFloat64
		pnl       sql.NullFloat64
		reason    sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := rows.Scan(
		&rec.ID, &traceID, &rec.OrdID, &algoID, &rec.InstID, &rec.Side,
		&rec.Contracts, &baseSize, &entry, &stopLoss, &takeP,
		&status, &openedAt, &closedAt, &exitPrice, &pnl, &reason,
		&createdAt, &updatedAt,
	); err != nil {
		return OrderRecord{}, fmt.Errorf("解析订单记录失败: %w", err)
	}
	rec.TraceID = traceID.String
	rec.AlgoID = algoID.String
	rec.BaseSize = baseSize.Float64
	rec.EntryPrice = entry.Float64
	rec.StopLoss = stopLoss.Float64
	rec.TakeProfit = takeP.Float64
	rec.Status = OrderStatus(status)
	if openedAt.Valid {
		t := time.UnixMilli(openedAt.Int64)
		rec.OpenedAt = &t
	}
	if closedAt.Valid {
		t := time.UnixMilli(closedAt.Int64)
		rec.ClosedAt = &t
	}
	if exitPrice.Valid {
		v := exitPrice.Float64
		rec.ExitPrice = &v
	}
	if pnl.Valid {
		v := pnl.Float64
		rec.PnLUSD = &v
	}
	rec.CloseReason = reason.String
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return rec, nil
}

func floatPtrOrNil(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
