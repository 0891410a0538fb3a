package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// 监控事件类型。
const (
	EventStopTriggered   = "stop_triggered"
	EventTargetTriggered = "target_triggered"
	EventCloseRequested  = "close_requested"
	EventCloseConfirmed  = "close_confirmed"
	EventCloseTimeout    = "close_timeout"
	EventProtectRepaired = "protect_repaired"
)

// MonitorEvent 持仓监控过程中产生的一条事件流水。
type MonitorEvent struct {
	ID        int64                  `json:"id"`
	OrderID   int64                  `json:"order_id"`
	InstID    string                 `json:"inst_id"`
	Event     string                 `json:"event"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// AppendMonitorEvent 追加一条监控事件；Detail 以 JSON 存储。
func (s *DecisionLogStore) AppendMonitorEvent(ctx context.Context, ev MonitorEvent) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var detail interface{}
	if len(ev.Detail) > 0 {
		raw, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("序列化事件详情失败: %w", err)
		}
		detail = string(raw)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO monitor_events (order_id, inst_id, event, detail, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		ev.OrderID, ev.InstID, ev.Event, detail, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("写入监控事件失败: %w", err)
	}
	return nil
}

// ListMonitorEvents 按时间倒序返回最近 limit 条监控事件。
// orderID 为 0 时不过滤订单。
func (s *DecisionLogStore) ListMonitorEvents(ctx context.Context, orderID int64, limit int) ([]MonitorEvent, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, order_id, inst_id, event, detail, timestamp FROM monitor_events`
	args := []interface{}{}
	if orderID > 0 {
		query += ` WHERE order_id = ?`
		args = append(args, orderID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询监控事件失败: %w", err)
	}
	defer rows.Close()

	var out []MonitorEvent
	for rows.Next() {
		var (
			ev     MonitorEvent
			detail sql.NullString
			ts     int64
		)
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.InstID, &ev.Event, &detail, &ts); err != nil {
			return nil, fmt.Errorf("解析监控事件失败: %w", err)
		}
		if detail.Valid && detail.String != "" {
			_ = json.Unmarshal([]byte(detail.String), &ev.Detail)
		}
		ev.Timestamp = time.UnixMilli(ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}
