package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// 决策记录的落库状态。
const (
	DecisionStatusPending  = "pending"
	DecisionStatusExecuted = "executed"
	DecisionStatusSkipped  = "skipped"
	DecisionStatusRejected = "rejected"
	DecisionStatusFailed   = "failed"
)

// DecisionRecord 一次 AI 决策的完整流水。
type DecisionRecord struct {
	ID           int64     `json:"id"`
	TraceID      string    `json:"trace_id"`
	Timestamp    time.Time `json:"timestamp"`
	InstID       string    `json:"inst_id"`
	ProviderID   string    `json:"provider_id"`
	Action       string    `json:"action"`
	SizeFraction float64   `json:"size_fraction"`
	EntryRef     float64   `json:"entry_ref"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	Confidence   string    `json:"confidence"`
	Reasoning    string    `json:"reasoning"`
	RawJSON      string    `json:"raw_json,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
}

// InsertDecision 写入一条决策流水并返回自增 ID。
func (s *DecisionLogStore) InsertDecision(ctx context.Context, rec DecisionRecord) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	status := rec.Status
	if status == "" {
		status = DecisionStatusPending
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO decisions (
			trace_id, timestamp, inst_id, provider_id, action,
			size_fraction, entry_ref, stop_loss, take_profit,
			confidence, reasoning, raw_json, status, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID,
		ts.UnixMilli(),
		rec.InstID,
		nullIfEmptyString(rec.ProviderID),
		rec.Action,
		nullIfZeroFloat(rec.SizeFraction),
		nullIfZeroFloat(rec.EntryRef),
		nullIfZeroFloat(rec.StopLoss),
		nullIfZeroFloat(rec.TakeProfit),
		nullIfEmptyString(rec.Confidence),
		nullIfEmptyString(rec.Reasoning),
		nullIfEmptyString(rec.RawJSON),
		status,
		nullIfEmptyString(rec.Error),
	)
	if err != nil {
		return 0, fmt.Errorf("写入决策流水失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("获取决策流水 ID 失败: %w", err)
	}
	return id, nil
}

// UpdateDecisionStatus 更新决策的执行结果；errMsg 为空表示无错误。
func (s *DecisionLogStore) UpdateDecisionStatus(ctx context.Context, id int64, status, errMsg string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE decisions SET status = ?, error = ? WHERE id = ?`,
		status, nullIfEmptyString(errMsg), id)
	if err != nil {
		return fmt.Errorf("更新决策状态失败: %w", err)
	}
	return nil
}

// ListRecentDecisions 按时间倒序返回最近 limit 条决策。
func (s *DecisionLogStore) ListRecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, trace_id, timestamp, inst_id, provider_id, action,
		       size_fraction, entry_ref, stop_loss, take_profit,
		       confidence, reasoning, raw_json, status, error
		FROM decisions ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询决策流水失败: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		rec, err := scanDecisionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountDecisions 返回决策流水总数。
func (s *DecisionLogStore) CountDecisions(ctx context.Context) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM decisions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("统计决策流水失败: %w", err)
	}
	return n, nil
}

func scanDecisionRow(rows *sql.Rows) (DecisionRecord, error) {
	var (
		rec       DecisionRecord
		ts        int64
		provider  sql.NullString
		fraction  sql.NullFloat64
		entryRef  sql.NullFloat64
		stopLoss  sql.NullFloat64
		takeP     sql.NullFloat64
		conf      sql.NullString
		reasoning sql.NullString
		rawJSON   sql.NullString
		errMsg    sql.NullString
	)
	if err := rows.Scan(
		&rec.ID, &rec.TraceID, &ts, &rec.InstID, &provider, &rec.Action,
		&fraction, &entryRef, &stopLoss, &takeP,
		&conf, &reasoning, &rawJSON, &rec.Status, &errMsg,
	); err != nil {
		return DecisionRecord{}, fmt.Errorf("解析决策流水失败: %w", err)
	}
	rec.Timestamp = time.UnixMilli(ts)
	rec.ProviderID = provider.String
	rec.SizeFraction = fraction.Float64
	rec.EntryRef = entryRef.Float64
	rec.StopLoss = stopLoss.Float64
	rec.TakeProfit = takeP.Float64
	rec.Confidence = conf.String
	rec.Reasoning = reasoning.String
	rec.RawJSON = rawJSON.String
	rec.Error = errMsg.String
	return rec, nil
}
