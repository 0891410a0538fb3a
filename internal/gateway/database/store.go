package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DecisionLogStore 基于 SQLite 的持久层：决策流水、订单与监控事件。
// 单写多读场景，用互斥锁保护 db 句柄的生命周期。
type DecisionLogStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewDecisionLogStore 打开（必要时创建）数据库并执行建表。
func NewDecisionLogStore(path string) (*DecisionLogStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(1)
	store := &DecisionLogStore{db: db}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *DecisionLogStore) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			inst_id TEXT NOT NULL,
			provider_id TEXT,
			action TEXT NOT NULL,
			size_fraction REAL,
			entry_ref REAL,
			stop_loss REAL,
			take_profit REAL,
			confidence TEXT,
			reasoning TEXT,
			raw_json TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(timestamp DESC);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT,
			ord_id TEXT UNIQUE,
			algo_id TEXT,
			inst_id TEXT NOT NULL,
			side TEXT NOT NULL,
			contracts REAL NOT NULL,
			base_size REAL,
			entry_price REAL,
			stop_loss REAL,
			take_profit REAL,
			status INTEGER NOT NULL,
			opened_at INTEGER,
			closed_at INTEGER,
			exit_price REAL,
			pnl_usd REAL,
			close_reason TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_closed_at ON orders(closed_at);`,
		`CREATE TABLE IF NOT EXISTS monitor_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id INTEGER,
			inst_id TEXT NOT NULL,
			event TEXT NOT NULL,
			detail TEXT,
			timestamp INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_events_ts ON monitor_events(timestamp DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("初始化数据库失败: %w", err)
		}
	}
	return nil
}

// Close 关闭底层连接。
func (s *DecisionLogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *DecisionLogStore) handle() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("decision log store 未初始化")
	}
	return db, nil
}

func nullIfEmptyString(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullIfZeroFloat(v float64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func timeToMillisPtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
