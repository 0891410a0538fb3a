package manager

import (
	"sync"
	"time"

	"perpilot/internal/decision"
	"perpilot/internal/gateway/database"
)

// DecisionJournal 缓存最近若干条决策，供下一轮 Prompt 注入自我回顾。
type DecisionJournal struct {
	mu    sync.RWMutex
	items []decision.Memory
	limit int
	ttl   time.Duration
}

func NewDecisionJournal(limit int, ttl time.Duration) *DecisionJournal {
	if limit <= 0 {
		limit = 5
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &DecisionJournal{limit: limit, ttl: ttl}
}

// Load 从决策流水预热缓存（入参按时间倒序，即 ListRecentDecisions 的返回顺序）。
func (j *DecisionJournal) Load(records []database.DecisionRecord) {
	if j == nil || len(records) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		j.appendLocked(decision.Memory{
			Action:   decision.Action(rec.Action),
			Time:     rec.Timestamp,
			Reason:   rec.Reasoning,
			Executed: rec.Status == database.DecisionStatusExecuted,
		})
	}
}

// Append 记录一条新决策，超出上限时淘汰最旧的。
func (j *DecisionJournal) Append(mem decision.Memory) {
	if j == nil {
		return
	}
	if mem.Time.IsZero() {
		mem.Time = time.Now()
	}
	j.mu.Lock()
	j.appendLocked(mem)
	j.mu.Unlock()
}

func (j *DecisionJournal) appendLocked(mem decision.Memory) {
	j.items = append(j.items, mem)
	if len(j.items) > j.limit {
		j.items = j.items[len(j.items)-j.limit:]
	}
}

// Snapshot 返回未过期的决策记忆，时间正序。
func (j *DecisionJournal) Snapshot(now time.Time) []decision.Memory {
	if j == nil {
		return nil
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.items) == 0 {
		return nil
	}
	out := make([]decision.Memory, 0, len(j.items))
	for _, mem := range j.items {
		if j.ttl > 0 && now.Sub(mem.Time) > j.ttl {
			continue
		}
		out = append(out, mem)
	}
	return out
}
