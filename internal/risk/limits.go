package risk

import (
	"fmt"
	"time"

	"perpilot/internal/config"
)

// 风控限制名称，LimitError.Limit 取值。
const (
	LimitMaxSize       = "max_size"
	LimitDailyLoss     = "daily_loss"
	LimitLeverage      = "leverage"
	LimitCooldown      = "cooldown"
	LimitOpensPerCycle = "opens_per_cycle"
	LimitExposure      = "exposure"
)

// LimitError 指令被风控拒绝，Limit 标明触发的限制。
type LimitError struct {
	Limit  string
	Detail string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("触发风控限制 %s: %s", e.Limit, e.Detail)
}

// Limits 风控边界，来自配置。
type Limits struct {
	MaxSizeFraction  float64
	MaxDailyLossUSDT float64
	MaxLeverage      int
	Leverage         int
	MinOrderSizeETH  float64
	MaxOrderSizeETH  float64
	OpenCooldown     time.Duration
	MaxOpensPerCycle int
}

// LimitsFromConfig 把配置段换算为风控边界。
func LimitsFromConfig(cfg config.RiskConfig) Limits {
	return Limits{
		MaxSizeFraction:  cfg.MaxSizeFraction,
		MaxDailyLossUSDT: cfg.MaxDailyLossUSDT,
		MaxLeverage:      cfg.MaxLeverage,
		Leverage:         cfg.Leverage,
		MinOrderSizeETH:  cfg.MinOrderSizeETH,
		MaxOrderSizeETH:  cfg.MaxOrderSizeETH,
		OpenCooldown:     time.Duration(cfg.OpenCooldownSeconds) * time.Second,
		MaxOpensPerCycle: cfg.MaxOpensPerCycle,
	}
}

// AccountState 审批时刻的账户与持仓状态，由调用方汇总。
type AccountState struct {
	TotalEq          float64
	AvailEq          float64
	OpenPositions    int
	PendingOrders    int
	RealizedDailyPnL float64 // 当日已实现盈亏，亏损为负
	LastOpenAt       time.Time
	OpensThisCycle   int
}

// UTCDayStart 返回 now 所在 UTC 自然日的零点，当日盈亏统计以此为界。
func UTCDayStart(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
