package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"perpilot/internal/decision"
	"perpilot/internal/logger"
)

// Gate 在指令进入执行器之前做最后一道风控审批。
// 平仓与观望永远放行，开仓逐项检查并对仓位比例做硬性收敛。
type Gate struct {
	limits Limits
	now    func() time.Time
}

func NewGate(limits Limits) *Gate {
	return &Gate{limits: limits, now: time.Now}
}

// Limits 返回当前风控边界。
func (g *Gate) Limits() Limits { return g.limits }

// Approve 审批指令。通过时返回可能被收敛过的指令副本，
// 拒绝时返回 *LimitError，原指令不会被修改。
func (g *Gate) Approve(instr *decision.Instruction, state AccountState) (*decision.Instruction, error) {
	if instr == nil {
		return nil, fmt.Errorf("风控审批收到空指令")
	}
	if !instr.Opens() {
		out := *instr
		return &out, nil
	}

	if g.limits.MaxDailyLossUSDT > 0 && state.RealizedDailyPnL <= -g.limits.MaxDailyLossUSDT {
		return nil, &LimitError{
			Limit:  LimitDailyLoss,
			Detail: fmt.Sprintf("当日已实现亏损 %.2f USDT 达到上限 %.2f", -state.RealizedDailyPnL, g.limits.MaxDailyLossUSDT),
		}
	}
	if state.OpenPositions > 0 || state.PendingOrders > 0 {
		return nil, &LimitError{
			Limit:  LimitExposure,
			Detail: fmt.Sprintf("已有 %d 笔持仓 / %d 笔挂单，不允许再开仓", state.OpenPositions, state.PendingOrders),
		}
	}
	if g.limits.OpenCooldown > 0 && !state.LastOpenAt.IsZero() {
		if since := g.now().Sub(state.LastOpenAt); since < g.limits.OpenCooldown {
			return nil, &LimitError{
				Limit:  LimitCooldown,
				Detail: fmt.Sprintf("距上次开仓 %s，冷却期 %s 未满", since.Round(time.Second), g.limits.OpenCooldown),
			}
		}
	}
	if g.limits.MaxOpensPerCycle > 0 && state.OpensThisCycle >= g.limits.MaxOpensPerCycle {
		return nil, &LimitError{
			Limit:  LimitOpensPerCycle,
			Detail: fmt.Sprintf("本轮已开仓 %d 次，达到上限 %d", state.OpensThisCycle, g.limits.MaxOpensPerCycle),
		}
	}
	if g.limits.MaxLeverage > 0 && g.limits.Leverage > g.limits.MaxLeverage {
		return nil, &LimitError{
			Limit:  LimitLeverage,
			Detail: fmt.Sprintf("配置杠杆 %dx 超过上限 %dx", g.limits.Leverage, g.limits.MaxLeverage),
		}
	}

	out := *instr
	out.SizeFraction = g.clampFraction(instr.SizeFraction)
	if out.SizeFraction <= 0 {
		return nil, &LimitError{Limit: LimitMaxSize, Detail: "开仓比例无效"}
	}
	return &out, nil
}

// clampFraction 把开仓比例硬性收敛到 (0, MaxSizeFraction]。
// 用 decimal 比较避免浮点边界误差。
func (g *Gate) clampFraction(fraction float64) float64 {
	if fraction <= 0 {
		return 0
	}
	max := decimal.NewFromFloat(g.limits.MaxSizeFraction)
	want := decimal.NewFromFloat(fraction)
	if want.GreaterThan(max) {
		logger.Warnf("⚠ 开仓比例 %.4f 超过上限 %.4f，已收敛", fraction, g.limits.MaxSizeFraction)
		want = max
	}
	v, _ := want.Float64()
	return v
}
