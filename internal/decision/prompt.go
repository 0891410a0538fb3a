package decision

import (
	"fmt"
	"strings"
	"time"

	"perpilot/internal/market"
	"perpilot/internal/pkg/format"
	textutil "perpilot/internal/pkg/text"
)

// AccountSnapshot 提供给模型的账户资金概要。
type AccountSnapshot struct {
	TotalEq   float64
	AvailEq   float64
	Currency  string
	UpdatedAt time.Time
}

// PositionSnapshot 提供给模型的仓位摘要。
type PositionSnapshot struct {
	InstID        string
	Side          string
	EntryPrice    float64
	Contracts     float64
	Leverage      float64
	UnrealizedPnL float64
	CurrentPrice  float64
}

// Memory 最近一次决策的记忆，用于提示词回放。
type Memory struct {
	Action   Action
	Time     time.Time
	Reason   string
	Executed bool
}

// Constraints 展示给模型的风控边界。
type Constraints struct {
	MaxSizeFraction  float64
	MinOrderSizeETH  float64
	MaxOrderSizeETH  float64
	Leverage         int
	MaxDailyLossUSDT float64
}

// PromptInput 构建提示词所需的全部材料。
type PromptInput struct {
	Snapshot      *market.Snapshot
	Account       AccountSnapshot
	Positions     []PositionSnapshot
	PendingOrders int
	LastDecisions []Memory
	Limits        Constraints
}

// PromptBuilder 把行情快照与账户状态组装成 System/User 提示词。
type PromptBuilder struct {
	Bars int // 提示词中展示的 K 线根数
}

func NewPromptBuilder(bars int) *PromptBuilder {
	if bars <= 0 {
		bars = 4
	}
	return &PromptBuilder{Bars: bars}
}

const systemTemplate = `你是一名专业的永续合约交易员，负责 %s 的全自动交易。
根据用户消息中的行情与账户信息做出唯一决策，严格输出如下 JSON，不要输出任何额外文本：
{
  "trading_decision": {
    "action": "open_long | open_short | close_long | close_short | hold",
    "confidence_level": "high | medium | low",
    "reason": "一句话理由"
  },
  "position_management": {
    "position_size": 0.05,
    "stop_loss_price": 0,
    "take_profit_price": 0
  }
}
规则：
- position_size 表示本次开仓动用可用资金的比例，取值 (0, %.2f]
- 开仓必须同时给出 stop_loss_price 与 take_profit_price，且方向与开仓方向一致
- 已有持仓时只允许 close_long / close_short / hold
- 平仓或观望时 position_management 各数值填 0`

// Build 返回 system 与 user 两段提示词。
func (b *PromptBuilder) Build(input PromptInput) (string, string) {
	instID := ""
	if input.Snapshot != nil {
		instID = input.Snapshot.InstID
	}
	system := fmt.Sprintf(systemTemplate, instID, input.Limits.MaxSizeFraction)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("当前时间: %s\n", time.Now().UTC().Format("2006-01-02 15:04:05")))
	b.writeMarketSection(&sb, input.Snapshot)
	b.writeAccountSection(&sb, input.Account)
	b.writePositionSection(&sb, input.Positions, input.PendingOrders)
	b.writeMemorySection(&sb, input.LastDecisions)
	b.writeConstraintSection(&sb, input.Limits)
	return system, strings.TrimSpace(sb.String())
}

func (b *PromptBuilder) writeMarketSection(sb *strings.Builder, snap *market.Snapshot) {
	if snap == nil {
		sb.WriteString("\n## 行情\n数据暂缺\n")
		return
	}
	sb.WriteString(fmt.Sprintf("\n## 行情 %s\n", snap.InstID))
	sb.WriteString(fmt.Sprintf("最新价 %s | 买一 %s | 卖一 %s\n",
		format.Price(snap.LastPrice), format.Price(snap.Bid), format.Price(snap.Ask)))
	sb.WriteString(fmt.Sprintf("24h 高 %s / 低 %s / 量 %s\n",
		format.Price(snap.High24h), format.Price(snap.Low24h), format.Float(snap.Volume24h, 0)))

	if n := len(snap.Candles); n > 0 {
		show := b.Bars
		if show > n {
			show = n
		}
		sb.WriteString(fmt.Sprintf("最近 %d 根 K 线（时间升序）:\n", show))
		for _, c := range snap.Candles.Tail(show) {
			sb.WriteString(c.Line())
			sb.WriteByte('\n')
		}
		sb.WriteString(fmt.Sprintf("成交量序列: %s\n", format.VolumeSlice(snap.Candles.Tail(show).Volumes())))
		if summary := snap.Candles.WindowSummary("窗口", ""); summary != "" {
			sb.WriteString(fmt.Sprintf("完整窗口（%d 根）: %s\n", n, summary))
		}
	}
	if ind := snap.Indicators; ind != nil {
		sb.WriteString(fmt.Sprintf("指标: RSI14 %.1f | EMA20 %s | EMA50 %s | MACD %.3f (signal %.3f, hist %.3f)\n",
			ind.RSI14, format.Price(ind.EMA20), format.Price(ind.EMA50),
			ind.MACD, ind.MACDSignal, ind.MACDHist))
	}
	if snap.HasMetrics {
		sb.WriteString(fmt.Sprintf("资金费率 %s | 持仓量 %s\n",
			format.SignedPercent(snap.Funding), format.Float(snap.OpenInterest, 0)))
	}
}

func (b *PromptBuilder) writeAccountSection(sb *strings.Builder, acct AccountSnapshot) {
	ccy := acct.Currency
	if ccy == "" {
		ccy = "USDT"
	}
	sb.WriteString("\n## 账户\n")
	sb.WriteString(fmt.Sprintf("总权益 %.2f %s | 可用 %.2f %s\n", acct.TotalEq, ccy, acct.AvailEq, ccy))
}

func (b *PromptBuilder) writePositionSection(sb *strings.Builder, positions []PositionSnapshot, pending int) {
	sb.WriteString("\n## 持仓\n")
	if len(positions) == 0 {
		sb.WriteString("当前无持仓\n")
	}
	for _, p := range positions {
		sb.WriteString(fmt.Sprintf("%s %s %.2f 张 @ %s | 现价 %s | 浮动盈亏 %.2f | 杠杆 %.0fx\n",
			p.InstID, strings.ToUpper(p.Side), p.Contracts,
			format.Price(p.EntryPrice), format.Price(p.CurrentPrice),
			p.UnrealizedPnL, p.Leverage))
	}
	if pending > 0 {
		sb.WriteString(fmt.Sprintf("未成交挂单 %d 笔\n", pending))
	}
}

func (b *PromptBuilder) writeMemorySection(sb *strings.Builder, memories []Memory) {
	if len(memories) == 0 {
		return
	}
	sb.WriteString("\n## 最近决策\n")
	for _, m := range memories {
		status := "已执行"
		if !m.Executed {
			status = "未执行"
		}
		reason := strings.TrimSpace(m.Reason)
		if reason == "" {
			reason = "-"
		}
		sb.WriteString(fmt.Sprintf("%s %s（%s）: %s\n",
			m.Time.UTC().Format("01-02 15:04"), m.Action, status, textutil.Truncate(reason, 120)))
	}
}

func (b *PromptBuilder) writeConstraintSection(sb *strings.Builder, limits Constraints) {
	sb.WriteString("\n## 风控约束\n")
	sb.WriteString(fmt.Sprintf("单次开仓资金比例上限 %.2f | 单笔数量 %.3f-%.3f ETH | 杠杆 %dx\n",
		limits.MaxSizeFraction, limits.MinOrderSizeETH, limits.MaxOrderSizeETH, limits.Leverage))
	if limits.MaxDailyLossUSDT > 0 {
		sb.WriteString(fmt.Sprintf("当日最大亏损 %.0f USDT，触发后停止开仓\n", limits.MaxDailyLossUSDT))
	}
}
