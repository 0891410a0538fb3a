package decision

import "strings"

// Action 决策动作。
type Action string

const (
	ActionOpenLong   Action = "open_long"
	ActionOpenShort  Action = "open_short"
	ActionCloseLong  Action = "close_long"
	ActionCloseShort Action = "close_short"
	ActionHold       Action = "hold"
)

// NormalizeAction 把模型输出的各种动作写法归一到标准动作，无法识别返回空串。
func NormalizeAction(raw string) Action {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.ReplaceAll(v, "-", "_")
	v = strings.ReplaceAll(v, " ", "_")
	switch v {
	case "open_long", "long", "buy", "go_long", "做多", "开多":
		return ActionOpenLong
	case "open_short", "short", "sell", "go_short", "做空", "开空":
		return ActionOpenShort
	case "close_long", "exit_long", "平多":
		return ActionCloseLong
	case "close_short", "exit_short", "平空":
		return ActionCloseShort
	case "hold", "wait", "observe", "none", "观望", "持有", "等待":
		return ActionHold
	}
	return ""
}

// Confidence 模型给出的信心档位。
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// NormalizeConfidence 归一信心档位，未知写法按 low 处理。
func NormalizeConfidence(raw string) Confidence {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high", "高":
		return ConfidenceHigh
	case "medium", "mid", "中":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Instruction 归一化后的交易指令，是解析器的唯一产出。
// SizeFraction 表示本次开仓动用可用资金的比例 (0,1]，平仓与观望时为 0。
type Instruction struct {
	TraceID      string
	InstID       string
	ProviderID   string
	Action       Action
	SizeFraction float64
	StopLoss     float64
	TakeProfit   float64
	Confidence   Confidence
	Reason       string
	RawJSON      string
}

// Opens 是否为开仓指令。
func (i Instruction) Opens() bool {
	return i.Action == ActionOpenLong || i.Action == ActionOpenShort
}

// Closes 是否为平仓指令。
func (i Instruction) Closes() bool {
	return i.Action == ActionCloseLong || i.Action == ActionCloseShort
}

// Side 指令对应的持仓方向：long / short / flat。
func (i Instruction) Side() string {
	switch i.Action {
	case ActionOpenLong, ActionCloseLong:
		return "long"
	case ActionOpenShort, ActionCloseShort:
		return "short"
	default:
		return "flat"
	}
}
