package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	textutil "perpilot/internal/pkg/text"
)

// ErrMalformedDecision 模型输出无法解析为有效指令。
// 调用方据此跳过本轮执行，绝不把解析失败当成观望。
var ErrMalformedDecision = errors.New("决策输出格式错误")

// flexFloat 容忍模型把数字写成字符串（"0.1"）或 null。
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("数值字段无法解析: %q", s)
	}
	*f = flexFloat(v)
	return nil
}

// rawPayload 同时兼容嵌套结构与扁平结构两种模型输出。
type rawPayload struct {
	TradingDecision struct {
		Action     string `json:"action"`
		Confidence string `json:"confidence_level"`
		Reason     string `json:"reason"`
	} `json:"trading_decision"`
	PositionManagement struct {
		PositionSize    flexFloat `json:"position_size"`
		StopLossPrice   flexFloat `json:"stop_loss_price"`
		TakeProfitPrice flexFloat `json:"take_profit_price"`
	} `json:"position_management"`

	Action          string    `json:"action"`
	Confidence      string    `json:"confidence_level"`
	Reason          string    `json:"reason"`
	PositionSize    flexFloat `json:"position_size"`
	StopLossPrice   flexFloat `json:"stop_loss_price"`
	TakeProfitPrice flexFloat `json:"take_profit_price"`
}

// Parse 把模型的原始输出解析为归一化指令。
// 解析顺序：整体 JSON -> 文本中嵌入的 JSON 对象 -> 纯文本启发式。
// 全部失败时返回 ErrMalformedDecision。
func Parse(raw string) (*Instruction, error) {
	text := stripFences(raw)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: 输出为空", ErrMalformedDecision)
	}

	if instr, err := parsePayloadJSON(text); err == nil {
		return instr, nil
	}
	for _, candidate := range extractJSONObjects(text) {
		if instr, err := parsePayloadJSON(candidate); err == nil {
			return instr, nil
		}
	}
	if instr, ok := parseFreeText(text); ok {
		return instr, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMalformedDecision, textutil.Truncate(strings.TrimSpace(raw), 160))
}

func parsePayloadJSON(text string) (*Instruction, error) {
	var p rawPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &p); err != nil {
		return nil, err
	}
	return instructionFromPayload(p, text)
}

func instructionFromPayload(p rawPayload, raw string) (*Instruction, error) {
	actionRaw := p.TradingDecision.Action
	conf := p.TradingDecision.Confidence
	reason := p.TradingDecision.Reason
	size := float64(p.PositionManagement.PositionSize)
	stop := float64(p.PositionManagement.StopLossPrice)
	tp := float64(p.PositionManagement.TakeProfitPrice)
	if actionRaw == "" {
		actionRaw = p.Action
		conf = p.Confidence
		reason = p.Reason
		size = float64(p.PositionSize)
		stop = float64(p.StopLossPrice)
		tp = float64(p.TakeProfitPrice)
	}

	action := NormalizeAction(actionRaw)
	if action == "" {
		return nil, fmt.Errorf("%w: 动作缺失或无法识别 %q", ErrMalformedDecision, actionRaw)
	}
	instr := &Instruction{
		Action:       action,
		SizeFraction: size,
		StopLoss:     stop,
		TakeProfit:   tp,
		Confidence:   NormalizeConfidence(conf),
		Reason:       strings.TrimSpace(reason),
		RawJSON:      strings.TrimSpace(raw),
	}
	if err := checkRequired(instr); err != nil {
		return nil, err
	}
	return instr, nil
}

func checkRequired(instr *Instruction) error {
	if instr.Opens() && instr.SizeFraction <= 0 {
		return fmt.Errorf("%w: 开仓指令缺少有效仓位比例", ErrMalformedDecision)
	}
	if instr.SizeFraction < 0 || instr.StopLoss < 0 || instr.TakeProfit < 0 {
		return fmt.Errorf("%w: 数值字段不能为负", ErrMalformedDecision)
	}
	return nil
}

// stripFences 去掉 markdown 代码围栏与语言标记。
func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.Contains(text, "```") {
		return text
	}
	text = strings.ReplaceAll(text, "```json", "```")
	text = strings.ReplaceAll(text, "```JSON", "```")
	return strings.ReplaceAll(text, "```", "")
}

// extractJSONObjects 用括号深度扫描提取文本中所有顶层 {...} 片段，
// 跳过字符串字面量内部的括号。
func extractJSONObjects(text string) []string {
	var (
		out      []string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

var (
	reCloseAction = regexp.MustCompile(`(?i)\b(?:close|exit)[\s_-]*(long|short)\b`)
	reLongAction  = regexp.MustCompile(`(?i)\b(?:go\s+long|open\s+long|long|buy)\b`)
	reShortAction = regexp.MustCompile(`(?i)\b(?:go\s+short|open\s+short|short|sell)\b`)
	reHoldAction  = regexp.MustCompile(`(?i)\b(?:hold|wait|observe)\b`)
	reSize        = regexp.MustCompile(`(?i)(?:\bsize\b|\bposition\b|仓位)[^\d]{0,12}(\d+(?:\.\d+)?)`)
	reStop        = regexp.MustCompile(`(?i)(?:\bstop(?:[\s_-]*loss)?\b|\bsl\b|止损)[^\d]{0,12}(\d+(?:\.\d+)?)`)
	reTakeProfit  = regexp.MustCompile(`(?i)(?:\btake[\s_-]*profit\b|\btarget\b|\btp\b|止盈)[^\d]{0,12}(\d+(?:\.\d+)?)`)
)

// parseFreeText 兜底解析自然语言指令，例如
// "Go long ETH, size 0.1, stop 3050"。动作关键词缺失视为解析失败。
func parseFreeText(text string) (*Instruction, bool) {
	var action Action
	switch {
	case reCloseAction.MatchString(text):
		m := reCloseAction.FindStringSubmatch(text)
		if strings.EqualFold(m[1], "long") {
			action = ActionCloseLong
		} else {
			action = ActionCloseShort
		}
	case strings.Contains(text, "平多"):
		action = ActionCloseLong
	case strings.Contains(text, "平空"):
		action = ActionCloseShort
	case reLongAction.MatchString(text) || strings.Contains(text, "做多") || strings.Contains(text, "开多"):
		action = ActionOpenLong
	case reShortAction.MatchString(text) || strings.Contains(text, "做空") || strings.Contains(text, "开空"):
		action = ActionOpenShort
	case reHoldAction.MatchString(text) || strings.Contains(text, "观望"):
		action = ActionHold
	default:
		return nil, false
	}

	instr := &Instruction{
		Action:       action,
		SizeFraction: firstFloat(reSize, text),
		StopLoss:     firstFloat(reStop, text),
		TakeProfit:   firstFloat(reTakeProfit, text),
		Confidence:   ConfidenceLow,
		Reason:       textutil.Truncate(strings.TrimSpace(text), 300),
	}
	if err := checkRequired(instr); err != nil {
		return nil, false
	}
	return instr, true
}

func firstFloat(re *regexp.Regexp, text string) float64 {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}
