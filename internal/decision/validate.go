package decision

import "fmt"

// ValidateAgainstPrice 校验止损止盈与参考价的相对位置。
// 做多要求 止损 < 参考价 < 止盈，做空方向相反；未给出的价位跳过。
// 不通过的指令与格式错误同等对待。
func ValidateAgainstPrice(instr *Instruction, refPrice float64) error {
	if instr == nil {
		return fmt.Errorf("%w: 指令为空", ErrMalformedDecision)
	}
	if !instr.Opens() || refPrice <= 0 {
		return nil
	}
	switch instr.Action {
	case ActionOpenLong:
		if instr.StopLoss > 0 && instr.StopLoss >= refPrice {
			return fmt.Errorf("%w: 做多止损 %.2f 不低于参考价 %.2f", ErrMalformedDecision, instr.StopLoss, refPrice)
		}
		if instr.TakeProfit > 0 && instr.TakeProfit <= refPrice {
			return fmt.Errorf("%w: 做多止盈 %.2f 不高于参考价 %.2f", ErrMalformedDecision, instr.TakeProfit, refPrice)
		}
	case ActionOpenShort:
		if instr.StopLoss > 0 && instr.StopLoss <= refPrice {
			return fmt.Errorf("%w: 做空止损 %.2f 不高于参考价 %.2f", ErrMalformedDecision, instr.StopLoss, refPrice)
		}
		if instr.TakeProfit > 0 && instr.TakeProfit >= refPrice {
			return fmt.Errorf("%w: 做空止盈 %.2f 不低于参考价 %.2f", ErrMalformedDecision, instr.TakeProfit, refPrice)
		}
	}
	return nil
}
