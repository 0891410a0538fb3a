package okx

// Quote 监控判断用的最新价格。
type Quote struct {
	Last float64
}

func (q Quote) isEmpty() bool { return q.Last <= 0 }

// priceForStopLoss 判断止损是否触发（做多跌破、做空涨破）。
func priceForStopLoss(side string, quote Quote, stop float64) (float64, bool) {
	if stop <= 0 || quote.isEmpty() {
		return 0, false
	}
	switch side {
	case "long":
		return quote.Last, quote.Last <= stop
	case "short":
		return quote.Last, quote.Last >= stop
	default:
		return 0, false
	}
}

// priceForTakeProfit 判断止盈是否触发（做多涨到、做空跌到）。
func priceForTakeProfit(side string, quote Quote, tp float64) (float64, bool) {
	if tp <= 0 || quote.isEmpty() {
		return 0, false
	}
	switch side {
	case "long":
		return quote.Last, quote.Last >= tp
	case "short":
		return quote.Last, quote.Last <= tp
	default:
		return 0, false
	}
}
