package market

import talib "github.com/markcheno/go-talib"

// 计算指标所需的最少 K 线数量（EMA50 + MACD 慢线预热）。
const minIndicatorBars = 52

// ComputeIndicators 由收盘价序列计算常用指标，数据不足时返回 nil。
func ComputeIndicators(cs Candles) *IndicatorSet {
	if len(cs) < minIndicatorBars {
		return nil
	}
	closes := cs.Closes()
	rsi := talib.Rsi(closes, 14)
	ema20 := talib.Ema(closes, 20)
	ema50 := talib.Ema(closes, 50)
	macd, signal, hist := talib.Macd(closes, 12, 26, 9)

	last := len(closes) - 1
	out := &IndicatorSet{
		RSI14:      rsi[last],
		EMA20:      ema20[last],
		EMA50:      ema50[last],
		MACD:       macd[last],
		MACDSignal: signal[last],
		MACDHist:   hist[last],
	}
	return out
}
