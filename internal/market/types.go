package market

import (
	"time"

	"perpilot/internal/pkg/sliceutil"
)

// Candle 单根 K 线，时间为毫秒时间戳。Candles 见 candle_format.go。
type Candle struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Ticker 最新行情。
type Ticker struct {
	InstID    string
	Last      float64
	Bid       float64
	Ask       float64
	High24h   float64
	Low24h    float64
	Vol24h    float64 // 24h 成交量（币）
	VolCcy24h float64 // 24h 成交额（计价币）
	Ts        int64
}

// Metrics 衍生品指标（资金费率与未平仓量）。
type Metrics struct {
	FundingRate  float64
	OpenInterest float64
	UpdatedAt    time.Time
}

// IndicatorSet 由最近收盘价计算出的技术指标。
type IndicatorSet struct {
	RSI14      float64
	EMA20      float64
	EMA50      float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
}

// Snapshot 单轮决策使用的行情快照，生成后不再修改。
type Snapshot struct {
	InstID       string
	Timestamp    time.Time
	LastPrice    float64
	Bid          float64
	Ask          float64
	High24h      float64
	Low24h       float64
	Volume24h    float64
	Candles      Candles
	Indicators   *IndicatorSet
	Funding      float64
	OpenInterest float64
	HasMetrics   bool
}

// Closes 返回收盘价序列副本（时间升序）。
func (cs Candles) Closes() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// Volumes 返回成交量序列副本（时间升序）。
func (cs Candles) Volumes() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Volume
	}
	return out
}

// Tail 返回最近 n 根 K 线（不足时返回全部）。
func (cs Candles) Tail(n int) Candles {
	if n <= 0 || len(cs) <= n {
		return cs
	}
	return cs[len(cs)-n:]
}

// PriceSeries 返回快照内的收盘价序列副本。
func (s *Snapshot) PriceSeries() []float64 {
	if s == nil {
		return nil
	}
	return sliceutil.Floats(s.Candles.Closes())
}
