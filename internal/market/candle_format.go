package market

import (
	"fmt"
	"math"
	"strings"
	"time"

	"perpilot/internal/pkg/format"
	"perpilot/internal/pkg/text"
)

// Candles K 线序列（时间升序），挂载 prompt 渲染辅助方法。
type Candles []Candle

// TimeString 收盘时间的 UTC 展示（缺失时退回开盘时间）。
func (c Candle) TimeString() string {
	ts := c.CloseTime
	if ts == 0 {
		ts = c.OpenTime
	}
	if ts <= 0 {
		return "-"
	}
	return time.UnixMilli(ts).UTC().Format("01-02 15:04") + "Z"
}

// Line 渲染单根 K 线的 prompt 文本行。
func (c Candle) Line() string {
	return fmt.Sprintf("%s O:%s H:%s L:%s C:%s V:%s",
		c.TimeString(),
		format.Float(c.Open, 2), format.Float(c.High, 2),
		format.Float(c.Low, 2), format.Float(c.Close, 2),
		format.Float(c.Volume, 2))
}

// WindowSummary 把一段 K 线窗口压缩成单行摘要（收盘、涨跌幅、区间）。
func (cs Candles) WindowSummary(interval, trend string) string {
	if len(cs) == 0 {
		return ""
	}
	first := cs[0]
	last := cs[len(cs)-1]
	base := first.Close
	if base == 0 {
		base = first.Open
	}
	changePct := 0.0
	if base != 0 {
		changePct = (last.Close - base) / base * 100
	}
	low := math.MaxFloat64
	high := -math.MaxFloat64
	for _, bar := range cs {
		if bar.Low < low {
			low = bar.Low
		}
		if bar.High > high {
			high = bar.High
		}
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("close≈%s", format.Float(last.Close, 4)))
	iv := strings.TrimSpace(interval)
	if iv == "" {
		iv = "window"
	}
	if base != 0 {
		sb.WriteString(fmt.Sprintf(" (%+.2f%%/%s)", changePct, iv))
	}
	if low != math.MaxFloat64 && high != -math.MaxFloat64 {
		sb.WriteString(fmt.Sprintf(", 区间 %s–%s", format.Float(low, 4), format.Float(high, 4)))
	}
	if t := strings.TrimSpace(trend); t != "" {
		sb.WriteString(", " + text.Truncate(t, 200))
	}
	return sb.String()
}
