package okx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceForStopLoss(t *testing.T) {
	cases := []struct {
		name    string
		side    string
		last    float64
		stop    float64
		trigger bool
	}{
		{"做多跌破止损", "long", 3279.9, 3280, true},
		{"做多恰好触及", "long", 3280, 3280, true},
		{"做多价格在上方", "long", 3300, 3280, false},
		{"做空涨破止损", "short", 3421, 3420, true},
		{"做空价格在下方", "short", 3400, 3420, false},
		{"未设置止损", "long", 3000, 0, false},
		{"无最新价", "long", 0, 3280, false},
		{"方向未知", "net", 3000, 3280, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			px, ok := priceForStopLoss(tc.side, Quote{Last: tc.last}, tc.stop)
			assert.Equal(t, tc.trigger, ok)
			if ok {
				assert.InDelta(t, tc.last, px, 1e-9)
			}
		})
	}
}

func TestPriceForTakeProfit(t *testing.T) {
	cases := []struct {
		name    string
		side    string
		last    float64
		tp      float64
		trigger bool
	}{
		{"做多涨到止盈", "long", 3401, 3400, true},
		{"做多未到", "long", 3399, 3400, false},
		{"做空跌到止盈", "short", 3289, 3290, true},
		{"做空恰好触及", "short", 3290, 3290, true},
		{"做空未到", "short", 3300, 3290, false},
		{"未设置止盈", "short", 3000, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := priceForTakeProfit(tc.side, Quote{Last: tc.last}, tc.tp)
			assert.Equal(t, tc.trigger, ok)
		})
	}
}
