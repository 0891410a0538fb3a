package okx

import (
	"fmt"

	"github.com/shopspring/decimal"

	okxgw "perpilot/internal/gateway/okx"
	"perpilot/internal/risk"
)

// ETH-USDT-SWAP 的合约参数兜底值，Instrument 查询失败返回空串时使用。
const (
	fallbackCtVal = "0.1"
	fallbackLotSz = "0.01"
	fallbackMinSz = "0.01"
)

// Sizing 开仓数量换算结果。
type Sizing struct {
	MarginUSDT float64 // 占用保证金
	BaseSize   float64 // 币数量（ETH）
	Contracts  float64 // 合约张数
}

// computeSizing 把资金比例换算成合约张数：
// 可用资金 × 比例 × 杠杆 / 价格 = 币数量，收敛到配置的单笔上下限，
// 再按合约面值折算成张数并对齐到下单步长，不足最小张数时按最小张数下单。
func computeSizing(availEq, fraction, price float64, inst okxgw.Instrument, limits risk.Limits) (Sizing, error) {
	if availEq <= 0 {
		return Sizing{}, fmt.Errorf("可用资金不足: %.4f", availEq)
	}
	if fraction <= 0 {
		return Sizing{}, fmt.Errorf("开仓比例无效: %.4f", fraction)
	}
	if price <= 0 {
		return Sizing{}, fmt.Errorf("参考价无效: %.4f", price)
	}
	leverage := limits.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	margin := decimal.NewFromFloat(availEq).Mul(decimal.NewFromFloat(fraction))
	notional := margin.Mul(decimal.NewFromInt(int64(leverage)))
	base := notional.Div(decimal.NewFromFloat(price))

	minBase := decimal.NewFromFloat(limits.MinOrderSizeETH)
	maxBase := decimal.NewFromFloat(limits.MaxOrderSizeETH)
	if maxBase.IsPositive() && base.GreaterThan(maxBase) {
		base = maxBase
	}
	if minBase.IsPositive() && base.LessThan(minBase) {
		base = minBase
	}

	ctVal := decimalFromInst(inst.CtVal, fallbackCtVal)
	lotSz := decimalFromInst(inst.LotSz, fallbackLotSz)
	minSz := decimalFromInst(inst.MinSz, fallbackMinSz)
	if !ctVal.IsPositive() || !lotSz.IsPositive() {
		return Sizing{}, fmt.Errorf("合约参数异常 ctVal=%s lotSz=%s", inst.CtVal, inst.LotSz)
	}

	contracts := base.Div(ctVal).Div(lotSz).Floor().Mul(lotSz)
	if contracts.LessThan(minSz) {
		contracts = minSz
	}

	baseActual := contracts.Mul(ctVal)
	marginF, _ := margin.Float64()
	baseF, _ := baseActual.Float64()
	contractsF, _ := contracts.Float64()
	return Sizing{MarginUSDT: marginF, BaseSize: baseF, Contracts: contractsF}, nil
}

func decimalFromInst(raw, fallback string) decimal.Decimal {
	if raw == "" {
		raw = fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}
