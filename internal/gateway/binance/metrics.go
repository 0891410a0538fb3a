package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"
)

// 中文说明：
// Binance USDT-M 合约作为备用衍生品指标源（资金费率、未平仓量），
// 配置 metrics.source = "binance" 时启用。实现 market.MetricsFetcher。

type MetricsSource struct {
	client *futures.Client
}

func NewMetricsSource() *MetricsSource {
	// 公共端点无需密钥
	return &MetricsSource{client: futures.NewClient("", "")}
}

// toSymbol 将 OKX instId（ETH-USDT-SWAP）映射为 Binance 合约符号（ETHUSDT）。
func toSymbol(instID string) string {
	s := strings.ToUpper(strings.TrimSpace(instID))
	s = strings.TrimSuffix(s, "-SWAP")
	return strings.ReplaceAll(s, "-", "")
}

// Funding 最新资金费率。
func (m *MetricsSource) Funding(ctx context.Context, instID string) (float64, error) {
	rows, err := m.client.NewPremiumIndexService().Symbol(toSymbol(instID)).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance premiumIndex 失败: %w", err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("binance premiumIndex 返回空数据: %s", instID)
	}
	v, err := strconv.ParseFloat(rows[0].LastFundingRate, 64)
	if err != nil {
		return 0, fmt.Errorf("解析资金费率失败: %w", err)
	}
	return v, nil
}

// OI 当前未平仓量（币）。
func (m *MetricsSource) OI(ctx context.Context, instID string) (float64, error) {
	res, err := m.client.NewGetOpenInterestService().Symbol(toSymbol(instID)).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance openInterest 失败: %w", err)
	}
	v, err := strconv.ParseFloat(res.OpenInterest, 64)
	if err != nil {
		return 0, fmt.Errorf("解析未平仓量失败: %w", err)
	}
	return v, nil
}
