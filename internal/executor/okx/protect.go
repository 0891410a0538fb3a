package okx

import (
	"context"
	"fmt"
	"time"

	"perpilot/internal/gateway/database"
	okxgw "perpilot/internal/gateway/okx"
	"perpilot/internal/logger"
	"perpilot/internal/pkg/format"
)

// ensureProtective 挂出止盈止损条件委托（oco、触发后市价），
// 挂单后回查确认，确认不到则重挂，最多尝试 protectVerifyAttempts 次。
func (m *Manager) ensureProtective(ctx context.Context, instID, posSide string, contracts, takeProfit, stopLoss float64) (string, error) {
	req := okxgw.TPSLRequest{
		InstID:  instID,
		TdMode:  m.tdMode,
		Side:    closeSideFor(posSide),
		PosSide: posSide,
		OrdType: "oco",
		Sz:      formatContracts(contracts),
	}
	if takeProfit > 0 {
		req.TpTriggerPx = format.Price(takeProfit)
		req.TpOrdPx = "-1"
	}
	if stopLoss > 0 {
		req.SlTriggerPx = format.Price(stopLoss)
		req.SlOrdPx = "-1"
	}
	if req.TpTriggerPx == "" && req.SlTriggerPx == "" {
		return "", nil
	}

	var lastErr error
	for attempt := 1; attempt <= protectVerifyAttempts; attempt++ {
		algo, err := m.gw.PlaceTPSL(ctx, req)
		if err != nil {
			lastErr = err
			logger.Warnf("⚠ 止盈止损挂单失败（第 %d 次）: %v", attempt, err)
		} else if algoID := m.verifyProtective(ctx, instID, algo.AlgoID); algoID != "" {
			logger.Infof("✓ 止盈止损已挂出 %s tp=%s sl=%s algoId=%s",
				instID, format.Price(takeProfit), format.Price(stopLoss), algoID)
			m.appendEvent(ctx, instID, database.EventProtectRepaired, map[string]interface{}{
				"algo_id": algoID, "attempt": attempt,
				"take_profit": takeProfit, "stop_loss": stopLoss,
			})
			return algoID, nil
		} else {
			lastErr = fmt.Errorf("挂单后未在委托列表中确认到 algoId=%s", algo.AlgoID)
			logger.Warnf("⚠ %v（第 %d 次）", lastErr, attempt)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(protectRetryInterval):
		}
	}
	return "", fmt.Errorf("止盈止损挂单 %d 次均未确认: %w", protectVerifyAttempts, lastErr)
}

// verifyProtective 回查未触发的条件委托，确认挂单真实存在。
func (m *Manager) verifyProtective(ctx context.Context, instID, wantAlgoID string) string {
	algos, err := m.gw.PendingAlgos(ctx, instID)
	if err != nil {
		logger.Warnf("⚠ 查询条件委托失败: %v", err)
		return ""
	}
	for _, a := range algos {
		if wantAlgoID != "" && a.AlgoID == wantAlgoID {
			return a.AlgoID
		}
		if wantAlgoID == "" && a.AlgoID != "" {
			return a.AlgoID
		}
	}
	return ""
}

// cancelProtective 撤销该合约全部未触发的条件委托。
func (m *Manager) cancelProtective(ctx context.Context, instID string) error {
	algos, err := m.gw.PendingAlgos(ctx, instID)
	if err != nil {
		return fmt.Errorf("查询条件委托失败: %w", err)
	}
	if len(algos) == 0 {
		return nil
	}
	items := make([]okxgw.CancelAlgoItem, 0, len(algos))
	for _, a := range algos {
		items = append(items, okxgw.CancelAlgoItem{AlgoID: a.AlgoID, InstID: instID})
	}
	if err := m.gw.CancelAlgos(ctx, items); err != nil {
		return fmt.Errorf("撤销条件委托失败: %w", err)
	}
	logger.Infof("✓ 已撤销 %d 笔条件委托 %s", len(items), instID)
	return nil
}
