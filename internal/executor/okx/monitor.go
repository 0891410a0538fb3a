package okx

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"perpilot/internal/gateway/database"
	okxgw "perpilot/internal/gateway/okx"
	"perpilot/internal/logger"
	"perpilot/internal/pkg/format"
)

// RunMonitor 以固定间隔巡检持仓：本地止盈止损兜底触发、
// 平仓确认与超时升级、交易所侧平仓的对账。ctx 取消后退出。
func (m *Manager) RunMonitor(ctx context.Context, instID string, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	logger.Infof("持仓监控启动 %s 间隔 %s", instID, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("持仓监控退出 %s", instID)
			return ctx.Err()
		case <-ticker.C:
			m.monitorOnce(ctx, instID)
		}
	}
}

func (m *Manager) monitorOnce(ctx context.Context, instID string) {
	lock := getPositionLock(instID)
	// 执行任务持锁期间跳过本轮巡检，下一个周期再看。
	if !lock.TryLock() {
		return
	}
	defer lock.Unlock()

	positions, err := m.gw.Positions(ctx, instID)
	if err != nil {
		logger.Warnf("⚠ 监控查询持仓失败: %v", err)
		return
	}

	cur := m.Current()
	if len(positions) == 0 {
		m.reconcileFlat(ctx, instID, cur)
		return
	}
	live := positions[0]
	if cur == nil {
		m.adopt(ctx, live)
		return
	}

	m.syncTracked(live)
	cur = m.Current()
	if cur == nil {
		return
	}

	switch cur.State {
	case StateClosing:
		if m.now().Sub(cur.CloseRequestedAt) > m.closeConfirmTimeout {
			m.escalateCloseTimeout(ctx, cur)
		}
	case StateOpen:
		m.checkTriggers(ctx, cur)
	}
}

// reconcileFlat 交易所已无持仓时对齐本地状态。
func (m *Manager) reconcileFlat(ctx context.Context, instID string, cur *Tracked) {
	if cur == nil {
		return
	}
	exit := m.refPrice(ctx, instID)
	switch cur.State {
	case StateClosing:
		m.finishClose(ctx, instID, cur.Side, cur.CloseKind, cur.EntryPrice, exit)
	case StateOpen:
		logger.Infof("交易所侧已平仓（条件委托触发或手动操作）%s %s", instID, cur.Side)
		m.finishClose(ctx, instID, cur.Side, "exchange_side", cur.EntryPrice, exit)
	default:
		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()
	}
}

// adopt 接管启动前已存在的交易所持仓，保护单价位从未触发委托里恢复。
func (m *Manager) adopt(ctx context.Context, p okxgw.Position) {
	instID := p.InstID
	contracts := math.Abs(p.Pos)
	ctVal := 0.1
	if inst, err := m.gw.Instrument(ctx, instID); err == nil {
		if v, err := strconv.ParseFloat(inst.CtVal, 64); err == nil && v > 0 {
			ctVal = v
		}
	}

	var stop, tp float64
	var algoID string
	if algos, err := m.gw.PendingAlgos(ctx, instID); err == nil {
		for _, a := range algos {
			if a.PosSide != "" && a.PosSide != p.Side() {
				continue
			}
			algoID = a.AlgoID
			if v, err := strconv.ParseFloat(a.SlTriggerPx, 64); err == nil && v > 0 {
				stop = v
			}
			if v, err := strconv.ParseFloat(a.TpTriggerPx, 64); err == nil && v > 0 {
				tp = v
			}
			break
		}
	}

	opened := m.now()
	if p.CTime > 0 {
		opened = time.UnixMilli(p.CTime)
	}
	tracked := &Tracked{
		OrdID:      fmt.Sprintf("adopt%d", p.CTime),
		InstID:     instID,
		Side:       p.Side(),
		Contracts:  contracts,
		BaseSize:   contracts * ctVal,
		EntryPrice: p.AvgPx,
		StopLoss:   stop,
		TakeProfit: tp,
		AlgoID:     algoID,
		State:      StateOpen,
		OpenedAt:   opened,
	}
	m.persistOpen(ctx, tracked)
	m.mu.Lock()
	m.current = tracked
	m.mu.Unlock()

	logger.Infof("✓ 接管已有持仓 %s %s %.2f 张 @ %s 止损 %s 止盈 %s",
		instID, tracked.Side, contracts, format.Price(p.AvgPx), format.Price(stop), format.Price(tp))
	m.notify(ctx, "接管已有持仓 ℹ️",
		fmt.Sprintf("合约: %s 方向: %s 数量: %.2f 张", instID, strings.ToUpper(tracked.Side), contracts),
		fmt.Sprintf("入场: %s 止损: %s 止盈: %s", format.Price(p.AvgPx), format.Price(stop), format.Price(tp)))
}

// syncTracked 用交易所数据刷新本地快照（均价可能因加仓变动）。
func (m *Manager) syncTracked(live okxgw.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.InstID != live.InstID {
		return
	}
	if live.AvgPx > 0 {
		m.current.EntryPrice = live.AvgPx
	}
	if c := math.Abs(live.Pos); c > 0 {
		m.current.Contracts = c
	}
}

// checkTriggers 本地价格触发判断，作为交易所条件委托的兜底。
func (m *Manager) checkTriggers(ctx context.Context, cur *Tracked) {
	if cur.StopLoss <= 0 && cur.TakeProfit <= 0 {
		return
	}
	px := m.refPrice(ctx, cur.InstID)
	if px <= 0 {
		logger.Warnf("⚠ 监控缺少最新价 %s，本轮跳过触发判断", cur.InstID)
		return
	}
	quote := Quote{Last: px}

	if price, hit := priceForStopLoss(cur.Side, quote, cur.StopLoss); hit {
		logger.Warnf("止损触发 %s %s 现价 %s 止损价 %s", cur.InstID, cur.Side, format.Price(price), format.Price(cur.StopLoss))
		m.appendEvent(ctx, cur.InstID, database.EventStopTriggered, map[string]interface{}{
			"price": price, "stop_loss": cur.StopLoss, "side": cur.Side,
		})
		if _, err := m.closeLocked(ctx, cur.InstID, cur.Side, "stop_loss", cur.TraceID); err != nil {
			logger.Errorf("止损平仓失败: %v", err)
			m.notify(ctx, "止损平仓失败 ❌",
				fmt.Sprintf("合约: %s 方向: %s 现价: %s", cur.InstID, strings.ToUpper(cur.Side), format.Price(price)),
				fmt.Sprintf("错误: %v", err))
		}
		return
	}
	if price, hit := priceForTakeProfit(cur.Side, quote, cur.TakeProfit); hit {
		logger.Infof("止盈触发 %s %s 现价 %s 止盈价 %s", cur.InstID, cur.Side, format.Price(price), format.Price(cur.TakeProfit))
		m.appendEvent(ctx, cur.InstID, database.EventTargetTriggered, map[string]interface{}{
			"price": price, "take_profit": cur.TakeProfit, "side": cur.Side,
		})
		if _, err := m.closeLocked(ctx, cur.InstID, cur.Side, "take_profit", cur.TraceID); err != nil {
			logger.Errorf("止盈平仓失败: %v", err)
			m.notify(ctx, "止盈平仓失败 ❌",
				fmt.Sprintf("合约: %s 方向: %s 现价: %s", cur.InstID, strings.ToUpper(cur.Side), format.Price(price)),
				fmt.Sprintf("错误: %v", err))
		}
	}
}

// escalateCloseTimeout 平仓确认超时：告警并回退到持仓状态重新跟踪。
func (m *Manager) escalateCloseTimeout(ctx context.Context, cur *Tracked) {
	m.mu.Lock()
	if m.current != nil && m.current.InstID == cur.InstID {
		m.current.State = StateOpen
		m.current.CloseRequestedAt = time.Time{}
	}
	m.mu.Unlock()
	m.appendEvent(ctx, cur.InstID, database.EventCloseTimeout, map[string]interface{}{
		"kind": cur.CloseKind, "requested_at": cur.CloseRequestedAt.UnixMilli(),
	})
	logger.Errorf("平仓确认超时 %s %s，已回退为持仓状态等待下一轮处理", cur.InstID, cur.Side)
	m.notify(ctx, "平仓确认超时 ⚠️",
		fmt.Sprintf("合约: %s 方向: %s 原因: %s", cur.InstID, strings.ToUpper(cur.Side), cur.CloseKind),
		fmt.Sprintf("发起时间: %s", cur.CloseRequestedAt.Format("15:04:05")),
		"请人工核查交易所侧订单状态")
}
