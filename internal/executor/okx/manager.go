package okx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"perpilot/internal/decision"
	"perpilot/internal/gateway/database"
	"perpilot/internal/gateway/notifier"
	okxgw "perpilot/internal/gateway/okx"
	"perpilot/internal/logger"
	"perpilot/internal/pkg/format"
	"perpilot/internal/risk"
)

const (
	orderRetryAttempts    = 3
	entryConfirmAttempts  = 5
	entryConfirmInterval  = 2 * time.Second
	protectVerifyAttempts = 5
	protectRetryInterval  = 2 * time.Second
	closeConfirmAttempts  = 5
	closeConfirmInterval  = 2 * time.Second

	// executeDrainTimeout 单次执行任务的兜底时限。
	executeDrainTimeout = 2 * time.Minute
)

// Manager 负责把审批通过的指令落到交易所：下单、确认、挂保护单、平仓。
// 同一时刻至多允许一笔执行任务在途。
type Manager struct {
	gw       Gateway
	limits   risk.Limits
	tdMode   string
	store    *database.DecisionLogStore
	notifier notifier.Notifier
	prices   PriceSource

	closeConfirmTimeout time.Duration
	confirmInterval     time.Duration
	retryMin            time.Duration
	retryMax            time.Duration

	inFlight sync.Mutex
	mu       sync.Mutex
	current  *Tracked
	levered  map[string]bool
	lastOpen time.Time
	now      func() time.Time
}

// NewManager 创建执行管理器。store 与 notifier 可为 nil。
func NewManager(gw Gateway, limits risk.Limits, tdMode string, closeConfirmTimeout time.Duration, store *database.DecisionLogStore, n notifier.Notifier, prices PriceSource) *Manager {
	if tdMode == "" {
		tdMode = "cross"
	}
	if closeConfirmTimeout <= 0 {
		closeConfirmTimeout = 90 * time.Second
	}
	if n == nil {
		n = notifier.NopNotifier{}
	}
	return &Manager{
		gw:                  gw,
		limits:              limits,
		tdMode:              tdMode,
		store:               store,
		notifier:            n,
		prices:              prices,
		closeConfirmTimeout: closeConfirmTimeout,
		confirmInterval:     entryConfirmInterval,
		retryMin:            500 * time.Millisecond,
		retryMax:            5 * time.Second,
		levered:             make(map[string]bool),
		now:                 time.Now,
	}
}

// Current 返回当前跟踪持仓的副本，无持仓返回 nil。
func (m *Manager) Current() *Tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// LastOpenAt 最近一次成功开仓时间，供风控冷却判断。
func (m *Manager) LastOpenAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpen
}

// Execute 执行指令。开仓与平仓串行化，已有任务在途时直接报错。
// 指令一旦开始执行便不受上游取消影响，只受兜底时限约束。
func (m *Manager) Execute(ctx context.Context, instr *decision.Instruction) (*Result, error) {
	if instr == nil {
		return nil, fmt.Errorf("执行器收到空指令")
	}
	if !m.inFlight.TryLock() {
		return nil, fmt.Errorf("已有执行任务在途，放弃指令 %s", instr.Action)
	}
	defer m.inFlight.Unlock()

	// 执行段与上游取消解耦：退出信号不会半途撕毁已发出的订单，
	// 下单/确认/保护单流程走完或在兜底时限内超时。
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), executeDrainTimeout)
	defer cancel()

	switch {
	case instr.Opens():
		return m.open(execCtx, instr)
	case instr.Closes():
		return m.close(execCtx, instr.InstID, posSideFor(instr.Side()), "decision", instr.TraceID)
	default:
		return &Result{Action: decision.ActionHold, Note: "观望，无操作"}, nil
	}
}

func (m *Manager) open(ctx context.Context, instr *decision.Instruction) (*Result, error) {
	instID := instr.InstID
	lock := getPositionLock(instID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.gw.Positions(ctx, instID)
	if err != nil {
		return nil, fmt.Errorf("开仓前查询持仓失败: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("已有 %s 持仓，拒绝重复开仓", instID)
	}

	inst, err := m.gw.Instrument(ctx, instID)
	if err != nil {
		logger.Warnf("⚠ 获取合约参数失败，使用默认面值: %v", err)
		inst = okxgw.Instrument{InstID: instID}
	}
	bal, err := m.gw.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询账户余额失败: %w", err)
	}
	tick, err := m.gw.Ticker(ctx, instID)
	if err != nil {
		return nil, fmt.Errorf("查询最新价失败: %w", err)
	}

	sizing, err := computeSizing(bal.AvailEq, instr.SizeFraction, tick.Last, inst, m.limits)
	if err != nil {
		return nil, fmt.Errorf("计算下单数量失败: %w", err)
	}
	if err := m.ensureLeverage(ctx, instID); err != nil {
		logger.Warnf("⚠ 设置杠杆失败，沿用交易所当前杠杆: %v", err)
	}

	posSide := posSideFor(instr.Side())
	req := okxgw.OrderRequest{
		InstID:  instID,
		TdMode:  m.tdMode,
		Side:    orderSideFor(posSide),
		PosSide: posSide,
		OrdType: "market",
		Sz:      formatContracts(sizing.Contracts),
		ClOrdID: newClOrdID(),
	}
	logger.Infof("开仓下单 %s %s %.2f 张（约 %.4f ETH，保证金 %.2f USDT）trace=%s",
		instID, posSide, sizing.Contracts, sizing.BaseSize, sizing.MarginUSDT, instr.TraceID)

	res, err := m.placeWithRetry(ctx, req)
	if err != nil {
		m.notify(ctx, "开仓失败 ❌",
			fmt.Sprintf("合约: %s 方向: %s", instID, strings.ToUpper(posSide)),
			fmt.Sprintf("错误: %v", err))
		return nil, err
	}

	entryPrice, confirmed := m.confirmEntry(ctx, instID, posSide)
	if !confirmed {
		entryPrice = tick.Last
		logger.Warnf("⚠ 未在 %d 次轮询内确认到持仓，以最新价 %s 作为入场参考", entryConfirmAttempts, format.Price(entryPrice))
	}

	algoID := ""
	if instr.StopLoss > 0 || instr.TakeProfit > 0 {
		algoID, err = m.ensureProtective(ctx, instID, posSide, sizing.Contracts, instr.TakeProfit, instr.StopLoss)
		if err != nil {
			logger.Errorf("止盈止损挂单失败，持仓仅依赖本地监控: %v", err)
			m.notify(ctx, "止盈止损挂单失败 ⚠️",
				fmt.Sprintf("合约: %s 方向: %s", instID, strings.ToUpper(posSide)),
				fmt.Sprintf("错误: %v", err),
				"本地监控将作为兜底触发平仓")
		}
	}

	now := m.now()
	tracked := &Tracked{
		OrdID:      res.OrdID,
		TraceID:    instr.TraceID,
		InstID:     instID,
		Side:       posSide,
		Contracts:  sizing.Contracts,
		BaseSize:   sizing.BaseSize,
		EntryPrice: entryPrice,
		StopLoss:   instr.StopLoss,
		TakeProfit: instr.TakeProfit,
		AlgoID:     algoID,
		State:      StateOpen,
		OpenedAt:   now,
	}
	m.persistOpen(ctx, tracked)

	m.mu.Lock()
	m.current = tracked
	m.lastOpen = now
	m.mu.Unlock()

	logger.Infof("✓ 开仓成功 %s %s %.2f 张 @ %s ordId=%s", instID, posSide, sizing.Contracts, format.Price(entryPrice), res.OrdID)
	m.notify(ctx, "开仓成功 ✅",
		fmt.Sprintf("合约: %s 方向: %s 杠杆: %dx", instID, strings.ToUpper(posSide), m.limits.Leverage),
		fmt.Sprintf("数量: %.2f 张（%.4f ETH）", sizing.Contracts, sizing.BaseSize),
		fmt.Sprintf("入场: %s 止损: %s 止盈: %s", format.Price(entryPrice), format.Price(instr.StopLoss), format.Price(instr.TakeProfit)),
		fmt.Sprintf("Trace: %s", instr.TraceID))

	return &Result{
		Action:     instr.Action,
		OrdID:      res.OrdID,
		EntryPrice: entryPrice,
		Contracts:  sizing.Contracts,
		BaseSize:   sizing.BaseSize,
	}, nil
}

// placeWithRetry 市价下单，仅对瞬时错误按指数退避重试。
// 交易所业务拒单直接包装为 RejectedError 返回。
func (m *Manager) placeWithRetry(ctx context.Context, req okxgw.OrderRequest) (okxgw.OrderResult, error) {
	b := &backoff.Backoff{Min: m.retryMin, Max: m.retryMax, Factor: 2, Jitter: true}
	for attempt := 1; ; attempt++ {
		res, err := m.gw.PlaceOrder(ctx, req)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return okxgw.OrderResult{}, fmt.Errorf("下单中止: %w", err)
		}
		var apiErr *okxgw.APIError
		if errors.As(err, &apiErr) {
			return okxgw.OrderResult{}, &RejectedError{Stage: "order", Err: err}
		}
		if !okxgw.IsTransient(err) {
			return okxgw.OrderResult{}, err
		}
		if attempt >= orderRetryAttempts {
			return okxgw.OrderResult{}, fmt.Errorf("下单重试 %d 次仍失败: %w", attempt, err)
		}
		wait := b.Duration()
		logger.Warnf("⚠ 下单失败（第 %d 次），%s 后重试: %v", attempt, wait, err)
		select {
		case <-ctx.Done():
			return okxgw.OrderResult{}, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// confirmEntry 轮询持仓直到拿到开仓均价。
func (m *Manager) confirmEntry(ctx context.Context, instID, posSide string) (float64, bool) {
	for attempt := 1; attempt <= entryConfirmAttempts; attempt++ {
		positions, err := m.gw.Positions(ctx, instID)
		if err != nil {
			logger.Warnf("⚠ 确认持仓失败（第 %d 次）: %v", attempt, err)
		} else {
			for _, p := range positions {
				if p.Side() == posSide && p.AvgPx > 0 {
					return p.AvgPx, true
				}
			}
		}
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(m.confirmInterval):
		}
	}
	return 0, false
}

// ensureLeverage 每个合约只设置一次杠杆。
func (m *Manager) ensureLeverage(ctx context.Context, instID string) error {
	m.mu.Lock()
	done := m.levered[instID]
	m.mu.Unlock()
	if done {
		return nil
	}
	if err := m.gw.SetLeverage(ctx, instID, m.limits.Leverage, m.tdMode); err != nil {
		return err
	}
	m.mu.Lock()
	m.levered[instID] = true
	m.mu.Unlock()
	logger.Infof("✓ 杠杆已设置 %s %dx", instID, m.limits.Leverage)
	return nil
}

// close 撤掉保护单并市价平仓，随后轮询确认。
// kind 标注触发来源：decision / stop_loss / take_profit / manual。
func (m *Manager) close(ctx context.Context, instID, posSide, kind, traceID string) (*Result, error) {
	lock := getPositionLock(instID)
	lock.Lock()
	defer lock.Unlock()
	return m.closeLocked(ctx, instID, posSide, kind, traceID)
}

func (m *Manager) closeLocked(ctx context.Context, instID, posSide, kind, traceID string) (*Result, error) {
	positions, err := m.gw.Positions(ctx, instID)
	if err != nil {
		return nil, fmt.Errorf("平仓前查询持仓失败: %w", err)
	}
	var target *okxgw.Position
	for i := range positions {
		if positions[i].Side() == posSide {
			target = &positions[i]
			break
		}
	}
	if target == nil {
		logger.Infof("无 %s %s 持仓，平仓指令按无操作处理", instID, posSide)
		return &Result{Action: decision.ActionHold, Note: "无持仓可平"}, nil
	}

	if err := m.cancelProtective(ctx, instID); err != nil {
		logger.Warnf("⚠ 撤销止盈止损失败，继续平仓: %v", err)
	}
	if err := m.gw.ClosePosition(ctx, instID, m.tdMode, posSide); err != nil {
		var apiErr *okxgw.APIError
		if errors.As(err, &apiErr) {
			return nil, &RejectedError{Stage: "close", Err: err}
		}
		return nil, fmt.Errorf("平仓指令失败: %w", err)
	}

	now := m.now()
	m.mu.Lock()
	if m.current != nil && m.current.InstID == instID && m.current.Side == posSide {
		m.current.State = StateClosing
		m.current.CloseRequestedAt = now
		m.current.CloseKind = kind
	}
	m.mu.Unlock()
	m.appendEvent(ctx, instID, database.EventCloseRequested, map[string]interface{}{
		"kind": kind, "pos_side": posSide, "trace_id": traceID,
	})
	logger.Infof("平仓指令已发出 %s %s 原因=%s", instID, posSide, kind)

	exitPrice, confirmed := m.confirmClose(ctx, instID, posSide)
	if !confirmed {
		logger.Warnf("⚠ 平仓未在 %d 次轮询内确认，交给监控兜底", closeConfirmAttempts)
		return &Result{Action: decision.ActionHold, Note: "平仓确认中"}, nil
	}
	return m.finishClose(ctx, instID, posSide, kind, target.AvgPx, exitPrice), nil
}

// confirmClose 轮询等待持仓消失，返回平仓参考价。
func (m *Manager) confirmClose(ctx context.Context, instID, posSide string) (float64, bool) {
	for attempt := 1; attempt <= closeConfirmAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(m.confirmInterval):
		}
		positions, err := m.gw.Positions(ctx, instID)
		if err != nil {
			logger.Warnf("⚠ 确认平仓失败（第 %d 次）: %v", attempt, err)
			continue
		}
		gone := true
		for _, p := range positions {
			if p.Side() == posSide {
				gone = false
				break
			}
		}
		if gone {
			return m.refPrice(ctx, instID), true
		}
	}
	return 0, false
}

// finishClose 结算并清理本地跟踪状态。
func (m *Manager) finishClose(ctx context.Context, instID, posSide, kind string, entryPx, exitPx float64) *Result {
	m.mu.Lock()
	cur := m.current
	var baseSize, entry float64
	var ordID, traceID string
	var openedAt time.Time
	if cur != nil && cur.InstID == instID && cur.Side == posSide {
		baseSize = cur.BaseSize
		entry = cur.EntryPrice
		ordID = cur.OrdID
		traceID = cur.TraceID
		openedAt = cur.OpenedAt
		cur.State = StateClosed
		m.current = nil
	}
	m.mu.Unlock()
	if entry <= 0 {
		entry = entryPx
	}

	var holdMs int64
	if !openedAt.IsZero() {
		holdMs = m.now().Sub(openedAt).Milliseconds()
	}
	pnl := (exitPx - entry) * baseSize * directionSign(posSide)
	if m.store != nil && ordID != "" {
		if err := m.store.MarkOrderClosed(ctx, ordID, exitPx, pnl, kind); err != nil {
			logger.Warnf("⚠ 平仓落库失败: %v", err)
		}
	}
	m.appendEvent(ctx, instID, database.EventCloseConfirmed, map[string]interface{}{
		"kind": kind, "pos_side": posSide, "exit_price": exitPx, "pnl_usd": pnl,
	})

	logger.Infof("✓ 平仓完成 %s %s 入场 %s 出场 %s 盈亏 %.2f USDT 持仓 %s 原因=%s",
		instID, posSide, format.Price(entry), format.Price(exitPx), pnl, format.Duration(holdMs), kind)
	m.notify(ctx, "平仓完成 ✅",
		fmt.Sprintf("合约: %s 方向: %s 原因: %s", instID, strings.ToUpper(posSide), kind),
		fmt.Sprintf("入场: %s 出场: %s", format.Price(entry), format.Price(exitPx)),
		fmt.Sprintf("盈亏: %+.2f USDT 持仓时长: %s", pnl, format.Duration(holdMs)),
		fmt.Sprintf("Trace: %s", traceID))

	return &Result{
		Action:    decision.ActionHold,
		OrdID:     ordID,
		ExitPrice: exitPx,
		PnLUSD:    pnl,
		Note:      "已平仓 " + kind,
	}
}

// refPrice 优先取 WSS 最新价，取不到回退 REST。
func (m *Manager) refPrice(ctx context.Context, instID string) float64 {
	if m.prices != nil {
		if px, ok := m.prices.Latest(instID); ok {
			return px
		}
	}
	tick, err := m.gw.Ticker(ctx, instID)
	if err != nil {
		logger.Warnf("⚠ 获取参考价失败: %v", err)
		return 0
	}
	return tick.Last
}

func (m *Manager) persistOpen(ctx context.Context, t *Tracked) {
	if m.store == nil {
		return
	}
	opened := t.OpenedAt
	id, err := m.store.UpsertOrder(ctx, database.OrderRecord{
		TraceID:    t.TraceID,
		OrdID:      t.OrdID,
		AlgoID:     t.AlgoID,
		InstID:     t.InstID,
		Side:       t.Side,
		Contracts:  t.Contracts,
		BaseSize:   t.BaseSize,
		EntryPrice: t.EntryPrice,
		StopLoss:   t.StopLoss,
		TakeProfit: t.TakeProfit,
		Status:     database.OrderStatusOpen,
		OpenedAt:   &opened,
	})
	if err != nil {
		logger.Warnf("⚠ 开仓落库失败: %v", err)
		return
	}
	t.RecordID = id
}

func (m *Manager) appendEvent(ctx context.Context, instID, event string, detail map[string]interface{}) {
	if m.store == nil {
		return
	}
	var orderID int64
	m.mu.Lock()
	if m.current != nil && m.current.InstID == instID {
		orderID = m.current.RecordID
	}
	m.mu.Unlock()
	err := m.store.AppendMonitorEvent(ctx, database.MonitorEvent{
		OrderID: orderID,
		InstID:  instID,
		Event:   event,
		Detail:  detail,
	})
	if err != nil {
		logger.Debugf("监控事件落库失败: %v", err)
	}
}

func (m *Manager) notify(ctx context.Context, title string, lines ...string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, title, strings.Join(lines, "\n")); err != nil {
		logger.Warnf("⚠ 推送通知失败: %v", err)
	}
}
