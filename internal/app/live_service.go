package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"perpilot/internal/analysis/visual"
	"perpilot/internal/config"
	"perpilot/internal/decision"
	okxexec "perpilot/internal/executor/okx"
	"perpilot/internal/gateway/database"
	"perpilot/internal/gateway/notifier"
	okxgw "perpilot/internal/gateway/okx"
	"perpilot/internal/logger"
	"perpilot/internal/manager"
	"perpilot/internal/market"
	"perpilot/internal/pkg/format"
	"perpilot/internal/pkg/jsonutil"
	"perpilot/internal/risk"
	"perpilot/internal/telemetry"
	"perpilot/internal/transport/web"
)

// exchangeGateway 主循环需要的最小交易所能力子集。
type exchangeGateway interface {
	Positions(ctx context.Context, instID string) ([]okxgw.Position, error)
	PendingOrders(ctx context.Context, instID string) ([]okxgw.PendingOrder, error)
	Balance(ctx context.Context) (okxgw.Balance, error)
}

// LiveService 交易主循环：行情快照→AI 决策→风控审批→下单执行。
// 有持仓或挂单时跳过 AI，按短间隔只做监控。
type LiveService struct {
	cfg     *config.Config
	instID  string
	fetcher *market.SnapshotFetcher
	engine  *decision.Engine
	gate    *risk.Gate
	exec    *okxexec.Manager
	gw      exchangeGateway
	store   *database.DecisionLogStore
	vision  *visual.Service
	journal *manager.DecisionJournal
	ntf     notifier.Notifier

	fullInterval  time.Duration
	shortInterval time.Duration

	statusMu sync.RWMutex
	status   web.Status
}

// Run 启动决策循环，直到 ctx 取消。
func (s *LiveService) Run(ctx context.Context) error {
	if s == nil || s.cfg == nil {
		return fmt.Errorf("live service not initialized")
	}
	s.statusMu.Lock()
	s.status = web.Status{InstID: s.instID, Mode: "full", StartedAt: time.Now()}
	s.statusMu.Unlock()

	logger.Infof("PerPilot 启动完成：%s 决策周期 %s，持仓监控周期 %s。按 Ctrl+C 退出。",
		s.instID, s.fullInterval, s.shortInterval)
	s.notifyStartup(ctx)

	// 首轮立即执行，之后按本轮结果决定下一次等待时长。
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			timer.Reset(s.runCycle(ctx))
		}
	}
}

// Close 释放 LiveService 持有的资源。
func (s *LiveService) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// Status 返回后台展示用的运行状态快照。
func (s *LiveService) Status() web.Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// runCycle 执行一轮并返回下一轮的等待时长。
func (s *LiveService) runCycle(ctx context.Context) time.Duration {
	positions, pending, err := s.exposure(ctx)
	if err != nil {
		telemetry.ErrorsTotal.WithLabelValues("fetch").Inc()
		logger.Warnf("查询持仓/挂单失败，%s 后重试: %v", s.shortInterval, err)
		s.setCycleStatus("short", err)
		return s.shortInterval
	}
	if len(positions) > 0 || pending > 0 {
		telemetry.CyclesTotal.WithLabelValues("short").Inc()
		logger.Debugf("持仓=%d 挂单=%d，本轮仅监控，跳过 AI 决策", len(positions), pending)
		s.setCycleStatus("short", nil)
		return s.shortInterval
	}

	telemetry.CyclesTotal.WithLabelValues("full").Inc()
	start := time.Now()
	err = s.decideOnce(ctx, positions, pending)
	telemetry.CycleDuration.Observe(time.Since(start).Seconds())
	if err != nil && ctx.Err() == nil {
		logger.Warnf("决策循环出错: %v", err)
	}
	s.setCycleStatus("full", err)
	logger.Infof("决策循环结束 耗时=%s，下一轮 %s 后", time.Since(start).Truncate(time.Millisecond), s.fullInterval)
	return s.fullInterval
}

// decideOnce 完整决策流水线。positions/pending 为本轮开始时的快照。
func (s *LiveService) decideOnce(ctx context.Context, positions []okxgw.Position, pending int) error {
	snap, err := s.fetcher.Fetch(ctx, s.instID)
	if err != nil {
		telemetry.ErrorsTotal.WithLabelValues("fetch").Inc()
		return err
	}
	bal, err := s.gw.Balance(ctx)
	if err != nil {
		telemetry.ErrorsTotal.WithLabelValues("fetch").Inc()
		return fmt.Errorf("查询账户余额失败: %w", err)
	}

	input := decision.PromptInput{
		Snapshot: snap,
		Account: decision.AccountSnapshot{
			TotalEq:   bal.TotalEq,
			AvailEq:   bal.AvailEq,
			Currency:  "USDT",
			UpdatedAt: time.Now(),
		},
		Positions:     positionSnapshots(positions, snap.LastPrice),
		PendingOrders: pending,
		LastDecisions: s.journal.Snapshot(time.Now()),
		Limits:        promptConstraints(s.gate.Limits()),
	}
	images := s.vision.Payloads(ctx, snap)

	instr, err := s.engine.Decide(ctx, input, images)
	if err != nil {
		telemetry.ErrorsTotal.WithLabelValues("decision").Inc()
		return err
	}
	s.setLastDecision(instr.Action)
	telemetry.DecisionsTotal.WithLabelValues(string(instr.Action)).Inc()
	logger.Infof("AI 决策: %s %s 仓位=%.1f%% sl=%.2f tp=%.2f 信心=%s 模型=%s",
		instr.InstID, instr.Action, instr.SizeFraction*100, instr.StopLoss, instr.TakeProfit, instr.Confidence, instr.ProviderID)
	if instr.Reason != "" {
		logger.Infof("决策理由: %s", instr.Reason)
	}

	recID := s.recordDecision(ctx, instr, snap.LastPrice)

	if instr.Action == decision.ActionHold {
		s.finishDecision(ctx, recID, database.DecisionStatusSkipped, "")
		s.remember(instr, false)
		return nil
	}

	if err := decision.ValidateAgainstPrice(instr, snap.LastPrice); err != nil {
		telemetry.ErrorsTotal.WithLabelValues("decision").Inc()
		s.finishDecision(ctx, recID, database.DecisionStatusFailed, err.Error())
		s.remember(instr, false)
		return err
	}

	state, err := s.accountState(ctx, bal, len(positions), pending)
	if err != nil {
		telemetry.ErrorsTotal.WithLabelValues("internal").Inc()
		s.finishDecision(ctx, recID, database.DecisionStatusFailed, err.Error())
		s.remember(instr, false)
		return err
	}
	approved, err := s.gate.Approve(instr, state)
	if err != nil {
		telemetry.ErrorsTotal.WithLabelValues("risk").Inc()
		s.finishDecision(ctx, recID, database.DecisionStatusRejected, err.Error())
		s.remember(instr, false)
		var le *risk.LimitError
		if errors.As(err, &le) {
			logger.Infof("风控拒绝 [%s]: %s", le.Limit, le.Detail)
			return nil
		}
		return err
	}

	res, err := s.exec.Execute(ctx, approved)
	if err != nil {
		telemetry.ErrorsTotal.WithLabelValues("execute").Inc()
		var rej *okxexec.RejectedError
		if errors.As(err, &rej) {
			telemetry.OrdersTotal.WithLabelValues("rejected").Inc()
		} else {
			telemetry.OrdersTotal.WithLabelValues("failed").Inc()
		}
		s.finishDecision(ctx, recID, database.DecisionStatusFailed, err.Error())
		s.remember(instr, false)
		s.notifyFailure(ctx, approved, err)
		return err
	}
	telemetry.OrdersTotal.WithLabelValues("ok").Inc()
	s.finishDecision(ctx, recID, database.DecisionStatusExecuted, "")
	s.remember(instr, true)
	if res != nil && res.Note != "" {
		logger.Infof("执行结果: %s", res.Note)
	}
	return nil
}

// exposure 查询当前持仓与挂单数量，决定本轮走完整周期还是监控周期。
func (s *LiveService) exposure(ctx context.Context) ([]okxgw.Position, int, error) {
	positions, err := s.gw.Positions(ctx, s.instID)
	if err != nil {
		return nil, 0, fmt.Errorf("查询持仓失败: %w", err)
	}
	pendingOrders, err := s.gw.PendingOrders(ctx, s.instID)
	if err != nil {
		return nil, 0, fmt.Errorf("查询挂单失败: %w", err)
	}
	return positions, len(pendingOrders), nil
}

func (s *LiveService) accountState(ctx context.Context, bal okxgw.Balance, openPositions, pending int) (risk.AccountState, error) {
	state := risk.AccountState{
		TotalEq:       bal.TotalEq,
		AvailEq:       bal.AvailEq,
		OpenPositions: openPositions,
		PendingOrders: pending,
		LastOpenAt:    s.exec.LastOpenAt(),
	}
	pnl, err := s.store.SumRealizedPnLSince(ctx, risk.UTCDayStart(time.Now()))
	if err != nil {
		return state, fmt.Errorf("统计当日已实现盈亏失败: %w", err)
	}
	state.RealizedDailyPnL = pnl

	// 本轮窗口 = 一个完整决策周期，窗口内的开仓次数受 max_opens_per_cycle 约束。
	opens, err := s.store.CountOpenedSince(ctx, time.Now().Add(-s.fullInterval))
	if err != nil {
		return state, fmt.Errorf("统计本轮开仓次数失败: %w", err)
	}
	state.OpensThisCycle = opens
	return state, nil
}

func (s *LiveService) recordDecision(ctx context.Context, instr *decision.Instruction, refPrice float64) int64 {
	if s.store == nil {
		return 0
	}
	id, err := s.store.InsertDecision(ctx, database.DecisionRecord{
		TraceID:      instr.TraceID,
		Timestamp:    time.Now(),
		InstID:       instr.InstID,
		ProviderID:   instr.ProviderID,
		Action:       string(instr.Action),
		SizeFraction: instr.SizeFraction,
		EntryRef:     refPrice,
		StopLoss:     instr.StopLoss,
		TakeProfit:   instr.TakeProfit,
		Confidence:   string(instr.Confidence),
		Reasoning:    instr.Reason,
		RawJSON:      jsonutil.Compact(instr.RawJSON),
		Status:       database.DecisionStatusPending,
	})
	if err != nil {
		logger.Warnf("写入决策流水失败: %v", err)
		return 0
	}
	return id
}

func (s *LiveService) finishDecision(ctx context.Context, id int64, status, errMsg string) {
	if s.store == nil || id == 0 {
		return
	}
	if err := s.store.UpdateDecisionStatus(ctx, id, status, errMsg); err != nil {
		logger.Warnf("更新决策状态失败: %v", err)
	}
}

func (s *LiveService) remember(instr *decision.Instruction, executed bool) {
	if s.journal == nil {
		return
	}
	s.journal.Append(decision.Memory{
		Action:   instr.Action,
		Time:     time.Now(),
		Reason:   instr.Reason,
		Executed: executed,
	})
}

func (s *LiveService) setCycleStatus(mode string, err error) {
	s.statusMu.Lock()
	s.status.Mode = mode
	s.status.CycleCount++
	s.status.LastCycleAt = time.Now()
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastError = ""
	}
	s.statusMu.Unlock()
}

func (s *LiveService) setLastDecision(action decision.Action) {
	s.statusMu.Lock()
	s.status.LastDecision = string(action)
	s.statusMu.Unlock()
}

func (s *LiveService) notifyStartup(ctx context.Context) {
	mode := "实盘"
	if s.cfg.Exchange.Simulated {
		mode = "模拟盘"
	}
	limits := s.gate.Limits()
	body := strings.Join([]string{
		fmt.Sprintf("合约: %s（%s）", s.instID, mode),
		fmt.Sprintf("杠杆: %dx", limits.Leverage),
		fmt.Sprintf("单笔仓位上限: %s", format.Percent(limits.MaxSizeFraction)),
		fmt.Sprintf("决策周期: %s / 监控周期: %s", s.fullInterval, s.shortInterval),
	}, "\n")
	if err := s.ntf.Notify(ctx, "PerPilot 启动成功 ✅", body); err != nil {
		logger.Warnf("Telegram 推送失败: %v", err)
	}
}

func (s *LiveService) notifyFailure(ctx context.Context, instr *decision.Instruction, cause error) {
	body := strings.Join([]string{
		fmt.Sprintf("合约: %s", instr.InstID),
		fmt.Sprintf("动作: %s", instr.Action),
		fmt.Sprintf("原因: %v", cause),
	}, "\n")
	if err := s.ntf.Notify(ctx, "指令执行失败 ❌", body); err != nil {
		logger.Warnf("Telegram 推送失败: %v", err)
	}
}

func positionSnapshots(positions []okxgw.Position, lastPrice float64) []decision.PositionSnapshot {
	if len(positions) == 0 {
		return nil
	}
	out := make([]decision.PositionSnapshot, 0, len(positions))
	for _, p := range positions {
		out = append(out, decision.PositionSnapshot{
			InstID:        p.InstID,
			Side:          p.Side(),
			EntryPrice:    p.AvgPx,
			Contracts:     p.Pos,
			Leverage:      p.Lever,
			UnrealizedPnL: p.Upl,
			CurrentPrice:  lastPrice,
		})
	}
	return out
}

func promptConstraints(l risk.Limits) decision.Constraints {
	return decision.Constraints{
		MaxSizeFraction:  l.MaxSizeFraction,
		MinOrderSizeETH:  l.MinOrderSizeETH,
		MaxOrderSizeETH:  l.MaxOrderSizeETH,
		Leverage:         l.Leverage,
		MaxDailyLossUSDT: l.MaxDailyLossUSDT,
	}
}
