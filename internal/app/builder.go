package app

import (
	"context"
	"time"

	"perpilot/internal/config"
	okxexec "perpilot/internal/executor/okx"
	okxgw "perpilot/internal/gateway/okx"
	"perpilot/internal/logger"
	"perpilot/internal/manager"
	"perpilot/internal/transport/web"
)

// 决策记忆条数：注入提示词的历史决策数量。
const journalDepth = 5

// AppBuilder 分步组装 App；构建顺序即依赖顺序。
type AppBuilder struct {
	cfg *config.Config
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

// Build 完成全部依赖装配，失败时不留下半初始化状态。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg

	instID, err := resolveInstrument(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gw := buildGatewayClient(cfg)
	ntf := buildNotifier(cfg)

	st, err := buildDecisionStore(cfg)
	if err != nil {
		return nil, err
	}

	providers, visionReady := buildProviders(cfg)
	vision := buildVision(cfg, visionReady)
	metrics := buildMetricsSource(cfg, gw)
	fetcher := buildFetcher(cfg, gw, metrics)
	gate := buildGate(cfg)
	engine := buildEngine(cfg, providers)

	stream := okxgw.NewPublicTickerStream(cfg.Exchange.WSPublicURL, []string{instID})

	exec := okxexec.NewManager(
		gw,
		gate.Limits(),
		cfg.Exchange.TdMode,
		time.Duration(cfg.Cycle.CloseConfirmSeconds)*time.Second,
		st,
		ntf,
		stream,
	)

	journal := manager.NewDecisionJournal(journalDepth, 0)
	if recs, err := st.ListRecentDecisions(ctx, journalDepth); err != nil {
		logger.Warnf("预热决策记忆失败: %v", err)
	} else {
		journal.Load(recs)
	}

	live := &LiveService{
		cfg:           cfg,
		instID:        instID,
		fetcher:       fetcher,
		engine:        engine,
		gate:          gate,
		exec:          exec,
		gw:            gw,
		store:         st,
		vision:        vision,
		journal:       journal,
		ntf:           ntf,
		fullInterval:  time.Duration(cfg.Cycle.FullIntervalSeconds) * time.Second,
		shortInterval: time.Duration(cfg.Cycle.ShortIntervalSeconds) * time.Second,
	}

	var webServer *web.Server
	if cfg.Admin.Enabled {
		webServer = web.NewServer(cfg.Admin.Listen, instID, st, gw, live.Status)
	}

	return &App{
		cfg:             cfg,
		live:            live,
		web:             webServer,
		exec:            exec,
		stream:          stream,
		instID:          instID,
		monitorInterval: time.Duration(cfg.Cycle.MonitorIntervalSeconds) * time.Second,
	}, nil
}
