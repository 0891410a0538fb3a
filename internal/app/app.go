package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"perpilot/internal/analysis/visual"
	"perpilot/internal/coins"
	"perpilot/internal/config"
	"perpilot/internal/decision"
	okxexec "perpilot/internal/executor/okx"
	"perpilot/internal/gateway/binance"
	"perpilot/internal/gateway/database"
	"perpilot/internal/gateway/notifier"
	okxgw "perpilot/internal/gateway/okx"
	"perpilot/internal/gateway/provider"
	"perpilot/internal/logger"
	"perpilot/internal/market"
	"perpilot/internal/pkg/format"
	"perpilot/internal/risk"
	"perpilot/internal/store"
	"perpilot/internal/transport/web"
)

// App 负责应用级编排：加载配置→初始化依赖→启动交易循环与后台服务。
type App struct {
	cfg    *config.Config
	live   *LiveService
	web    *web.Server
	exec   *okxexec.Manager
	stream *okxgw.PublicTickerStream

	instID          string
	monitorInterval time.Duration
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动行情流、持仓监控、后台与决策循环，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.live == nil {
		return fmt.Errorf("live service not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.stream != nil {
		group.Go(func() error {
			if err := a.stream.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("行情 WS 停止: %v", err)
			}
			return nil
		})
	}

	if a.exec != nil {
		group.Go(func() error {
			if err := a.exec.RunMonitor(ctx, a.instID, a.monitorInterval); err != nil && ctx.Err() == nil {
				logger.Warnf("持仓监控停止: %v", err)
			}
			return nil
		})
	}

	if a.web != nil {
		group.Go(func() error {
			if err := a.web.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("后台服务停止: %v", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		defer a.live.Close()
		return a.live.Run(ctx)
	})

	return group.Wait()
}

// resolveInstrument 从符号提供者取交易合约；当前为单合约模式，取列表首个。
func resolveInstrument(ctx context.Context, cfg *config.Config) (string, error) {
	var sp coins.InstrumentProvider
	if strings.EqualFold(cfg.Symbols.Provider, "http") {
		sp = coins.NewHTTPProvider(cfg.Symbols.APIURL)
	} else {
		sp = coins.NewDefaultProvider(cfg.Symbols.DefaultList)
	}
	ids, err := sp.List(ctx)
	if err != nil {
		return "", fmt.Errorf("获取合约列表失败: %w", err)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("合约列表为空")
	}
	if len(ids) > 1 {
		logger.Warnf("配置了 %d 个合约，当前仅交易首个: %s", len(ids), ids[0])
	}
	logger.Infof("✓ 交易合约: %s（来源=%s）", ids[0], sp.Name())
	return ids[0], nil
}

func buildGatewayClient(cfg *config.Config) *okxgw.Client {
	client := okxgw.NewClient(okxgw.Config{
		BaseURL:    cfg.Exchange.BaseURL,
		APIKey:     cfg.Exchange.APIKey,
		SecretKey:  cfg.Exchange.SecretKey,
		Passphrase: cfg.Exchange.Passphrase,
		Simulated:  cfg.Exchange.Simulated,
		Timeout:    time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
		PublicRPS:  cfg.Exchange.PublicRPS,
	})
	mode := "实盘"
	if cfg.Exchange.Simulated {
		mode = "模拟盘"
	}
	logger.Infof("✓ OKX 网关就绪（%s，%s）", mode, cfg.Exchange.BaseURL)
	return client
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if !cfg.Notify.Telegram.Enabled {
		return notifier.NopNotifier{}
	}
	logger.Infof("✓ Telegram 通知已启用")
	return notifier.NewTelegramNotifier(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
}

func buildDecisionStore(cfg *config.Config) (*database.DecisionLogStore, error) {
	st, err := database.NewDecisionLogStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化决策流水存储失败: %w", err)
	}
	path := cfg.Database.Path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	logger.Infof("✓ 决策流水写入 %s", path)
	return st, nil
}

// buildProviders 按配置构造模型提供方；返回是否存在可用的视觉模型。
func buildProviders(cfg *config.Config) ([]provider.Provider, bool) {
	timeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second
	var (
		providers   []provider.Provider
		visionReady bool
		ids         []string
	)
	for _, m := range cfg.AI.Models {
		if !m.Enabled {
			continue
		}
		chat := &provider.OpenAIChatClient{
			BaseURL:      m.APIURL,
			APIKey:       m.APIKey,
			Model:        m.Model,
			Timeout:      timeout,
			Temperature:  m.Temperature,
			MaxTokens:    m.MaxTokens,
			ExtraHeaders: m.Headers,
		}
		wrapped := provider.NewBreakerChatClient(m.ID, chat)
		expectJSON := cfg.AI.ForceJSON && !m.Vision
		providers = append(providers, provider.NewOpenAIModelProvider(m.ID, true, m.Vision, expectJSON, wrapped))
		ids = append(ids, m.ID)
		if m.Vision {
			visionReady = true
		}
	}
	if len(ids) == 0 {
		logger.Warnf("未启用任何 AI 模型（请检查 ai.models 配置）")
	} else {
		logger.Infof("✓ 已启用 %d 个 AI 模型: %v", len(ids), ids)
	}
	return providers, visionReady
}

// buildVision 仅在启用且存在视觉模型时初始化渲染与截图。
func buildVision(cfg *config.Config, visionReady bool) *visual.Service {
	if !cfg.Vision.Enabled || !visionReady {
		if cfg.Vision.Enabled {
			logger.Infof("所有启用模型均不支持图像，跳过 K 线渲染")
		}
		return visual.NewService(nil, nil, false)
	}
	outDir := filepath.Join(cfg.App.DataDir, "charts")
	renderer := visual.NewRenderer(outDir, cfg.Vision.ChartBars)
	capturer := visual.NewCapturer(time.Duration(cfg.Vision.CaptureTimeoutSeconds) * time.Second)
	logger.Infof("✓ K 线渲染已启用，输出目录 %s", outDir)
	return visual.NewService(renderer, capturer, true)
}

// buildMetricsSource 选择衍生品指标源：OKX 公共端点或 Binance fapi。
func buildMetricsSource(cfg *config.Config, gw *okxgw.Client) *market.MetricsService {
	if !cfg.Metrics.IncludeFunding && !cfg.Metrics.IncludeOI {
		return nil
	}
	var fetcher market.MetricsFetcher
	if strings.EqualFold(cfg.Metrics.Source, "binance") {
		fetcher = binance.NewMetricsSource()
	} else {
		fetcher = gw
	}
	logger.Infof("✓ 衍生品指标源: %s", cfg.Metrics.Source)
	return market.NewMetricsService(fetcher, 0)
}

func buildFetcher(cfg *config.Config, gw *okxgw.Client, metrics *market.MetricsService) *market.SnapshotFetcher {
	ks := store.NewMemoryKlineStore()
	withMetrics := metrics != nil
	return market.NewSnapshotFetcher(gw, ks, metrics, cfg.Kline.Period, cfg.Kline.RefreshBars, cfg.Kline.MaxCached, withMetrics)
}

func buildGate(cfg *config.Config) *risk.Gate {
	limits := risk.LimitsFromConfig(cfg.Risk)
	logger.Infof("✓ 风控就绪：单笔≤%s 杠杆=%dx 日亏上限=%.0f USDT 冷却=%s",
		format.Percent(limits.MaxSizeFraction), limits.Leverage, limits.MaxDailyLossUSDT, limits.OpenCooldown)
	return risk.NewGate(limits)
}

func buildEngine(cfg *config.Config, providers []provider.Provider) *decision.Engine {
	builder := decision.NewPromptBuilder(cfg.Kline.PromptBars)
	return decision.NewEngine(providers, builder, time.Duration(cfg.AI.TimeoutSeconds)*time.Second)
}
