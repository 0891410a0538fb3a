package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"perpilot/internal/app"
	"perpilot/internal/config"
	"perpilot/internal/gateway/notifier"
	okxgw "perpilot/internal/gateway/okx"
	"perpilot/internal/gateway/provider"
	"perpilot/internal/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "perpilot",
	Short: "AI 驱动的 OKX 永续合约自动交易机器人",
	Long: `perpilot 周期性拉取行情快照，请求大模型给出交易决策，
经风控审批后在 OKX 下单，并持续监控持仓的止盈止损。`,
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "启动实盘交易循环",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		application, err := app.NewApp(cfg)
		if err != nil {
			return fmt.Errorf("初始化失败: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := application.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		logger.Infof("perpilot 已退出")
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "自检：校验配置并逐项探测 OKX、AI 模型与 Telegram 连通性",
	RunE:  runCheck,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "配置文件路径（默认 configs/config.toml，可用 PERPILOT_CONFIG 覆盖）")
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(checkCmd)
}

func main() {
	// .env 存在时加载，便于本地注入密钥
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := strings.TrimSpace(cfgPath)
	if path == "" {
		path = os.Getenv("PERPILOT_CONFIG")
	}
	if path == "" {
		path = "configs/config.toml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，合约=%v，K线周期=%s）", cfg.App.Env, cfg.Symbols.DefaultList, cfg.Kline.Period)
	return cfg, nil
}

// runCheck 逐项探测外部依赖，任一失败返回非零退出码。
func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	failed := 0
	instID := "ETH-USDT-SWAP"
	if len(cfg.Symbols.DefaultList) > 0 {
		instID = cfg.Symbols.DefaultList[0]
	}

	gw := okxgw.NewClient(okxgw.Config{
		BaseURL:    cfg.Exchange.BaseURL,
		APIKey:     cfg.Exchange.APIKey,
		SecretKey:  cfg.Exchange.SecretKey,
		Passphrase: cfg.Exchange.Passphrase,
		Simulated:  cfg.Exchange.Simulated,
		Timeout:    time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
		PublicRPS:  cfg.Exchange.PublicRPS,
	})
	if tk, err := gw.Ticker(ctx, instID); err != nil {
		logger.Errorf("✗ OKX 行情不可用: %v", err)
		failed++
	} else {
		logger.Infof("✓ OKX 行情正常，%s 最新价 %.2f", instID, tk.Last)
	}
	if bal, err := gw.Balance(ctx); err != nil {
		logger.Errorf("✗ OKX 账户接口不可用（请检查 API 凭据）: %v", err)
		failed++
	} else {
		logger.Infof("✓ OKX 账户正常，总权益 %.2f USDT，可用 %.2f USDT", bal.TotalEq, bal.AvailEq)
	}

	for _, m := range cfg.AI.Models {
		if !m.Enabled {
			continue
		}
		chat := &provider.OpenAIChatClient{
			BaseURL:      m.APIURL,
			APIKey:       m.APIKey,
			Model:        m.Model,
			Timeout:      30 * time.Second,
			ExtraHeaders: m.Headers,
		}
		if _, err := chat.Call(ctx, provider.ChatPayload{User: "回复 ok", MaxTokens: 8}); err != nil {
			logger.Errorf("✗ AI 模型 %s 不可用: %v", m.ID, err)
			failed++
		} else {
			logger.Infof("✓ AI 模型 %s 正常（%s）", m.ID, m.Model)
		}
	}

	if cfg.Notify.Telegram.Enabled {
		tg := notifier.NewTelegramNotifier(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
		if err := tg.Ping(ctx); err != nil {
			logger.Errorf("✗ Telegram 不可用: %v", err)
			failed++
		} else {
			logger.Infof("✓ Telegram 通知正常")
		}
	} else {
		logger.Infof("Telegram 通知未启用，跳过")
	}

	if failed > 0 {
		return fmt.Errorf("自检未通过：%d 项失败", failed)
	}
	logger.Infof("✓ 自检全部通过")
	return nil
}
