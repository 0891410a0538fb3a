package config

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// 配置结构体（启动时一次性加载，运行期间只读）
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Symbols  SymbolsConfig  `toml:"symbols"`
	Kline    KlineConfig    `toml:"kline"`
	Cycle    CycleConfig    `toml:"cycle"`
	AI       AIConfig       `toml:"ai"`
	Risk     RiskConfig     `toml:"risk"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Vision   VisionConfig   `toml:"vision"`
	Notify   NotifyConfig   `toml:"notify"`
	Admin    AdminConfig    `toml:"admin"`
	Database DatabaseConfig `toml:"database"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	DataDir  string `toml:"data_dir"`
}

type ExchangeConfig struct {
	Name           string `toml:"name"`
	BaseURL        string `toml:"base_url"`
	WSPublicURL    string `toml:"ws_public_url"`
	APIKey         string `toml:"api_key"`
	SecretKey      string `toml:"secret_key"`
	Passphrase     string `toml:"passphrase"`
	Simulated      bool   `toml:"simulated"` // 模拟盘（x-simulated-trading: 1）
	TimeoutSeconds int    `toml:"timeout_seconds"`
	PublicRPS      int    `toml:"public_rps"` // 公共接口限速（请求/秒）
	TdMode         string `toml:"td_mode"`    // cross | isolated
}

type SymbolsConfig struct {
	Provider    string   `toml:"provider"`
	DefaultList []string `toml:"default_list"`
	APIURL      string   `toml:"api_url"` // 当 provider=http 时，从该地址拉取合约列表
}

type KlineConfig struct {
	Period      string `toml:"period"`       // prompt 使用的 K 线周期
	PromptBars  int    `toml:"prompt_bars"`  // prompt 中展示的最近 K 线数量
	MaxCached   int    `toml:"max_cached"`   // 内存缓存上限
	RefreshBars int    `toml:"refresh_bars"` // 每轮拉取的 K 线数量
}

type CycleConfig struct {
	FullIntervalSeconds    int `toml:"full_interval_seconds"`    // 完整 AI 决策周期
	ShortIntervalSeconds   int `toml:"short_interval_seconds"`   // 有持仓/挂单时的监控周期
	MonitorIntervalSeconds int `toml:"monitor_interval_seconds"` // 持仓监控轮询间隔
	CloseConfirmSeconds    int `toml:"close_confirm_seconds"`    // 平仓确认窗口，超时回退重试
}

type AIConfig struct {
	TimeoutSeconds int  `toml:"timeout_seconds"`
	ForceJSON      bool `toml:"force_json"` // 请求 response_format=json_object
	// 模型配置：按 OpenAI 兼容接口调用，首个可用模型胜出
	Models []ModelConfig `toml:"models"`
}

type RiskConfig struct {
	MaxSizeFraction     float64 `toml:"max_size_fraction"`     // 单笔仓位占可用资金的最大比例
	MaxDailyLossUSDT    float64 `toml:"max_daily_loss_usdt"`   // 当日已实现亏损上限
	MaxLeverage         int     `toml:"max_leverage"`          //
	Leverage            int     `toml:"leverage"`              // 下单使用的杠杆
	MinOrderSizeETH     float64 `toml:"min_order_size_eth"`    // 交易所最小下单约束
	MaxOrderSizeETH     float64 `toml:"max_order_size_eth"`    //
	OpenCooldownSeconds int     `toml:"open_cooldown_seconds"` // 同一合约两次开仓的最小间隔
	MaxOpensPerCycle    int     `toml:"max_opens_per_cycle"`   //
}

type MetricsConfig struct {
	Source         string `toml:"source"` // okx | binance
	IncludeFunding bool   `toml:"include_funding"`
	IncludeOI      bool   `toml:"include_oi"`
}

type VisionConfig struct {
	Enabled               bool `toml:"enabled"` // 渲染 K 线图并截图给视觉模型
	ChartBars             int  `toml:"chart_bars"`
	CaptureTimeoutSeconds int  `toml:"capture_timeout_seconds"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type AdminConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ModelConfig 单个 AI 模型的接入配置。
type ModelConfig struct {
	ID          string            `toml:"id"`       // 唯一标识（如 deepseek/openai_自定义名）
	Provider    string            `toml:"provider"` // openai | deepseek（均按 OpenAI 兼容接口调用）
	Enabled     bool              `toml:"enabled"`
	APIURL      string            `toml:"api_url"` // OpenAI 兼容 BaseURL，如 https://api.deepseek.com
	APIKey      string            `toml:"api_key"`
	Model       string            `toml:"model"` // 模型名，如 deepseek-chat / gpt-4o-mini
	Headers     map[string]string `toml:"headers"`
	Temperature float64           `toml:"temperature"`
	MaxTokens   int               `toml:"max_tokens"`
	Vision      bool              `toml:"vision"` // 是否接受图片输入
}

// Load 读取并解析 TOML 配置文件，应用环境变量覆盖、缺省值与基本校验
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 TOML 失败: %w", err)
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// 敏感凭据允许用环境变量覆盖文件配置（.env 由入口加载）
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("OKX_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("OKX_SECRET_KEY"); v != "" {
		c.Exchange.SecretKey = v
	}
	if v := os.Getenv("OKX_PASSPHRASE"); v != "" {
		c.Exchange.Passphrase = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.Telegram.ChatID = v
	}
	for i := range c.AI.Models {
		m := &c.AI.Models[i]
		key := strings.ToUpper(strings.TrimSpace(m.ID)) + "_API_KEY"
		if v := os.Getenv(key); v != "" {
			m.APIKey = v
		}
	}
}

// 默认值设置
func applyDefaults(c *Config) {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "data/live"
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = "okx"
	}
	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = "https://www.okx.com"
	}
	if c.Exchange.WSPublicURL == "" {
		c.Exchange.WSPublicURL = "wss://ws.okx.com:8443/ws/v5/public"
	}
	if c.Exchange.TimeoutSeconds <= 0 {
		c.Exchange.TimeoutSeconds = 10
	}
	if c.Exchange.PublicRPS <= 0 {
		c.Exchange.PublicRPS = 5
	}
	if c.Exchange.TdMode == "" {
		c.Exchange.TdMode = "cross"
	}
	if c.Symbols.Provider == "" {
		c.Symbols.Provider = "default"
	}
	if len(c.Symbols.DefaultList) == 0 {
		c.Symbols.DefaultList = []string{"ETH-USDT-SWAP"}
	}
	if c.Kline.Period == "" {
		c.Kline.Period = "5m"
	}
	if c.Kline.PromptBars <= 0 {
		c.Kline.PromptBars = 4
	}
	if c.Kline.MaxCached <= 0 {
		c.Kline.MaxCached = 100
	}
	if c.Kline.RefreshBars <= 0 {
		c.Kline.RefreshBars = 60
	}
	if c.Cycle.FullIntervalSeconds <= 0 {
		c.Cycle.FullIntervalSeconds = 300
	}
	if c.Cycle.ShortIntervalSeconds <= 0 {
		c.Cycle.ShortIntervalSeconds = 30
	}
	if c.Cycle.MonitorIntervalSeconds <= 0 {
		c.Cycle.MonitorIntervalSeconds = 15
	}
	if c.Cycle.CloseConfirmSeconds <= 0 {
		c.Cycle.CloseConfirmSeconds = 90
	}
	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = 120
	}
	for i := range c.AI.Models {
		if c.AI.Models[i].Temperature <= 0 {
			c.AI.Models[i].Temperature = 0.7
		}
		if c.AI.Models[i].MaxTokens <= 0 {
			c.AI.Models[i].MaxTokens = 2000
		}
	}
	if c.Risk.MaxSizeFraction <= 0 {
		c.Risk.MaxSizeFraction = 0.10
	}
	if c.Risk.MaxDailyLossUSDT <= 0 {
		c.Risk.MaxDailyLossUSDT = 100
	}
	if c.Risk.MaxLeverage <= 0 {
		c.Risk.MaxLeverage = 100
	}
	if c.Risk.Leverage <= 0 {
		c.Risk.Leverage = 100
	}
	if c.Risk.MinOrderSizeETH <= 0 {
		c.Risk.MinOrderSizeETH = 0.001
	}
	if c.Risk.MaxOrderSizeETH <= 0 {
		c.Risk.MaxOrderSizeETH = 0.010
	}
	if c.Risk.OpenCooldownSeconds <= 0 {
		c.Risk.OpenCooldownSeconds = 1800
	} // 30 分钟冷却
	if c.Risk.MaxOpensPerCycle <= 0 {
		c.Risk.MaxOpensPerCycle = 1
	}
	if c.Metrics.Source == "" {
		c.Metrics.Source = "okx"
	}
	if c.Vision.ChartBars <= 0 {
		c.Vision.ChartBars = 60
	}
	if c.Vision.CaptureTimeoutSeconds <= 0 {
		c.Vision.CaptureTimeoutSeconds = 20
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = "127.0.0.1:8787"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/live/decisions.db"
	}
}

// 基础校验
func validate(c *Config) error {
	if c.Exchange.Name != "okx" {
		return fmt.Errorf("暂不支持的交易所: %s", c.Exchange.Name)
	}
	if c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" || c.Exchange.Passphrase == "" {
		return fmt.Errorf("缺少交易所凭据（api_key/secret_key/passphrase 或对应环境变量）")
	}
	if c.Exchange.TdMode != "cross" && c.Exchange.TdMode != "isolated" {
		return fmt.Errorf("非法 td_mode: %s（仅支持 cross/isolated）", c.Exchange.TdMode)
	}
	if c.Symbols.Provider == "default" && len(c.Symbols.DefaultList) == 0 {
		return fmt.Errorf("symbols.default_list 不能为空（当 provider=default 时）")
	}
	if c.Symbols.Provider == "http" && c.Symbols.APIURL == "" {
		return fmt.Errorf("symbols.api_url 不能为空（当 provider=http 时）")
	}
	if !isValidInterval(c.Kline.Period) {
		return fmt.Errorf("非法 kline 周期: %s", c.Kline.Period)
	}
	if c.Kline.MaxCached < 50 || c.Kline.MaxCached > 1000 {
		return fmt.Errorf("kline.max_cached 需在 [50,1000]")
	}
	enabled := 0
	for _, m := range c.AI.Models {
		if !m.Enabled {
			continue
		}
		enabled++
		if m.APIURL == "" || m.APIKey == "" || m.Model == "" {
			return fmt.Errorf("AI 模型 %s 配置不完整（api_url/api_key/model 必填）", m.ID)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("至少需要启用一个 AI 模型")
	}
	if c.Risk.MaxSizeFraction <= 0 || c.Risk.MaxSizeFraction > 1 {
		return fmt.Errorf("risk.max_size_fraction 需在 (0,1]")
	}
	if c.Risk.Leverage > c.Risk.MaxLeverage {
		return fmt.Errorf("risk.leverage %d 超过 max_leverage %d", c.Risk.Leverage, c.Risk.MaxLeverage)
	}
	if c.Risk.MinOrderSizeETH >= c.Risk.MaxOrderSizeETH {
		return fmt.Errorf("risk.min_order_size_eth 必须小于 max_order_size_eth")
	}
	if c.Metrics.Source != "okx" && c.Metrics.Source != "binance" {
		return fmt.Errorf("非法 metrics.source: %s（仅支持 okx/binance）", c.Metrics.Source)
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("已启用 Telegram 通知，请提供 bot_token 与 chat_id")
		}
	}
	return nil
}

// isValidInterval 简易校验：以数字开头，以 m/h/d 结尾
func isValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'H' && suf != 'D' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
