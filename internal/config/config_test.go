package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
[exchange]
api_key = "file-key"
secret_key = "file-secret"
passphrase = "file-pass"

[[ai.models]]
id = "deepseek"
provider = "deepseek"
enabled = true
api_url = "https://api.deepseek.com"
api_key = "sk-file"
model = "deepseek-chat"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// 清空会影响断言的环境变量，避免宿主环境串进来。
func clearCredEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OKX_API_KEY", "OKX_SECRET_KEY", "OKX_PASSPHRASE",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "DEEPSEEK_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearCredEnv(t)
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "okx", cfg.Exchange.Name)
	assert.Equal(t, "https://www.okx.com", cfg.Exchange.BaseURL)
	assert.Equal(t, "wss://ws.okx.com:8443/ws/v5/public", cfg.Exchange.WSPublicURL)
	assert.Equal(t, "cross", cfg.Exchange.TdMode)
	assert.Equal(t, 10, cfg.Exchange.TimeoutSeconds)
	assert.Equal(t, []string{"ETH-USDT-SWAP"}, cfg.Symbols.DefaultList)
	assert.Equal(t, "5m", cfg.Kline.Period)
	assert.Equal(t, 4, cfg.Kline.PromptBars)
	assert.Equal(t, 100, cfg.Kline.MaxCached)
	assert.Equal(t, 300, cfg.Cycle.FullIntervalSeconds)
	assert.Equal(t, 30, cfg.Cycle.ShortIntervalSeconds)
	assert.Equal(t, 15, cfg.Cycle.MonitorIntervalSeconds)
	assert.Equal(t, 90, cfg.Cycle.CloseConfirmSeconds)
	assert.Equal(t, 120, cfg.AI.TimeoutSeconds)

	require.Len(t, cfg.AI.Models, 1)
	assert.InDelta(t, 0.7, cfg.AI.Models[0].Temperature, 1e-9)
	assert.Equal(t, 2000, cfg.AI.Models[0].MaxTokens)
	assert.Equal(t, "sk-file", cfg.AI.Models[0].APIKey)

	assert.InDelta(t, 0.10, cfg.Risk.MaxSizeFraction, 1e-9)
	assert.InDelta(t, 100, cfg.Risk.MaxDailyLossUSDT, 1e-9)
	assert.Equal(t, 100, cfg.Risk.Leverage)
	assert.Equal(t, 100, cfg.Risk.MaxLeverage)
	assert.InDelta(t, 0.001, cfg.Risk.MinOrderSizeETH, 1e-9)
	assert.InDelta(t, 0.010, cfg.Risk.MaxOrderSizeETH, 1e-9)
	assert.Equal(t, 1800, cfg.Risk.OpenCooldownSeconds)
	assert.Equal(t, 1, cfg.Risk.MaxOpensPerCycle)

	assert.Equal(t, "okx", cfg.Metrics.Source)
	assert.Equal(t, "127.0.0.1:8787", cfg.Admin.Listen)
	assert.Equal(t, "data/live/decisions.db", cfg.Database.Path)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearCredEnv(t)
	t.Setenv("OKX_API_KEY", "env-key")
	t.Setenv("OKX_SECRET_KEY", "env-secret")
	t.Setenv("OKX_PASSPHRASE", "env-pass")
	t.Setenv("DEEPSEEK_API_KEY", "sk-env")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Exchange.APIKey, "环境变量应覆盖文件凭据")
	assert.Equal(t, "env-secret", cfg.Exchange.SecretKey)
	assert.Equal(t, "env-pass", cfg.Exchange.Passphrase)
	assert.Equal(t, "sk-env", cfg.AI.Models[0].APIKey, "模型密钥按 <ID 大写>_API_KEY 覆盖")
}

func TestLoadValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			"缺少凭据",
			`
[[ai.models]]
id = "deepseek"
enabled = true
api_url = "https://api.deepseek.com"
api_key = "sk"
model = "deepseek-chat"
`,
			"缺少交易所凭据",
		},
		{
			"非法保证金模式",
			`
[exchange]
api_key = "k"
secret_key = "s"
passphrase = "p"
td_mode = "margin"

[[ai.models]]
id = "deepseek"
enabled = true
api_url = "https://api.deepseek.com"
api_key = "sk"
model = "deepseek-chat"
`,
			"非法 td_mode",
		},
		{
			"没有启用的模型",
			`
[exchange]
api_key = "k"
secret_key = "s"
passphrase = "p"
`,
			"至少需要启用一个 AI 模型",
		},
		{
			"模型配置不完整",
			`
[exchange]
api_key = "k"
secret_key = "s"
passphrase = "p"

[[ai.models]]
id = "broken"
enabled = true
api_url = "https://example.com"
model = "x"
`,
			"配置不完整",
		},
		{
			"K线缓存越界",
			minimalConfig + `
[kline]
max_cached = 30
`,
			"[50,1000]",
		},
		{
			"非法K线周期",
			minimalConfig + `
[kline]
period = "5x"
`,
			"非法 kline 周期",
		},
		{
			"杠杆超上限",
			minimalConfig + `
[risk]
leverage = 150
max_leverage = 100
`,
			"超过 max_leverage",
		},
		{
			"单笔区间颠倒",
			minimalConfig + `
[risk]
min_order_size_eth = 0.02
max_order_size_eth = 0.01
`,
			"必须小于",
		},
		{
			"非法指标来源",
			minimalConfig + `
[metrics]
source = "coinbase"
`,
			"metrics.source",
		},
		{
			"Telegram缺少凭据",
			minimalConfig + `
[notify.telegram]
enabled = true
`,
			"Telegram",
		},
		{
			"http合约源缺少地址",
			minimalConfig + `
[symbols]
provider = "http"
`,
			"symbols.api_url",
		},
		{
			"不支持的交易所",
			`
[exchange]
name = "binance"
api_key = "k"
secret_key = "s"
passphrase = "p"
`,
			"暂不支持的交易所",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearCredEnv(t)
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "读取配置文件失败")

	_, err = Load(writeConfig(t, "not = [valid toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "解析 TOML 失败")
}

func TestIsValidInterval(t *testing.T) {
	for _, ok := range []string{"5m", "15m", "1h", "4h", "1d"} {
		assert.True(t, isValidInterval(ok), ok)
	}
	for _, bad := range []string{"", "abc", "5x", "h1"} {
		assert.False(t, isValidInterval(bad), bad)
	}
}
