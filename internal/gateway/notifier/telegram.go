package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"perpilot/internal/logger"
)

// Notifier 交易事件通知抽象（开平仓、风控拦截、监控告警）。
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// TelegramNotifier 通过 Bot API 推送消息。
type TelegramNotifier struct {
	client *resty.Client
	token  string
	chatID string
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	client := resty.New()
	client.SetBaseURL("https://api.telegram.org")
	client.SetTimeout(10 * time.Second)
	client.SetRetryCount(2)
	return &TelegramNotifier{client: client, token: token, chatID: chatID}
}

func (n *TelegramNotifier) Notify(ctx context.Context, title, body string) error {
	msg := title
	if body != "" {
		msg += "\n" + body
	}
	resp, err := n.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id": n.chatID,
			"text":    msg,
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", n.token))
	if err != nil {
		return fmt.Errorf("发送 Telegram 消息失败: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram 返回异常: %s", resp.Status())
	}
	return nil
}

// Ping 自检：验证 bot token 是否有效。
func (n *TelegramNotifier) Ping(ctx context.Context) error {
	resp, err := n.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/bot%s/getMe", n.token))
	if err != nil {
		return fmt.Errorf("telegram getMe 失败: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram getMe 返回异常: %s", resp.Status())
	}
	return nil
}

// NopNotifier 未启用通知时的空实现。
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, title, body string) error {
	logger.Debugf("通知未启用，丢弃: %s", title)
	return nil
}
