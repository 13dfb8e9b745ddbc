package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"OrchestratorSiphon/pkg/logger"
)

// TelegramSender 负责向 Telegram 会话发送消息。
type TelegramSender interface {
	Send(ctx context.Context, chatID int64, content string) error
}

// BotSender 基于 Bot API 发送消息。
type BotSender struct {
	bot *tgbotapi.BotAPI
}

// NewBotSender 使用 bot token 登录 Telegram。
func NewBotSender(token string) (*BotSender, error) {
	if token == "" {
		return nil, errors.New("Telegram bot token 不能为空")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("初始化 Telegram bot 失败: %w", err)
	}
	return &BotSender{bot: bot}, nil
}

// Send 发送纯文本消息。Bot API 客户端不支持 context，ctx 仅用于提前放弃。
func (s *BotSender) Send(ctx context.Context, chatID int64, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, content)
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("发送 Telegram 消息失败: %w", err)
	}
	return nil
}

// TelegramNotifier 通过 Telegram 发送通知。
type TelegramNotifier struct {
	Sender TelegramSender
	ChatID int64
	// Kinds 为空时发送所有事件。
	Kinds []Kind
}

// Channel 返回 Telegram 渠道。
func (n *TelegramNotifier) Channel() Channel { return ChannelTelegram }

// Notify 发送 Telegram 消息。带错误码但无需告警的事件不发送。
func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChatID == 0 {
		logger.L().Warn("TelegramNotifier 未正确配置，跳过发送", slog.String("event_id", event.ID))
		return nil
	}
	if !n.wants(event.Kind) {
		return nil
	}
	if event.Code != "" && !event.Alert {
		return nil
	}
	return n.Sender.Send(ctx, n.ChatID, event.Text())
}

func (n *TelegramNotifier) wants(kind Kind) bool {
	if len(n.Kinds) == 0 {
		return true
	}
	for _, k := range n.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
