package notify

import (
	"context"
	"log/slog"
)

type telegramClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// TelegramSender posts notifications to a staff chat.
type TelegramSender struct {
	client telegramClient
	chatID int64
}

func NewTelegramSender(client telegramClient, chatID int64) *TelegramSender {
	return &TelegramSender{client: client, chatID: chatID}
}

func (s *TelegramSender) Send(ctx context.Context, text string) error {
	return s.client.SendMessage(ctx, s.chatID, text)
}

// LogSender is used when no staff chat is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, text string) error {
	s.logger.Info("Staff notification", "text", text)
	return nil
}
