package environment

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"slotpay/internal/config"
	"slotpay/internal/infra/helloasso"
	"slotpay/internal/infra/sqlite3"
	"slotpay/internal/infra/telegram"
	"slotpay/internal/infra/yookassa"
	"slotpay/internal/stories/payment"

	"github.com/pkg/errors"
)

type Clients struct {
	SQLiteDB    *sqlite3.DB
	Gateway     payment.Gateway
	TelegramBot *telegram.Client

	closeGateway func() error
}

func newClients(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Clients, error) {
	sqliteDB, err := provideSQLiteDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	clients := &Clients{SQLiteDB: sqliteDB}

	if err := clients.provideGateway(cfg, logger); err != nil {
		clients.Close(logger)
		return nil, err
	}

	telegramBot, err := provideTelegramBot(cfg, logger)
	if err != nil {
		clients.Close(logger)
		return nil, err
	}
	clients.TelegramBot = telegramBot

	return clients, nil
}

// Close releases pooled gateway connections and the database.
func (c *Clients) Close(logger *slog.Logger) {
	if c.closeGateway != nil {
		if err := c.closeGateway(); err != nil {
			logger.Error("Failed to close payment gateway", "error", err)
		}
	}
	if c.SQLiteDB != nil {
		if err := c.SQLiteDB.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}
}

func provideSQLiteDB(ctx context.Context, cfg config.Config) (*sqlite3.DB, error) {
	if dir := filepath.Dir(cfg.DB.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	db, err := sqlite3.New(ctx,
		sqlite3.WithPath(cfg.DB.Path),
		sqlite3.WithMaxOpenConns(cfg.DB.MaxOpenConns),
		sqlite3.WithMaxIdleConns(cfg.DB.MaxIdleConns),
		sqlite3.WithConnMaxLifetime(cfg.DB.MaxLifetime),
		sqlite3.WithBusyTimeout(cfg.DB.BusyTimeout),
	)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func (c *Clients) provideGateway(cfg config.Config, logger *slog.Logger) error {
	gw := cfg.Gateway
	logger = logger.With("gateway", gw.Provider)

	switch gw.Provider {
	case config.ProviderHelloAsso:
		client, err := helloasso.NewClient(helloasso.Config{
			BaseURL:          gw.HelloAsso.BaseURL,
			OrganizationSlug: gw.HelloAsso.OrganizationSlug,
			ClientID:         gw.HelloAsso.ClientID,
			ClientSecret:     gw.HelloAsso.ClientSecret,
			Timeout:          gw.Timeout,
			MaxRetries:       gw.MaxRetries,
			RetryBackoff:     gw.RetryBackoff,
			RateLimit:        gw.RateLimit,
			TokenMargin:      gw.TokenMargin,
		}, logger)
		if err != nil {
			return errors.Wrap(err, "create helloasso client")
		}
		c.Gateway = client
		c.closeGateway = client.Close
	case config.ProviderYooKassa:
		client, err := yookassa.NewClient(
			gw.YooKassa.ShopID,
			gw.YooKassa.SecretKey,
			gw.YooKassa.Currency,
			gw.Timeout,
			gw.MaxRetries,
			gw.RetryBackoff,
			logger,
		)
		if err != nil {
			return errors.Wrap(err, "create yookassa client")
		}
		c.Gateway = client
	default:
		return errors.Errorf("unknown payment gateway %q", gw.Provider)
	}

	return nil
}

func provideTelegramBot(cfg config.Config, logger *slog.Logger) (*telegram.Client, error) {
	// Без токена уведомления уходят в лог
	if cfg.Telegram.BotToken == "" {
		return nil, nil
	}

	client, err := telegram.NewClient(cfg.Telegram.BotToken, logger)
	if err != nil {
		return nil, err
	}

	return client, nil
}
