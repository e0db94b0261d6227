package environment

import (
	"context"
	"log/slog"

	"slotpay/internal/api"
	"slotpay/internal/config"
	"slotpay/internal/infra/sqlite3"
	"slotpay/internal/keylock"
	"slotpay/internal/localization"
	"slotpay/internal/notify"
	"slotpay/internal/storage"
	"slotpay/internal/stories/orders"
	"slotpay/internal/stories/payment"
	"slotpay/internal/stories/reservations"
	"slotpay/internal/stories/slots"

	"github.com/pkg/errors"
)

type Services struct {
	OrderLocks    *keylock.Map[int64]
	CheckoutLocks *keylock.Map[int64]
	IdentityLocks *keylock.Map[string]

	Expiration   *orders.ExpirationPolicy
	Tracker      *slots.Tracker
	Reservations *reservations.Service
	Coordinator  *payment.Coordinator
	Payments     *payment.Service
	Notifier     *notify.Dispatcher
	API          *api.Handler
}

func newServices(_ context.Context, clients *Clients, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	var s Services

	storageImpl := storage.New(clients.SQLiteDB.DB)
	txManager := sqlite3.WithTx(clients.SQLiteDB.DB, nil)

	s.OrderLocks = keylock.New[int64]()
	s.CheckoutLocks = keylock.New[int64]()
	s.IdentityLocks = keylock.New[string]()

	schedule, err := provideSchedule(cfg)
	if err != nil {
		return nil, err
	}

	s.Expiration = orders.NewExpirationPolicy(
		storageImpl,
		s.OrderLocks,
		cfg.Reservation.TTL,
		cfg.Reservation.MaxAttempts,
		logger.With("component", "expiration"),
	)

	s.Tracker = slots.NewTracker(schedule, storageImpl, s.Expiration, txManager)

	s.Reservations = reservations.NewService(
		storageImpl,
		s.Tracker,
		s.Expiration,
		s.IdentityLocks,
		cfg.Reservation.OrderPrice,
		logger.With("component", "reservations"),
	)

	texts, err := localization.NewService(cfg.Notifications.Language)
	if err != nil {
		return nil, errors.Wrap(err, "load translations")
	}

	var sender notify.Sender = notify.NewLogSender(logger.With("component", "notify"))
	if clients.TelegramBot != nil {
		sender = notify.NewTelegramSender(clients.TelegramBot, cfg.Telegram.StaffChatID)
	}

	s.Notifier = notify.NewDispatcher(storageImpl, sender, texts, notify.Config{
		Language:      cfg.Notifications.Language,
		StatusBaseURL: cfg.Gateway.RedirectBaseURL,
		QueueSize:     cfg.Notifications.QueueSize,
		SendTimeout:   cfg.Notifications.SendTimeout,
	}, logger.With("component", "notify"))

	s.Coordinator = payment.NewCoordinator(
		storageImpl,
		s.Tracker,
		s.Expiration,
		s.OrderLocks,
		s.Notifier,
		logger.With("component", "coordinator"),
	)

	s.Payments = payment.NewService(
		storageImpl,
		clients.Gateway,
		s.Coordinator,
		s.Expiration,
		s.CheckoutLocks,
		payment.Config{
			RedirectBaseURL: cfg.Gateway.RedirectBaseURL,
			ItemName:        cfg.Gateway.ItemName,
		},
		logger.With("component", "payment"),
	)

	s.API = api.NewHandler(s.Tracker, s.Reservations, s.Payments, logger.With("component", "api"))

	return &s, nil
}

func provideSchedule(cfg *config.Config) (*slots.Schedule, error) {
	if cfg.Reservation.SlotsFile == "" {
		schedule, err := slots.DefaultSchedule(cfg.Reservation.SlotCapacity)
		if err != nil {
			return nil, errors.Wrap(err, "build default schedule")
		}
		return schedule, nil
	}

	schedule, err := slots.LoadSchedule(cfg.Reservation.SlotsFile, cfg.Reservation.SlotCapacity)
	if err != nil {
		return nil, errors.Wrap(err, "load slot schedule")
	}
	return schedule, nil
}
