package environment

import (
	"log/slog"

	"slotpay/internal/config"
	"slotpay/internal/storage"
	"slotpay/internal/workers"
	"slotpay/internal/workers/expiration"
	"slotpay/internal/workers/locksweep"
	"slotpay/internal/workers/reconcile"
)

func newWorkers(clients *Clients, services *Services, cfg *config.Config, logger *slog.Logger) *workers.Manager {
	reconcileWorker := reconcile.NewWorker(
		storage.New(clients.SQLiteDB.DB),
		clients.Gateway,
		services.Coordinator,
		cfg.Workers.ReconcileInterval,
		cfg.Workers.ReconcileItemTimeout,
		logger.With("worker", "reconcile"),
	)

	lockSweepWorker := locksweep.NewWorker(
		map[string]locksweep.Sweeper{
			"order":    services.OrderLocks,
			"checkout": services.CheckoutLocks,
			"identity": services.IdentityLocks,
		},
		cfg.Workers.LockSweepInterval,
		cfg.Workers.LockTTL,
		logger.With("worker", "locksweep"),
	)

	expirationWorker := expiration.NewWorker(
		services.Expiration,
		cfg.Workers.ExpirationInterval,
		logger.With("worker", "expiration"),
	)

	// Диспетчер запускается первым и останавливается последним,
	// чтобы reconcile успел поставить уведомления в очередь.
	return workers.NewManager(logger,
		services.Notifier,
		reconcileWorker,
		lockSweepWorker,
		expirationWorker,
	)
}
