package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"slotpay/internal/infra/sqlite3"
	"slotpay/internal/keylock"
	"slotpay/internal/storage"
	"slotpay/internal/stories/orders"
	"slotpay/internal/stories/slots"
)

func main() {
	dbPath := flag.String("db", "./data/slotpay.db", "path to SQLite database")
	slotsFile := flag.String("slots", "", "slot schedule YAML, default schedule when empty")
	capacity := flag.Int("capacity", 30, "capacity for slots without their own")
	ttl := flag.Duration("ttl", time.Hour, "reservation TTL")
	maxAttempts := flag.Int("max-attempts", 3, "checkout attempts before an order is released")
	release := flag.Bool("release", false, "release stale reservations before reporting")
	flag.Parse()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := sqlite3.New(ctx, sqlite3.WithPath(*dbPath))
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var schedule *slots.Schedule
	if *slotsFile != "" {
		schedule, err = slots.LoadSchedule(*slotsFile, *capacity)
	} else {
		schedule, err = slots.DefaultSchedule(*capacity)
	}
	if err != nil {
		log.Fatalf("failed to load slots: %v", err)
	}

	store := storage.New(db.DB)
	policy := orders.NewExpirationPolicy(store, keylock.New[int64](), *ttl, *maxAttempts, logger)
	tracker := slots.NewTracker(schedule, store, policy, sqlite3.WithTx(db.DB, nil))

	if *release {
		released, err := policy.ReleaseStale(ctx)
		if err != nil {
			log.Fatalf("failed to release stale reservations: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Released: %d\n", released)
	}

	availability, err := tracker.ListSlots(ctx)
	if err != nil {
		log.Fatalf("failed to list slots: %v", err)
	}

	if err := writeReport(os.Stdout, availability); err != nil {
		log.Fatalf("failed to write report: %v", err)
	}
}

func writeReport(w io.Writer, availability []slots.Availability) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"slot", "label", "capacity", "occupied", "remaining"}); err != nil {
		return err
	}
	for _, a := range availability {
		record := []string{
			a.Slot,
			a.Label,
			strconv.Itoa(a.Capacity),
			strconv.Itoa(a.Occupied),
			strconv.Itoa(a.Remaining),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
