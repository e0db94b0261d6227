package storage

import (
	"context"
	"reflect"
	"time"

	"slotpay/internal/infra/sqlite3"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

type storageImpl struct {
	db  *sqlx.DB
	now func() time.Time
}

func New(db *sqlx.DB) *storageImpl {
	return &storageImpl{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source used for timestamps.
func (s *storageImpl) WithClock(now func() time.Time) *storageImpl {
	s.now = now
	return s
}

func (s *storageImpl) stmpBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// ext возвращает открытую транзакцию из контекста, иначе сам пул.
// Внутри транзакции нельзя ходить в пул: при одном соединении это дедлок.
func (s *storageImpl) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := sqlite3.TxFromContext(ctx); ok {
		return tx
	}
	return s.db
}

// Fields возвращает список всех полей структуры, которые есть в БД.
func fields(data any) string {
	var s string
	r := reflect.TypeOf(data)
	for i := 0; i < r.NumField(); i++ {
		tag := r.Field(i).Tag.Get("db")
		if tag != "" {
			s += tag + ","
		}
	}
	return s[:len(s)-1]
}
