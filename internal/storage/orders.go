package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotpay/internal/stories/orders"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/jx"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
)

const ordersTable = "orders"

var orderRowFields = fields(orderRow{})

type orderRow struct {
	ID              int64      `db:"id"`
	Identity        string     `db:"identity"`
	Email           string     `db:"email"`
	FirstName       string     `db:"first_name"`
	LastName        string     `db:"last_name"`
	Phone           *string    `db:"phone"`
	SlotStart       string     `db:"slot_start"`
	Selection       string     `db:"selection"`
	TotalAmount     int64      `db:"total_amount"`
	PaymentStatus   string     `db:"payment_status"`
	PaymentIntentID *string    `db:"payment_intent_id"`
	PaymentAttempts int        `db:"payment_attempts"`
	PaymentDate     *time.Time `db:"payment_date"`
	ExpiresAt       *time.Time `db:"expires_at"`
	StatusToken     *string    `db:"status_token"`
	FailureReason   *string    `db:"failure_reason"`
	RefundNotified  *time.Time `db:"refund_notified_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (r orderRow) ToModel() (*orders.Order, error) {
	selection, err := decodeSelection(r.Selection)
	if err != nil {
		return nil, fmt.Errorf("decode selection of order %d: %w", r.ID, err)
	}

	return &orders.Order{
		ID:              r.ID,
		Identity:        r.Identity,
		Email:           r.Email,
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		Phone:           r.Phone,
		SlotStart:       r.SlotStart,
		Selection:       selection,
		TotalAmount:     r.TotalAmount,
		PaymentStatus:   orders.PaymentStatus(r.PaymentStatus),
		PaymentIntentID: r.PaymentIntentID,
		PaymentAttempts: r.PaymentAttempts,
		PaymentDate:     utcPtr(r.PaymentDate),
		ExpiresAt:       utcPtr(r.ExpiresAt),
		StatusToken:     r.StatusToken,
		FailureReason:   r.FailureReason,
		RefundNotified:  utcPtr(r.RefundNotified),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return lo.ToPtr(t.UTC())
}

func encodeSelection(items []string) string {
	var e jx.Encoder
	e.ArrStart()
	for _, item := range items {
		e.Str(item)
	}
	e.ArrEnd()
	return e.String()
}

func decodeSelection(raw string) ([]string, error) {
	items := []string{}
	if raw == "" {
		return items, nil
	}
	err := jx.DecodeStr(raw).Arr(func(d *jx.Decoder) error {
		item, err := d.Str()
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

func (s *storageImpl) CreateOrder(ctx context.Context, order orders.Order) (*orders.Order, error) {
	now := s.now()

	params := map[string]interface{}{
		"identity":         order.Identity,
		"email":            order.Email,
		"first_name":       order.FirstName,
		"last_name":        order.LastName,
		"phone":            order.Phone,
		"slot_start":       order.SlotStart,
		"selection":        encodeSelection(order.Selection),
		"total_amount":     order.TotalAmount,
		"payment_status":   string(orders.StatusPending),
		"payment_attempts": 0,
		"expires_at":       order.ExpiresAt,
		"created_at":       now,
		"updated_at":       now,
	}

	q, args, err := s.stmpBuilder().
		Insert(ordersTable).
		SetMap(params).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.ext(ctx).ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("result.LastInsertId: %w", err)
	}

	return s.GetOrder(ctx, orders.GetCriteria{ID: &id})
}

// GetOrder returns nil, nil when nothing matches.
func (s *storageImpl) GetOrder(ctx context.Context, criteria orders.GetCriteria) (*orders.Order, error) {
	query := s.stmpBuilder().
		Select(orderRowFields).
		From(ordersTable)

	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.Identity != nil {
		query = query.Where(sq.Eq{"identity": *criteria.Identity})
	}
	if criteria.PaymentIntentID != nil {
		query = query.Where(sq.Eq{"payment_intent_id": *criteria.PaymentIntentID})
	}
	if criteria.StatusToken != nil {
		query = query.Where(sq.Eq{"status_token": *criteria.StatusToken})
	}
	if len(criteria.Statuses) > 0 {
		query = query.Where(sq.Eq{"payment_status": statusStrings(criteria.Statuses)})
	}

	q, args, err := query.OrderBy("id DESC").Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row orderRow
	err = sqlx.GetContext(ctx, s.ext(ctx), &row, q, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel()
}

func (s *storageImpl) ListOrders(ctx context.Context, criteria orders.ListCriteria) ([]*orders.Order, error) {
	query := s.stmpBuilder().
		Select(orderRowFields).
		From(ordersTable)

	if len(criteria.Statuses) > 0 {
		query = query.Where(sq.Eq{"payment_status": statusStrings(criteria.Statuses)})
	}
	if criteria.SlotStart != nil {
		query = query.Where(sq.Eq{"slot_start": *criteria.SlotStart})
	}
	if criteria.HasIntent != nil {
		if *criteria.HasIntent {
			query = query.Where(sq.NotEq{"payment_intent_id": nil})
		} else {
			query = query.Where(sq.Eq{"payment_intent_id": nil})
		}
	}

	query = query.OrderBy("id ASC")
	if criteria.Limit > 0 {
		query = query.Limit(uint64(criteria.Limit))
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []orderRow
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*orders.Order, 0, len(rows))
	for _, row := range rows {
		order, err := row.ToModel()
		if err != nil {
			return nil, err
		}
		result = append(result, order)
	}
	return result, nil
}

// MarkOrderCompleted flips a pending order to completed. It returns false when
// the order was not pending any more.
func (s *storageImpl) MarkOrderCompleted(ctx context.Context, id int64, params orders.CompleteParams) (bool, error) {
	set := map[string]interface{}{
		"payment_status":    string(orders.StatusCompleted),
		"payment_intent_id": params.PaymentIntentID,
		"payment_date":      params.PaymentDate,
		"expires_at":        nil,
		"failure_reason":    nil,
		"status_token":      sq.Expr("COALESCE(status_token, ?)", params.StatusToken),
		"updated_at":        s.now(),
	}

	return s.updatePending(ctx, id, set)
}

// SetPaymentIntent stores the checkout intent of a pending order.
func (s *storageImpl) SetPaymentIntent(ctx context.Context, id int64, intentID string) (bool, error) {
	return s.updatePending(ctx, id, map[string]interface{}{
		"payment_intent_id": intentID,
		"updated_at":        s.now(),
	})
}

// SetStatusToken sets the look-up token once; an existing token is kept.
func (s *storageImpl) SetStatusToken(ctx context.Context, id int64, token string) error {
	q, args, err := s.stmpBuilder().
		Update(ordersTable).
		Set("status_token", token).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id, "status_token": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.ext(ctx).ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}
	return nil
}

func (s *storageImpl) IncrementPaymentAttempts(ctx context.Context, id int64) (*orders.Order, error) {
	ok, err := s.updatePending(ctx, id, map[string]interface{}{
		"payment_attempts": sq.Expr("payment_attempts + 1"),
		"updated_at":       s.now(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return s.GetOrder(ctx, orders.GetCriteria{ID: &id})
}

// ReleaseOrder moves a pending order to failed, which frees both its slot and
// its identity.
func (s *storageImpl) ReleaseOrder(ctx context.Context, id int64, reason string) (bool, error) {
	return s.updatePending(ctx, id, map[string]interface{}{
		"payment_status": string(orders.StatusFailed),
		"failure_reason": reason,
		"expires_at":     nil,
		"updated_at":     s.now(),
	})
}

// MarkRefundNotified records that staff were told to refund the order. Only the
// first call returns true, whatever the order status.
func (s *storageImpl) MarkRefundNotified(ctx context.Context, id int64) (bool, error) {
	now := s.now()
	q, args, err := s.stmpBuilder().
		Update(ordersTable).
		Set("refund_notified_at", now).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "refund_notified_at": nil}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.ext(ctx).ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("db.ExecContext: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("result.RowsAffected: %w", err)
	}
	return affected == 1, nil
}

func (s *storageImpl) updatePending(ctx context.Context, id int64, set map[string]interface{}) (bool, error) {
	q, args, err := s.stmpBuilder().
		Update(ordersTable).
		SetMap(set).
		Where(sq.Eq{"id": id, "payment_status": string(orders.StatusPending)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.ext(ctx).ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("db.ExecContext: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("result.RowsAffected: %w", err)
	}
	return affected == 1, nil
}

func statusStrings(statuses []orders.PaymentStatus) []string {
	return lo.Map(statuses, func(st orders.PaymentStatus, _ int) string { return string(st) })
}
