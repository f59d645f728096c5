package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/thriftpay/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const paymentColumns = `id, reference, account_id, provider, amount, currency, status,
	amount_received, credited_amount, fee_deducted, failure_reason, failure_detail,
	gateway_reference, created_at, verified_at`

// Postgres implements Ledger, IdempotencyStore and OutboxStore on pgx.
type Postgres struct {
	db *pgxpool.Pool
}

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Probe reports whether the database answers.
func (s *Postgres) Probe(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Postgres) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx,
		"SELECT id, full_name, phone, plan, registration_paid, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.FullName, &u.Phone, &u.Plan, &u.RegistrationPaid, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Postgres) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	var a domain.Account
	err := s.db.QueryRow(ctx,
		"SELECT id, user_id, account_number, balance, created_at, updated_at FROM accounts WHERE id = $1", id,
	).Scan(&a.ID, &a.UserID, &a.Number, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *Postgres) GetPayment(ctx context.Context, reference string) (*domain.PendingPayment, error) {
	row := s.db.QueryRow(ctx, "SELECT "+paymentColumns+" FROM pending_payments WHERE reference = $1", reference)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// StalePayments lists pending payments created before olderThan, oldest first.
func (s *Postgres) StalePayments(ctx context.Context, olderThan time.Time, limit int) ([]domain.PendingPayment, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+paymentColumns+" FROM pending_payments WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2",
		olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("stale payments query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("stale payments scan failed: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CreatePayment inserts p in pending state and fills its ID and CreatedAt.
func (s *Postgres) CreatePayment(ctx context.Context, p *domain.PendingPayment) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO pending_payments (reference, account_id, provider, amount, currency, status)
		 VALUES ($1, $2, $3, $4, $5, 'pending') RETURNING id, created_at`,
		p.Reference, p.AccountID, p.Provider, p.Amount, p.Currency,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return ErrDuplicateReference
			case pgForeignKeyViolation:
				return ErrNotFound
			}
		}
		return fmt.Errorf("payment insert failed: %w", err)
	}
	p.Status = domain.StatusPending
	return nil
}

// ListNotifications returns the newest notifications first.
func (s *Postgres) ListNotifications(ctx context.Context, userID int64, limit int) ([]domain.Notification, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, user_id, message, created_at FROM notifications WHERE user_id = $1 ORDER BY id DESC LIMIT $2",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Postgres) RecordAudit(ctx context.Context, outcome domain.Outcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO payment_audit (reference, outcome) VALUES ($1, $2)",
		outcome.Reference, json.RawMessage(body))
	return err
}

// WithinTx runs fn under READ COMMITTED. Row locks taken with FOR UPDATE make
// a concurrent reconciler wait and then read the committed row.
func (s *Postgres) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockPayment(ctx context.Context, reference string) (*domain.PendingPayment, error) {
	row := t.tx.QueryRow(ctx,
		"SELECT "+paymentColumns+" FROM pending_payments WHERE reference = $1 FOR UPDATE", reference)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (t *pgTx) LockAccountOwner(ctx context.Context, accountID int64) (*domain.User, *domain.Account, error) {
	var u domain.User
	var a domain.Account
	err := t.tx.QueryRow(ctx,
		`SELECT u.id, u.full_name, u.phone, u.plan, u.registration_paid, u.created_at,
		        a.id, a.user_id, a.account_number, a.balance, a.created_at, a.updated_at
		   FROM accounts a JOIN users u ON u.id = a.user_id
		  WHERE a.id = $1
		    FOR UPDATE OF u, a`, accountID,
	).Scan(&u.ID, &u.FullName, &u.Phone, &u.Plan, &u.RegistrationPaid, &u.CreatedAt,
		&a.ID, &a.UserID, &a.Number, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, nil, notFound(err)
	}
	return &u, &a, nil
}

func (t *pgTx) CreditAccount(ctx context.Context, accountID, amount int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx,
		"UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE id = $2 RETURNING balance",
		amount, accountID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("balance update failed: %w", notFound(err))
	}
	return balance, nil
}

func (t *pgTx) SettlePayment(ctx context.Context, p *domain.PendingPayment) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE pending_payments
		    SET status = $2, amount_received = $3, credited_amount = $4, fee_deducted = $5,
		        failure_reason = $6, failure_detail = $7, gateway_reference = $8, verified_at = $9
		  WHERE reference = $1 AND status = 'pending'`,
		p.Reference, p.Status, p.AmountReceived, p.CreditedAmount, p.FeeDeducted,
		p.FailureReason, p.FailureDetail, p.GatewayReference, p.VerifiedAt)
	if err != nil {
		return fmt.Errorf("payment settle failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

func (t *pgTx) MarkRegistrationPaid(ctx context.Context, userID int64) error {
	_, err := t.tx.Exec(ctx, "UPDATE users SET registration_paid = TRUE WHERE id = $1", userID)
	if err != nil {
		return fmt.Errorf("registration latch failed: %w", err)
	}
	return nil
}

func (t *pgTx) AppendNotification(ctx context.Context, userID int64, message string) error {
	_, err := t.tx.Exec(ctx, "INSERT INTO notifications (user_id, message) VALUES ($1, $2)", userID, message)
	if err != nil {
		return fmt.Errorf("notification insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) EnqueueEvent(ctx context.Context, eventType string, payload []byte) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO outbox_events (type, payload, status) VALUES ($1, $2, 'pending')",
		eventType, json.RawMessage(payload))
	if err != nil {
		return fmt.Errorf("outbox insert failed: %w", err)
	}
	return nil
}

func (s *Postgres) ReserveIdempotencyKey(ctx context.Context, key, requestHash string) (*domain.IdempotencyRecord, error) {
	var (
		storedHash   string
		storedStatus string
		respStatus   *int
		respBody     []byte
	)
	err := s.db.QueryRow(ctx,
		"SELECT request_hash, status, response_status, response_body FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&storedHash, &storedStatus, &respStatus, &respBody)

	if err == nil {
		if storedHash != requestHash {
			return nil, ErrIdempotencyMismatch
		}
		if storedStatus != domain.IdempotencyCompleted || respStatus == nil {
			return nil, ErrConflict
		}
		return &domain.IdempotencyRecord{
			Key:            key,
			RequestHash:    storedHash,
			Status:         storedStatus,
			ResponseBody:   respBody,
			ResponseStatus: *respStatus,
		}, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}

	_, err = s.db.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, $3)",
		key, requestHash, domain.IdempotencyInProgress,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("key reservation failed: %w", err)
	}
	return nil, nil
}

func (s *Postgres) CompleteIdempotencyKey(ctx context.Context, key string, status int, body []byte) error {
	_, err := s.db.Exec(ctx,
		"UPDATE idempotency_keys SET status = $2, response_status = $3, response_body = $4 WHERE key = $1",
		key, domain.IdempotencyCompleted, status, json.RawMessage(body))
	if err != nil {
		return fmt.Errorf("idempotency update failed: %w", err)
	}
	return nil
}

// ReleaseIdempotencyKey forgets an in-progress key so the client may retry.
func (s *Postgres) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM idempotency_keys WHERE key = $1 AND status = $2", key, domain.IdempotencyInProgress)
	return err
}

func (s *Postgres) PendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, type, payload, created_at FROM outbox_events WHERE status = 'pending' ORDER BY id LIMIT $1",
		limit)
	if err != nil {
		return nil, fmt.Errorf("outbox query failed: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox scan failed: %w", err)
		}
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Postgres) MarkEventProcessed(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, "UPDATE outbox_events SET status = 'processed' WHERE id = $1", id)
	return err
}

func scanPayment(row pgx.Row) (*domain.PendingPayment, error) {
	var p domain.PendingPayment
	err := row.Scan(&p.ID, &p.Reference, &p.AccountID, &p.Provider, &p.Amount, &p.Currency, &p.Status,
		&p.AmountReceived, &p.CreditedAmount, &p.FeeDeducted, &p.FailureReason, &p.FailureDetail,
		&p.GatewayReference, &p.CreatedAt, &p.VerifiedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
