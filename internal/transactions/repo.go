package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/storage"
)

const MaxListLimit = 500

type Store struct {
	DB  *storage.DB
	Now func() time.Time
}

func NewStore(db *storage.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create validates and inserts a ledger entry.
func (s *Store) Create(ctx context.Context, in NewTransaction) (Transaction, error) {
	return Insert(ctx, s.DB, in, s.now())
}

// Insert writes a ledger entry through q, so callers can include it in a
// larger database transaction.
func Insert(ctx context.Context, q storage.Querier, in NewTransaction, createdAt time.Time) (Transaction, error) {
	if err := in.normalize(); err != nil {
		return Transaction{}, err
	}

	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO transactions (description, amount_cents, transaction_type, payment_method, mpesa_receipt_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, in.Description, in.AmountCents, string(in.Type), string(in.PaymentMethod), storage.NullString(in.ReceiptNumber), storage.ToMillis(createdAt)).Scan(&id)
	if err != nil {
		return Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	return Transaction{
		ID:            id,
		Description:   in.Description,
		AmountCents:   in.AmountCents,
		Type:          in.Type,
		PaymentMethod: in.PaymentMethod,
		ReceiptNumber: in.ReceiptNumber,
		CreatedAt:     storage.FromMillis(storage.ToMillis(createdAt)),
	}, nil
}

type ListParams struct {
	Type  Type
	Limit int
}

// List returns transactions newest first. A zero Limit returns all rows.
func (s *Store) List(ctx context.Context, p ListParams) ([]Transaction, error) {
	query := `
		SELECT id, description, amount_cents, transaction_type, payment_method, mpesa_receipt_number, created_at
		FROM transactions`
	var args []any
	if p.Type != "" {
		query += ` WHERE transaction_type = ?`
		args = append(args, string(p.Type))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if p.Limit > 0 {
		if p.Limit > MaxListLimit {
			p.Limit = MaxListLimit
		}
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id int64) (Transaction, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, description, amount_cents, transaction_type, payment_method, mpesa_receipt_number, created_at
		FROM transactions
		WHERE id = ?
	`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	return t, err
}

// Delete removes a transaction. Payments that produced it keep their record
// with the link cleared.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tx, err := s.DB.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE mpesa_payments SET transaction_id = NULL WHERE transaction_id = ?`, id); err != nil {
		return fmt.Errorf("unlink payments: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) Balance(ctx context.Context) (Balance, error) {
	var b Balance
	err := s.DB.QueryRowContext(ctx, `
		SELECT
			CAST(COALESCE(SUM(CASE WHEN transaction_type = 'income' THEN amount_cents END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN transaction_type = 'expense' THEN amount_cents END), 0) AS BIGINT)
		FROM transactions
	`).Scan(&b.IncomeCents, &b.ExpenseCents)
	if err != nil {
		return Balance{}, fmt.Errorf("sum transactions: %w", err)
	}
	return b, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var (
		t         Transaction
		typ       string
		method    string
		receipt   sql.NullString
		createdAt int64
	)
	if err := row.Scan(&t.ID, &t.Description, &t.AmountCents, &typ, &method, &receipt, &createdAt); err != nil {
		return Transaction{}, err
	}
	t.Type = Type(typ)
	t.PaymentMethod = PaymentMethod(method)
	if receipt.Valid {
		r := receipt.String
		t.ReceiptNumber = &r
	}
	t.CreatedAt = storage.FromMillis(createdAt)
	return t, nil
}
