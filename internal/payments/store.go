package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/storage"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/transactions"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500

	// result_desc column width
	maxResultDescLen = 200
)

const paymentColumns = `id, checkout_request_id, merchant_request_id, phone_number, amount_cents,
	account_reference, transaction_desc, status, mpesa_receipt_number, result_code, result_desc,
	transaction_id, created_at, updated_at`

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

// Create records an accepted push as pending.
func (s *Store) Create(ctx context.Context, in NewPayment) (Payment, error) {
	if strings.TrimSpace(in.CheckoutRequestID) == "" {
		return Payment{}, errors.New("checkout request id is required")
	}
	now := storage.ToMillis(s.now())

	var id int64
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO mpesa_payments (checkout_request_id, merchant_request_id, phone_number, amount_cents,
			account_reference, transaction_desc, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, in.CheckoutRequestID, in.MerchantRequestID, in.PhoneNumber, in.AmountCents,
		in.AccountReference, in.TransactionDesc, string(Pending), now, now).Scan(&id)
	if err != nil {
		return Payment{}, fmt.Errorf("insert payment: %w", err)
	}

	return Payment{
		ID:                id,
		CheckoutRequestID: in.CheckoutRequestID,
		MerchantRequestID: in.MerchantRequestID,
		PhoneNumber:       in.PhoneNumber,
		AmountCents:       in.AmountCents,
		AccountReference:  in.AccountReference,
		TransactionDesc:   in.TransactionDesc,
		Status:            Pending,
		CreatedAt:         storage.FromMillis(now),
		UpdatedAt:         storage.FromMillis(now),
	}, nil
}

func (s *Store) Get(ctx context.Context, id int64) (Payment, error) {
	return getPayment(ctx, s.DB, `id = ?`, id)
}

func (s *Store) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (Payment, error) {
	return getPayment(ctx, s.DB, `checkout_request_id = ?`, checkoutRequestID)
}

// List returns the most recent payments first.
func (s *Store) List(ctx context.Context, limit int) ([]Payment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM mpesa_payments
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	items := make([]Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// ApplyResult moves a pending payment to its final status. A successful
// payment also books an income transaction in the same database
// transaction. Payments that are not pending return ErrAlreadyFinal and
// nothing is written.
func (s *Store) ApplyResult(ctx context.Context, checkoutRequestID string, r Result) (Payment, error) {
	tx, err := s.DB.BeginTx(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := getPayment(ctx, tx, `checkout_request_id = ?`, checkoutRequestID)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != Pending {
		return p, ErrAlreadyFinal
	}

	now := s.now()
	status := StatusForResult(r.Code)
	r.Desc = truncateRunes(strings.TrimSpace(r.Desc), maxResultDescLen)

	var receipt *string
	if rn := strings.TrimSpace(r.ReceiptNumber); rn != "" {
		receipt = &rn
	}

	var txID *int64
	if status == Success {
		amount := r.AmountCents
		if amount <= 0 {
			amount = p.AmountCents
		}
		t, err := transactions.Insert(ctx, tx, transactions.NewTransaction{
			Description:   ledgerDescription(p),
			AmountCents:   amount,
			Type:          transactions.Income,
			PaymentMethod: transactions.Mpesa,
			ReceiptNumber: receipt,
		}, now)
		if err != nil {
			return Payment{}, fmt.Errorf("book payment %d: %w", p.ID, err)
		}
		txID = &t.ID
	}

	var payload any
	if len(r.Payload) > 0 {
		payload = string(r.Payload)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE mpesa_payments
		SET status = ?, mpesa_receipt_number = ?, result_code = ?, result_desc = ?,
			callback_payload = COALESCE(?, callback_payload), transaction_id = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(status), storage.NullString(receipt), r.Code, r.Desc, payload, storage.NullInt64(txID), storage.ToMillis(now), p.ID, string(Pending))
	if err != nil {
		return Payment{}, fmt.Errorf("update payment %d: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Payment{}, fmt.Errorf("update payment %d: %w", p.ID, err)
	}
	if n == 0 {
		return Payment{}, ErrAlreadyFinal
	}
	if err := tx.Commit(); err != nil {
		return Payment{}, fmt.Errorf("commit payment %d: %w", p.ID, err)
	}

	code := r.Code
	desc := r.Desc
	p.Status = status
	p.ReceiptNumber = receipt
	p.ResultCode = &code
	p.ResultDesc = &desc
	p.TransactionID = txID
	p.UpdatedAt = storage.FromMillis(storage.ToMillis(now))
	return p, nil
}

// ledgerDescription is the payment's own description, or the payer's number
// when the push was sent without one.
func ledgerDescription(p Payment) string {
	desc := strings.TrimSpace(p.TransactionDesc)
	if desc == "" {
		desc = "M-Pesa payment from " + p.PhoneNumber
	}
	return truncateRunes(desc, transactions.MaxDescriptionLen)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func getPayment(ctx context.Context, q storage.Querier, where string, arg any) (Payment, error) {
	row := q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM mpesa_payments WHERE `+where, arg)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return p, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (Payment, error) {
	var (
		p             Payment
		status        string
		receipt       sql.NullString
		resultCode    sql.NullInt64
		resultDesc    sql.NullString
		transactionID sql.NullInt64
		createdAt     int64
		updatedAt     int64
	)
	err := row.Scan(&p.ID, &p.CheckoutRequestID, &p.MerchantRequestID, &p.PhoneNumber, &p.AmountCents,
		&p.AccountReference, &p.TransactionDesc, &status, &receipt, &resultCode, &resultDesc,
		&transactionID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, err
		}
		return Payment{}, fmt.Errorf("scan payment: %w", err)
	}

	p.Status = Status(status)
	if receipt.Valid {
		p.ReceiptNumber = &receipt.String
	}
	if resultCode.Valid {
		code := int(resultCode.Int64)
		p.ResultCode = &code
	}
	if resultDesc.Valid {
		p.ResultDesc = &resultDesc.String
	}
	if transactionID.Valid {
		p.TransactionID = &transactionID.Int64
	}
	p.CreatedAt = storage.FromMillis(createdAt)
	p.UpdatedAt = storage.FromMillis(updatedAt)
	return p, nil
}
