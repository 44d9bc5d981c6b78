package transactions

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/money"
)

// Type is the direction of a ledger entry.
type Type string

const (
	Income  Type = "income"
	Expense Type = "expense"
)

// PaymentMethod records how money entered or left the ledger.
type PaymentMethod string

const (
	Manual PaymentMethod = "manual"
	Mpesa  PaymentMethod = "mpesa"
)

const (
	MaxDescriptionLen = 200
	MaxReceiptLen     = 50

	timestampLayout = "2006-01-02 15:04:05"
)

var (
	ErrNotFound           = errors.New("transaction not found")
	ErrInvalidType        = errors.New(`transaction type must be either "income" or "expense"`)
	ErrEmptyDescription   = errors.New("description cannot be empty")
	ErrDescriptionTooLong = errors.New("description must be at most 200 characters")
	ErrReceiptTooLong     = errors.New("receipt number must be at most 50 characters")
)

// ParseType normalizes t, returning "" when it is neither income nor expense.
func ParseType(t string) Type {
	switch Type(strings.TrimSpace(strings.ToLower(t))) {
	case Income:
		return Income
	case Expense:
		return Expense
	}
	return ""
}

type Transaction struct {
	ID            int64
	Description   string
	AmountCents   int64
	Type          Type
	PaymentMethod PaymentMethod
	ReceiptNumber *string
	CreatedAt     time.Time
}

type transactionJSON struct {
	ID            int64   `json:"id"`
	Description   string  `json:"description"`
	Amount        float64 `json:"amount"`
	Type          Type    `json:"transaction_type"`
	PaymentMethod string  `json:"payment_method"`
	ReceiptNumber *string `json:"mpesa_receipt_number"`
	CreatedAt     string  `json:"created_at"`
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		ID:            t.ID,
		Description:   t.Description,
		Amount:        money.Float(t.AmountCents),
		Type:          t.Type,
		PaymentMethod: string(t.PaymentMethod),
		ReceiptNumber: t.ReceiptNumber,
		CreatedAt:     FormatTimestamp(t.CreatedAt),
	})
}

// FormatTimestamp renders t in UTC as YYYY-MM-DD HH:MM:SS.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// NewTransaction is the input for Create.
type NewTransaction struct {
	Description   string
	AmountCents   int64
	Type          Type
	PaymentMethod PaymentMethod
	ReceiptNumber *string
}

func (n *NewTransaction) normalize() error {
	n.Description = strings.TrimSpace(n.Description)
	if n.Description == "" {
		return ErrEmptyDescription
	}
	if utf8.RuneCountInString(n.Description) > MaxDescriptionLen {
		return ErrDescriptionTooLong
	}
	if n.AmountCents <= 0 {
		return money.ErrNotPositive
	}
	if n.Type != Income && n.Type != Expense {
		return ErrInvalidType
	}
	if n.PaymentMethod == "" {
		n.PaymentMethod = Manual
	}
	if n.ReceiptNumber != nil {
		r := strings.TrimSpace(*n.ReceiptNumber)
		if r == "" {
			n.ReceiptNumber = nil
		} else if len(r) > MaxReceiptLen {
			return ErrReceiptTooLong
		} else {
			n.ReceiptNumber = &r
		}
	}
	return nil
}

// Balance is the ledger total: income minus expenses.
type Balance struct {
	IncomeCents  int64
	ExpenseCents int64
}

func (b Balance) NetCents() int64 {
	return b.IncomeCents - b.ExpenseCents
}
