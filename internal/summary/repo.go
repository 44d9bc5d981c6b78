package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/storage"
)

const monthLayout = "2006-01"

var ErrInvalidMonth = errors.New("month must be formatted YYYY-MM")

type Repo struct {
	DB *storage.DB
}

// Totals are ledger sums in cents.
type Totals struct {
	IncomeCents      int64
	ExpenseCents     int64
	MpesaIncomeCents int64
	Count            int64
}

// ParseMonth returns the UTC bounds [start, end) of a YYYY-MM month.
func ParseMonth(month string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(monthLayout, strings.TrimSpace(month), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidMonth
	}
	return start, start.AddDate(0, 1, 0), nil
}

// Get sums the ledger, limited to month when it is non-empty.
func (r Repo) Get(ctx context.Context, month string) (Totals, error) {
	query := `
		SELECT
			CAST(COALESCE(SUM(CASE WHEN transaction_type = 'income' THEN amount_cents ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN transaction_type = 'expense' THEN amount_cents ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN transaction_type = 'income' AND payment_method = 'mpesa' THEN amount_cents ELSE 0 END), 0) AS BIGINT),
			COUNT(*)
		FROM transactions`
	var args []any
	if month != "" {
		start, end, err := ParseMonth(month)
		if err != nil {
			return Totals{}, err
		}
		query += ` WHERE created_at >= ? AND created_at < ?`
		args = append(args, storage.ToMillis(start), storage.ToMillis(end))
	}

	var t Totals
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&t.IncomeCents, &t.ExpenseCents, &t.MpesaIncomeCents, &t.Count); err != nil {
		return Totals{}, fmt.Errorf("summarize ledger: %w", err)
	}
	return t, nil
}
