package payments

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/money"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/mpesa"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/transactions"
)

type Status string

const (
	Pending   Status = "pending"
	Success   Status = "success"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

var (
	ErrNotFound     = errors.New("payment not found")
	ErrAlreadyFinal = errors.New("payment is no longer pending")
)

// StatusForResult maps a Daraja result code to a final status.
func StatusForResult(code int) Status {
	switch code {
	case mpesa.ResultSuccess:
		return Success
	case mpesa.ResultCancelledByUser:
		return Cancelled
	default:
		return Failed
	}
}

// Payment is one STK push request and its outcome.
type Payment struct {
	ID                int64
	CheckoutRequestID string
	MerchantRequestID string
	PhoneNumber       string
	AmountCents       int64
	AccountReference  string
	TransactionDesc   string
	Status            Status
	ReceiptNumber     *string
	ResultCode        *int
	ResultDesc        *string
	TransactionID     *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type paymentJSON struct {
	ID                int64   `json:"id"`
	CheckoutRequestID string  `json:"checkout_request_id"`
	MerchantRequestID string  `json:"merchant_request_id"`
	PhoneNumber       string  `json:"phone_number"`
	Amount            float64 `json:"amount"`
	AccountReference  string  `json:"account_reference"`
	TransactionDesc   string  `json:"transaction_desc"`
	Status            Status  `json:"status"`
	ReceiptNumber     *string `json:"mpesa_receipt_number"`
	ResultCode        *int    `json:"result_code"`
	ResultDesc        *string `json:"result_desc"`
	TransactionID     *int64  `json:"transaction_id"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

func (p Payment) MarshalJSON() ([]byte, error) {
	return json.Marshal(paymentJSON{
		ID:                p.ID,
		CheckoutRequestID: p.CheckoutRequestID,
		MerchantRequestID: p.MerchantRequestID,
		PhoneNumber:       p.PhoneNumber,
		Amount:            money.Float(p.AmountCents),
		AccountReference:  p.AccountReference,
		TransactionDesc:   p.TransactionDesc,
		Status:            p.Status,
		ReceiptNumber:     p.ReceiptNumber,
		ResultCode:        p.ResultCode,
		ResultDesc:        p.ResultDesc,
		TransactionID:     p.TransactionID,
		CreatedAt:         transactions.FormatTimestamp(p.CreatedAt),
		UpdatedAt:         transactions.FormatTimestamp(p.UpdatedAt),
	})
}

// NewPayment is a push Daraja has accepted.
type NewPayment struct {
	CheckoutRequestID string
	MerchantRequestID string
	PhoneNumber       string
	AmountCents       int64
	AccountReference  string
	TransactionDesc   string
}

// Result is the final outcome of a push, from a callback or a status query.
type Result struct {
	Code          int
	Desc          string
	ReceiptNumber string
	// AmountCents overrides the requested amount when the provider reports one.
	AmountCents int64
	// Payload is the raw callback body, if the result came from one.
	Payload []byte
}
