package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/money"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/mpesa"
)

// Gateway is the part of the Daraja client the payment flow needs.
type Gateway interface {
	IsConfigured() bool
	Environment() string
	InitiateSTKPush(ctx context.Context, r mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
	QuerySTKPush(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResponse, error)
}

type Service struct {
	Store            *Store
	Gateway          Gateway
	Log              *zap.Logger
	AccountReference string
}

func NewService(store *Store, gw Gateway, accountReference string, log *zap.Logger) *Service {
	return &Service{Store: store, Gateway: gw, Log: log, AccountReference: accountReference}
}

type InitiateRequest struct {
	PhoneNumber string
	AmountCents int64
	Description string
	CallbackURL string
}

type Initiated struct {
	Payment         Payment
	CustomerMessage string
}

// Initiate sends an STK push and records it as pending once Daraja accepts
// it. Fractional amounts are truncated to whole shillings.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (Initiated, error) {
	if !s.Gateway.IsConfigured() {
		return Initiated{}, mpesa.ErrNotConfigured
	}
	units := money.WholeUnits(req.AmountCents)
	if units < 1 {
		return Initiated{}, mpesa.ErrInvalidAmount
	}
	desc := strings.TrimSpace(req.Description)

	res, err := s.Gateway.InitiateSTKPush(ctx, mpesa.STKPushRequest{
		PhoneNumber:      req.PhoneNumber,
		Amount:           units,
		AccountReference: s.AccountReference,
		TransactionDesc:  desc,
		CallbackURL:      req.CallbackURL,
	})
	if err != nil {
		return Initiated{}, err
	}

	p, err := s.Store.Create(ctx, NewPayment{
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		PhoneNumber:       res.PhoneNumber,
		AmountCents:       units * 100,
		AccountReference:  s.AccountReference,
		TransactionDesc:   desc,
	})
	if err != nil {
		return Initiated{}, fmt.Errorf("record payment %s: %w", res.CheckoutRequestID, err)
	}

	s.Log.Info("stk push accepted",
		zap.Int64("payment_id", p.ID),
		zap.String("checkout_request_id", p.CheckoutRequestID),
		zap.Int64("amount", units),
	)
	return Initiated{Payment: p, CustomerMessage: res.CustomerMessage}, nil
}

// HandleCallback applies a Daraja callback body. It returns
// mpesa.ErrMalformedCallback for bodies that cannot be read, ErrNotFound for
// unknown checkout ids and ErrAlreadyFinal for repeats.
func (s *Service) HandleCallback(ctx context.Context, raw []byte) (Payment, error) {
	cb, err := mpesa.ParseCallback(raw)
	if err != nil {
		return Payment{}, err
	}

	r := Result{
		Code:          cb.ResultCode,
		Desc:          cb.ResultDesc,
		ReceiptNumber: cb.ReceiptNumber(),
		Payload:       raw,
	}
	if amt := cb.Amount(); amt != "" {
		if cents, err := money.ParseString(amt); err == nil {
			r.AmountCents = cents
		}
	}

	p, err := s.Store.ApplyResult(ctx, cb.CheckoutRequestID, r)
	if err != nil {
		return p, err
	}
	s.Log.Info("stk callback applied",
		zap.Int64("payment_id", p.ID),
		zap.String("checkout_request_id", p.CheckoutRequestID),
		zap.String("status", string(p.Status)),
		zap.Int("result_code", cb.ResultCode),
	)
	return p, nil
}

// Refresh returns the payment, first asking Daraja for a result when it is
// still pending. Query failures are logged and leave the payment pending.
func (s *Service) Refresh(ctx context.Context, id int64) (Payment, error) {
	p, err := s.Store.Get(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != Pending || !s.Gateway.IsConfigured() {
		return p, nil
	}

	res, err := s.Gateway.QuerySTKPush(ctx, p.CheckoutRequestID)
	if err != nil {
		s.Log.Warn("stk query failed",
			zap.Int64("payment_id", p.ID),
			zap.String("checkout_request_id", p.CheckoutRequestID),
			zap.Error(err),
		)
		return p, nil
	}
	code, desc, ok := res.Result()
	if !ok {
		return p, nil
	}

	updated, err := s.Store.ApplyResult(ctx, p.CheckoutRequestID, Result{Code: code, Desc: desc})
	switch {
	case errors.Is(err, ErrAlreadyFinal):
		// a callback landed between the read and the query
		return s.Store.Get(ctx, id)
	case err != nil:
		return Payment{}, err
	}
	return updated, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]Payment, error) {
	return s.Store.List(ctx, limit)
}
