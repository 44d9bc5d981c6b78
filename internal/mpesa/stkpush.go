package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	transactionTypePayBill = "CustomerPayBillOnline"

	// ErrorCodeProcessing is returned by the query endpoint until the
	// customer answers the prompt.
	ErrorCodeProcessing = "500.001.1001"

	maxAccountReferenceLen = 12
	maxTransactionDescLen  = 13
)

// STKPushRequest asks the customer's phone to approve a payment.
type STKPushRequest struct {
	PhoneNumber      string
	Amount           int64 // whole shillings
	AccountReference string
	TransactionDesc  string
	CallbackURL      string
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResponse is Daraja's acknowledgement of an accepted push.
type STKPushResponse struct {
	MerchantRequestID   string     `json:"MerchantRequestID"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResponseCode        FlexString `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	CustomerMessage     string     `json:"CustomerMessage"`

	// Populated by Daraja on request-level failures.
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`

	// PhoneNumber is the normalized number the push was sent to.
	PhoneNumber string `json:"-"`
}

// InitiateSTKPush sends a push request. A nil error means Daraja accepted it
// and the result will arrive later via callback or QuerySTKPush.
func (c *Client) InitiateSTKPush(ctx context.Context, r STKPushRequest) (*STKPushResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if r.Amount < 1 {
		return nil, ErrInvalidAmount
	}
	phone, err := FormatPhoneNumber(r.PhoneNumber)
	if err != nil {
		return nil, err
	}

	password, timestamp := c.Password(c.now())
	payload := stkPushPayload{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionTypePayBill,
		Amount:            r.Amount,
		PartyA:            phone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       r.CallbackURL,
		AccountReference:  truncate(r.AccountReference, maxAccountReferenceLen),
		TransactionDesc:   truncate(r.TransactionDesc, maxTransactionDescLen),
	}

	status, body, err := c.postJSON(ctx, stkPath, payload)
	if err != nil {
		return nil, err
	}

	var out STKPushResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &APIError{StatusCode: status, Code: "invalid_response", Description: "STK push failed"}
	}
	if status != http.StatusOK || out.ResponseCode.String() != "0" {
		return nil, out.apiError(status)
	}
	if out.CheckoutRequestID == "" {
		return nil, &APIError{StatusCode: status, Code: "invalid_response", Description: "missing CheckoutRequestID"}
	}
	out.PhoneNumber = phone
	return &out, nil
}

func (r *STKPushResponse) apiError(status int) *APIError {
	e := &APIError{StatusCode: status, Code: r.ResponseCode.String(), Description: r.ResponseDescription}
	if r.ErrorCode != "" {
		e.Code = r.ErrorCode
	}
	if r.ErrorMessage != "" {
		e.Description = r.ErrorMessage
	}
	if e.Code == "" {
		e.Code = "Unknown"
	}
	if e.Description == "" {
		e.Description = "STK push failed"
	}
	return e
}

// QueryResponse is the STK push status reported by Daraja.
type QueryResponse struct {
	ResponseCode        FlexString `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	MerchantRequestID   string     `json:"MerchantRequestID"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResultCode          FlexString `json:"ResultCode"`
	ResultDesc          string     `json:"ResultDesc"`

	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Result returns the final result code, or ok=false while the customer has
// not yet completed the prompt.
func (q *QueryResponse) Result() (code int, desc string, ok bool) {
	raw := q.ResultCode.String()
	if raw == "" {
		return 0, "", false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, "", false
	}
	return n, q.ResultDesc, true
}

// QuerySTKPush asks Daraja for the status of a previously initiated push.
// "Still processing" answers come back as a QueryResponse without a result.
func (c *Client) QuerySTKPush(ctx context.Context, checkoutRequestID string) (*QueryResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	password, timestamp := c.Password(c.now())
	payload := map[string]string{
		"BusinessShortCode": c.cfg.Shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	status, body, err := c.postJSON(ctx, queryPath, payload)
	if err != nil {
		return nil, err
	}

	var out QueryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode stk query response (http %d): %w", status, err)
	}
	switch {
	case out.ErrorCode == ErrorCodeProcessing:
		return &out, nil
	case out.ErrorCode != "":
		return nil, &APIError{StatusCode: status, Code: out.ErrorCode, Description: out.ErrorMessage}
	case status >= 300:
		return nil, &APIError{StatusCode: status, Code: "http_error", Description: strings.TrimSpace(string(body))}
	}
	return &out, nil
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
