package mpesa

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

const (
	ResultSuccess         = 0
	ResultCancelledByUser = 1032
)

var ErrMalformedCallback = errors.New("malformed stk callback")

// Callback is the body Daraja posts to CallBackURL.
type Callback struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string           `json:"MerchantRequestID"`
	CheckoutRequestID string           `json:"CheckoutRequestID"`
	ResultCode        int              `json:"-"`
	ResultDesc        string           `json:"ResultDesc"`
	CallbackMetadata  CallbackMetadata `json:"CallbackMetadata"`

	// RawResultCode is nil when the field is absent.
	RawResultCode *FlexString `json:"ResultCode"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// ParseCallback decodes a callback body, keeping numbers exact. Bodies
// without a CheckoutRequestID or an integer ResultCode are malformed.
func ParseCallback(raw []byte) (*STKCallback, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var cb Callback
	if err := dec.Decode(&cb); err != nil {
		return nil, ErrMalformedCallback
	}
	stk := &cb.Body.STKCallback
	if strings.TrimSpace(stk.CheckoutRequestID) == "" {
		return nil, ErrMalformedCallback
	}
	// A missing code must not read as 0, which is success.
	if stk.RawResultCode == nil || stk.RawResultCode.String() == "" {
		return nil, ErrMalformedCallback
	}
	code, err := strconv.Atoi(stk.RawResultCode.String())
	if err != nil {
		return nil, ErrMalformedCallback
	}
	stk.ResultCode = code
	return stk, nil
}

func (cb *STKCallback) item(name string) (any, bool) {
	for _, it := range cb.CallbackMetadata.Item {
		if strings.EqualFold(it.Name, name) {
			return it.Value, it.Value != nil
		}
	}
	return nil, false
}

func (cb *STKCallback) itemString(name string) string {
	v, ok := cb.item(name)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

// Amount returns the paid amount as a decimal string, if present.
func (cb *STKCallback) Amount() string {
	return cb.itemString("Amount")
}

func (cb *STKCallback) ReceiptNumber() string {
	return cb.itemString("MpesaReceiptNumber")
}

// TransactionDate is Daraja's YYYYMMDDHHMMSS completion time.
func (cb *STKCallback) TransactionDate() string {
	return cb.itemString("TransactionDate")
}

func (cb *STKCallback) PhoneNumber() string {
	return cb.itemString("PhoneNumber")
}
