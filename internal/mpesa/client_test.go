package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPasskey = "bfb279f9aa9bdbcf158e97dd71a467cd2e0c893059b10f78e6b72ada1ed2c919"

type fakeDaraja struct {
	tokenCalls atomic.Int32
	lastPush   map[string]any
	lastQuery  map[string]any
	pushStatus int
	pushBody   string
	queryBody  string
	queryCode  int
}

func (f *fakeDaraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastPush))
		if f.pushStatus != 0 {
			w.WriteHeader(f.pushStatus)
		}
		_, _ = w.Write([]byte(f.pushBody))
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastQuery))
		if f.queryCode != 0 {
			w.WriteHeader(f.queryCode)
		}
		_, _ = w.Write([]byte(f.queryBody))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeDaraja) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Shortcode:      "174379",
		Passkey:        testPasskey,
		Timeout:        5 * time.Second,
	})
	c.now = func() time.Time { return time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC) }
	return c
}

func TestNew_BaseURLFromEnvironment(t *testing.T) {
	assert.Equal(t, SandboxURL, New(Config{}).base)
	assert.Equal(t, ProductionURL, New(Config{Environment: "production"}).base)
	assert.Equal(t, "http://local", New(Config{BaseURL: "http://local/"}).base)
	assert.Equal(t, "production", New(Config{Environment: "PRODUCTION"}).Environment())
	assert.False(t, New(Config{ConsumerKey: "k"}).IsConfigured())
}

func TestPassword(t *testing.T) {
	c := New(Config{Shortcode: "174379", Passkey: testPasskey})
	password, timestamp := c.Password(time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC))

	assert.Equal(t, "20260501123000", timestamp, "timestamps are in EAT")
	decoded, err := base64.StdEncoding.DecodeString(password)
	require.NoError(t, err)
	assert.Equal(t, "174379"+testPasskey+"20260501123000", string(decoded))
}

func TestFormatPhoneNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "0712345678", want: "254712345678"},
		{in: "+254 712-345-678", want: "254712345678"},
		{in: "712345678", want: "254712345678"},
		{in: "254712345678", want: "254712345678"},
		{in: "07123", err: true},
		{in: "07123456ab", err: true},
		{in: "", err: true},
	}
	for _, tt := range tests {
		got, err := FormatPhoneNumber(tt.in)
		if tt.err {
			assert.ErrorIs(t, err, ErrInvalidPhone, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestAccessToken_Cached(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f)

	tok, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	_, err = c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokenCalls.Load())

	c.now = func() time.Time { return time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC) }
	_, err = c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.tokenCalls.Load())
}

func TestAccessToken_BadCredentials(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f)
	c.cfg.ConsumerSecret = "wrong"

	_, err := c.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestInitiateSTKPush_Accepted(t *testing.T) {
	f := &fakeDaraja{pushBody: `{
		"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":"ws_CO_191220191020363925",
		"ResponseCode":"0",
		"ResponseDescription":"Success. Request accepted for processing",
		"CustomerMessage":"Success. Request accepted for processing"}`}
	c := newTestClient(t, f)

	res, err := c.InitiateSTKPush(context.Background(), STKPushRequest{
		PhoneNumber:      "0712 345 678",
		Amount:           150,
		AccountReference: "FinanceTrackerApp",
		TransactionDesc:  "Monthly savings deposit",
		CallbackURL:      "https://example.com/api/mpesa/callback",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", res.CheckoutRequestID)
	assert.Equal(t, "29115-34620561-1", res.MerchantRequestID)
	assert.Equal(t, "254712345678", res.PhoneNumber)

	assert.Equal(t, "174379", f.lastPush["BusinessShortCode"])
	assert.Equal(t, "CustomerPayBillOnline", f.lastPush["TransactionType"])
	assert.EqualValues(t, 150, f.lastPush["Amount"])
	assert.Equal(t, "254712345678", f.lastPush["PartyA"])
	assert.Equal(t, "174379", f.lastPush["PartyB"])
	assert.Equal(t, "254712345678", f.lastPush["PhoneNumber"])
	assert.Equal(t, "20260501123000", f.lastPush["Timestamp"])
	assert.Equal(t, "https://example.com/api/mpesa/callback", f.lastPush["CallBackURL"])
	assert.Equal(t, "FinanceTrack", f.lastPush["AccountReference"])
	assert.Equal(t, "Monthly savin", f.lastPush["TransactionDesc"])
}

func TestInitiateSTKPush_Rejected(t *testing.T) {
	f := &fakeDaraja{
		pushStatus: http.StatusBadRequest,
		pushBody:   `{"requestId":"1-2","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`,
	}
	c := newTestClient(t, f)

	_, err := c.InitiateSTKPush(context.Background(), STKPushRequest{PhoneNumber: "254712345678", Amount: 1})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "400.002.02", apiErr.Code)
	assert.Equal(t, "Bad Request - Invalid PhoneNumber", apiErr.Description)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestInitiateSTKPush_NonZeroResponseCode(t *testing.T) {
	f := &fakeDaraja{pushBody: `{"ResponseCode":"1","ResponseDescription":"Rejected"}`}
	c := newTestClient(t, f)

	_, err := c.InitiateSTKPush(context.Background(), STKPushRequest{PhoneNumber: "254712345678", Amount: 1})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "1", apiErr.Code)
	assert.Equal(t, "Rejected", apiErr.Description)
}

func TestInitiateSTKPush_Guards(t *testing.T) {
	_, err := New(Config{}).InitiateSTKPush(context.Background(), STKPushRequest{PhoneNumber: "254712345678", Amount: 1})
	assert.ErrorIs(t, err, ErrNotConfigured)

	c := New(Config{ConsumerKey: "k", ConsumerSecret: "s"})
	_, err = c.InitiateSTKPush(context.Background(), STKPushRequest{PhoneNumber: "254712345678", Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = c.InitiateSTKPush(context.Background(), STKPushRequest{PhoneNumber: "12", Amount: 5})
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestInitiateSTKPush_NetworkError(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f)
	_, err := c.AccessToken(context.Background())
	require.NoError(t, err)

	c.base = "http://127.0.0.1:1"
	_, err = c.InitiateSTKPush(context.Background(), STKPushRequest{PhoneNumber: "254712345678", Amount: 5})
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestQuerySTKPush(t *testing.T) {
	f := &fakeDaraja{queryBody: `{
		"ResponseCode":"0",
		"ResponseDescription":"The service request has been accepted successsfully",
		"MerchantRequestID":"22205-34066-1",
		"CheckoutRequestID":"ws_CO_13012021093521236557",
		"ResultCode":"1032",
		"ResultDesc":"Request cancelled by user"}`}
	c := newTestClient(t, f)

	res, err := c.QuerySTKPush(context.Background(), "ws_CO_13012021093521236557")
	require.NoError(t, err)
	code, desc, ok := res.Result()
	require.True(t, ok)
	assert.Equal(t, ResultCancelledByUser, code)
	assert.Equal(t, "Request cancelled by user", desc)
	assert.Equal(t, "ws_CO_13012021093521236557", f.lastQuery["CheckoutRequestID"])
	assert.Equal(t, "174379", f.lastQuery["BusinessShortCode"])
}

func TestQuerySTKPush_StillProcessing(t *testing.T) {
	f := &fakeDaraja{
		queryCode: http.StatusInternalServerError,
		queryBody: `{"requestId":"x","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`,
	}
	c := newTestClient(t, f)

	res, err := c.QuerySTKPush(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	_, _, ok := res.Result()
	assert.False(t, ok)
}

func TestQuerySTKPush_Error(t *testing.T) {
	f := &fakeDaraja{
		queryCode: http.StatusBadRequest,
		queryBody: `{"requestId":"x","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid CheckoutRequestID"}`,
	}
	c := newTestClient(t, f)

	_, err := c.QuerySTKPush(context.Background(), "nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "400.002.02", apiErr.Code)
}
