package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

type assertError struct{}

func (assertError) Error() string { return "err" }

func fakeResponse(status int) *resty.Response {
	return &resty.Response{RawResponse: &http.Response{StatusCode: status}}
}

func mustJSON(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func newTestGateway(baseURL string) *PhemexGateway {
	return NewPhemexGateway("test-key", "test-secret", Config{
		BaseURL:        baseURL,
		RequestTimeout: 5 * time.Second,
		RetryAttempts:  1,
	})
}

// TestIsRetryableResp verifies retry decisions for assorted errors and HTTP responses.
func TestIsRetryableResp(t *testing.T) {
	cases := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{name: "error present", err: assertError{}, want: true},
		{name: "server error", resp: fakeResponse(500), want: true},
		{name: "too many requests", resp: fakeResponse(429), want: true},
		{name: "timeout", resp: fakeResponse(408), want: true},
		{name: "ok response", resp: fakeResponse(200), want: false},
		{name: "client error", resp: fakeResponse(400), want: false},
		{name: "nil resp", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := isRetryableResp(tc.resp, tc.err)
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

// TestSignRequest ensures HMAC signing matches the expected digest for a fixed payload and secret.
func TestSignRequest(t *testing.T) {
	expiry := int64(1700000000)
	expectedMac := hmac.New(sha256.New, []byte("secret"))
	expectedMac.Write([]byte("/testpath" + "query" + "1700000000" + "body"))
	expected := hex.EncodeToString(expectedMac.Sum(nil))

	got := signRequest("/testpath", "query", "body", expiry, "secret")
	if got != expected {
		t.Fatalf("expected signature %s, got %s", expected, got)
	}
}

func TestPhemexSides(t *testing.T) {
	cases := []struct {
		side      string
		closing   bool
		wantOrder string
		wantPos   string
	}{
		{"long", false, "Buy", "Long"},
		{"long", true, "Sell", "Long"},
		{"short", false, "Sell", "Short"},
		{"short", true, "Buy", "Short"},
	}

	for _, tc := range cases {
		orderSide, posSide := phemexSides(tc.side, tc.closing)
		if orderSide != tc.wantOrder || posSide != tc.wantPos {
			t.Fatalf("phemexSides(%q, %v) = %q/%q, want %q/%q",
				tc.side, tc.closing, orderSide, posSide, tc.wantOrder, tc.wantPos)
		}
	}
}

func TestFillPrice_PrefersExecutionPrice(t *testing.T) {
	p := &orderPayload{PriceRp: "100", AvgPx: "100.5"}
	fill, err := p.fillPrice()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fill.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("expected 100.5, got %s", fill.String())
	}

	p = &orderPayload{PriceRp: "100"}
	fill, _ = p.fillPrice()
	if !fill.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected fallback to priceRp, got %s", fill.String())
	}

	p = &orderPayload{}
	if _, err := p.fillPrice(); err == nil {
		t.Fatal("expected error for missing price")
	}
}

func TestOpenPosition(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/g-orders" || r.Method != http.MethodPost {
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-phemex-access-token") != "test-key" {
			t.Error("missing access token header")
		}
		if r.Header.Get("x-phemex-request-signature") == "" {
			t.Error("missing signature header")
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(APIResponse{Code: 0, Data: mustJSON(map[string]string{
			"orderID":     "ex-42",
			"execPriceRp": "100.5",
		})})
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	result, err := g.OpenPosition(context.Background(), "BTCUSDT", "long", decimal.NewFromInt(2), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.OrderID != "ex-42" {
		t.Fatalf("expected order id ex-42, got %q", result.OrderID)
	}
	if !result.FillPrice.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("expected fill 100.5, got %s", result.FillPrice.String())
	}

	if gotBody["side"] != "Buy" || gotBody["posSide"] != "Long" {
		t.Fatalf("unexpected sides: %+v", gotBody)
	}
	if gotBody["reduceOnly"] != false {
		t.Fatalf("open order must not be reduce-only: %+v", gotBody)
	}
}

func TestClosePosition_ReduceOnlyWithClientOrderID(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(APIResponse{Code: 0, Data: mustJSON(map[string]string{
			"orderID":     "ex-43",
			"execPriceRp": "98",
		})})
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	fill, err := g.ClosePosition(context.Background(), "BTCUSDT", "long", decimal.NewFromInt(5), "pm-pos-1-sl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fill.Equal(decimal.RequireFromString("98")) {
		t.Fatalf("expected fill 98, got %s", fill.String())
	}

	if gotBody["reduceOnly"] != true {
		t.Fatalf("close order must be reduce-only: %+v", gotBody)
	}
	if gotBody["clOrdID"] != "pm-pos-1-sl" {
		t.Fatalf("client order id not forwarded: %+v", gotBody)
	}
	if gotBody["side"] != "Sell" {
		t.Fatalf("closing a long must sell: %+v", gotBody)
	}
}

func TestPlaceOrder_PermanentRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(APIResponse{Code: 11001, Msg: "insufficient balance"})
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	_, err := g.OpenPosition(context.Background(), "BTCUSDT", "long", decimal.NewFromInt(2), 10)
	if err == nil {
		t.Fatal("expected error")
	}

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %T", err)
	}
	if !execErr.Permanent {
		t.Fatal("code 11001 must be permanent")
	}
	if !IsPermanentExecutionError(err) {
		t.Fatal("IsPermanentExecutionError must report true")
	}
}

func TestPlaceOrder_TransientRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(APIResponse{Code: 39999, Msg: "internal"})
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	_, err := g.OpenPosition(context.Background(), "BTCUSDT", "long", decimal.NewFromInt(1), 1)

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %T", err)
	}
	if execErr.Permanent {
		t.Fatal("unknown codes must stay retryable")
	}
}
