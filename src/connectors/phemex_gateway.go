// REST execution gateway for Phemex USDT-M futures.
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

// APIResponse is the envelope every authenticated Phemex endpoint returns.
type APIResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Non-retryable exchange rejection codes: bad symbol, bad quantity,
// insufficient balance, reduce-only violation.
var permanentErrorCodes = map[int]bool{
	10001: true,
	11001: true,
	11006: true,
	11082: true,
}

// PhemexGateway implements ExecutionGateway against the Phemex REST API.
type PhemexGateway struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

// NewPhemexGateway builds an authenticated client with bounded retry/backoff.
func NewPhemexGateway(apiKey, apiSecret string, config Config) *PhemexGateway {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://testnet-api.phemex.com"
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(config.RequestTimeout).
		SetRetryCount(config.RetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &PhemexGateway{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      httpClient,
	}
}

func signRequest(path, query, body string, expiry int64, secret string) string {
	base := path
	if query != "" {
		base += query
	}
	base += fmt.Sprintf("%d", expiry)
	if body != "" {
		base += body
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *PhemexGateway) doRequest(ctx context.Context, method, path, query string, body []byte) (*APIResponse, error) {
	expiry := time.Now().Add(1 * time.Minute).Unix()

	sig := signRequest(path, query, string(body), expiry, g.apiSecret)

	req := g.http.R().
		SetContext(ctx).
		SetHeader("x-phemex-access-token", g.apiKey).
		SetHeader("x-phemex-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-phemex-request-signature", sig)

	if query != "" {
		req = req.SetQueryString(query)
	}
	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	raw := resp.Body()

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(raw))
	}

	var apiResp APIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, err
	}

	return &apiResp, nil
}

type orderPayload struct {
	OrderID string `json:"orderID"`
	PriceRp string `json:"priceRp"`
	AvgPx   string `json:"execPriceRp"`
}

func (g *PhemexGateway) placeOrder(ctx context.Context, op, symbol, side, posSide, qty, clOrdID string, reduce bool) (*orderPayload, error) {
	body := map[string]interface{}{
		"symbol":      symbol,
		"side":        side,
		"posSide":     posSide,
		"ordType":     "Market",
		"orderQtyRq":  qty,
		"reduceOnly":  reduce,
		"clOrdID":     clOrdID,
		"timeInForce": "ImmediateOrCancel",
	}

	b, _ := json.Marshal(body)
	resp, err := g.doRequest(ctx, "POST", "/g-orders", "", b)
	if err != nil {
		return nil, &ExecutionError{Op: op, Msg: err.Error()}
	}

	if resp.Code != 0 {
		logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"side":   side,
			"code":   resp.Code,
			"msg":    resp.Msg,
		}).Error("Phemex returned non-zero code")

		return nil, &ExecutionError{
			Op:        op,
			Code:      resp.Code,
			Msg:       resp.Msg,
			Permanent: permanentErrorCodes[resp.Code],
		}
	}

	var payload orderPayload
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		return nil, &ExecutionError{Op: op, Msg: fmt.Sprintf("decode response: %v", err)}
	}

	return &payload, nil
}

func (p *orderPayload) fillPrice() (decimal.Decimal, error) {
	raw := p.AvgPx
	if raw == "" {
		raw = p.PriceRp
	}
	if raw == "" {
		return decimal.Zero, fmt.Errorf("order response carries no price")
	}
	return decimal.NewFromString(raw)
}

// phemexSides maps the position side onto the exchange's order side and
// posSide pair for an opening order.
func phemexSides(side string, closing bool) (orderSide, posSide string) {
	posSide = "Long"
	orderSide = "Buy"
	if side == "short" {
		posSide = "Short"
		orderSide = "Sell"
	}
	if closing {
		if orderSide == "Buy" {
			orderSide = "Sell"
		} else {
			orderSide = "Buy"
		}
	}
	return orderSide, posSide
}

// OpenPosition places a market entry order and returns the exchange order id
// and fill price.
func (g *PhemexGateway) OpenPosition(ctx context.Context, symbol, side string, quantity decimal.Decimal, leverage int) (*OpenResult, error) {
	orderSide, posSide := phemexSides(side, false)
	clOrdID := fmt.Sprintf("pm-open-%d", time.Now().UnixNano())

	payload, err := g.placeOrder(ctx, "OpenPosition", symbol, orderSide, posSide, quantity.String(), clOrdID, false)
	if err != nil {
		return nil, err
	}

	fill, err := payload.fillPrice()
	if err != nil {
		return nil, &ExecutionError{Op: "OpenPosition", Msg: err.Error()}
	}

	logger.WithFields(map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"qty":      quantity,
		"order_id": payload.OrderID,
		"fill":     fill,
	}).Info("position opened on exchange")

	return &OpenResult{OrderID: payload.OrderID, FillPrice: fill}, nil
}

// ClosePosition reduces the position by quantity with a reduce-only market
// order. clientOrderID makes the call idempotent on the exchange side.
func (g *PhemexGateway) ClosePosition(ctx context.Context, symbol, side string, quantity decimal.Decimal, clientOrderID string) (decimal.Decimal, error) {
	orderSide, posSide := phemexSides(side, true)

	payload, err := g.placeOrder(ctx, "ClosePosition", symbol, orderSide, posSide, quantity.String(), clientOrderID, true)
	if err != nil {
		return decimal.Zero, err
	}

	fill, err := payload.fillPrice()
	if err != nil {
		return decimal.Zero, &ExecutionError{Op: "ClosePosition", Msg: err.Error()}
	}

	logger.WithFields(map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"qty":      quantity,
		"cl_ord":   clientOrderID,
		"order_id": payload.OrderID,
		"fill":     fill,
	}).Info("position reduced on exchange")

	return fill, nil
}
