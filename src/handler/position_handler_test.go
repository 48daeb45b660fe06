package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"positionmanager/src/auth"
	"positionmanager/src/manager"
	"positionmanager/src/model"
	"positionmanager/src/store"
)

func newPositionFixture(positions *memPositions, gw *stubGateway) (*chi.Mux, *manager.PositionManager) {
	positionStore := store.NewPositionStore(positions)
	config := manager.Config{MaintenanceMarginRate: 0.005, DefaultLeverage: 1, MaxLeverage: 100}
	m := manager.NewPositionManager(config, positionStore, gw, memEvents{}, nil)

	r := chi.NewRouter()
	r.Get("/positions", ListPositionsHandler(m))
	r.Post("/positions", CreatePositionHandler(m))
	r.Post("/positions/{positionID}/take-profit", AddTakeProfitHandler(m))
	r.Post("/positions/{positionID}/stop-loss", SetStopLossHandler(m))
	r.Post("/positions/{positionID}/close", ClosePositionHandler(m))
	r.Get("/positions/{positionID}/events", PositionEventsHandler(m))

	return r, m
}

func authed(req *http.Request, userID uint) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), &model.User{ID: userID, Active: true}))
}

func seedPosition() *model.Position {
	return &model.Position{
		PositionID:        "pos-1",
		UserID:            7,
		Symbol:            "BTCUSDT",
		Side:              model.SideLong,
		EntryPrice:        100,
		Quantity:          10,
		RemainingQuantity: 10,
		Leverage:          1,
		Status:            model.PositionStatusOpen,
	}
}

func TestListPositions(t *testing.T) {
	positions := newMemPositions(seedPosition())
	mux, _ := newPositionFixture(positions, &stubGateway{})

	req := authed(httptest.NewRequest(http.MethodGet, "/positions", nil), 7)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var got []model.Position
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Len(t, got, 1)
	assert.Equal(t, "pos-1", got[0].PositionID)
}

func TestListPositions_Unauthorized(t *testing.T) {
	mux, _ := newPositionFixture(newMemPositions(), &stubGateway{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/positions", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreatePosition(t *testing.T) {
	positions := newMemPositions()
	gw := &stubGateway{fill: decimal.NewFromInt(100)}
	mux, _ := newPositionFixture(positions, gw)

	body, _ := json.Marshal(map[string]interface{}{
		"symbol":   "BTCUSDT",
		"side":     "long",
		"quantity": 2.0,
		"leverage": 5,
	})
	req := authed(httptest.NewRequest(http.MethodPost, "/positions", bytes.NewReader(body)), 7)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, 1, gw.openCalls)

	var created model.Position
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, uint(7), created.UserID)
	assert.Equal(t, 5, created.Leverage)
}

func TestCreatePosition_MissingSide(t *testing.T) {
	mux, _ := newPositionFixture(newMemPositions(), &stubGateway{})

	body, _ := json.Marshal(map[string]interface{}{"symbol": "BTCUSDT", "quantity": 1.0})
	req := authed(httptest.NewRequest(http.MethodPost, "/positions", bytes.NewReader(body)), 7)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAddTakeProfitEndpoint(t *testing.T) {
	positions := newMemPositions(seedPosition())
	mux, _ := newPositionFixture(positions, &stubGateway{})

	body, _ := json.Marshal(map[string]interface{}{
		"price_type":       model.PriceTypePercentage,
		"value":            5.0,
		"close_percentage": 50.0,
	})
	req := authed(httptest.NewRequest(http.MethodPost, "/positions/pos-1/take-profit", bytes.NewReader(body)), 7)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)

	got, _ := positions.FindByPositionID(context.Background(), "pos-1")
	assert.Len(t, got.TakeProfits, 1)
	assert.Equal(t, float64(105), got.TakeProfits[0].TargetPrice)
}

func TestAddTakeProfitEndpoint_UnknownPosition(t *testing.T) {
	mux, _ := newPositionFixture(newMemPositions(), &stubGateway{})

	body, _ := json.Marshal(map[string]interface{}{"close_percentage": 50.0})
	req := authed(httptest.NewRequest(http.MethodPost, "/positions/missing/take-profit", bytes.NewReader(body)), 7)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSetStopLossEndpoint(t *testing.T) {
	positions := newMemPositions(seedPosition())
	mux, _ := newPositionFixture(positions, &stubGateway{})

	body, _ := json.Marshal(map[string]interface{}{
		"price_type":        model.PriceTypePercentage,
		"value":             2.0,
		"trailing":          true,
		"trailing_distance": 2.0,
	})
	req := authed(httptest.NewRequest(http.MethodPost, "/positions/pos-1/stop-loss", bytes.NewReader(body)), 7)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)

	got, _ := positions.FindByPositionID(context.Background(), "pos-1")
	assert.NotNil(t, got.StopLoss)
	assert.True(t, got.StopLoss.Trailing)
	assert.Equal(t, float64(98), got.StopLoss.TargetPrice)
}

func TestClosePositionEndpoint(t *testing.T) {
	positions := newMemPositions(seedPosition())
	gw := &stubGateway{fill: decimal.NewFromInt(110)}
	mux, _ := newPositionFixture(positions, gw)

	body, _ := json.Marshal(map[string]interface{}{"percentage": 50.0})
	req := authed(httptest.NewRequest(http.MethodPost, "/positions/pos-1/close", bytes.NewReader(body)), 7)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	got, _ := positions.FindByPositionID(context.Background(), "pos-1")
	assert.Equal(t, float64(5), got.RemainingQuantity)
	assert.Equal(t, model.PositionStatusPartiallyClosed, got.Status)
}

func TestClosePositionEndpoint_DefaultsToFullClose(t *testing.T) {
	positions := newMemPositions(seedPosition())
	gw := &stubGateway{fill: decimal.NewFromInt(110)}
	mux, _ := newPositionFixture(positions, gw)

	req := authed(httptest.NewRequest(http.MethodPost, "/positions/pos-1/close", bytes.NewReader([]byte("{}"))), 7)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	got, _ := positions.FindByPositionID(context.Background(), "pos-1")
	assert.Equal(t, model.PositionStatusClosed, got.Status)
}

func TestPositionEndpoints_ForeignPositionIsNotFound(t *testing.T) {
	positions := newMemPositions(seedPosition())
	gw := &stubGateway{fill: decimal.NewFromInt(110)}
	mux, _ := newPositionFixture(positions, gw)

	requests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/positions/pos-1/take-profit", `{"close_percentage":50}`},
		{http.MethodPost, "/positions/pos-1/stop-loss", `{"value":2}`},
		{http.MethodPost, "/positions/pos-1/close", `{}`},
		{http.MethodGet, "/positions/pos-1/events", ""},
	}

	// pos-1 belongs to user 7; user 8 must not see or touch it.
	for _, tc := range requests {
		req := authed(httptest.NewRequest(tc.method, tc.path, bytes.NewReader([]byte(tc.body))), 8)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code, "%s %s", tc.method, tc.path)
	}

	assert.Equal(t, 0, gw.closeCalls)

	got, _ := positions.FindByPositionID(context.Background(), "pos-1")
	assert.Equal(t, float64(10), got.RemainingQuantity)
	assert.Equal(t, model.PositionStatusOpen, got.Status)
}

func TestPositionEndpoints_Unauthenticated(t *testing.T) {
	positions := newMemPositions(seedPosition())
	mux, _ := newPositionFixture(positions, &stubGateway{})

	req := httptest.NewRequest(http.MethodPost, "/positions/pos-1/close", bytes.NewReader([]byte("{}")))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
