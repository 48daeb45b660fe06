package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"positionmanager/src/auth"
	"positionmanager/src/manager"
	"positionmanager/src/model"
	"positionmanager/src/store"
)

// ListPositionsHandler returns the authenticated user's open positions.
func ListPositionsHandler(m *manager.PositionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		positions, err := m.ListOpenPositions(r.Context(), user.ID)
		if err != nil {
			logger.WithError(err).Error("failed to list open positions")
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, positions)
	}
}

type createPositionPayload struct {
	PositionID string  `json:"position_id,omitempty"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	MarketType string  `json:"market_type,omitempty"`
	Quantity   float64 `json:"quantity"`
	Leverage   int     `json:"leverage,omitempty"`
}

// CreatePositionHandler opens a managed position directly from the chat/UI
// layer, without a routed signal.
func CreatePositionHandler(m *manager.PositionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload createPositionPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		if payload.Symbol == "" || (payload.Side != model.SideLong && payload.Side != model.SideShort) {
			http.Error(w, "symbol and side are required", http.StatusBadRequest)
			return
		}

		position, err := m.CreateManagedPosition(r.Context(), user.ID, manager.OpenParams{
			PositionID: payload.PositionID,
			Symbol:     payload.Symbol,
			Side:       payload.Side,
			MarketType: payload.MarketType,
			Quantity:   payload.Quantity,
			Leverage:   payload.Leverage,
		})
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusCreated, position)
	}
}

// ownedPosition resolves the positionID URL param and checks the position
// belongs to the authenticated user. A foreign position answers 404 so other
// users' ids are not revealed.
func ownedPosition(m *manager.PositionManager, w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := auth.GetUserFromContext(r.Context())
	if !ok || user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}

	positionID := chi.URLParam(r, "positionID")

	position, err := m.Position(r.Context(), positionID)
	if err != nil {
		if errors.Is(err, store.ErrPositionNotFound) {
			http.Error(w, "Position not found", http.StatusNotFound)
			return "", false
		}
		logger.WithError(err).WithField("position_id", positionID).Error("failed to load position")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return "", false
	}

	if position.UserID != user.ID {
		http.Error(w, "Position not found", http.StatusNotFound)
		return "", false
	}

	return positionID, true
}

// AddTakeProfitHandler attaches a TP level to an open position.
func AddTakeProfitHandler(m *manager.PositionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positionID, ok := ownedPosition(m, w, r)
		if !ok {
			return
		}

		var level model.TakeProfitLevel
		if err := json.NewDecoder(r.Body).Decode(&level); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		if err := m.AddTakeProfit(r.Context(), positionID, level); err != nil {
			if errors.Is(err, store.ErrPositionNotFound) {
				http.Error(w, "Position not found", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// SetStopLossHandler attaches or replaces the stop loss of an open position.
func SetStopLossHandler(m *manager.PositionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positionID, ok := ownedPosition(m, w, r)
		if !ok {
			return
		}

		var sl model.StopLoss
		if err := json.NewDecoder(r.Body).Decode(&sl); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		if err := m.SetStopLoss(r.Context(), positionID, sl); err != nil {
			if errors.Is(err, store.ErrPositionNotFound) {
				http.Error(w, "Position not found", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type closePositionPayload struct {
	Percentage float64 `json:"percentage"`
}

// ClosePositionHandler closes part or all of a position at market.
// percentage 100 (or omitted) closes the full remainder.
func ClosePositionHandler(m *manager.PositionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positionID, ok := ownedPosition(m, w, r)
		if !ok {
			return
		}

		var payload closePositionPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		if payload.Percentage == 0 {
			payload.Percentage = 100
		}

		ok, message := m.PartialClose(r.Context(), positionID, payload.Percentage)
		status := http.StatusOK
		if !ok {
			status = http.StatusUnprocessableEntity
		}

		writeJSON(w, status, map[string]interface{}{
			"ok":      ok,
			"message": message,
		})
	}
}

// PositionEventsHandler returns the close audit trail of a position.
func PositionEventsHandler(m *manager.PositionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positionID, ok := ownedPosition(m, w, r)
		if !ok {
			return
		}

		events, err := m.CloseHistory(r.Context(), positionID)
		if err != nil {
			logger.WithError(err).Error("failed to fetch close history")
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, events)
	}
}
