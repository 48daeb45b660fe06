package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"positionmanager/src/auth"
	"positionmanager/src/manager"
	"positionmanager/src/repository"
	"positionmanager/src/router"
)

// SignalWebhookHandler ingests one trading signal, routes it and executes the
// resulting directive. The response always reports what happened to the
// signal, including ignored duplicates and unresolvable closes.
func SignalWebhookHandler(r *router.Router, m *manager.PositionManager, exceptions *repository.ExceptionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		user, ok := auth.GetUserFromContext(req.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload router.InboundSignal
		decoder := json.NewDecoder(req.Body)
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid signal payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		directive, err := r.Route(req.Context(), user.ID, &payload)
		if err != nil {
			var validationErr *router.ValidationError
			if errors.As(err, &validationErr) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
					"status": "failed",
					"reason": validationErr.Error(),
				})
				return
			}

			Capture(req.Context(), exceptions, "position_manager", "handler", "Route", "error", err, map[string]interface{}{
				"signal_id": payload.SignalID,
				"symbol":    payload.Symbol,
			})
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}

		switch directive.Action {
		case router.ActionIgnore:
			writeJSON(w, http.StatusOK, map[string]string{
				"status":    "ignored",
				"reason":    directive.Reason,
				"signal_id": payload.SignalID,
			})

		case router.ActionOpen:
			position, err := m.OpenFromDirective(req.Context(), r, directive, &payload)
			if err != nil {
				Capture(req.Context(), exceptions, "position_manager", "handler", "OpenFromDirective", "error", err, map[string]interface{}{
					"signal_id": payload.SignalID,
				})
				writeJSON(w, http.StatusBadGateway, map[string]string{
					"status": "failed",
					"reason": err.Error(),
				})
				return
			}

			writeJSON(w, http.StatusCreated, map[string]interface{}{
				"status":   "executed",
				"position": position,
			})

		case router.ActionClose:
			if err := m.CloseFromDirective(req.Context(), r, directive); err != nil {
				Capture(req.Context(), exceptions, "position_manager", "handler", "CloseFromDirective", "error", err, map[string]interface{}{
					"signal_id": payload.SignalID,
				})
				writeJSON(w, http.StatusBadGateway, map[string]string{
					"status": "failed",
					"reason": err.Error(),
				})
				return
			}

			writeJSON(w, http.StatusOK, map[string]string{
				"status":    "executed",
				"signal_id": payload.SignalID,
			})
		}
	}
}
