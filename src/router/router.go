// Package router validates, deduplicates and classifies inbound trading
// signals and resolves close-by-reference signals to open positions.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"positionmanager/src/model"
	"positionmanager/src/repository"
)

// InboundSignal is the payload contract consumed from the chat front end or
// webhook transport. The transports themselves live outside this service.
type InboundSignal struct {
	SignalID   string  `json:"signal_id,omitempty"`
	SignalType string  `json:"signal_type"`
	Symbol     string  `json:"symbol"`
	OriginalID string  `json:"original_id,omitempty"`
	Price      float64 `json:"price,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	Leverage   int     `json:"leverage,omitempty"`
}

// ValidationError marks a malformed signal. The signal is recorded as failed
// and never executed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: %s %s", e.Field, e.Reason)
}

// ErrNoOpenPosition is returned when a close-by-reference signal resolves to
// nothing. The signal is recorded as ignored, never silently dropped.
var ErrNoOpenPosition = errors.New("no matching open position")

type Action string

const (
	ActionOpen   Action = "open"
	ActionClose  Action = "close"
	ActionIgnore Action = "ignore"
)

// Directive is the router's decision for one signal.
type Directive struct {
	Action     Action
	Reason     string
	Side       string
	MarketType string
	Signal     *model.Signal
	// Positions holds the open positions a close directive targets.
	Positions []model.Position
}

// Legacy signal type aliases accepted from older webhook senders.
var signalTypeAliases = map[string]string{
	"buy":   model.SignalTypeOpenLong,
	"sell":  model.SignalTypeCloseLong,
	"long":  model.SignalTypeOpenLong,
	"short": model.SignalTypeOpenShort,
}

type signalRepository interface {
	Create(ctx context.Context, signal *model.Signal) error
	FindBySignalID(ctx context.Context, signalID string) (*model.Signal, error)
	UpdateStatus(ctx context.Context, signalID, status, reason string) error
}

type positionResolver interface {
	ListBySignal(ctx context.Context, userID uint, signalID, symbol string) ([]model.Position, error)
}

// Router owns the Signal records: exactly one row write per routed signal,
// idempotent on signal_id.
type Router struct {
	signals   signalRepository
	positions positionResolver
}

func NewRouter(signals signalRepository, positions positionResolver) *Router {
	return &Router{signals: signals, positions: positions}
}

// NormalizeType maps legacy aliases onto canonical signal types.
func NormalizeType(signalType string) string {
	t := strings.ToLower(strings.TrimSpace(signalType))
	if canonical, ok := signalTypeAliases[t]; ok {
		return canonical
	}
	return t
}

// Validate checks the payload before any persistence happens.
func (r *Router) Validate(sig *InboundSignal) error {
	if strings.TrimSpace(sig.Symbol) == "" {
		return &ValidationError{Field: "symbol", Reason: "is required"}
	}

	t := NormalizeType(sig.SignalType)
	if !model.IsOpenType(t) && !model.IsCloseType(t) {
		return &ValidationError{Field: "signal_type", Reason: fmt.Sprintf("%q not recognized", sig.SignalType)}
	}

	if model.IsCloseType(t) && strings.TrimSpace(sig.OriginalID) == "" {
		return &ValidationError{Field: "original_id", Reason: "is required for close signals"}
	}

	if sig.Leverage < 0 {
		return &ValidationError{Field: "leverage", Reason: "must be >= 1"}
	}

	return nil
}

// Route classifies the signal and persists exactly one Signal record.
//
// Duplicates (same signal_id seen before, including concurrent retries racing
// on the unique constraint) come back as an ignore directive and are not an
// operator-visible failure.
func (r *Router) Route(ctx context.Context, userID uint, sig *InboundSignal) (*Directive, error) {
	if err := r.Validate(sig); err != nil {
		r.recordFailed(ctx, userID, sig, err)
		return nil, err
	}

	signalType := NormalizeType(sig.SignalType)
	symbol := strings.ToUpper(strings.TrimSpace(sig.Symbol))

	if sig.SignalID == "" {
		sig.SignalID = generateSignalID(signalType, symbol)
	}

	raw, _ := json.Marshal(sig)

	record := &model.Signal{
		SignalID:         sig.SignalID,
		UserID:           userID,
		SignalType:       signalType,
		Symbol:           symbol,
		OriginalSignalID: sig.OriginalID,
		Status:           model.SignalStatusReceived,
		RawPayload:       string(raw),
	}

	if model.IsOpenType(signalType) {
		if err := r.signals.Create(ctx, record); err != nil {
			if errors.Is(err, repository.ErrDuplicateSignal) {
				return r.duplicateDirective(sig.SignalID), nil
			}
			return nil, err
		}

		return &Directive{
			Action:     ActionOpen,
			Side:       model.SideForSignalType(signalType),
			MarketType: model.MarketTypeForSignalType(signalType),
			Signal:     record,
		}, nil
	}

	// Close by reference: resolve the open positions created by the
	// originating signal for this user and symbol.
	positions, err := r.positions.ListBySignal(ctx, userID, sig.OriginalID, symbol)
	if err != nil {
		return nil, err
	}

	if len(positions) == 0 {
		record.Status = model.SignalStatusIgnored
		record.Reason = ErrNoOpenPosition.Error()

		if err := r.signals.Create(ctx, record); err != nil {
			if errors.Is(err, repository.ErrDuplicateSignal) {
				return r.duplicateDirective(sig.SignalID), nil
			}
			return nil, err
		}

		logger.WithFields(map[string]interface{}{
			"signal_id":   sig.SignalID,
			"original_id": sig.OriginalID,
			"symbol":      symbol,
		}).Info("close signal ignored, nothing to close")

		return &Directive{Action: ActionIgnore, Reason: record.Reason, Signal: record}, nil
	}

	if err := r.signals.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateSignal) {
			return r.duplicateDirective(sig.SignalID), nil
		}
		return nil, err
	}

	return &Directive{
		Action:    ActionClose,
		Signal:    record,
		Positions: positions,
	}, nil
}

// recordFailed persists a malformed signal with status failed so every inbound
// instruction leaves a record, even ones that never execute.
func (r *Router) recordFailed(ctx context.Context, userID uint, sig *InboundSignal, cause error) {
	if sig.SignalID == "" {
		sig.SignalID = generateSignalID(NormalizeType(sig.SignalType), strings.ToUpper(strings.TrimSpace(sig.Symbol)))
	}

	raw, _ := json.Marshal(sig)

	record := &model.Signal{
		SignalID:         sig.SignalID,
		UserID:           userID,
		SignalType:       NormalizeType(sig.SignalType),
		Symbol:           strings.ToUpper(strings.TrimSpace(sig.Symbol)),
		OriginalSignalID: sig.OriginalID,
		Status:           model.SignalStatusFailed,
		Reason:           cause.Error(),
		RawPayload:       string(raw),
	}

	if err := r.signals.Create(ctx, record); err != nil && !errors.Is(err, repository.ErrDuplicateSignal) {
		logger.WithError(err).WithField("signal_id", sig.SignalID).
			Error("failed to record malformed signal")
	}
}

func (r *Router) duplicateDirective(signalID string) *Directive {
	logger.WithField("signal_id", signalID).Info("duplicate signal, ignoring")
	return &Directive{Action: ActionIgnore, Reason: "duplicate"}
}

// MarkExecuted records that the directive produced its state change.
func (r *Router) MarkExecuted(ctx context.Context, signalID string) error {
	return r.signals.UpdateStatus(ctx, signalID, model.SignalStatusExecuted, "")
}

// MarkFailed records a terminal failure for the signal. Signal processing is
// never retried; duplicates are the retry mechanism.
func (r *Router) MarkFailed(ctx context.Context, signalID, reason string) error {
	return r.signals.UpdateStatus(ctx, signalID, model.SignalStatusFailed, reason)
}

// generateSignalID builds a deterministic-looking unique id for signals that
// arrive without one.
func generateSignalID(signalType, symbol string) string {
	return fmt.Sprintf("%s-%s-%s", signalType, symbol, uuid.NewString())
}
