package model

import "time"

const (
	SignalTypeOpenLong      = "open_long"
	SignalTypeCloseLong     = "close_long"
	SignalTypeOpenShort     = "open_short"
	SignalTypeCloseShort    = "close_short"
	SignalTypeOpenSpotBuy   = "open_spot_buy"
	SignalTypeCloseSpotSell = "close_spot_sell"
)

const (
	SignalStatusReceived = "received"
	SignalStatusExecuted = "executed"
	SignalStatusIgnored  = "ignored"
	SignalStatusFailed   = "failed"
)

// Signal is one inbound trading instruction. The unique index on signal_id is
// the idempotency guard: a retried delivery hits the constraint instead of
// producing a second row.
type Signal struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	SignalID         string `gorm:"size:64;uniqueIndex;not null" json:"signal_id"`
	UserID           uint   `gorm:"index" json:"user_id"`
	SignalType       string `gorm:"size:30" json:"signal_type"`
	Symbol           string `gorm:"size:30;index" json:"symbol"`
	OriginalSignalID string `gorm:"size:64;index" json:"original_signal_id,omitempty"`
	Status           string `gorm:"size:20;not null;default:received" json:"status"`
	Reason           string `gorm:"size:255" json:"reason,omitempty"`
	RawPayload       string `gorm:"type:text" json:"raw_payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Signal) TableName() string {
	return "signals"
}

// IsOpenType reports whether the signal type opens a new position.
func IsOpenType(signalType string) bool {
	switch signalType {
	case SignalTypeOpenLong, SignalTypeOpenShort, SignalTypeOpenSpotBuy:
		return true
	}
	return false
}

// IsCloseType reports whether the signal type closes an existing position by
// reference.
func IsCloseType(signalType string) bool {
	switch signalType {
	case SignalTypeCloseLong, SignalTypeCloseShort, SignalTypeCloseSpotSell:
		return true
	}
	return false
}

// SideForSignalType maps an open signal type to the position side it creates.
func SideForSignalType(signalType string) string {
	if signalType == SignalTypeOpenShort {
		return SideShort
	}
	return SideLong
}

// MarketTypeForSignalType maps a signal type to the market it trades on.
func MarketTypeForSignalType(signalType string) string {
	switch signalType {
	case SignalTypeOpenSpotBuy, SignalTypeCloseSpotSell:
		return MarketTypeSpot
	}
	return MarketTypeFutures
}
