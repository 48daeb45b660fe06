package model

import "time"

const (
	CloseTriggerTakeProfit  = "take_profit"
	CloseTriggerStopLoss    = "stop_loss"
	CloseTriggerLiquidation = "liquidation"
	CloseTriggerManual      = "manual"
)

// PartialCloseEvent is an append-only audit record of every close executed
// against a position, whether trigger-driven or user-initiated.
type PartialCloseEvent struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	PositionID string `gorm:"size:64;index" json:"position_id"`
	UserID     uint   `gorm:"index" json:"user_id"`

	Trigger     string  `gorm:"size:20" json:"trigger"`
	LevelNumber *int    `json:"level_number,omitempty"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	Pnl         float64 `json:"pnl"`

	CreatedAt time.Time `json:"created_at"`
}

func (PartialCloseEvent) TableName() string {
	return "partial_close_events"
}
