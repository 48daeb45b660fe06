package model

import "time"

const (
	PositionStatusOpen            = "open"
	PositionStatusPartiallyClosed = "partially_closed"
	PositionStatusClosed          = "closed"
)

const (
	SideLong  = "long"
	SideShort = "short"
)

const (
	MarketTypeSpot    = "spot"
	MarketTypeFutures = "futures"
)

const (
	PriceTypePercentage = "percentage"
	PriceTypeAbsolute   = "absolute"
)

// Position is one managed trade. It is created from an open signal (or directly
// through the API) and mutated only through the position store so that the
// trigger loop and the user-facing close path never interleave.
type Position struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	PositionID string `gorm:"size:64;uniqueIndex;not null" json:"position_id"`
	UserID     uint   `gorm:"index" json:"user_id"`
	// SignalID links back to the signal that opened this position. Close
	// signals referencing that id resolve here.
	SignalID   string `gorm:"size:64;index" json:"signal_id,omitempty"`
	Symbol     string `gorm:"size:30;index" json:"symbol"`
	Side       string `gorm:"size:10" json:"side"`
	MarketType string `gorm:"size:10;default:futures" json:"market_type"`

	EntryPrice        float64  `json:"entry_price"`
	Quantity          float64  `json:"quantity"`
	RemainingQuantity float64  `json:"remaining_quantity"`
	Leverage          int      `json:"leverage"`
	MarginAmount      float64  `json:"margin_amount"`
	LiquidationPrice  *float64 `json:"liquidation_price,omitempty"`
	RealizedPnl       float64  `json:"realized_pnl"`
	UnrealizedPnl     float64  `json:"unrealized_pnl"`
	CurrentPrice      float64  `json:"current_price"`

	ExchangeOrderID string `gorm:"size:64" json:"exchange_order_id,omitempty"`

	Status          string     `gorm:"size:50;not null;default:open" json:"status"`
	OpenTime        time.Time  `json:"open_time"`
	LastPriceUpdate *time.Time `json:"last_price_update,omitempty"`

	TakeProfits []TakeProfitLevel `gorm:"foreignKey:PositionRef;constraint:OnDelete:CASCADE" json:"take_profits,omitempty"`
	StopLoss    *StopLoss         `gorm:"foreignKey:PositionRef;constraint:OnDelete:CASCADE" json:"stop_loss,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// IsOpen reports whether the position can still be affected by triggers.
func (p *Position) IsOpen() bool {
	return p.Status != PositionStatusClosed && p.RemainingQuantity > 0
}

// TakeProfitLevel is one rung of the profit ladder. Target price is resolved to
// an absolute value once, when the level is attached.
type TakeProfitLevel struct {
	ID          uint `gorm:"primaryKey" json:"id"`
	PositionRef uint `gorm:"index" json:"-"`
	LevelNumber int  `json:"level_number"`

	PriceType       string   `gorm:"size:20" json:"price_type"`
	Value           float64  `json:"value"`
	TargetPrice     float64  `json:"target_price"`
	ClosePercentage float64  `json:"close_percentage"`
	Executed        bool     `json:"executed"`
	ExecutedPrice   *float64 `json:"executed_price,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TakeProfitLevel) TableName() string {
	return "take_profit_levels"
}

// StopLoss is the single loss cap of a position. When Trailing is set the
// target ratchets with favorable price moves but never loosens.
type StopLoss struct {
	ID          uint `gorm:"primaryKey" json:"id"`
	PositionRef uint `gorm:"uniqueIndex" json:"-"`

	PriceType        string   `gorm:"size:20" json:"price_type"`
	Value            float64  `json:"value"`
	TargetPrice      float64  `json:"target_price"`
	Trailing         bool     `json:"trailing"`
	TrailingDistance float64  `json:"trailing_distance"`
	Executed         bool     `json:"executed"`
	ExecutedPrice    *float64 `json:"executed_price,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StopLoss) TableName() string {
	return "stop_losses"
}
