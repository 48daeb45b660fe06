package risk

import (
	"positionmanager/src/model"

	"github.com/shopspring/decimal"
)

// DefaultMaintenanceMarginRate mirrors the exchange tier-1 maintenance margin
// for the supported perpetual contracts.
const DefaultMaintenanceMarginRate = 0.005

var one = decimal.NewFromInt(1)
var hundred = decimal.NewFromInt(100)

// LiquidationPrice returns the adverse price at which the exchange force-closes
// a leveraged position. Returns nil for unleveraged positions, which cannot be
// liquidated.
//
// Long:  entry * (1 - 1/leverage + mmr)
// Short: entry * (1 + 1/leverage - mmr)
func LiquidationPrice(entry decimal.Decimal, leverage int, maintenanceMarginRate decimal.Decimal, side string) *decimal.Decimal {
	if leverage <= 1 {
		return nil
	}

	inv := one.Div(decimal.NewFromInt(int64(leverage)))

	var price decimal.Decimal
	if side == model.SideShort {
		price = entry.Mul(one.Add(inv).Sub(maintenanceMarginRate))
	} else {
		price = entry.Mul(one.Sub(inv).Add(maintenanceMarginRate))
	}

	if price.IsNegative() {
		price = decimal.Zero
	}
	return &price
}

// RealizedPnl computes the profit of closing qty at exit for a position entered
// at entry. Leverage does not change the absolute P&L of a fixed base quantity,
// only the margin it was carried on.
func RealizedPnl(entry, exit, qty decimal.Decimal, side string) decimal.Decimal {
	diff := exit.Sub(entry)
	if side == model.SideShort {
		diff = entry.Sub(exit)
	}
	return diff.Mul(qty)
}

// UnrealizedPnl is the mark-to-market P&L of the remaining quantity.
func UnrealizedPnl(entry, current, remaining decimal.Decimal, side string) decimal.Decimal {
	return RealizedPnl(entry, current, remaining, side)
}

// ResolveTargetPrice converts a percentage or absolute target request into an
// absolute target. profitSide=true places a percentage target in the favorable
// direction from entry, profitSide=false in the adverse direction. Resolution
// happens once at creation time; the stored target is always absolute.
func ResolveTargetPrice(priceType string, value, entry decimal.Decimal, side string, profitSide bool) decimal.Decimal {
	if priceType == model.PriceTypeAbsolute {
		return value
	}

	pct := value.Div(hundred)

	// Direction of profit for a long is up, for a short it is down.
	up := side != model.SideShort
	if !profitSide {
		up = !up
	}

	if up {
		return entry.Mul(one.Add(pct))
	}
	return entry.Mul(one.Sub(pct))
}

// MarginAmount is the capital locked to carry qty at entry with the given
// leverage.
func MarginAmount(entry, qty decimal.Decimal, leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	return entry.Mul(qty).Div(decimal.NewFromInt(int64(leverage)))
}
