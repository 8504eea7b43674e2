// Package model defines the core domain types shared across the fund engine.
// All monetary values and unit counts use shopspring/decimal — never float64
// for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettingKeyUnitPrice is the only settings key the engine uses: the current
// price of one fund unit. It must be explicitly initialized; the engine never
// substitutes a default when it is absent.
const SettingKeyUnitPrice = "current_unit_price"

// Transaction types.
const (
	TxBuy    = "BUY"
	TxSell   = "SELL"
	TxPayout = "PAYOUT"
)

// Setting is a process-wide singleton key/value record. Mutated only by an
// explicit price update, never deleted.
type Setting struct {
	Key       string          `json:"key" db:"key"`
	Value     decimal.Decimal `json:"value" db:"value"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Investor is one fund participant. TotalUnits and TotalInvestedCapital are
// derived state: at all times they equal the net effect of replaying the
// investor's transaction history from zero. Created once, mutated only by
// deposits and liquidations, never deleted.
type Investor struct {
	ID                   string          `json:"id" db:"id"`
	Name                 string          `json:"name" db:"name"`
	Phone                string          `json:"phone,omitempty" db:"phone"`
	Email                string          `json:"email,omitempty" db:"email"`
	NationalID           string          `json:"national_id,omitempty" db:"national_id"`
	Notes                string          `json:"notes,omitempty" db:"notes"`
	JoinedAt             time.Time       `json:"joined_at" db:"joined_at"`
	TotalUnits           decimal.Decimal `json:"total_units" db:"total_units"`
	TotalInvestedCapital decimal.Decimal `json:"total_invested_capital" db:"total_invested_capital"`
}

// WAC is the weighted average cost per unit: invested capital divided by
// units held. Recomputed from current aggregates, never stored as a running
// field. Zero when the investor holds no units.
func (inv *Investor) WAC() decimal.Decimal {
	if inv.TotalUnits.IsZero() {
		return decimal.Zero
	}
	return inv.TotalInvestedCapital.Div(inv.TotalUnits)
}

// Transaction is an immutable ledger event, append-only. Once written it is
// never updated or deleted; it is the audit trail from which Investor
// aggregates must be reconstructable.
//
// Units and PricePerUnit are set for BUY/SELL and nil for PAYOUT.
// WACAtTime and RealizedProfit are set only for SELL.
type Transaction struct {
	ID             string           `json:"id" db:"id"`
	InvestorID     string           `json:"investor_id" db:"investor_id"`
	Type           string           `json:"type" db:"type"`
	Units          *decimal.Decimal `json:"units,omitempty" db:"units"`
	PricePerUnit   *decimal.Decimal `json:"price_per_unit,omitempty" db:"price_per_unit"`
	TotalAmount    decimal.Decimal  `json:"total_amount" db:"total_amount"`
	WACAtTime      *decimal.Decimal `json:"wac_at_time,omitempty" db:"wac_at_time"`
	RealizedProfit *decimal.Decimal `json:"realized_profit,omitempty" db:"realized_profit"`
	IdempotencyKey string           `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// FundSummary aggregates fund-wide totals for the dashboard.
type FundSummary struct {
	InvestorCount        int             `json:"investor_count"`
	TotalInvestedCapital decimal.Decimal `json:"total_invested_capital"`
	TotalPayouts         decimal.Decimal `json:"total_payouts"`
	// TotalCapitalReturned is Σ SELL.total_amount + Σ PAYOUT.total_amount:
	// all money that has flowed back to investors.
	TotalCapitalReturned decimal.Decimal `json:"total_capital_returned"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	PriceConfigured      bool            `json:"price_configured"`
}
