// Package ledger implements the fund ledger engine: weighted-average-cost
// accounting for investor holdings, with an immutable transaction history
// that investor aggregates must always replay to.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hassad/fund-engine/internal/metrics"
	"github.com/hassad/fund-engine/internal/model"
	"github.com/hassad/fund-engine/internal/store"
)

// Lock contention is retried a bounded number of times with linear backoff
// before surfacing ErrConcurrencyConflict to the caller.
const (
	mutationAttempts = 3
	retryBackoff     = 25 * time.Millisecond
)

// Engine exposes the ledger operations. Per-investor serialization and the
// atomicity of the aggregate-update + transaction-append pair are delegated
// to the store's ApplyLedgerMutation; the engine owns validation, the WAC
// arithmetic, and bounded conflict retries.
type Engine struct {
	store store.Store
	hub   *WSHub // optional, for real-time dashboard broadcasts
}

// NewEngine creates a ledger engine. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewEngine(st store.Store, hub *WSHub) *Engine {
	return &Engine{store: st, hub: hub}
}

// --- Price ---

// CurrentUnitPrice reads the configured fund unit price. Returns
// ErrPriceNotConfigured if it was never initialized.
func (e *Engine) CurrentUnitPrice(ctx context.Context) (decimal.Decimal, error) {
	st, err := e.store.GetSetting(ctx, model.SettingKeyUnitPrice)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, ErrPriceNotConfigured
		}
		return decimal.Zero, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return st.Value, nil
}

// SetUnitPrice overwrites the fund unit price. Only affects the pricing of
// future deposits and liquidations; investor aggregates are untouched.
func (e *Engine) SetUnitPrice(ctx context.Context, newPrice decimal.Decimal) error {
	if newPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidArgument, newPrice)
	}
	if err := e.store.PutSetting(ctx, model.SettingKeyUnitPrice, newPrice); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	slog.Info("unit price updated", "price", newPrice.String())
	metrics.PriceUpdates.Inc()

	if e.hub != nil {
		e.hub.Broadcast(WSMessage{
			Type:  "price_updated",
			Price: newPrice.String(),
		})
	}
	return nil
}

// --- Investor registry ---

// CreateInvestorParams carries the caller-supplied investor fields.
// Units and capital always start at zero.
type CreateInvestorParams struct {
	Name       string
	Phone      string
	Email      string
	NationalID string
	Notes      string
}

// CreateInvestor registers a new fund participant with zero holdings.
func (e *Engine) CreateInvestor(ctx context.Context, p CreateInvestorParams) (*model.Investor, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}

	inv := &model.Investor{
		ID:                   uuid.New().String(),
		Name:                 p.Name,
		Phone:                p.Phone,
		Email:                p.Email,
		NationalID:           p.NationalID,
		Notes:                p.Notes,
		JoinedAt:             time.Now().UTC(),
		TotalUnits:           decimal.Zero,
		TotalInvestedCapital: decimal.Zero,
	}
	if err := e.store.CreateInvestor(ctx, inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	slog.Info("investor created", "id", inv.ID, "name", inv.Name)
	return inv, nil
}

// ListInvestors returns all investors, newest first.
func (e *Engine) ListInvestors(ctx context.Context) ([]model.Investor, error) {
	investors, err := e.store.ListInvestors(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return investors, nil
}

// InvestorState returns the current aggregate state for one investor.
func (e *Engine) InvestorState(ctx context.Context, id string) (*model.Investor, error) {
	inv, err := e.store.GetInvestor(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return inv, nil
}

// TransactionHistory returns the investor's immutable ledger, newest first.
func (e *Engine) TransactionHistory(ctx context.Context, id string) ([]model.Transaction, error) {
	if _, err := e.store.GetInvestor(ctx, id); err != nil {
		return nil, mapStoreErr(err)
	}
	txns, err := e.store.ListTransactions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return txns, nil
}

// --- Mutations ---

// DepositParams describes a BUY. PricePerUnit is caller-supplied — the
// engine does not re-fetch the configured price mid-operation, so the
// caller and engine always agree on the price a deposit was struck at.
type DepositParams struct {
	InvestorID     string
	Units          decimal.Decimal
	PricePerUnit   decimal.Decimal
	IdempotencyKey string // optional; replays return the original transaction
}

// Deposit buys units for an investor: aggregates grow by units and
// units×price, and a BUY transaction is appended, atomically.
func (e *Engine) Deposit(ctx context.Context, p DepositParams) (*model.Transaction, error) {
	if p.Units.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: units must be positive, got %s", ErrInvalidArgument, p.Units)
	}
	if p.PricePerUnit.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidArgument, p.PricePerUnit)
	}

	txn, err := e.mutate(ctx, p.InvestorID, func(inv *model.Investor) (*model.Transaction, error) {
		amount := p.Units.Mul(p.PricePerUnit)
		inv.TotalUnits = inv.TotalUnits.Add(p.Units)
		inv.TotalInvestedCapital = inv.TotalInvestedCapital.Add(amount)

		units, price := p.Units, p.PricePerUnit
		return &model.Transaction{
			ID:             uuid.New().String(),
			InvestorID:     p.InvestorID,
			Type:           model.TxBuy,
			Units:          &units,
			PricePerUnit:   &price,
			TotalAmount:    amount,
			IdempotencyKey: p.IdempotencyKey,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DepositsTotal.Inc()
	slog.Info("deposit recorded",
		"tx_id", txn.ID,
		"investor", p.InvestorID,
		"units", p.Units.String(),
		"price", p.PricePerUnit.String(),
		"amount", txn.TotalAmount.String(),
	)
	e.broadcastTx("deposit", txn)
	return txn, nil
}

// LiquidateParams describes a SELL. CurrentPrice is caller-supplied, same
// contract as DepositParams.PricePerUnit.
type LiquidateParams struct {
	InvestorID     string
	Units          decimal.Decimal
	CurrentPrice   decimal.Decimal
	IdempotencyKey string
}

// Liquidate sells units. Capital is reduced by cost-of-goods-sold (units ×
// WAC), not by revenue, so the WAC of the remaining position is unchanged
// by the sale. Realized profit may be negative and is stored as such.
func (e *Engine) Liquidate(ctx context.Context, p LiquidateParams) (*model.Transaction, error) {
	if p.Units.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: units must be positive, got %s", ErrInvalidArgument, p.Units)
	}
	if p.CurrentPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidArgument, p.CurrentPrice)
	}

	txn, err := e.mutate(ctx, p.InvestorID, func(inv *model.Investor) (*model.Transaction, error) {
		// Checked against the locked row: concurrent liquidations cannot
		// both pass this against state neither has committed.
		if p.Units.GreaterThan(inv.TotalUnits) {
			return nil, fmt.Errorf("%w: want %s, have %s",
				ErrInsufficientUnits, p.Units, inv.TotalUnits)
		}

		wac := inv.WAC()
		revenue := p.Units.Mul(p.CurrentPrice)
		cogs := p.Units.Mul(wac)
		profit := revenue.Sub(cogs)

		inv.TotalUnits = inv.TotalUnits.Sub(p.Units)
		inv.TotalInvestedCapital = inv.TotalInvestedCapital.Sub(cogs)

		units, price := p.Units, p.CurrentPrice
		return &model.Transaction{
			ID:             uuid.New().String(),
			InvestorID:     p.InvestorID,
			Type:           model.TxSell,
			Units:          &units,
			PricePerUnit:   &price,
			TotalAmount:    revenue,
			WACAtTime:      &wac,
			RealizedProfit: &profit,
			IdempotencyKey: p.IdempotencyKey,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	profit := decimal.Zero
	if txn.RealizedProfit != nil {
		profit = *txn.RealizedProfit
	}

	metrics.LiquidationsTotal.Inc()
	slog.Info("liquidation recorded",
		"tx_id", txn.ID,
		"investor", p.InvestorID,
		"units", p.Units.String(),
		"price", p.CurrentPrice.String(),
		"revenue", txn.TotalAmount.String(),
		"realized_profit", profit.String(),
	)
	e.broadcastTx("liquidation", txn)
	return txn, nil
}

// PayoutParams describes a profit distribution.
type PayoutParams struct {
	InvestorID     string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// RecordPayout appends a PAYOUT transaction. A payout never touches
// TotalUnits or TotalInvestedCapital — it is a pure audit-trail append with
// no read-modify-write race, so it skips the per-investor lock.
func (e *Engine) RecordPayout(ctx context.Context, p PayoutParams) (*model.Transaction, error) {
	if p.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidArgument, p.Amount)
	}
	if _, err := e.store.GetInvestor(ctx, p.InvestorID); err != nil {
		return nil, mapStoreErr(err)
	}

	txn := &model.Transaction{
		ID:             uuid.New().String(),
		InvestorID:     p.InvestorID,
		Type:           model.TxPayout,
		TotalAmount:    p.Amount,
		IdempotencyKey: p.IdempotencyKey,
	}
	if err := e.store.InsertTransaction(ctx, txn); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return e.replayByKey(ctx, p.IdempotencyKey)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	metrics.PayoutsTotal.Inc()
	slog.Info("payout recorded",
		"tx_id", txn.ID,
		"investor", p.InvestorID,
		"amount", p.Amount.String(),
	)
	e.broadcastTx("payout", txn)
	return txn, nil
}

// --- Aggregation ---

// FundSummary returns fund-wide totals plus the current unit price when
// one is configured.
func (e *Engine) FundSummary(ctx context.Context) (*model.FundSummary, error) {
	sum, err := e.store.FundSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	price, err := e.CurrentUnitPrice(ctx)
	switch {
	case err == nil:
		sum.UnitPrice = price
		sum.PriceConfigured = true
	case errors.Is(err, ErrPriceNotConfigured):
		sum.UnitPrice = decimal.Zero
	default:
		return nil, err
	}
	return sum, nil
}

// --- Internals ---

// mutate runs an atomic ledger mutation, retrying bounded times when the
// per-investor lock is contended.
func (e *Engine) mutate(ctx context.Context, investorID string, fn store.MutationFunc) (*model.Transaction, error) {
	var lastErr error
	for attempt := 0; attempt < mutationAttempts; attempt++ {
		if attempt > 0 {
			metrics.MutationConflicts.Inc()
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrConcurrencyConflict, ctx.Err())
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		txn, err := e.store.ApplyLedgerMutation(ctx, investorID, fn)
		if err == nil {
			return txn, nil
		}
		if errors.Is(err, store.ErrLockUnavailable) {
			lastErr = err
			continue
		}
		return nil, mapStoreErr(err)
	}
	return nil, fmt.Errorf("%w: %v", ErrConcurrencyConflict, lastErr)
}

// replayByKey resolves an idempotency-key collision to the original
// transaction.
func (e *Engine) replayByKey(ctx context.Context, key string) (*model.Transaction, error) {
	txn, err := e.store.GetTransactionByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return txn, nil
}

// mapStoreErr translates store failures into the engine taxonomy. Errors
// already in the taxonomy (validation failures surfaced from a mutation
// callback) pass through untouched.
func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrInsufficientUnits),
		errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (e *Engine) broadcastTx(event string, txn *model.Transaction) {
	if e.hub == nil {
		return
	}
	msg := WSMessage{
		Type:          event,
		InvestorID:    txn.InvestorID,
		TransactionID: txn.ID,
		Amount:        txn.TotalAmount.String(),
	}
	if txn.Units != nil {
		msg.Units = txn.Units.String()
	}
	if txn.PricePerUnit != nil {
		msg.Price = txn.PricePerUnit.String()
	}
	if txn.RealizedProfit != nil {
		msg.RealizedProfit = txn.RealizedProfit.String()
	}
	e.hub.Broadcast(msg)
}
