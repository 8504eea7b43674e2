// Package store defines the persistence interface for the fund engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/hassad/fund-engine/internal/model"
)

var (
	// ErrNotFound is returned for point reads of records that do not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrLockUnavailable is returned when the per-investor row lock could
	// not be acquired. The caller may retry.
	ErrLockUnavailable = errors.New("store: investor row lock unavailable")

	// ErrDuplicateKey is returned when inserting a transaction whose
	// idempotency key is already recorded.
	ErrDuplicateKey = errors.New("store: duplicate idempotency key")
)

// MutationFunc applies a ledger mutation to an investor loaded under
// exclusion. It adjusts the aggregates in place and returns the transaction
// to append. Returning an error aborts the mutation with no state change.
type MutationFunc func(inv *model.Investor) (*model.Transaction, error)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Settings ---

	// GetSetting retrieves a setting by key. ErrNotFound if absent.
	GetSetting(ctx context.Context, key string) (*model.Setting, error)

	// PutSetting upserts a setting value and bumps its updated_at.
	PutSetting(ctx context.Context, key string, value decimal.Decimal) error

	// --- Investors ---

	// CreateInvestor persists a new investor.
	CreateInvestor(ctx context.Context, inv *model.Investor) error

	// GetInvestor retrieves an investor by ID. ErrNotFound if absent.
	GetInvestor(ctx context.Context, id string) (*model.Investor, error)

	// ListInvestors returns all investors ordered by joined_at descending.
	ListInvestors(ctx context.Context) ([]model.Investor, error)

	// --- Ledger mutation (the atomic two-part write) ---

	// ApplyLedgerMutation loads the investor under per-investor exclusion,
	// runs fn, and commits the updated aggregates together with the
	// returned transaction as a single all-or-nothing unit. If fn errors,
	// nothing is written. If the returned transaction carries an
	// idempotency key that is already recorded, the previously stored
	// transaction is returned instead and no state changes.
	//
	// ErrNotFound if the investor does not exist; ErrLockUnavailable if
	// the row is locked by a concurrent mutation.
	ApplyLedgerMutation(ctx context.Context, investorID string, fn MutationFunc) (*model.Transaction, error)

	// --- Immutable ledger ---

	// InsertTransaction appends an immutable ledger record without
	// touching investor aggregates (PAYOUT path). ErrDuplicateKey if the
	// idempotency key is already recorded.
	InsertTransaction(ctx context.Context, txn *model.Transaction) error

	// GetTransactionByKey retrieves a transaction by idempotency key.
	GetTransactionByKey(ctx context.Context, idempotencyKey string) (*model.Transaction, error)

	// ListTransactions returns an investor's transactions ordered by
	// created_at descending.
	ListTransactions(ctx context.Context, investorID string) ([]model.Transaction, error)

	// --- Aggregation ---

	// FundSummary computes fund-wide totals from durable state. The
	// UnitPrice/PriceConfigured fields are left for the engine to fill.
	FundSummary(ctx context.Context) (*model.FundSummary, error)
}
