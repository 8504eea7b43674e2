package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hassad/fund-engine/internal/model"
)

// PostgreSQL error codes we translate into store sentinels.
const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Per-investor serialization uses SELECT ... FOR UPDATE NOWAIT row locks.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      NUMERIC NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS investors (
			id                     TEXT PRIMARY KEY,
			name                   TEXT NOT NULL,
			phone                  TEXT NOT NULL DEFAULT '',
			email                  TEXT NOT NULL DEFAULT '',
			national_id            TEXT NOT NULL DEFAULT '',
			notes                  TEXT NOT NULL DEFAULT '',
			joined_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
			total_units            NUMERIC NOT NULL DEFAULT 0 CHECK (total_units >= 0),
			total_invested_capital NUMERIC NOT NULL DEFAULT 0 CHECK (total_invested_capital >= 0)
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id              TEXT PRIMARY KEY,
			investor_id     TEXT NOT NULL REFERENCES investors(id),
			type            TEXT NOT NULL CHECK (type IN ('BUY', 'SELL', 'PAYOUT')),
			units           NUMERIC,
			price_per_unit  NUMERIC,
			total_amount    NUMERIC NOT NULL,
			wac_at_time     NUMERIC,
			realized_profit NUMERIC,
			idempotency_key TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS transactions_idempotency_key_idx
			ON transactions (idempotency_key) WHERE idempotency_key <> '';
		CREATE INDEX IF NOT EXISTS transactions_investor_created_idx
			ON transactions (investor_id, created_at DESC);
	`)
	return err
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	var st model.Setting
	var value string

	err := s.pool.QueryRow(ctx,
		`SELECT key, value::TEXT, updated_at FROM settings WHERE key = $1`, key).
		Scan(&st.Key, &value, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}

	st.Value, _ = decimal.NewFromString(value)
	return &st, nil
}

func (s *PostgresStore) PutSetting(ctx context.Context, key string, value decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2::NUMERIC, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value.String(),
	)
	return err
}

func (s *PostgresStore) CreateInvestor(ctx context.Context, inv *model.Investor) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO investors (id, name, phone, email, national_id, notes, joined_at, total_units, total_invested_capital)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC)`,
		inv.ID, inv.Name, inv.Phone, inv.Email, inv.NationalID, inv.Notes,
		inv.JoinedAt, inv.TotalUnits.String(), inv.TotalInvestedCapital.String(),
	)
	return err
}

const investorColumns = `id, name, phone, email, national_id, notes, joined_at,
	total_units::TEXT, total_invested_capital::TEXT`

func scanInvestor(row pgx.Row) (*model.Investor, error) {
	var inv model.Investor
	var units, capital string

	err := row.Scan(&inv.ID, &inv.Name, &inv.Phone, &inv.Email, &inv.NationalID,
		&inv.Notes, &inv.JoinedAt, &units, &capital)
	if err != nil {
		return nil, err
	}

	inv.TotalUnits, _ = decimal.NewFromString(units)
	inv.TotalInvestedCapital, _ = decimal.NewFromString(capital)
	return &inv, nil
}

func (s *PostgresStore) GetInvestor(ctx context.Context, id string) (*model.Investor, error) {
	inv, err := scanInvestor(s.pool.QueryRow(ctx,
		`SELECT `+investorColumns+` FROM investors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("investor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get investor %s: %w", id, err)
	}
	return inv, nil
}

func (s *PostgresStore) ListInvestors(ctx context.Context) ([]model.Investor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+investorColumns+` FROM investors ORDER BY joined_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var investors []model.Investor
	for rows.Next() {
		inv, err := scanInvestor(rows)
		if err != nil {
			return nil, err
		}
		investors = append(investors, *inv)
	}
	return investors, rows.Err()
}

// ApplyLedgerMutation runs the read-modify-write sequence inside one
// database transaction: the investor row is locked with FOR UPDATE NOWAIT,
// fn computes the new aggregates and the ledger record, and both writes
// commit together or not at all.
func (s *PostgresStore) ApplyLedgerMutation(ctx context.Context, investorID string, fn MutationFunc) (*model.Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin mutation: %w", err)
	}
	defer tx.Rollback(ctx)

	inv, err := scanInvestor(tx.QueryRow(ctx,
		`SELECT `+investorColumns+` FROM investors WHERE id = $1 FOR UPDATE NOWAIT`, investorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("investor %s: %w", investorID, ErrNotFound)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, fmt.Errorf("investor %s: %w", investorID, ErrLockUnavailable)
		}
		return nil, fmt.Errorf("lock investor %s: %w", investorID, err)
	}

	txn, err := fn(inv)
	if err != nil {
		return nil, err
	}

	// Idempotency replay check, performed under the row lock so a retried
	// call can never double-apply.
	if txn.IdempotencyKey != "" {
		existing, err := getTransactionByKeyTx(ctx, tx, txn.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE investors SET total_units = $2::NUMERIC, total_invested_capital = $3::NUMERIC WHERE id = $1`,
		investorID, inv.TotalUnits.String(), inv.TotalInvestedCapital.String(),
	); err != nil {
		return nil, fmt.Errorf("update investor aggregates: %w", err)
	}

	if err := insertTransactionTx(ctx, tx, txn); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mutation: %w", err)
	}
	return txn, nil
}

// execer covers both pgxpool.Pool and pgx.Tx for transaction inserts.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertTransactionTx(ctx context.Context, db execer, txn *model.Transaction) error {
	err := db.QueryRow(ctx,
		`INSERT INTO transactions (id, investor_id, type, units, price_per_unit, total_amount, wac_at_time, realized_profit, idempotency_key)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)
		 RETURNING created_at`,
		txn.ID, txn.InvestorID, txn.Type,
		decimalPtrString(txn.Units), decimalPtrString(txn.PricePerUnit),
		txn.TotalAmount.String(),
		decimalPtrString(txn.WACAtTime), decimalPtrString(txn.RealizedProfit),
		txn.IdempotencyKey,
	).Scan(&txn.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("transaction %s: %w", txn.ID, ErrDuplicateKey)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, txn *model.Transaction) error {
	return insertTransactionTx(ctx, s.pool, txn)
}

const transactionColumns = `id, investor_id, type, units::TEXT, price_per_unit::TEXT,
	total_amount::TEXT, wac_at_time::TEXT, realized_profit::TEXT, idempotency_key, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var txn model.Transaction
	var units, price, wac, profit *string
	var amount string

	err := row.Scan(&txn.ID, &txn.InvestorID, &txn.Type, &units, &price,
		&amount, &wac, &profit, &txn.IdempotencyKey, &txn.CreatedAt)
	if err != nil {
		return nil, err
	}

	txn.TotalAmount, _ = decimal.NewFromString(amount)
	txn.Units = decimalFromPtrString(units)
	txn.PricePerUnit = decimalFromPtrString(price)
	txn.WACAtTime = decimalFromPtrString(wac)
	txn.RealizedProfit = decimalFromPtrString(profit)
	return &txn, nil
}

func getTransactionByKeyTx(ctx context.Context, db execer, key string) (*model.Transaction, error) {
	txn, err := scanTransaction(db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by key: %w", err)
	}
	return txn, nil
}

func (s *PostgresStore) GetTransactionByKey(ctx context.Context, key string) (*model.Transaction, error) {
	return getTransactionByKeyTx(ctx, s.pool, key)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, investorID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE investor_id = $1 ORDER BY created_at DESC`, investorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) FundSummary(ctx context.Context) (*model.FundSummary, error) {
	var count int
	var capital, payouts, returned string

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM investors),
			COALESCE((SELECT SUM(total_invested_capital) FROM investors), 0)::TEXT,
			COALESCE((SELECT SUM(total_amount) FROM transactions WHERE type = 'PAYOUT'), 0)::TEXT,
			COALESCE((SELECT SUM(total_amount) FROM transactions WHERE type IN ('SELL', 'PAYOUT')), 0)::TEXT`).
		Scan(&count, &capital, &payouts, &returned)
	if err != nil {
		return nil, fmt.Errorf("fund summary: %w", err)
	}

	sum := &model.FundSummary{InvestorCount: count}
	sum.TotalInvestedCapital, _ = decimal.NewFromString(capital)
	sum.TotalPayouts, _ = decimal.NewFromString(payouts)
	sum.TotalCapitalReturned, _ = decimal.NewFromString(returned)
	return sum, nil
}

// --- NUMERIC <-> decimal helpers ---

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func decimalFromPtrString(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, _ := decimal.NewFromString(*s)
	return &d
}
