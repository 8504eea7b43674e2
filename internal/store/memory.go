package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hassad/fund-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// A single mutex serializes mutations, which trivially satisfies the
// per-investor exclusion ApplyLedgerMutation requires. Mutations run
// against a staged copy of the investor so a failing MutationFunc leaves
// no trace.
type MemoryStore struct {
	mu        sync.RWMutex
	settings  map[string]*model.Setting
	investors map[string]*model.Investor
	ledger    []model.Transaction
	byKey     map[string]int // idempotency key -> ledger index
	lastTxAt  map[string]time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings:  make(map[string]*model.Setting),
		investors: make(map[string]*model.Investor),
		byKey:     make(map[string]int),
		lastTxAt:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) GetSetting(_ context.Context, key string) (*model.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[key]
	if !ok {
		return nil, fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) PutSetting(_ context.Context, key string, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = &model.Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) CreateInvestor(_ context.Context, inv *model.Investor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.investors[inv.ID]; exists {
		return fmt.Errorf("investor %s already exists", inv.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *inv
	s.investors[inv.ID] = &copy
	return nil
}

func (s *MemoryStore) GetInvestor(_ context.Context, id string) (*model.Investor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.investors[id]
	if !ok {
		return nil, fmt.Errorf("investor %s: %w", id, ErrNotFound)
	}
	copy := *inv
	return &copy, nil
}

func (s *MemoryStore) ListInvestors(_ context.Context) ([]model.Investor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	investors := make([]model.Investor, 0, len(s.investors))
	for _, inv := range s.investors {
		investors = append(investors, *inv)
	}
	// joined_at descending, matching the PostgreSQL ordering.
	sort.Slice(investors, func(i, j int) bool {
		return investors[i].JoinedAt.After(investors[j].JoinedAt)
	})
	return investors, nil
}

func (s *MemoryStore) ApplyLedgerMutation(_ context.Context, investorID string, fn MutationFunc) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.investors[investorID]
	if !ok {
		return nil, fmt.Errorf("investor %s: %w", investorID, ErrNotFound)
	}

	// fn mutates a staged copy; nothing is committed until it succeeds.
	staged := *inv
	txn, err := fn(&staged)
	if err != nil {
		return nil, err
	}

	if txn.IdempotencyKey != "" {
		if idx, exists := s.byKey[txn.IdempotencyKey]; exists {
			replay := s.ledger[idx]
			return &replay, nil
		}
	}

	s.stampLocked(txn)
	*inv = staged
	s.ledger = append(s.ledger, *txn)
	if txn.IdempotencyKey != "" {
		s.byKey[txn.IdempotencyKey] = len(s.ledger) - 1
	}
	return txn, nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, txn *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if txn.IdempotencyKey != "" {
		if _, exists := s.byKey[txn.IdempotencyKey]; exists {
			return fmt.Errorf("transaction %s: %w", txn.ID, ErrDuplicateKey)
		}
	}

	s.stampLocked(txn)
	s.ledger = append(s.ledger, *txn)
	if txn.IdempotencyKey != "" {
		s.byKey[txn.IdempotencyKey] = len(s.ledger) - 1
	}
	return nil
}

// stampLocked assigns created_at, kept monotonically non-decreasing per
// investor so history ordering is stable. Caller holds the write lock.
func (s *MemoryStore) stampLocked(txn *model.Transaction) {
	now := time.Now().UTC()
	if last, ok := s.lastTxAt[txn.InvestorID]; ok && now.Before(last) {
		now = last
	}
	s.lastTxAt[txn.InvestorID] = now
	txn.CreatedAt = now
}

func (s *MemoryStore) GetTransactionByKey(_ context.Context, key string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byKey[key]
	if !ok {
		return nil, fmt.Errorf("transaction key %s: %w", key, ErrNotFound)
	}
	copy := s.ledger[idx]
	return &copy, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, investorID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first: the ledger appends in time order, so walk backwards.
	var result []model.Transaction
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].InvestorID == investorID {
			result = append(result, s.ledger[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) FundSummary(_ context.Context) (*model.FundSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &model.FundSummary{
		InvestorCount:        len(s.investors),
		TotalInvestedCapital: decimal.Zero,
		TotalPayouts:         decimal.Zero,
		TotalCapitalReturned: decimal.Zero,
	}
	for _, inv := range s.investors {
		sum.TotalInvestedCapital = sum.TotalInvestedCapital.Add(inv.TotalInvestedCapital)
	}
	for _, txn := range s.ledger {
		switch txn.Type {
		case model.TxPayout:
			sum.TotalPayouts = sum.TotalPayouts.Add(txn.TotalAmount)
			sum.TotalCapitalReturned = sum.TotalCapitalReturned.Add(txn.TotalAmount)
		case model.TxSell:
			sum.TotalCapitalReturned = sum.TotalCapitalReturned.Add(txn.TotalAmount)
		}
	}
	return sum, nil
}
