package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/hassad/fund-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// The fund summary and unit price are cached with the configured TTL, so
// dashboard reads may lag the durable state by at most that long.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	data, err := s.rdb.Get(ctx, settingKey(key)).Bytes()
	if err == nil {
		var st model.Setting
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	st, err := s.primary.GetSetting(ctx, key)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, settingKey(key), st)
	return st, nil
}

func (s *CachedStore) GetInvestor(ctx context.Context, id string) (*model.Investor, error) {
	data, err := s.rdb.Get(ctx, investorKey(id)).Bytes()
	if err == nil {
		var inv model.Investor
		if json.Unmarshal(data, &inv) == nil {
			return &inv, nil
		}
	}

	inv, err := s.primary.GetInvestor(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, investorKey(id), inv)
	return inv, nil
}

func (s *CachedStore) FundSummary(ctx context.Context) (*model.FundSummary, error) {
	data, err := s.rdb.Get(ctx, summaryKey()).Bytes()
	if err == nil {
		var sum model.FundSummary
		if json.Unmarshal(data, &sum) == nil {
			return &sum, nil
		}
	}

	sum, err := s.primary.FundSummary(ctx)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, summaryKey(), sum)
	return sum, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) PutSetting(ctx context.Context, key string, value decimal.Decimal) error {
	if err := s.primary.PutSetting(ctx, key, value); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the stored updated_at.
	s.rdb.Del(ctx, settingKey(key), summaryKey())
	return nil
}

func (s *CachedStore) CreateInvestor(ctx context.Context, inv *model.Investor) error {
	if err := s.primary.CreateInvestor(ctx, inv); err != nil {
		return err
	}
	s.rdb.Del(ctx, summaryKey())
	return nil
}

func (s *CachedStore) ApplyLedgerMutation(ctx context.Context, investorID string, fn MutationFunc) (*model.Transaction, error) {
	txn, err := s.primary.ApplyLedgerMutation(ctx, investorID, fn)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, investorKey(investorID), summaryKey())
	return txn, nil
}

func (s *CachedStore) InsertTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := s.primary.InsertTransaction(ctx, txn); err != nil {
		return err
	}
	s.rdb.Del(ctx, summaryKey())
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListInvestors(ctx context.Context) ([]model.Investor, error) {
	return s.primary.ListInvestors(ctx)
}

func (s *CachedStore) GetTransactionByKey(ctx context.Context, key string) (*model.Transaction, error) {
	return s.primary.GetTransactionByKey(ctx, key)
}

func (s *CachedStore) ListTransactions(ctx context.Context, investorID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, investorID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func settingKey(key string) string { return fmt.Sprintf("setting:%s", key) }
func investorKey(id string) string { return fmt.Sprintf("investor:%s", id) }
func summaryKey() string           { return "fund:summary" }
