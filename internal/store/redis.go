package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache. Writes
// go to the primary store and invalidate the cache; reads check Redis first
// then fall back to the primary. Redis errors never fail a request.
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

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.CreateOrder(ctx, o); err != nil {
		return err
	}
	s.set(ctx, orderKey(o.ID), o)
	return nil
}

func (s *CachedStore) AppendFillEvent(ctx context.Context, ev *model.FillEvent) error {
	if err := s.primary.AppendFillEvent(ctx, ev); err != nil {
		return err
	}
	s.rdb.Del(ctx, eventsKey(ev.TransactionID))
	return nil
}

func (s *CachedStore) ApplyTransition(ctx context.Context, t *Transition) error {
	err := s.primary.ApplyTransition(ctx, t)
	// A conflict means someone else changed the order; drop it either way.
	s.rdb.Del(ctx, orderKey(t.OrderID), eventsKey(t.OrderID), positionsKey(t.OrderID))
	return err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	if s.get(ctx, orderKey(id), &o) {
		return &o, nil
	}

	// Cache miss: read from primary.
	op, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, orderKey(id), op)
	return op, nil
}

func (s *CachedStore) ListFillEvents(ctx context.Context, transactionID string) ([]model.FillEvent, error) {
	var events []model.FillEvent
	if s.get(ctx, eventsKey(transactionID), &events) {
		return events, nil
	}

	events, err := s.primary.ListFillEvents(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, eventsKey(transactionID), events)
	return events, nil
}

// ListPositions caches per-transaction reads; settled positions never change.
func (s *CachedStore) ListPositions(ctx context.Context, transactionID string) ([]model.PositionEntry, error) {
	if transactionID == "" {
		return s.primary.ListPositions(ctx, transactionID)
	}
	var positions []model.PositionEntry
	if s.get(ctx, positionsKey(transactionID), &positions) {
		return positions, nil
	}

	positions, err := s.primary.ListPositions(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if len(positions) > 0 {
		s.set(ctx, positionsKey(transactionID), positions)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	return s.primary.ListOrders(ctx, f)
}

func (s *CachedStore) ListJournals(ctx context.Context, transactionID string) ([]model.JournalEntry, error) {
	return s.primary.ListJournals(ctx, transactionID)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func orderKey(id string) string     { return fmt.Sprintf("broker:order:%s", id) }
func eventsKey(id string) string    { return fmt.Sprintf("broker:events:%s", id) }
func positionsKey(id string) string { return fmt.Sprintf("broker:positions:%s", id) }
