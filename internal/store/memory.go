package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/aggregate"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string]*model.Order
	events    map[string][]model.FillEvent
	positions []model.PositionEntry
	journals  []model.JournalEntry
	seq       int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*model.Order),
		events: make(map[string][]model.FillEvent),
	}
}

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) ListOrders(_ context.Context, f OrderFilter) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if f.Match(o) {
			orders = append(orders, *cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].SystemDate.Equal(orders[j].SystemDate) {
			return orders[i].SystemDate.After(orders[j].SystemDate)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

func (s *MemoryStore) AppendFillEvent(_ context.Context, ev *model.FillEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[ev.TransactionID]; !ok {
		return fmt.Errorf("order %s: %w", ev.TransactionID, model.ErrNotFound)
	}
	s.appendLocked(ev)
	return nil
}

func (s *MemoryStore) appendLocked(ev *model.FillEvent) {
	s.seq++
	ev.Seq = s.seq
	s.events[ev.TransactionID] = append(s.events[ev.TransactionID], *ev)
}

func (s *MemoryStore) ListFillEvents(_ context.Context, transactionID string) ([]model.FillEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.FillEvent, len(s.events[transactionID]))
	copy(out, s.events[transactionID])
	aggregate.SortEvents(out)
	return out, nil
}

// ApplyTransition holds the write lock for the whole transition, so the
// status check and every write are one step.
func (s *MemoryStore) ApplyTransition(_ context.Context, t *Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[t.OrderID]
	if !ok {
		return fmt.Errorf("order %s: %w", t.OrderID, model.ErrNotFound)
	}
	if o.Status != t.From {
		return fmt.Errorf("order %s is %s, expected %s: %w", t.OrderID, o.Status, t.From, model.ErrConcurrentModification)
	}

	o.Status = t.To
	if t.AssignedAgents != nil {
		o.AssignedAgents = append([]string(nil), t.AssignedAgents...)
	}
	if t.Result != nil {
		r := *t.Result
		o.Result = &r
	}
	o.UpdatedAt = t.At

	for i := range t.Events {
		s.appendLocked(&t.Events[i])
	}
	s.positions = append(s.positions, t.Positions...)
	s.journals = append(s.journals, t.Journals...)
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, transactionID string) ([]model.PositionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PositionEntry
	for _, p := range s.positions {
		if transactionID == "" || p.TransactionID == transactionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListJournals(_ context.Context, transactionID string) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.JournalEntry
	for _, j := range s.journals {
		if transactionID == "" || j.TransactionID == transactionID {
			out = append(out, j)
		}
	}
	return out, nil
}

// cloneOrder copies o so callers cannot mutate stored state.
func cloneOrder(o *model.Order) *model.Order {
	cp := *o
	cp.AssignedAgents = append([]string(nil), o.AssignedAgents...)
	if o.Result != nil {
		r := *o.Result
		cp.Result = &r
	}
	return &cp
}
