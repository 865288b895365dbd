// Package store defines the persistence interface for the broker.
// Implementations include PostgreSQL (source of truth), SQLite (single node
// and operator tooling), Redis (read-through cache) and in-memory (testing).
package store

import (
	"context"
	"time"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

// OrderFilter narrows ListOrders. Zero fields match everything.
type OrderFilter struct {
	Status    model.Status
	Agent     string
	RequestBy string
}

// Match reports whether o passes the filter.
func (f OrderFilter) Match(o *model.Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.RequestBy != "" && o.RequestBy != f.RequestBy {
		return false
	}
	if f.Agent != "" && !o.IsAssigned(f.Agent) {
		return false
	}
	return true
}

// Transition is one atomic status change with everything it writes. The
// status update is conditional on the order still being in From.
type Transition struct {
	OrderID string
	From    model.Status
	To      model.Status
	// AssignedAgents replaces the order's agents when non-nil.
	AssignedAgents []string
	Result         *model.Result
	At             time.Time
	Events         []model.FillEvent
	Positions      []model.PositionEntry
	Journals       []model.JournalEntry
}

// Store is the persistence interface. All writes of one Transition commit
// together or not at all.
type Store interface {
	// --- Orders ---

	// CreateOrder persists a new order.
	CreateOrder(ctx context.Context, o *model.Order) error

	// GetOrder returns model.ErrNotFound for an unknown id.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrders returns orders newest first.
	ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error)

	// --- Fill ledger ---

	// AppendFillEvent appends an immutable event and assigns its Seq.
	AppendFillEvent(ctx context.Context, ev *model.FillEvent) error

	// ListFillEvents returns a transaction's events by timestamp, then seq.
	ListFillEvents(ctx context.Context, transactionID string) ([]model.FillEvent, error)

	// --- Transitions ---

	// ApplyTransition compare-and-sets the status and writes the
	// transition's events and entries. It returns
	// model.ErrConcurrentModification if the order has left t.From.
	ApplyTransition(ctx context.Context, t *Transition) error

	// --- Settled ledger ---

	// ListPositions returns position entries for one transaction, or for
	// all transactions when transactionID is empty.
	ListPositions(ctx context.Context, transactionID string) ([]model.PositionEntry, error)

	// ListJournals works like ListPositions for journal entries.
	ListJournals(ctx context.Context, transactionID string) ([]model.JournalEntry, error)
}
