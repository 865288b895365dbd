package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

// backends returns a fresh instance of every embeddable Store.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func newOrder(id string, at time.Time) *model.Order {
	return &model.Order{
		ID:           id,
		Event:        "Arsenal v Chelsea",
		League:       "EPL",
		Market:       "1X2",
		Bet:          "Arsenal",
		BetLimit:     d("100"),
		RequestPrice: d("2.1"),
		SeekPrice:    d("2.0"),
		RequestBy:    "client-1",
		SystemDate:   at,
		Origin:       model.OriginManager,
		Status:       model.StatusOpen,
		UpdatedAt:    at,
	}
}

func fill(txID, agent, amount, price string, at time.Time) *model.FillEvent {
	return &model.FillEvent{
		ID:            uuid.NewString(),
		TransactionID: txID,
		Type:          model.EventAgentFill,
		ActorID:       agent,
		Amount:        nd(amount),
		Price:         nd(price),
		Timestamp:     at,
	}
}

func TestStore_OrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			o := newOrder("tx-1", t0)
			require.NoError(t, st.CreateOrder(ctx, o))

			got, err := st.GetOrder(ctx, "tx-1")
			require.NoError(t, err)
			assert.Equal(t, "Arsenal v Chelsea", got.Event)
			assert.True(t, got.BetLimit.Equal(d("100")))
			assert.True(t, got.SeekPrice.Equal(d("2")))
			assert.True(t, got.SystemDate.Equal(t0))
			assert.Equal(t, model.StatusOpen, got.Status)
			assert.Empty(t, got.AssignedAgents)
			assert.Nil(t, got.Result)

			_, err = st.GetOrder(ctx, "missing")
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestStore_ListOrdersFilter(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.CreateOrder(ctx, newOrder("old", t0)))
			require.NoError(t, st.CreateOrder(ctx, newOrder("new", t0.Add(time.Hour))))
			require.NoError(t, st.ApplyTransition(ctx, &Transition{
				OrderID: "old", From: model.StatusOpen, To: model.StatusInProgress,
				AssignedAgents: []string{"agent-a"}, At: t0.Add(time.Minute),
			}))

			all, err := st.ListOrders(ctx, OrderFilter{})
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "new", all[0].ID)

			open, err := st.ListOrders(ctx, OrderFilter{Status: model.StatusOpen})
			require.NoError(t, err)
			require.Len(t, open, 1)
			assert.Equal(t, "new", open[0].ID)

			mine, err := st.ListOrders(ctx, OrderFilter{Agent: "agent-a"})
			require.NoError(t, err)
			require.Len(t, mine, 1)
			assert.Equal(t, []string{"agent-a"}, mine[0].AssignedAgents)
		})
	}
}

func TestStore_FillEventsOrderedByTimestampThenSeq(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.CreateOrder(ctx, newOrder("tx-1", t0)))

			late := fill("tx-1", "a", "5", "3", t0.Add(2*time.Second))
			first := fill("tx-1", "a", "10", "2", t0.Add(time.Second))
			second := fill("tx-1", "b", "1", "4", t0.Add(time.Second))
			for _, ev := range []*model.FillEvent{late, first, second} {
				require.NoError(t, st.AppendFillEvent(ctx, ev))
			}
			assert.Less(t, first.Seq, second.Seq)

			events, err := st.ListFillEvents(ctx, "tx-1")
			require.NoError(t, err)
			require.Len(t, events, 3)
			assert.Equal(t, first.ID, events[0].ID)
			assert.Equal(t, second.ID, events[1].ID)
			assert.Equal(t, late.ID, events[2].ID)
			assert.True(t, events[0].Amount.Decimal.Equal(d("10")))
			assert.False(t, events[0].BetLimit.Valid)
		})
	}
}

func TestStore_AppendToUnknownOrder(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := st.AppendFillEvent(ctx, fill("nope", "a", "1", "2", t0))
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestStore_ApplyTransitionWritesEverything(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			o := newOrder("tx-1", t0)
			o.Status = model.StatusClosedUnsettled
			o.AssignedAgents = []string{"a"}
			require.NoError(t, st.CreateOrder(ctx, o))

			win := model.ResultWin
			tr := &Transition{
				OrderID: "tx-1", From: model.StatusClosedUnsettled, To: model.StatusClosedSettled,
				Result: &win, At: t0.Add(time.Hour),
				Positions: []model.PositionEntry{
					{ID: uuid.NewString(), TransactionID: "tx-1", Line: 1, NomCode: model.LabelClient,
						Entity: model.EntityClient, AccountType: model.AccountBalanceSheet,
						CR: d("75"), NetPosition: d("75"), Date: t0, Timestamp: t0},
					{ID: uuid.NewString(), TransactionID: "tx-1", Line: 2, NomCode: "a",
						Entity: model.EntitySupplier, AccountType: model.AccountBalanceSheet,
						DR: d("75"), NetPosition: d("-75"), Date: t0, Timestamp: t0},
				},
				Journals: []model.JournalEntry{
					{ID: uuid.NewString(), TransactionID: "tx-1", JournalNo: 1, Line: 1, NomCode: 1000,
						NomName: "Client", Entity: model.EntityClient, AccountType: model.AccountBalanceSheet,
						DR: d("25"), SysType: "fromResult", Date: t0, Timestamp: t0},
				},
			}
			require.NoError(t, st.ApplyTransition(ctx, tr))

			got, err := st.GetOrder(ctx, "tx-1")
			require.NoError(t, err)
			assert.Equal(t, model.StatusClosedSettled, got.Status)
			require.NotNil(t, got.Result)
			assert.Equal(t, model.ResultWin, *got.Result)
			assert.Equal(t, []string{"a"}, got.AssignedAgents, "nil agents leave the list unchanged")

			positions, err := st.ListPositions(ctx, "tx-1")
			require.NoError(t, err)
			require.Len(t, positions, 2)
			assert.True(t, positions[0].CR.Equal(d("75")))
			assert.True(t, positions[1].NetPosition.Equal(d("-75")))

			all, err := st.ListPositions(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 2)

			journals, err := st.ListJournals(ctx, "tx-1")
			require.NoError(t, err)
			require.Len(t, journals, 1)
			assert.Equal(t, 1000, journals[0].NomCode)
		})
	}
}

func TestStore_ApplyTransitionCASConflict(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.CreateOrder(ctx, newOrder("tx-1", t0)))

			decline := &Transition{OrderID: "tx-1", From: model.StatusOpen, To: model.StatusDeclined, At: t0}
			require.NoError(t, st.ApplyTransition(ctx, decline))

			again := &Transition{
				OrderID: "tx-1", From: model.StatusOpen, To: model.StatusDeclined, At: t0,
				Events: []model.FillEvent{{ID: uuid.NewString(), TransactionID: "tx-1", Type: model.EventDecline, Timestamp: t0}},
			}
			err := st.ApplyTransition(ctx, again)
			assert.ErrorIs(t, err, model.ErrConcurrentModification)

			events, err := st.ListFillEvents(ctx, "tx-1")
			require.NoError(t, err)
			assert.Empty(t, events, "a rejected transition writes nothing")

			err = st.ApplyTransition(ctx, &Transition{OrderID: "missing", From: model.StatusOpen, To: model.StatusDeclined, At: t0})
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestStore_ConcurrentTransitionsOneWinner(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.CreateOrder(ctx, newOrder("tx-1", t0)))

			var wg sync.WaitGroup
			var mu sync.Mutex
			wins, conflicts := 0, 0
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := st.ApplyTransition(ctx, &Transition{
						OrderID: "tx-1", From: model.StatusOpen, To: model.StatusDeclined, At: t0,
					})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case errors.Is(err, model.ErrConcurrentModification):
						conflicts++
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
			assert.Equal(t, 7, conflicts)
		})
	}
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/broker", migrateURL("postgres://u:p@db:5432/broker"))
	assert.Equal(t, "pgx5://db/broker", migrateURL("postgresql://db/broker"))
	assert.Equal(t, "pgx5://db/broker", migrateURL("pgx5://db/broker"))
}

func TestOpen_DefaultsToMemory(t *testing.T) {
	st, cleanup, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	defer cleanup()
	_, ok := st.(*MemoryStore)
	assert.True(t, ok)
}

func TestOpen_SQLite(t *testing.T) {
	st, cleanup, err := Open(context.Background(), Options{SQLitePath: ":memory:"})
	require.NoError(t, err)
	defer cleanup()
	_, ok := st.(*SQLiteStore)
	assert.True(t, ok)
}
