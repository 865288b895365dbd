// Package aggregate projects a transaction's fill ledger into running
// metrics: message counts, filled amount, blended price and timer state.
//
// The projection is pure. Applying events one at a time (as they stream in)
// and projecting the full set from scratch yield the same Summary, because
// every accumulated value is order-independent except the timer, which
// always keeps the latest (timestamp, seq) pair.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

// Timer is the countdown set by the most recent timer event.
type Timer struct {
	Set       bool      `json:"set"`
	StartedAt time.Time `json:"started_at"`
	Seconds   int64     `json:"seconds"`
	Seq       int64     `json:"-"`
}

// Deadline is the instant the countdown reaches zero.
func (t Timer) Deadline() time.Time {
	return t.StartedAt.Add(time.Duration(t.Seconds) * time.Second)
}

// Remaining returns whole seconds left at now, never below zero.
func (t Timer) Remaining(now time.Time) int64 {
	if !t.Set {
		return 0
	}
	ms := t.Deadline().Sub(now).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return ms / 1000
}

// Finished reports whether a set timer has run out.
func (t Timer) Finished(now time.Time) bool {
	return t.Set && t.Remaining(now) == 0
}

func (t Timer) newerThan(ts time.Time, seq int64) bool {
	if !t.Set {
		return false
	}
	if !t.StartedAt.Equal(ts) {
		return t.StartedAt.After(ts)
	}
	return t.Seq > seq
}

// AgentTotals accumulates one supplier's fills.
type AgentTotals struct {
	Agent    string          `json:"agent"`
	Fills    int             `json:"fills"`
	Amount   decimal.Decimal `json:"amount"`
	Notional decimal.Decimal `json:"notional"`
	Finished bool            `json:"finished"`

	priced decimal.Decimal
}

// BlendedPrice is notional over priced volume, or zero with no volume.
func (a AgentTotals) BlendedPrice() decimal.Decimal {
	return blend(a.Notional, a.priced)
}

// Summary is the derived view of one transaction's events.
type Summary struct {
	TransactionID string          `json:"transaction_id"`
	MessageCount  int             `json:"message_count"`
	AmountTotal   decimal.Decimal `json:"amount_total"`
	Notional      decimal.Decimal `json:"notional"`
	BlendedPrice  decimal.Decimal `json:"blended_price"`
	AgentFills    int             `json:"agent_fills"`
	ClientFills   int             `json:"client_fills"`
	Assignments   int             `json:"assignments"`
	Closes        int             `json:"closes"`
	Declines      int             `json:"declines"`
	Notes         int             `json:"notes"`
	// Malformed counts fill events whose amount or price was missing; they
	// contribute zero to the totals.
	Malformed    int                     `json:"malformed"`
	ClientAmount decimal.NullDecimal     `json:"client_amount"`
	ClientPrice  decimal.NullDecimal     `json:"client_price"`
	Agents       map[string]*AgentTotals `json:"agents"`
	Timer        Timer                   `json:"timer"`
	LastEventAt  time.Time               `json:"last_event_at"`
}

// Aggregator folds events into a Summary incrementally.
type Aggregator struct {
	sum    Summary
	priced decimal.Decimal // volume of fills that carried a price
}

// New returns an empty aggregator for one transaction.
func New(transactionID string) *Aggregator {
	return &Aggregator{sum: Summary{
		TransactionID: transactionID,
		Agents:        make(map[string]*AgentTotals),
	}}
}

// Apply folds one event into the running totals.
func (a *Aggregator) Apply(ev model.FillEvent) {
	s := &a.sum
	s.MessageCount++
	if ev.Timestamp.After(s.LastEventAt) {
		s.LastEventAt = ev.Timestamp
	}

	switch ev.Type {
	case model.EventAgentFill:
		s.AgentFills++
		agent := a.agent(ev.ActorID)
		agent.Fills++
		if !ev.Amount.Valid {
			s.Malformed++
			return
		}
		s.AmountTotal = s.AmountTotal.Add(ev.Amount.Decimal)
		agent.Amount = agent.Amount.Add(ev.Amount.Decimal)
		if !ev.Price.Valid {
			s.Malformed++
			return
		}
		n := ev.Amount.Decimal.Mul(ev.Price.Decimal)
		s.Notional = s.Notional.Add(n)
		a.priced = a.priced.Add(ev.Amount.Decimal)
		s.BlendedPrice = blend(s.Notional, a.priced)
		agent.Notional = agent.Notional.Add(n)
		agent.priced = agent.priced.Add(ev.Amount.Decimal)
	case model.EventClientFill:
		s.ClientFills++
		s.ClientAmount = ev.Amount
		s.ClientPrice = ev.Price
		if !ev.Amount.Valid || !ev.Price.Valid {
			s.Malformed++
		}
	case model.EventAgentFinish:
		a.agent(ev.ActorID).Finished = true
	case model.EventTimer:
		if !s.Timer.newerThan(ev.Timestamp, ev.Seq) {
			s.Timer = Timer{Set: true, StartedAt: ev.Timestamp, Seconds: ev.TimerSeconds, Seq: ev.Seq}
		}
	case model.EventAssign:
		s.Assignments++
		a.agent(ev.ActorID)
	case model.EventClose:
		s.Closes++
	case model.EventDecline:
		s.Declines++
	case model.EventAgentNote:
		s.Notes++
	default:
		s.Malformed++
	}
}

// Summary returns a copy of the running totals.
func (a *Aggregator) Summary() Summary {
	out := a.sum
	out.Agents = make(map[string]*AgentTotals, len(a.sum.Agents))
	for k, v := range a.sum.Agents {
		cp := *v
		out.Agents[k] = &cp
	}
	return out
}

func (a *Aggregator) agent(id string) *AgentTotals {
	t, ok := a.sum.Agents[id]
	if !ok {
		t = &AgentTotals{Agent: id}
		a.sum.Agents[id] = t
	}
	return t
}

// Project recomputes a Summary from scratch. Events are processed in
// timestamp order, ties broken by seq.
func Project(transactionID string, events []model.FillEvent) Summary {
	sorted := make([]model.FillEvent, len(events))
	copy(sorted, events)
	SortEvents(sorted)

	agg := New(transactionID)
	for _, ev := range sorted {
		agg.Apply(ev)
	}
	return agg.Summary()
}

// SortEvents orders events by timestamp ascending, then seq.
func SortEvents(events []model.FillEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Seq < events[j].Seq
	})
}

func blend(notional, amount decimal.Decimal) decimal.Decimal {
	if amount.IsZero() {
		return decimal.Zero
	}
	return notional.Div(amount)
}
