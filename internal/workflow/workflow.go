// Package workflow is the order state machine. It decides whether a status
// change is legal for an order and its current fill summary, and plans the
// fill events the change writes. It performs no I/O.
package workflow

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/aggregate"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

// Messages written on the events a transition produces.
const (
	MsgDecline      = "Sorry, Cannot fulfill that request"
	MsgClose        = "Manager has closed transaction"
	MsgAssign       = "Manager assigned transaction"
	MsgTraderStart  = "Trader Starting"
	MsgClientFill   = "Client fill"
	MsgAgentFinish  = "Stopped filling order"
	MsgManualFinish = "Closed by manual finish"
)

var transitions = map[model.Status][]model.Status{
	model.StatusOpen:            {model.StatusInProgress, model.StatusDeclined},
	model.StatusInProgress:      {model.StatusClosedUnsettled},
	model.StatusClosedUnsettled: {model.StatusClosedSettled},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next lists the statuses reachable from s in one step.
func Next(s model.Status) []model.Status {
	return append([]model.Status(nil), transitions[s]...)
}

// Assignment is one supplier handed the order, with the limit and price
// agreed for that supplier.
type Assignment struct {
	Agent     string              `json:"agent"`
	BetLimit  decimal.NullDecimal `json:"bet_limit"`
	SeekPrice decimal.NullDecimal `json:"seek_price"`
}

// GuardContext carries the caller-supplied inputs a transition needs.
type GuardContext struct {
	Actor     string       `json:"-"`
	ActorName string       `json:"-"`
	Suppliers []Assignment `json:"suppliers,omitempty"`
	// ManualFinish lets an order close with nothing filled.
	ManualFinish bool `json:"manual_finish,omitempty"`
	// ClientAmount and ClientPrice override the aggregate figures passed
	// to the client on close.
	ClientAmount decimal.NullDecimal `json:"client_amount"`
	ClientPrice  decimal.NullDecimal `json:"client_price"`
	Result       model.Result        `json:"result,omitempty"`
	Notes        string              `json:"notes,omitempty"`
}

// Step is the planned effect of a legal transition.
type Step struct {
	From           model.Status
	To             model.Status
	AssignedAgents []string
	Events         []model.FillEvent
	Result         *model.Result
}

// Check validates a transition against the order's status and fill summary.
func Check(order *model.Order, to model.Status, sum aggregate.Summary, gc GuardContext) error {
	if !to.Valid() {
		return model.Precondition(model.GuardInvalidTransition, "unknown target status %q", to)
	}
	if order.Status == model.StatusClosedSettled {
		return model.Precondition(model.GuardAlreadySettled, "order %s is already settled", order.ID)
	}
	if order.Status == model.StatusDeclined {
		return model.Precondition(model.GuardWrongStatus, "order %s was declined", order.ID)
	}
	if !CanTransition(order.Status, to) {
		return model.Precondition(model.GuardInvalidTransition, "%s -> %s", order.Status, to)
	}

	switch to {
	case model.StatusInProgress:
		if len(gc.Suppliers) == 0 {
			return model.Precondition(model.GuardNoSuppliers, "at least one supplier is required")
		}
		seen := make(map[string]bool, len(gc.Suppliers))
		for _, s := range gc.Suppliers {
			agent := strings.TrimSpace(s.Agent)
			if agent == "" {
				return model.Precondition(model.GuardNoSuppliers, "supplier name is empty")
			}
			if seen[agent] {
				return model.Precondition(model.GuardNoSuppliers, "supplier %s listed twice", agent)
			}
			seen[agent] = true
		}
	case model.StatusDeclined:
		if sum.AgentFills > 0 || sum.ClientFills > 0 || sum.AmountTotal.IsPositive() {
			return model.Precondition(model.GuardFillsExist, "order %s already has fills", order.ID)
		}
	case model.StatusClosedUnsettled:
		if !sum.AmountTotal.IsPositive() && !gc.ManualFinish {
			return model.Precondition(model.GuardNotFilled, "order %s has no filled amount", order.ID)
		}
		if sum.ClientFills > 0 {
			return model.Precondition(model.GuardDuplicateClientFill, "order %s already has a client fill", order.ID)
		}
		if gc.ClientAmount.Valid && gc.ClientAmount.Decimal.IsNegative() ||
			gc.ClientPrice.Valid && gc.ClientPrice.Decimal.IsNegative() {
			return model.Precondition(model.GuardMalformedFill, "client amount and price must not be negative")
		}
	case model.StatusClosedSettled:
		if !gc.Result.Valid() {
			return model.Precondition(model.GuardInvalidResult, "result %q", gc.Result)
		}
		switch {
		case sum.ClientFills == 0:
			return model.Precondition(model.GuardMissingClientFill, "order %s has no client fill", order.ID)
		case sum.ClientFills > 1:
			return model.Precondition(model.GuardDuplicateClientFill, "order %s has %d client fills", order.ID, sum.ClientFills)
		case sum.AgentFills == 0:
			return model.Precondition(model.GuardMissingAgentFill, "order %s has no agent fill", order.ID)
		}
	}
	return nil
}

// Plan checks the transition and builds the events it writes. Event IDs,
// sequence numbers and timestamps are left for the caller to stamp.
func Plan(order *model.Order, to model.Status, sum aggregate.Summary, gc GuardContext) (*Step, error) {
	if err := Check(order, to, sum, gc); err != nil {
		return nil, err
	}

	step := &Step{From: order.Status, To: to}
	base := model.FillEvent{TransactionID: order.ID, ActorName: gc.ActorName}

	switch to {
	case model.StatusInProgress:
		msg := gc.Notes
		if msg == "" {
			msg = MsgAssign
			if order.Origin == model.OriginTrader {
				msg = MsgTraderStart
			}
		}
		for _, s := range gc.Suppliers {
			ev := base
			ev.Type = model.EventAssign
			ev.ActorID = strings.TrimSpace(s.Agent)
			ev.BetLimit = orDefault(s.BetLimit, order.BetLimit)
			ev.SeekPrice = orDefault(s.SeekPrice, order.SeekPrice)
			ev.Notes = msg
			step.AssignedAgents = append(step.AssignedAgents, ev.ActorID)
			step.Events = append(step.Events, ev)
		}
	case model.StatusDeclined:
		ev := base
		ev.Type = model.EventDecline
		ev.ActorID = gc.Actor
		ev.Notes = MsgDecline
		if gc.Notes != "" {
			ev.Notes = gc.Notes
		}
		step.Events = append(step.Events, ev)
	case model.StatusClosedUnsettled:
		msg := MsgClose
		if gc.ManualFinish && !sum.AmountTotal.IsPositive() {
			msg = MsgManualFinish
		}
		for _, agent := range order.AssignedAgents {
			ev := base
			ev.Type = model.EventClose
			ev.ActorID = agent
			ev.Notes = msg
			step.Events = append(step.Events, ev)
		}
		cf := base
		cf.Type = model.EventClientFill
		cf.ActorID = gc.Actor
		cf.Amount = orDefault(gc.ClientAmount, sum.AmountTotal)
		cf.Price = orDefault(gc.ClientPrice, sum.BlendedPrice)
		cf.Notes = MsgClientFill
		if gc.Notes != "" {
			cf.Notes = gc.Notes
		}
		step.Events = append(step.Events, cf)
	case model.StatusClosedSettled:
		r := gc.Result
		step.Result = &r
	}
	return step, nil
}

func orDefault(v decimal.NullDecimal, def decimal.Decimal) decimal.NullDecimal {
	if v.Valid {
		return v
	}
	return decimal.NewNullDecimal(def)
}
