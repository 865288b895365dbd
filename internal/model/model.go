// Package model defines the core domain types shared across the broker.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an Order.
type Status string

const (
	StatusOpen            Status = "Open"
	StatusInProgress      Status = "In-Progress"
	StatusClosedUnsettled Status = "Closed-UnSettled"
	StatusClosedSettled   Status = "Closed-Settled"
	StatusDeclined        Status = "Declined"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusOpen, StatusInProgress, StatusClosedUnsettled, StatusClosedSettled, StatusDeclined,
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosedUnsettled, StatusClosedSettled, StatusDeclined:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusClosedSettled || s == StatusDeclined
}

// HasAgents reports whether an order in status s must carry assigned agents.
func (s Status) HasAgents() bool {
	return s == StatusInProgress || s == StatusClosedUnsettled || s == StatusClosedSettled
}

// ParseStatus accepts the canonical spelling, case-insensitively.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrMalformedInput, s)
}

// Result is the outcome a manager records at settlement.
type Result string

const (
	ResultWin      Result = "win"
	ResultWinHalf  Result = "win-half"
	ResultLoss     Result = "loss"
	ResultLossHalf Result = "loss-half"
	ResultVoid     Result = "void"
)

func (r Result) Valid() bool {
	switch r {
	case ResultWin, ResultWinHalf, ResultLoss, ResultLossHalf, ResultVoid:
		return true
	}
	return false
}

// Half reports whether r settles at half stake.
func (r Result) Half() bool { return r == ResultWinHalf || r == ResultLossHalf }

// ParseResult normalises a result code. "lose" and "lose-half" are accepted
// as legacy spellings of the loss results.
func ParseResult(s string) (Result, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "win":
		return ResultWin, nil
	case "win-half", "half-win":
		return ResultWinHalf, nil
	case "loss", "lose":
		return ResultLoss, nil
	case "loss-half", "lose-half", "half-loss":
		return ResultLossHalf, nil
	case "void":
		return ResultVoid, nil
	}
	return "", fmt.Errorf("%w: unknown result %q", ErrMalformedInput, s)
}

// Origin records how an order entered the system.
type Origin string

const (
	OriginManager Origin = "manager" // submitted for a manager to assign
	OriginTrader  Origin = "trader"  // submitted and filled by a trader directly
)

// EventType is the closed set of fill-ledger event kinds.
type EventType string

const (
	EventAssign      EventType = "assign"
	EventAgentFill   EventType = "agent_fill"
	EventAgentFinish EventType = "agent_finish"
	EventAgentNote   EventType = "agent_note_with_image"
	EventTimer       EventType = "timer"
	EventClose       EventType = "close"
	EventDecline     EventType = "decline"
	EventClientFill  EventType = "client_fill"
)

// EventTypes lists every event type.
var EventTypes = []EventType{
	EventAssign, EventAgentFill, EventAgentFinish, EventAgentNote,
	EventTimer, EventClose, EventDecline, EventClientFill,
}

func (t EventType) Valid() bool {
	switch t {
	case EventAssign, EventAgentFill, EventAgentFinish, EventAgentNote,
		EventTimer, EventClose, EventDecline, EventClientFill:
		return true
	}
	return false
}

// ParseEventType rejects anything outside the closed set.
func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown event type %q", ErrMalformedInput, s)
	}
	return t, nil
}

// Entity classifies who a ledger line belongs to.
type Entity string

const (
	EntityClient   Entity = "Client"
	EntitySupplier Entity = "Supplier"
	EntityInternal Entity = "Internal"
)

// AccountType is the ledger section a line posts to.
type AccountType string

const (
	AccountBalanceSheet AccountType = "B/S"
	AccountProfitLoss   AccountType = "P&L"
)

// Position labels for the non-supplier lines.
const (
	LabelClient  = "Client"
	LabelCompany = "Company"
)

// Order is one bet-brokering request from intake to settlement.
type Order struct {
	ID             string          `json:"id"`
	Event          string          `json:"event"`
	League         string          `json:"league"`
	Market         string          `json:"market"`
	Bet            string          `json:"bet"`
	BetLimit       decimal.Decimal `json:"bet_limit"`
	RequestPrice   decimal.Decimal `json:"request_price"`
	SeekPrice      decimal.Decimal `json:"seek_price"`
	Notes          string          `json:"notes,omitempty"`
	RequestBy      string          `json:"request_by"`
	SystemDate     time.Time       `json:"system_date"`
	Origin         Origin          `json:"origin"`
	Status         Status          `json:"status"`
	AssignedAgents []string        `json:"assigned_agents"`
	Result         *Result         `json:"result,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate checks the record-level invariants tying status to result and
// assigned agents.
func (o *Order) Validate() error {
	if !o.Status.Valid() {
		return fmt.Errorf("%w: order %s has invalid status %q", ErrMalformedInput, o.ID, o.Status)
	}
	if (o.Result != nil) != (o.Status == StatusClosedSettled) {
		return fmt.Errorf("%w: order %s result must be set exactly when settled", ErrMalformedInput, o.ID)
	}
	if o.Result != nil && !o.Result.Valid() {
		return fmt.Errorf("%w: order %s has invalid result %q", ErrMalformedInput, o.ID, *o.Result)
	}
	if (len(o.AssignedAgents) > 0) != o.Status.HasAgents() {
		return fmt.Errorf("%w: order %s agents do not match status %s", ErrMalformedInput, o.ID, o.Status)
	}
	return nil
}

// IsAssigned reports whether agent is one of the order's suppliers.
func (o *Order) IsAssigned(agent string) bool {
	for _, a := range o.AssignedAgents {
		if a == agent {
			return true
		}
	}
	return false
}

// FillEvent is an immutable entry in a transaction's fill ledger.
// Amount and Price are nullable so a missing value is never confused with zero.
type FillEvent struct {
	ID            string              `json:"id"`
	TransactionID string              `json:"transaction_id"`
	Seq           int64               `json:"seq"`
	Type          EventType           `json:"type"`
	ActorID       string              `json:"actor_id,omitempty"`
	ActorName     string              `json:"actor_name,omitempty"`
	Amount        decimal.NullDecimal `json:"amount"`
	Price         decimal.NullDecimal `json:"price"`
	BetLimit      decimal.NullDecimal `json:"bet_limit"`
	SeekPrice     decimal.NullDecimal `json:"seek_price"`
	TimerSeconds  int64               `json:"timer_seconds,omitempty"`
	Notes         string              `json:"notes,omitempty"`
	ImageRef      string              `json:"image_ref,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

// Validate enforces the payload each event type must carry.
func (e *FillEvent) Validate() error {
	switch e.Type {
	case EventAgentFill:
		if !e.Amount.Valid || !e.Price.Valid {
			return fmt.Errorf("%w: agent_fill requires amount and price", ErrMalformedInput)
		}
		if !e.Amount.Decimal.IsPositive() || !e.Price.Decimal.IsPositive() {
			return fmt.Errorf("%w: agent_fill amount and price must be positive", ErrMalformedInput)
		}
		if e.ActorID == "" {
			return fmt.Errorf("%w: agent_fill requires an actor", ErrMalformedInput)
		}
	case EventClientFill:
		if !e.Amount.Valid || !e.Price.Valid {
			return fmt.Errorf("%w: client_fill requires amount and price", ErrMalformedInput)
		}
		if e.Amount.Decimal.IsNegative() || e.Price.Decimal.IsNegative() {
			return fmt.Errorf("%w: client_fill amount and price must not be negative", ErrMalformedInput)
		}
	case EventTimer:
		if e.TimerSeconds <= 0 {
			return fmt.Errorf("%w: timer requires positive seconds", ErrMalformedInput)
		}
	case EventAssign, EventAgentFinish, EventAgentNote, EventClose:
		if e.ActorID == "" {
			return fmt.Errorf("%w: %s requires an actor", ErrMalformedInput, e.Type)
		}
	case EventDecline:
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrMalformedInput, e.Type)
	}
	return nil
}

// PositionEntry is an immutable net-position line written by settlement.
type PositionEntry struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	Line          int             `json:"line"`
	NomCode       string          `json:"nomcode"`
	Entity        Entity          `json:"entity"`
	AccountType   AccountType     `json:"acc_type"`
	DR            decimal.Decimal `json:"dr"`
	CR            decimal.Decimal `json:"cr"`
	NetPosition   decimal.Decimal `json:"net_position"`
	Date          time.Time       `json:"date"`
	Ref           string          `json:"ref"`
	Details       string          `json:"details"`
	Notes         string          `json:"notes"`
	Timestamp     time.Time       `json:"timestamp"`
}

// JournalEntry is one side of a nominal-coded double-entry pair.
type JournalEntry struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	JournalNo     int             `json:"jrnl_no"`
	Line          int             `json:"line"`
	AccountType   AccountType     `json:"acc_type"`
	NomCode       int             `json:"nomcode"`
	NomName       string          `json:"nomname"`
	Entity        Entity          `json:"entity"`
	DR            decimal.Decimal `json:"dr"`
	CR            decimal.Decimal `json:"cr"`
	Date          time.Time       `json:"date"`
	Ref           string          `json:"ref"`
	Details       string          `json:"details"`
	Notes         string          `json:"notes"`
	SysType       string          `json:"systype"`
	Timestamp     time.Time       `json:"timestamp"`
}
