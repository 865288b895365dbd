// Package settlement computes the ledger effect of a result on a closed
// transaction. Settle is pure: it reads an order and its fill events and
// returns position and journal entries without touching storage, so the
// caller can write them in the same commit as the status change.
//
// Figures are net of stake. For each result:
//
//	win        Client CR = ca·cp − ca; each supplier fill DR = a·p − a;
//	           Internal DR = client CR, CR = Σ supplier DR
//	loss       Client DR = ca; each supplier fill CR = a;
//	           Internal CR = ca, DR = Σ supplier CR
//	win-half   every win figure × 0.5
//	loss-half  every loss figure × 0.5
//	void       zero lines for the client, each fill and the company
//
// Internal net position is CR − DR. A negative figure is posted to the
// opposite column of the same line, which leaves the balance unchanged.
package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/aggregate"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

// ErrUnbalanced is returned when generated entries do not balance.
var ErrUnbalanced = errors.New("settlement: debits do not equal credits")

// SysType tags journals produced from a result.
const SysType = "fromResult"

// Nominal codes of the full ledger.
const (
	NomClientControl   = 1000
	NomSupplierControl = 2000
	NomFollowControl   = 2001
	NomClientStakes    = 4000
	NomFollowStakes    = 4001
	NomBookieStakes    = 5000
	NomClientWinnings  = 6000
	NomBookieWinnings  = 7000
)

var half = decimal.New(5, -1)

// Input is everything a settlement reads.
type Input struct {
	Order  model.Order
	Events []model.FillEvent
	Result model.Result
	At     time.Time
	// Journals enables nominal-coded double-entry journals alongside the
	// net positions.
	Journals bool
}

// Output is the set of entries to persist.
type Output struct {
	Result     model.Result
	Positions  []model.PositionEntry
	Journals   []model.JournalEntry
	ClientNet  decimal.Decimal
	CompanyNet decimal.Decimal
}

type fill struct {
	agent  string
	amount decimal.Decimal
	price  decimal.Decimal
}

// Settle computes the entries for in.Result. It rejects the settlement if the
// order is not awaiting settlement, if there is not exactly one client fill
// and at least one agent fill, or if any fill lacks an amount or price.
func Settle(in Input) (*Output, error) {
	if !in.Result.Valid() {
		return nil, model.Precondition(model.GuardInvalidResult, "result %q", in.Result)
	}
	switch in.Order.Status {
	case model.StatusClosedUnsettled:
	case model.StatusClosedSettled:
		return nil, model.Precondition(model.GuardAlreadySettled, "order %s is already settled", in.Order.ID)
	default:
		return nil, model.Precondition(model.GuardWrongStatus, "order %s is %s", in.Order.ID, in.Order.Status)
	}

	client, agents, err := collect(in.Events)
	if err != nil {
		return nil, err
	}

	factor := decimal.NewFromInt(1)
	if in.Result.Half() {
		factor = half
	}

	l := &ledger{in: in}
	out := &Output{Result: in.Result}

	switch in.Result {
	case model.ResultWin, model.ResultWinHalf:
		clientNet := client.amount.Mul(client.price).Sub(client.amount).Mul(factor)
		l.position(model.EntityClient, model.LabelClient, decimal.Zero, clientNet)
		supplierTotal := decimal.Zero
		for _, f := range agents {
			net := f.amount.Mul(f.price).Sub(f.amount).Mul(factor)
			supplierTotal = supplierTotal.Add(net)
			l.position(model.EntitySupplier, f.agent, net, decimal.Zero)
		}
		out.ClientNet = clientNet
		out.CompanyNet = supplierTotal.Sub(clientNet)
		l.position(model.EntityInternal, model.LabelCompany, clientNet, supplierTotal)
	case model.ResultLoss, model.ResultLossHalf:
		stake := client.amount.Mul(factor)
		l.position(model.EntityClient, model.LabelClient, stake, decimal.Zero)
		supplierTotal := decimal.Zero
		for _, f := range agents {
			s := f.amount.Mul(factor)
			supplierTotal = supplierTotal.Add(s)
			l.position(model.EntitySupplier, f.agent, decimal.Zero, s)
		}
		out.ClientNet = stake.Neg()
		out.CompanyNet = stake.Sub(supplierTotal)
		l.position(model.EntityInternal, model.LabelCompany, supplierTotal, stake)
	case model.ResultVoid:
		l.position(model.EntityClient, model.LabelClient, decimal.Zero, decimal.Zero)
		for _, f := range agents {
			l.position(model.EntitySupplier, f.agent, decimal.Zero, decimal.Zero)
		}
		l.position(model.EntityInternal, model.LabelCompany, decimal.Zero, decimal.Zero)
	}

	if in.Journals && in.Result != model.ResultVoid {
		l.journals(client, agents, factor, out.CompanyNet)
	}

	if err := CheckBalance(l.positions); err != nil {
		return nil, err
	}
	if err := CheckJournalBalance(l.journalEntries); err != nil {
		return nil, err
	}

	out.Positions = l.positions
	out.Journals = l.journalEntries
	return out, nil
}

// collect picks the single client fill and every agent fill, in ledger order.
func collect(events []model.FillEvent) (fill, []fill, error) {
	sorted := make([]model.FillEvent, len(events))
	copy(sorted, events)
	aggregate.SortEvents(sorted)

	var clients []fill
	var agents []fill
	for _, ev := range sorted {
		switch ev.Type {
		case model.EventClientFill, model.EventAgentFill:
			if !ev.Amount.Valid || !ev.Price.Valid {
				return fill{}, nil, model.Precondition(model.GuardMalformedFill,
					"%s event %s is missing amount or price", ev.Type, ev.ID)
			}
			if ev.Amount.Decimal.IsNegative() || ev.Price.Decimal.IsNegative() {
				return fill{}, nil, model.Precondition(model.GuardMalformedFill,
					"%s event %s has a negative amount or price", ev.Type, ev.ID)
			}
			f := fill{agent: ev.ActorID, amount: ev.Amount.Decimal, price: ev.Price.Decimal}
			if ev.Type == model.EventClientFill {
				clients = append(clients, f)
			} else {
				if f.agent == "" {
					return fill{}, nil, model.Precondition(model.GuardMalformedFill, "agent_fill %s has no agent", ev.ID)
				}
				agents = append(agents, f)
			}
		case model.EventAssign, model.EventAgentFinish, model.EventAgentNote,
			model.EventTimer, model.EventClose, model.EventDecline:
		default:
			return fill{}, nil, model.Precondition(model.GuardMalformedFill, "event %s has unknown type %q", ev.ID, ev.Type)
		}
	}

	switch {
	case len(clients) == 0:
		return fill{}, nil, model.Precondition(model.GuardMissingClientFill, "no client fill")
	case len(clients) > 1:
		return fill{}, nil, model.Precondition(model.GuardDuplicateClientFill, "%d client fills", len(clients))
	case len(agents) == 0:
		return fill{}, nil, model.Precondition(model.GuardMissingAgentFill, "no agent fill")
	}
	return clients[0], agents, nil
}

type ledger struct {
	in             Input
	positions      []model.PositionEntry
	journalEntries []model.JournalEntry
}

func (l *ledger) position(entity model.Entity, label string, dr, cr decimal.Decimal) {
	net := cr.Sub(dr)
	dr, cr = post(dr, cr)
	o := l.in.Order
	l.positions = append(l.positions, model.PositionEntry{
		ID:            uuid.New().String(),
		TransactionID: o.ID,
		Line:          len(l.positions) + 1,
		NomCode:       label,
		Entity:        entity,
		AccountType:   model.AccountBalanceSheet,
		DR:            dr,
		CR:            cr,
		NetPosition:   net,
		Date:          o.SystemDate,
		Ref:           o.Event,
		Details:       o.Bet,
		Notes:         string(l.in.Result),
		Timestamp:     l.in.At,
	})
}

func (l *ledger) journals(client fill, agents []fill, factor, companyNet decimal.Decimal) {
	who := l.in.Order.RequestBy
	if who == "" {
		who = "Unknown Requestor"
	}
	win := l.in.Result == model.ResultWin || l.in.Result == model.ResultWinHalf

	jn := 1
	stake := client.amount.Mul(factor)
	l.pair(jn, model.EntityClient,
		NomClientControl, "Client Control Acc - "+who, model.AccountBalanceSheet,
		NomClientStakes, "Client Stakes - "+who, stake)
	if win {
		gross := client.amount.Mul(client.price).Mul(factor)
		l.pair(jn, model.EntityClient,
			NomClientWinnings, "Client Winnings - "+who, model.AccountProfitLoss,
			NomClientControl, "Client Control Acc - "+who, gross)
	}

	for _, f := range agents {
		jn++
		l.pair(jn, model.EntitySupplier,
			NomBookieStakes, "Bookie Stakes - "+f.agent, model.AccountProfitLoss,
			NomSupplierControl, "Supplier Control Acc - "+f.agent, f.amount.Mul(factor))
	}
	if win {
		for _, f := range agents {
			jn++
			l.pair(jn, model.EntitySupplier,
				NomSupplierControl, "Supplier Control Acc - "+f.agent, model.AccountBalanceSheet,
				NomBookieWinnings, "Bookie Winnings - "+f.agent, f.amount.Mul(f.price).Mul(factor))
		}
	}

	jn++
	l.pair(jn, model.EntityInternal,
		NomFollowControl, "Follow Control Acc - DLA", model.AccountBalanceSheet,
		NomFollowStakes, "Follow Stakes - internal", companyNet.Neg())
}

// pair posts amount as a debit to the first account and a credit to the
// second. The credit side's account type is the other section of the ledger.
func (l *ledger) pair(jn int, entity model.Entity, drCode int, drName string, drType model.AccountType, crCode int, crName string, amount decimal.Decimal) {
	crType := model.AccountProfitLoss
	if drType == model.AccountProfitLoss {
		crType = model.AccountBalanceSheet
	}
	l.journal(jn, entity, drCode, drName, drType, amount, decimal.Zero)
	l.journal(jn, entity, crCode, crName, crType, decimal.Zero, amount)
}

func (l *ledger) journal(jn int, entity model.Entity, code int, name string, typ model.AccountType, dr, cr decimal.Decimal) {
	dr, cr = post(dr, cr)
	o := l.in.Order
	l.journalEntries = append(l.journalEntries, model.JournalEntry{
		ID:            uuid.New().String(),
		TransactionID: o.ID,
		JournalNo:     jn,
		Line:          len(l.journalEntries) + 1,
		AccountType:   typ,
		NomCode:       code,
		NomName:       name,
		Entity:        entity,
		DR:            dr,
		CR:            cr,
		Date:          o.SystemDate,
		Ref:           o.Event,
		Details:       o.Bet,
		Notes:         string(l.in.Result),
		SysType:       SysType,
		Timestamp:     l.in.At,
	})
}

// post keeps both columns non-negative by moving a negative figure to the
// other column.
func post(dr, cr decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if dr.IsNegative() {
		cr = cr.Sub(dr)
		dr = decimal.Zero
	}
	if cr.IsNegative() {
		dr = dr.Sub(cr)
		cr = decimal.Zero
	}
	return dr, cr
}

// PositionTotals sums both columns.
func PositionTotals(entries []model.PositionEntry) (dr, cr decimal.Decimal) {
	for _, e := range entries {
		dr = dr.Add(e.DR)
		cr = cr.Add(e.CR)
	}
	return dr, cr
}

// CheckBalance returns ErrUnbalanced unless Σ DR == Σ CR.
func CheckBalance(entries []model.PositionEntry) error {
	dr, cr := PositionTotals(entries)
	if !dr.Equal(cr) {
		return fmt.Errorf("%w: positions DR %s CR %s", ErrUnbalanced, dr, cr)
	}
	return nil
}

// CheckJournalBalance returns ErrUnbalanced unless every journal number
// balances on its own.
func CheckJournalBalance(entries []model.JournalEntry) error {
	type totals struct{ dr, cr decimal.Decimal }
	byNo := make(map[int]*totals)
	for _, e := range entries {
		t, ok := byNo[e.JournalNo]
		if !ok {
			t = &totals{}
			byNo[e.JournalNo] = t
		}
		t.dr = t.dr.Add(e.DR)
		t.cr = t.cr.Add(e.CR)
	}
	for no, t := range byNo {
		if !t.dr.Equal(t.cr) {
			return fmt.Errorf("%w: journal %d DR %s CR %s", ErrUnbalanced, no, t.dr, t.cr)
		}
	}
	return nil
}
