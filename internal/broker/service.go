// Package broker orchestrates the order workflow: it reads an order and its
// fill ledger, asks the workflow and settlement packages what a change
// writes, and commits it through the store in one atomic step.
//
// All monetary values use shopspring/decimal. Never float64 for money.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/aggregate"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/metrics"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/report"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/settlement"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/store"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/workflow"
)

// maxAttempts bounds how often a transition is planned after losing the
// status compare-and-set.
const maxAttempts = 2

// Service runs workflow operations against a Store. Writers on the same
// transaction are serialized in-process; across processes the store's
// status compare-and-set decides.
type Service struct {
	store    store.Store
	now      func() time.Time
	journals bool
	workers  int

	locks keyedMutex

	stampMu   sync.Mutex
	lastStamp time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithJournals toggles writing nominal-coded journals on settlement.
func WithJournals(on bool) Option {
	return func(s *Service) { s.journals = on }
}

// WithWorkers sets the parallelism of Summaries.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewService creates a broker service over st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		now:      time.Now,
		journals: true,
		workers:  4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// stamp returns a strictly increasing UTC time at microsecond precision,
// the resolution every store keeps.
func (s *Service) stamp() time.Time {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()

	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}

// --- Orders ---

// OrderRequest is the client-facing description of a bet to broker.
type OrderRequest struct {
	Event        string          `json:"event"`
	League       string          `json:"league"`
	Market       string          `json:"market"`
	Bet          string          `json:"bet"`
	BetLimit     decimal.Decimal `json:"bet_limit"`
	RequestPrice decimal.Decimal `json:"request_price"`
	SeekPrice    decimal.Decimal `json:"seek_price"`
	Notes        string          `json:"notes"`
	RequestBy    string          `json:"request_by"`
}

func (r OrderRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Event) == "":
		return fmt.Errorf("%w: event is required", model.ErrMalformedInput)
	case strings.TrimSpace(r.Bet) == "":
		return fmt.Errorf("%w: bet is required", model.ErrMalformedInput)
	case strings.TrimSpace(r.RequestBy) == "":
		return fmt.Errorf("%w: request_by is required", model.ErrMalformedInput)
	case r.BetLimit.IsNegative() || r.RequestPrice.IsNegative() || r.SeekPrice.IsNegative():
		return fmt.Errorf("%w: bet limit and prices must not be negative", model.ErrMalformedInput)
	}
	return nil
}

// CreateOrder records a new Open order for a manager to assign.
func (s *Service) CreateOrder(ctx context.Context, req OrderRequest) (*model.Order, error) {
	return s.createOrder(ctx, req, model.OriginManager)
}

// SubmitDirect creates an order on behalf of a trader and assigns it to that
// trader in one call.
func (s *Service) SubmitDirect(ctx context.Context, trader, traderName string, req OrderRequest) (*model.Order, error) {
	trader = strings.TrimSpace(trader)
	if trader == "" {
		return nil, fmt.Errorf("%w: trader is required", model.ErrMalformedInput)
	}
	if req.RequestBy == "" {
		req.RequestBy = trader
		if traderName != "" {
			req.RequestBy = traderName
		}
	}
	o, err := s.createOrder(ctx, req, model.OriginTrader)
	if err != nil {
		return nil, err
	}
	return s.Transition(ctx, o.ID, model.StatusInProgress, workflow.GuardContext{
		Actor:     trader,
		ActorName: traderName,
		Suppliers: []workflow.Assignment{{Agent: trader}},
	})
}

func (s *Service) createOrder(ctx context.Context, req OrderRequest, origin model.Origin) (*model.Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := s.stamp()
	o := &model.Order{
		ID:           uuid.NewString(),
		Event:        strings.TrimSpace(req.Event),
		League:       req.League,
		Market:       req.Market,
		Bet:          strings.TrimSpace(req.Bet),
		BetLimit:     req.BetLimit,
		RequestPrice: req.RequestPrice,
		SeekPrice:    req.SeekPrice,
		Notes:        req.Notes,
		RequestBy:    strings.TrimSpace(req.RequestBy),
		SystemDate:   now,
		Origin:       origin,
		Status:       model.StatusOpen,
		UpdatedAt:    now,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, s.storeErr("create order", err)
	}

	slog.Info("order created",
		"id", o.ID,
		"origin", o.Origin,
		"request_by", o.RequestBy,
		"event", o.Event,
		"bet_limit", o.BetLimit.String(),
	)
	return o, nil
}

// GetOrder returns model.ErrNotFound for an unknown id.
func (s *Service) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, s.storeErr("get order", err)
	}
	return o, nil
}

// ListOrders returns orders newest first.
func (s *Service) ListOrders(ctx context.Context, f store.OrderFilter) ([]model.Order, error) {
	orders, err := s.store.ListOrders(ctx, f)
	if err != nil {
		return nil, s.storeErr("list orders", err)
	}
	return orders, nil
}

// --- Fill ledger ---

// ListFillEvents returns an order's events by timestamp ascending.
func (s *Service) ListFillEvents(ctx context.Context, id string) ([]model.FillEvent, error) {
	if _, err := s.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.store.ListFillEvents(ctx, id)
	if err != nil {
		return nil, s.storeErr("list fill events", err)
	}
	return events, nil
}

// AppendFillEvent records a supplier-side event: a fill, a finish, a note
// or a timer. Assign, close, decline and client_fill events are written
// only by Transition.
func (s *Service) AppendFillEvent(ctx context.Context, id string, ev model.FillEvent) (*model.FillEvent, error) {
	switch ev.Type {
	case model.EventAgentFill, model.EventAgentFinish, model.EventAgentNote, model.EventTimer:
	default:
		if !ev.Type.Valid() {
			return nil, fmt.Errorf("%w: unknown event type %q", model.ErrMalformedInput, ev.Type)
		}
		return nil, fmt.Errorf("%w: %s events are written by status transitions", model.ErrMalformedInput, ev.Type)
	}
	ev.TransactionID = id
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := appendAllowed(order, &ev); err != nil {
		return nil, s.rejected(id, err)
	}

	ev.ID = uuid.NewString()
	ev.Seq = 0
	ev.Timestamp = s.stamp()
	if ev.Type == model.EventAgentFinish && ev.Notes == "" {
		ev.Notes = workflow.MsgAgentFinish
	}
	if err := s.store.AppendFillEvent(ctx, &ev); err != nil {
		return nil, s.storeErr("append fill event", err)
	}

	metrics.FillEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	slog.Info("fill event appended",
		"id", id,
		"event_id", ev.ID,
		"type", ev.Type,
		"actor", ev.ActorID,
		"amount", ev.Amount.Decimal.String(),
		"price", ev.Price.Decimal.String(),
	)
	return &ev, nil
}

func appendAllowed(order *model.Order, ev *model.FillEvent) error {
	switch ev.Type {
	case model.EventAgentFill, model.EventAgentFinish:
		if order.Status != model.StatusInProgress {
			return model.Precondition(model.GuardWrongStatus, "order %s is %s", order.ID, order.Status)
		}
		if !order.IsAssigned(ev.ActorID) {
			return model.Precondition(model.GuardNotAssigned, "%s is not assigned to order %s", ev.ActorID, order.ID)
		}
	case model.EventAgentNote:
		if order.Status != model.StatusInProgress && order.Status != model.StatusClosedUnsettled {
			return model.Precondition(model.GuardWrongStatus, "order %s is %s", order.ID, order.Status)
		}
		if !order.IsAssigned(ev.ActorID) {
			return model.Precondition(model.GuardNotAssigned, "%s is not assigned to order %s", ev.ActorID, order.ID)
		}
	case model.EventTimer:
		if order.Status != model.StatusOpen && order.Status != model.StatusInProgress {
			return model.Precondition(model.GuardWrongStatus, "order %s is %s", order.ID, order.Status)
		}
	}
	return nil
}

// --- Transitions ---

// Transition moves an order to status to. The guard is evaluated against a
// fresh projection of the fill ledger, and the status change, its events and
// any settlement entries commit together. A lost compare-and-set is retried
// once; if the order changed again the call fails with guard
// already_processed.
func (s *Service) Transition(ctx context.Context, id string, to model.Status, gc workflow.GuardContext) (*model.Order, error) {
	order, _, err := s.transition(ctx, id, to, gc)
	return order, err
}

// Settle applies result to a Closed-UnSettled order and returns the position
// entries written. An order settles at most once.
func (s *Service) Settle(ctx context.Context, id string, result model.Result) ([]model.PositionEntry, error) {
	_, out, err := s.transition(ctx, id, model.StatusClosedSettled, workflow.GuardContext{Result: result})
	if err != nil {
		return nil, err
	}
	return out.Positions, nil
}

func (s *Service) transition(ctx context.Context, id string, to model.Status, gc workflow.GuardContext) (*model.Order, *settlement.Output, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 1; ; attempt++ {
		start := time.Now()

		order, err := s.GetOrder(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		events, err := s.store.ListFillEvents(ctx, id)
		if err != nil {
			return nil, nil, s.storeErr("list fill events", err)
		}
		sum := aggregate.Project(id, events)

		step, err := workflow.Plan(order, to, sum, gc)
		if err != nil {
			return nil, nil, s.rejected(id, err)
		}

		at := s.stamp()
		tr := &store.Transition{
			OrderID:        id,
			From:           step.From,
			To:             step.To,
			AssignedAgents: step.AssignedAgents,
			Result:         step.Result,
			At:             at,
		}
		for _, ev := range step.Events {
			ev.ID = uuid.NewString()
			ev.Timestamp = s.stamp()
			tr.Events = append(tr.Events, ev)
		}

		var out *settlement.Output
		if step.To == model.StatusClosedSettled {
			out, err = settlement.Settle(settlement.Input{
				Order:    *order,
				Events:   events,
				Result:   *step.Result,
				At:       at,
				Journals: s.journals,
			})
			if err != nil {
				return nil, nil, s.rejected(id, err)
			}
			tr.Positions = out.Positions
			tr.Journals = out.Journals
		}

		err = s.store.ApplyTransition(ctx, tr)
		if errors.Is(err, model.ErrConcurrentModification) {
			metrics.ConcurrentModifications.Inc()
			slog.Warn("transition lost compare-and-set",
				"id", id, "from", step.From, "to", step.To, "attempt", attempt)
			if attempt < maxAttempts {
				continue
			}
			return nil, nil, s.rejected(id, fmt.Errorf("%w: %w",
				model.Precondition(model.GuardAlreadyProcessed, "order %s was changed by another writer", id), err))
		}
		if err != nil {
			return nil, nil, s.storeErr("apply transition", err)
		}

		metrics.TransitionsTotal.WithLabelValues(string(step.From), string(step.To)).Inc()
		if out != nil {
			metrics.SettlementsTotal.WithLabelValues(string(out.Result)).Inc()
			metrics.SettlementLatency.Observe(time.Since(start).Seconds())
			slog.Info("order settled",
				"id", id,
				"result", out.Result,
				"positions", len(out.Positions),
				"journals", len(out.Journals),
				"client_net", out.ClientNet.String(),
				"company_net", out.CompanyNet.String(),
			)
		} else {
			slog.Info("order transitioned",
				"id", id, "from", step.From, "to", step.To, "events", len(tr.Events), "actor", gc.Actor)
		}

		order.Status = step.To
		if step.AssignedAgents != nil {
			order.AssignedAgents = step.AssignedAgents
		}
		if step.Result != nil {
			r := *step.Result
			order.Result = &r
		}
		order.UpdatedAt = at
		return order, out, nil
	}
}

// --- Projections ---

// SummaryView is an order's fill summary with the timer evaluated at read
// time.
type SummaryView struct {
	aggregate.Summary
	Status         model.Status `json:"status"`
	TimerRemaining int64        `json:"timer_remaining"`
	TimerFinished  bool         `json:"timer_finished"`
}

func newSummaryView(order *model.Order, events []model.FillEvent, now time.Time) SummaryView {
	sum := aggregate.Project(order.ID, events)
	return SummaryView{
		Summary:        sum,
		Status:         order.Status,
		TimerRemaining: sum.Timer.Remaining(now),
		TimerFinished:  sum.Timer.Finished(now),
	}
}

// Summary projects one order's fill ledger.
func (s *Service) Summary(ctx context.Context, id string) (*SummaryView, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListFillEvents(ctx, id)
	if err != nil {
		return nil, s.storeErr("list fill events", err)
	}
	v := newSummaryView(order, events, s.now())
	return &v, nil
}

// Summaries projects every order matching f, spread over the configured
// number of workers. Results keep ListOrders order.
func (s *Service) Summaries(ctx context.Context, f store.OrderFilter) ([]SummaryView, error) {
	orders, err := s.ListOrders(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]SummaryView, len(orders))
	errs := make([]error, len(orders))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(s.workers, len(orders)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				events, err := s.store.ListFillEvents(ctx, orders[i].ID)
				if err != nil {
					errs[i] = err
					continue
				}
				out[i] = newSummaryView(&orders[i], events, now)
			}
		}()
	}

feed:
	for i := range orders {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, s.storeErr("list fill events", err)
		}
	}
	return out, nil
}

// Positions returns the position entries written when id settled.
func (s *Service) Positions(ctx context.Context, id string) ([]model.PositionEntry, error) {
	if _, err := s.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	positions, err := s.store.ListPositions(ctx, id)
	if err != nil {
		return nil, s.storeErr("list positions", err)
	}
	return positions, nil
}

// Journals returns the journal entries written when id settled.
func (s *Service) Journals(ctx context.Context, id string) ([]model.JournalEntry, error) {
	if _, err := s.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	journals, err := s.store.ListJournals(ctx, id)
	if err != nil {
		return nil, s.storeErr("list journals", err)
	}
	return journals, nil
}

// Results nets a settled order's positions by party.
func (s *Service) Results(ctx context.Context, id string) (*report.TransactionSummary, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != model.StatusClosedSettled {
		return nil, s.rejected(id, model.Precondition(model.GuardWrongStatus, "order %s is %s", id, order.Status))
	}
	positions, err := s.store.ListPositions(ctx, id)
	if err != nil {
		return nil, s.storeErr("list positions", err)
	}
	sum := report.Summarize(id, positions)
	return &sum, nil
}

// ProjectBalances sums every position entry per (entity, nomcode).
func (s *Service) ProjectBalances(ctx context.Context) ([]report.Balance, error) {
	positions, err := s.store.ListPositions(ctx, "")
	if err != nil {
		return nil, s.storeErr("list positions", err)
	}
	return report.ProjectBalances(positions), nil
}

// TrialBalance sums every journal line per nominal code.
func (s *Service) TrialBalance(ctx context.Context) (report.TrialBalance, error) {
	journals, err := s.store.ListJournals(ctx, "")
	if err != nil {
		return report.TrialBalance{}, s.storeErr("list journals", err)
	}
	return report.BuildTrialBalance(journals), nil
}

// BetSlip is the client's confirmation of a filled order.
type BetSlip struct {
	TransactionID string          `json:"transaction_id"`
	Event         string          `json:"event"`
	League        string          `json:"league"`
	Market        string          `json:"market"`
	Bet           string          `json:"bet"`
	RequestBy     string          `json:"request_by"`
	Stake         decimal.Decimal `json:"stake"`
	Price         decimal.Decimal `json:"price"`
	Status        model.Status    `json:"status"`
	Result        *model.Result   `json:"result,omitempty"`
	FilledAt      time.Time       `json:"filled_at"`
}

func (b *BetSlip) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Bet Slip %s\n", b.TransactionID)
	fmt.Fprintf(&sb, "%s (%s)\n", b.Event, b.League)
	fmt.Fprintf(&sb, "%s: %s\n", b.Market, b.Bet)
	fmt.Fprintf(&sb, "Stake %s @ %s\n", b.Stake.StringFixed(2), b.Price.String())
	fmt.Fprintf(&sb, "Client %s, filled %s\n", b.RequestBy, b.FilledAt.Format(time.RFC3339))
	if b.Result != nil {
		fmt.Fprintf(&sb, "Result %s\n", *b.Result)
	}
	return sb.String()
}

// BetSlip builds the slip from the order and its client fill.
func (s *Service) BetSlip(ctx context.Context, id string) (*BetSlip, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListFillEvents(ctx, id)
	if err != nil {
		return nil, s.storeErr("list fill events", err)
	}
	for _, ev := range events {
		if ev.Type != model.EventClientFill {
			continue
		}
		return &BetSlip{
			TransactionID: order.ID,
			Event:         order.Event,
			League:        order.League,
			Market:        order.Market,
			Bet:           order.Bet,
			RequestBy:     order.RequestBy,
			Stake:         ev.Amount.Decimal,
			Price:         ev.Price.Decimal,
			Status:        order.Status,
			Result:        order.Result,
			FilledAt:      ev.Timestamp,
		}, nil
	}
	return nil, s.rejected(id, model.Precondition(model.GuardMissingClientFill, "order %s has no client fill", id))
}

// --- Error helpers ---

// rejected records a guard failure and returns err unchanged.
func (s *Service) rejected(id string, err error) error {
	if guard := model.GuardOf(err); guard != "" {
		metrics.PreconditionFailures.WithLabelValues(guard).Inc()
		slog.Info("operation rejected", "id", id, "guard", guard, "err", err)
		return err
	}
	slog.Error("operation failed", "id", id, "err", err)
	return err
}

// storeErr passes through outcomes the caller can act on and marks
// everything else as a storage failure.
func (s *Service) storeErr(op string, err error) error {
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrConcurrentModification) ||
		errors.Is(err, model.ErrExternalUnavailable) {
		return err
	}
	slog.Error("store failure", "op", op, "err", err)
	return fmt.Errorf("%w: %s: %w", model.ErrExternalUnavailable, op, err)
}
