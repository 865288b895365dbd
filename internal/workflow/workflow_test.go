package workflow

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/aggregate"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func order(status model.Status, agents ...string) *model.Order {
	return &model.Order{
		ID:             "tx1",
		BetLimit:       d(500),
		SeekPrice:      d(1.9),
		Status:         status,
		AssignedAgents: agents,
		Origin:         model.OriginManager,
	}
}

func filled(amount, price float64) aggregate.Summary {
	return aggregate.Summary{
		AgentFills:   1,
		AmountTotal:  d(amount),
		BlendedPrice: d(price),
		MessageCount: 1,
	}
}

func wantGuard(t *testing.T, err error, guard string) {
	t.Helper()
	if !errors.Is(err, model.ErrPreconditionViolation) {
		t.Fatalf("expected precondition violation, got %v", err)
	}
	if got := model.GuardOf(err); got != guard {
		t.Fatalf("guard = %q, want %q", got, guard)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.Status
		want     bool
	}{
		{model.StatusOpen, model.StatusInProgress, true},
		{model.StatusOpen, model.StatusDeclined, true},
		{model.StatusInProgress, model.StatusClosedUnsettled, true},
		{model.StatusClosedUnsettled, model.StatusClosedSettled, true},
		{model.StatusOpen, model.StatusClosedSettled, false},
		{model.StatusOpen, model.StatusClosedUnsettled, false},
		{model.StatusInProgress, model.StatusDeclined, false},
		{model.StatusInProgress, model.StatusClosedSettled, false},
		{model.StatusClosedSettled, model.StatusOpen, false},
		{model.StatusDeclined, model.StatusInProgress, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheck_RejectsSkippingStates(t *testing.T) {
	err := Check(order(model.StatusOpen), model.StatusClosedSettled, filled(10, 2), GuardContext{Result: model.ResultWin})
	wantGuard(t, err, model.GuardInvalidTransition)
}

func TestCheck_AlreadySettled(t *testing.T) {
	err := Check(order(model.StatusClosedSettled, "A"), model.StatusClosedSettled, filled(10, 2), GuardContext{Result: model.ResultWin})
	wantGuard(t, err, model.GuardAlreadySettled)
}

func TestCheck_DeclinedIsTerminal(t *testing.T) {
	err := Check(order(model.StatusDeclined), model.StatusInProgress, aggregate.Summary{},
		GuardContext{Suppliers: []Assignment{{Agent: "A"}}})
	wantGuard(t, err, model.GuardWrongStatus)
}

func TestCheck_AssignNeedsSuppliers(t *testing.T) {
	err := Check(order(model.StatusOpen), model.StatusInProgress, aggregate.Summary{}, GuardContext{})
	wantGuard(t, err, model.GuardNoSuppliers)

	err = Check(order(model.StatusOpen), model.StatusInProgress, aggregate.Summary{},
		GuardContext{Suppliers: []Assignment{{Agent: "A"}, {Agent: "A"}}})
	wantGuard(t, err, model.GuardNoSuppliers)
}

func TestCheck_DeclineWithFills(t *testing.T) {
	err := Check(order(model.StatusOpen), model.StatusDeclined, filled(10, 2), GuardContext{})
	wantGuard(t, err, model.GuardFillsExist)

	if err := Check(order(model.StatusOpen), model.StatusDeclined, aggregate.Summary{}, GuardContext{}); err != nil {
		t.Fatalf("decline of unfilled order: %v", err)
	}
}

func TestCheck_CloseNeedsFillOrManualFinish(t *testing.T) {
	o := order(model.StatusInProgress, "A")
	err := Check(o, model.StatusClosedUnsettled, aggregate.Summary{}, GuardContext{})
	wantGuard(t, err, model.GuardNotFilled)

	if err := Check(o, model.StatusClosedUnsettled, aggregate.Summary{}, GuardContext{ManualFinish: true}); err != nil {
		t.Fatalf("manual finish should close: %v", err)
	}

	withClient := filled(10, 2)
	withClient.ClientFills = 1
	err = Check(o, model.StatusClosedUnsettled, withClient, GuardContext{})
	wantGuard(t, err, model.GuardDuplicateClientFill)
}

func TestCheck_SettleGuards(t *testing.T) {
	o := order(model.StatusClosedUnsettled, "A")
	gc := GuardContext{Result: model.ResultWin}

	wantGuard(t, Check(o, model.StatusClosedSettled, filled(10, 2), gc), model.GuardMissingClientFill)

	two := filled(10, 2)
	two.ClientFills = 2
	wantGuard(t, Check(o, model.StatusClosedSettled, two, gc), model.GuardDuplicateClientFill)

	noAgent := aggregate.Summary{ClientFills: 1}
	wantGuard(t, Check(o, model.StatusClosedSettled, noAgent, gc), model.GuardMissingAgentFill)

	ok := filled(10, 2)
	ok.ClientFills = 1
	wantGuard(t, Check(o, model.StatusClosedSettled, ok, GuardContext{Result: "push"}), model.GuardInvalidResult)
	if err := Check(o, model.StatusClosedSettled, ok, gc); err != nil {
		t.Fatalf("settle guard: %v", err)
	}
}

func TestPlan_AssignWritesOneEventPerSupplier(t *testing.T) {
	step, err := Plan(order(model.StatusOpen), model.StatusInProgress, aggregate.Summary{}, GuardContext{
		Suppliers: []Assignment{
			{Agent: "A", BetLimit: decimal.NewNullDecimal(d(100)), SeekPrice: decimal.NewNullDecimal(d(2.1))},
			{Agent: "B"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(step.Events) != 2 || len(step.AssignedAgents) != 2 {
		t.Fatalf("events=%d agents=%d, want 2/2", len(step.Events), len(step.AssignedAgents))
	}
	if !step.Events[0].BetLimit.Decimal.Equal(d(100)) || !step.Events[0].SeekPrice.Decimal.Equal(d(2.1)) {
		t.Errorf("A assignment terms = %s@%s", step.Events[0].BetLimit.Decimal, step.Events[0].SeekPrice.Decimal)
	}
	// B inherits the order's own terms.
	if !step.Events[1].BetLimit.Decimal.Equal(d(500)) || !step.Events[1].SeekPrice.Decimal.Equal(d(1.9)) {
		t.Errorf("B assignment terms = %s@%s", step.Events[1].BetLimit.Decimal, step.Events[1].SeekPrice.Decimal)
	}
	for _, ev := range step.Events {
		if ev.Type != model.EventAssign || ev.Notes != MsgAssign {
			t.Errorf("unexpected event %+v", ev)
		}
	}
}

func TestPlan_TraderDirectMessage(t *testing.T) {
	o := order(model.StatusOpen)
	o.Origin = model.OriginTrader
	step, err := Plan(o, model.StatusInProgress, aggregate.Summary{}, GuardContext{Suppliers: []Assignment{{Agent: "T1"}}})
	if err != nil {
		t.Fatal(err)
	}
	if step.Events[0].Notes != MsgTraderStart {
		t.Errorf("notes = %q, want %q", step.Events[0].Notes, MsgTraderStart)
	}
}

func TestPlan_CloseDefaultsClientFillToAggregate(t *testing.T) {
	o := order(model.StatusInProgress, "A", "B")
	step, err := Plan(o, model.StatusClosedUnsettled, filled(150, 1.5), GuardContext{Actor: "mgr"})
	if err != nil {
		t.Fatal(err)
	}
	if len(step.Events) != 3 {
		t.Fatalf("events = %d, want 2 close + 1 client_fill", len(step.Events))
	}
	var clientFills int
	for _, ev := range step.Events {
		switch ev.Type {
		case model.EventClose:
			if ev.Notes != MsgClose {
				t.Errorf("close notes = %q", ev.Notes)
			}
		case model.EventClientFill:
			clientFills++
			if !ev.Amount.Decimal.Equal(d(150)) || !ev.Price.Decimal.Equal(d(1.5)) {
				t.Errorf("client fill = %s@%s, want 150@1.5", ev.Amount.Decimal, ev.Price.Decimal)
			}
		default:
			t.Errorf("unexpected event type %s", ev.Type)
		}
	}
	if clientFills != 1 {
		t.Errorf("client fills = %d, want exactly 1", clientFills)
	}
}

func TestPlan_CloseHonoursChosenClientTerms(t *testing.T) {
	o := order(model.StatusInProgress, "A")
	step, err := Plan(o, model.StatusClosedUnsettled, filled(150, 1.5), GuardContext{
		ClientAmount: decimal.NewNullDecimal(d(140)),
		ClientPrice:  decimal.NewNullDecimal(d(1.45)),
	})
	if err != nil {
		t.Fatal(err)
	}
	cf := step.Events[len(step.Events)-1]
	if !cf.Amount.Decimal.Equal(d(140)) || !cf.Price.Decimal.Equal(d(1.45)) {
		t.Errorf("client fill = %s@%s, want 140@1.45", cf.Amount.Decimal, cf.Price.Decimal)
	}
}

func TestPlan_SettleSetsResult(t *testing.T) {
	sum := filled(10, 2)
	sum.ClientFills = 1
	step, err := Plan(order(model.StatusClosedUnsettled, "A"), model.StatusClosedSettled, sum, GuardContext{Result: model.ResultLossHalf})
	if err != nil {
		t.Fatal(err)
	}
	if step.Result == nil || *step.Result != model.ResultLossHalf {
		t.Fatalf("result = %v", step.Result)
	}
	if len(step.Events) != 0 {
		t.Errorf("settle should not write fill events, got %d", len(step.Events))
	}
}
