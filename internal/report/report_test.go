package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func pos(tx string, entity model.Entity, nomcode string, dr, cr float64) model.PositionEntry {
	return model.PositionEntry{
		TransactionID: tx, Entity: entity, NomCode: nomcode,
		DR: d(dr), CR: d(cr), Notes: "win",
	}
}

func ledger() []model.PositionEntry {
	return []model.PositionEntry{
		pos("tx1", model.EntityClient, "Client", 0, 75),
		pos("tx1", model.EntitySupplier, "A", 50, 0),
		pos("tx1", model.EntitySupplier, "B", 25, 0),
		pos("tx1", model.EntityInternal, "Company", 75, 75),
		pos("tx2", model.EntityClient, "Client", 100, 0),
		pos("tx2", model.EntitySupplier, "A", 0, 60),
		pos("tx2", model.EntitySupplier, "A", 0, 40),
		pos("tx2", model.EntityInternal, "Company", 100, 100),
	}
}

func TestProjectBalances(t *testing.T) {
	got := ProjectBalances(ledger())

	want := []struct {
		entity  model.Entity
		nomcode string
		balance float64
		txns    int
	}{
		{model.EntityClient, "Client", -25, 2},
		{model.EntitySupplier, "A", 50, 2},
		{model.EntitySupplier, "B", -25, 1},
		{model.EntityInternal, "Company", 0, 2},
	}
	if len(got) != len(want) {
		t.Fatalf("groups = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		g := got[i]
		if g.Entity != w.entity || g.NomCode != w.nomcode {
			t.Errorf("row %d = %s/%s, want %s/%s", i, g.Entity, g.NomCode, w.entity, w.nomcode)
		}
		if !g.Balance.Equal(d(w.balance)) {
			t.Errorf("%s balance = %s, want %v", g.NomCode, g.Balance, w.balance)
		}
		if g.Transactions != w.txns {
			t.Errorf("%s txns = %d, want %d", g.NomCode, g.Transactions, w.txns)
		}
	}
}

func TestProjectBalances_Idempotent(t *testing.T) {
	entries := ledger()
	first := ProjectBalances(entries)
	// Reversed input must not change the projection.
	rev := make([]model.PositionEntry, len(entries))
	for i, e := range entries {
		rev[len(entries)-1-i] = e
	}
	second := ProjectBalances(rev)

	for i := range first {
		if first[i].NomCode != second[i].NomCode || !first[i].Balance.Equal(second[i].Balance) {
			t.Fatalf("projection not stable at row %d", i)
		}
	}
}

func TestProjectBalances_Empty(t *testing.T) {
	if got := ProjectBalances(nil); len(got) != 0 {
		t.Errorf("expected no groups, got %d", len(got))
	}
}

func TestBuildTrialBalance(t *testing.T) {
	journals := []model.JournalEntry{
		{NomCode: 4000, NomName: "Client Stakes - alice", AccountType: model.AccountProfitLoss, CR: d(150)},
		{NomCode: 1000, NomName: "Client Control Acc - alice", AccountType: model.AccountBalanceSheet, DR: d(150)},
		{NomCode: 2000, NomName: "Supplier Control Acc - A", AccountType: model.AccountBalanceSheet, CR: d(100)},
		{NomCode: 5000, NomName: "Bookie Stakes - A", AccountType: model.AccountProfitLoss, DR: d(100)},
		{NomCode: 1000, NomName: "Client Control Acc - alice", AccountType: model.AccountBalanceSheet, DR: d(20)},
		{NomCode: 4000, NomName: "Client Stakes - alice", AccountType: model.AccountProfitLoss, CR: d(20)},
	}
	tb := BuildTrialBalance(journals)

	if !tb.Balanced() {
		t.Fatalf("trial balance not balanced: DR %s CR %s", tb.TotalDR, tb.TotalCR)
	}
	if !tb.TotalDR.Equal(d(270)) {
		t.Errorf("total DR = %s, want 270", tb.TotalDR)
	}
	codes := []int{1000, 2000, 4000, 5000}
	if len(tb.Rows) != len(codes) {
		t.Fatalf("rows = %d, want %d", len(tb.Rows), len(codes))
	}
	for i, c := range codes {
		if tb.Rows[i].NomCode != c {
			t.Errorf("row %d code = %d, want %d", i, tb.Rows[i].NomCode, c)
		}
	}
	if !tb.Rows[0].DR.Equal(d(170)) {
		t.Errorf("1000 DR = %s, want 170", tb.Rows[0].DR)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize("tx1", ledger())
	if !s.Client.Equal(d(75)) || !s.Company.IsZero() {
		t.Errorf("client %s company %s", s.Client, s.Company)
	}
	if !s.Agents["A"].Equal(d(-50)) || !s.Agents["B"].Equal(d(-25)) {
		t.Errorf("agents = %v", s.Agents)
	}
	if s.Result != "win" {
		t.Errorf("result = %q", s.Result)
	}
}

func TestRenderTrialBalance(t *testing.T) {
	var buf bytes.Buffer
	tb := BuildTrialBalance([]model.JournalEntry{
		{NomCode: 1000, NomName: "Client Control Acc - alice", DR: d(150)},
		{NomCode: 4000, NomName: "Client Stakes - alice", CR: d(150)},
	})
	if err := RenderTrialBalance(&buf, tb); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Client Control Acc - alice", "150.00", "Total"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
