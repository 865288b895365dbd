// Package report projects settled ledger entries into balance views.
// Every function here is a pure read over entries already written.
package report

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

// Balance is the total of one (entity, nomcode) group.
type Balance struct {
	Entity       model.Entity    `json:"entity"`
	NomCode      string          `json:"nomcode"`
	TotalDR      decimal.Decimal `json:"total_dr"`
	TotalCR      decimal.Decimal `json:"total_cr"`
	Balance      decimal.Decimal `json:"balance"`
	Transactions int             `json:"transactions"`
}

var entityRank = map[model.Entity]int{
	model.EntityClient:   0,
	model.EntitySupplier: 1,
	model.EntityInternal: 2,
}

// ProjectBalances groups positions by entity and nomcode. Balance is
// totalCR − totalDR. Output order is entity (Client, Supplier, Internal) then
// nomcode, so identical input always renders identically.
func ProjectBalances(positions []model.PositionEntry) []Balance {
	type key struct {
		entity  model.Entity
		nomcode string
	}
	groups := make(map[key]*Balance)
	seen := make(map[key]map[string]bool)

	for _, p := range positions {
		k := key{p.Entity, p.NomCode}
		b, ok := groups[k]
		if !ok {
			b = &Balance{Entity: p.Entity, NomCode: p.NomCode}
			groups[k] = b
			seen[k] = make(map[string]bool)
		}
		b.TotalDR = b.TotalDR.Add(p.DR)
		b.TotalCR = b.TotalCR.Add(p.CR)
		if !seen[k][p.TransactionID] {
			seen[k][p.TransactionID] = true
			b.Transactions++
		}
	}

	out := make([]Balance, 0, len(groups))
	for _, b := range groups {
		b.Balance = b.TotalCR.Sub(b.TotalDR)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := entityRank[out[i].Entity], entityRank[out[j].Entity]
		if ri != rj {
			return ri < rj
		}
		return out[i].NomCode < out[j].NomCode
	})
	return out
}

// TrialBalanceRow is one nominal account.
type TrialBalanceRow struct {
	NomCode     int               `json:"nomcode"`
	NomName     string            `json:"nomname"`
	AccountType model.AccountType `json:"acc_type"`
	DR          decimal.Decimal   `json:"dr"`
	CR          decimal.Decimal   `json:"cr"`
	Balance     decimal.Decimal   `json:"balance"`
}

// TrialBalance lists every nominal account with grand totals.
type TrialBalance struct {
	Rows    []TrialBalanceRow `json:"rows"`
	TotalDR decimal.Decimal   `json:"total_dr"`
	TotalCR decimal.Decimal   `json:"total_cr"`
}

// Balanced reports whether total debits equal total credits.
func (tb TrialBalance) Balanced() bool { return tb.TotalDR.Equal(tb.TotalCR) }

// BuildTrialBalance groups journals by nominal code and name, sorted by code.
func BuildTrialBalance(journals []model.JournalEntry) TrialBalance {
	type key struct {
		code int
		name string
	}
	rows := make(map[key]*TrialBalanceRow)
	var tb TrialBalance

	for _, j := range journals {
		k := key{j.NomCode, j.NomName}
		r, ok := rows[k]
		if !ok {
			r = &TrialBalanceRow{NomCode: j.NomCode, NomName: j.NomName, AccountType: j.AccountType}
			rows[k] = r
		}
		r.DR = r.DR.Add(j.DR)
		r.CR = r.CR.Add(j.CR)
		tb.TotalDR = tb.TotalDR.Add(j.DR)
		tb.TotalCR = tb.TotalCR.Add(j.CR)
	}

	tb.Rows = make([]TrialBalanceRow, 0, len(rows))
	for _, r := range rows {
		r.Balance = r.DR.Sub(r.CR)
		tb.Rows = append(tb.Rows, *r)
	}
	sort.Slice(tb.Rows, func(i, j int) bool {
		if tb.Rows[i].NomCode != tb.Rows[j].NomCode {
			return tb.Rows[i].NomCode < tb.Rows[j].NomCode
		}
		return tb.Rows[i].NomName < tb.Rows[j].NomName
	})
	return tb
}

// TransactionSummary is the net outcome of one settled transaction for each
// party, each figure being Σ(CR − DR).
type TransactionSummary struct {
	TransactionID string                     `json:"transaction_id"`
	Result        string                     `json:"result"`
	Client        decimal.Decimal            `json:"client"`
	Company       decimal.Decimal            `json:"company"`
	Agents        map[string]decimal.Decimal `json:"agents"`
}

// Summarize nets one transaction's positions by party.
func Summarize(transactionID string, positions []model.PositionEntry) TransactionSummary {
	s := TransactionSummary{TransactionID: transactionID, Agents: make(map[string]decimal.Decimal)}
	for _, p := range positions {
		if p.TransactionID != transactionID {
			continue
		}
		s.Result = p.Notes
		net := p.CR.Sub(p.DR)
		switch p.Entity {
		case model.EntityClient:
			s.Client = s.Client.Add(net)
		case model.EntityInternal:
			s.Company = s.Company.Add(net)
		case model.EntitySupplier:
			s.Agents[p.NomCode] = s.Agents[p.NomCode].Add(net)
		}
	}
	return s
}
