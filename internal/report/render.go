package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

// RenderBalances prints a stakeholder balance table.
func RenderBalances(w io.Writer, balances []Balance) error {
	table := tablewriter.NewWriter(w)
	table.Header("Entity", "Nomcode", "Txns", "Total DR", "Total CR", "Balance")
	for _, b := range balances {
		if err := table.Append(
			string(b.Entity),
			b.NomCode,
			fmt.Sprintf("%d", b.Transactions),
			b.TotalDR.StringFixed(2),
			b.TotalCR.StringFixed(2),
			b.Balance.StringFixed(2),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

// RenderTrialBalance prints the trial balance with a totals row.
func RenderTrialBalance(w io.Writer, tb TrialBalance) error {
	table := tablewriter.NewWriter(w)
	table.Header("Nomcode", "Account", "Type", "DR", "CR")
	for _, r := range tb.Rows {
		if err := table.Append(
			fmt.Sprintf("%d", r.NomCode),
			r.NomName,
			string(r.AccountType),
			r.DR.StringFixed(2),
			r.CR.StringFixed(2),
		); err != nil {
			return err
		}
	}
	if err := table.Append("", "Total", "", tb.TotalDR.StringFixed(2), tb.TotalCR.StringFixed(2)); err != nil {
		return err
	}
	return table.Render()
}

// RenderPositions prints the position lines of one settlement.
func RenderPositions(w io.Writer, positions []model.PositionEntry) error {
	table := tablewriter.NewWriter(w)
	table.Header("Line", "Nomcode", "Entity", "DR", "CR", "Net", "Result")
	for _, p := range positions {
		if err := table.Append(
			fmt.Sprintf("%d", p.Line),
			p.NomCode,
			string(p.Entity),
			p.DR.StringFixed(2),
			p.CR.StringFixed(2),
			p.NetPosition.StringFixed(2),
			p.Notes,
		); err != nil {
			return err
		}
	}
	return table.Render()
}

// RenderSummary prints the per-party net of one transaction.
func RenderSummary(w io.Writer, s TransactionSummary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Party", "Net")
	if err := table.Append("Client", s.Client.StringFixed(2)); err != nil {
		return err
	}
	if err := table.Append("Company", s.Company.StringFixed(2)); err != nil {
		return err
	}
	agents := make([]string, 0, len(s.Agents))
	for a := range s.Agents {
		agents = append(agents, a)
	}
	sort.Strings(agents)
	for _, a := range agents {
		if err := table.Append("Agent "+a, s.Agents[a].StringFixed(2)); err != nil {
			return err
		}
	}
	return table.Render()
}

// RenderOrders prints an order list.
func RenderOrders(w io.Writer, orders []model.Order) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Status", "Event", "Bet", "Request By", "Agents", "Result")
	for _, o := range orders {
		result := ""
		if o.Result != nil {
			result = string(*o.Result)
		}
		if err := table.Append(
			o.ID,
			string(o.Status),
			o.Event,
			o.Bet,
			o.RequestBy,
			fmt.Sprintf("%v", o.AssignedAgents),
			result,
		); err != nil {
			return err
		}
	}
	return table.Render()
}
