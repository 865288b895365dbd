// Command brokerctl is the operator CLI: schema migrations, order listings,
// settlement and ledger reports against the configured store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/broker"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/config"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/report"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/store"
)

func main() {
	app := cli.NewApp()
	app.Name = "brokerctl"
	app.Usage = "Bet-Broker operator command line interface"

	app.Commands = []cli.Command{
		migrateCMD,
		ordersCMD,
		settleCMD,
		balancesCMD,
		trialBalanceCMD,
		resultsCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	migrateCMD = cli.Command{
		Name:        "migrate",
		Usage:       "apply PostgreSQL schema migrations",
		Action:      migrateAction,
		Description: `Apply the embedded migrations to DATABASE_URL`,
	}
	ordersCMD = cli.Command{
		Name:   "orders",
		Usage:  "list orders",
		Action: ordersAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "status", Usage: "only orders in this status"},
			cli.StringFlag{Name: "agent", Usage: "only orders assigned to this supplier"},
			cli.StringFlag{Name: "request-by", Usage: "only orders from this client"},
		},
	}
	settleCMD = cli.Command{
		Name:      "settle",
		Usage:     "settle a Closed-UnSettled order",
		ArgsUsage: "<order-id>",
		Action:    settleAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "result", Usage: "win, win-half, loss, loss-half or void"},
		},
	}
	balancesCMD = cli.Command{
		Name:   "balances",
		Usage:  "print position balances per entity and nominal code",
		Action: balancesAction,
	}
	trialBalanceCMD = cli.Command{
		Name:   "trial-balance",
		Usage:  "print the journal trial balance",
		Action: trialBalanceAction,
	}
	resultsCMD = cli.Command{
		Name:      "results",
		Usage:     "print a settled order's net result per party",
		ArgsUsage: "<order-id>",
		Action:    resultsAction,
	}
)

// openService builds a Service from the environment. The caller must run
// the returned cleanup.
func openService() (*broker.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, func() {}, err
	}
	config.SetupLogger(cfg.LogLevel, "text")

	st, cleanup, err := store.Open(context.Background(), store.Options{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		RedisURL:    cfg.RedisURL,
		CacheTTL:    cfg.CacheTTL,
		AutoMigrate: cfg.AutoMigrate,
	})
	if err != nil {
		return nil, cleanup, err
	}
	svc := broker.NewService(st,
		broker.WithJournals(cfg.SettleJournals),
		broker.WithWorkers(cfg.SummaryWorkers),
	)
	return svc, cleanup, nil
}

func migrateAction(_ *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	config.SetupLogger(cfg.LogLevel, "text")
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}
	return store.Migrate(cfg.DatabaseURL)
}

func ordersAction(c *cli.Context) error {
	svc, cleanup, err := openService()
	defer cleanup()
	if err != nil {
		return err
	}

	f := store.OrderFilter{Agent: c.String("agent"), RequestBy: c.String("request-by")}
	if s := c.String("status"); s != "" {
		if f.Status, err = model.ParseStatus(s); err != nil {
			return err
		}
	}
	orders, err := svc.ListOrders(context.Background(), f)
	if err != nil {
		return err
	}
	return report.RenderOrders(os.Stdout, orders)
}

func settleAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("usage: brokerctl settle --result <result> <order-id>")
	}
	result, err := model.ParseResult(c.String("result"))
	if err != nil {
		return err
	}

	svc, cleanup, err := openService()
	defer cleanup()
	if err != nil {
		return err
	}

	positions, err := svc.Settle(context.Background(), id, result)
	if err != nil {
		if guard := model.GuardOf(err); guard != "" {
			slog.Warn("settlement rejected", "id", id, "guard", guard)
		}
		return err
	}
	return report.RenderPositions(os.Stdout, positions)
}

func balancesAction(_ *cli.Context) error {
	svc, cleanup, err := openService()
	defer cleanup()
	if err != nil {
		return err
	}

	balances, err := svc.ProjectBalances(context.Background())
	if err != nil {
		return err
	}
	return report.RenderBalances(os.Stdout, balances)
}

func trialBalanceAction(_ *cli.Context) error {
	svc, cleanup, err := openService()
	defer cleanup()
	if err != nil {
		return err
	}

	tb, err := svc.TrialBalance(context.Background())
	if err != nil {
		return err
	}
	if err := report.RenderTrialBalance(os.Stdout, tb); err != nil {
		return err
	}
	if !tb.Balanced() {
		return fmt.Errorf("trial balance does not balance: DR %s, CR %s", tb.TotalDR, tb.TotalCR)
	}
	return nil
}

func resultsAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("usage: brokerctl results <order-id>")
	}

	svc, cleanup, err := openService()
	defer cleanup()
	if err != nil {
		return err
	}

	sum, err := svc.Results(context.Background(), id)
	if err != nil {
		return err
	}
	return report.RenderSummary(os.Stdout, *sum)
}
