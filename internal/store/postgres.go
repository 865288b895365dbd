package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const orderColumns = `id::TEXT, event, league, market, bet,
	bet_limit::TEXT, request_price::TEXT, seek_price::TEXT, notes,
	request_by, system_date, origin, status, assigned_agents, result, updated_at`

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, event, league, market, bet, bet_limit, request_price, seek_price,
		                     notes, request_by, system_date, origin, status, assigned_agents, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.Event, o.League, o.Market, o.Bet,
		o.BetLimit.String(), o.RequestPrice.String(), o.SeekPrice.String(),
		o.Notes, o.RequestBy, o.SystemDate, o.Origin, o.Status, agentsOrEmpty(o.AssignedAgents), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create order %s: %w", o.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE ($1 = '' OR status = $1)
		   AND ($2 = '' OR $2 = ANY(assigned_agents))
		   AND ($3 = '' OR request_by = $3)
		 ORDER BY system_date DESC, id`,
		string(f.Status), f.Agent, f.RequestBy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) AppendFillEvent(ctx context.Context, ev *model.FillEvent) error {
	err := insertEvent(ctx, s.pool, ev)
	if err != nil {
		var exists bool
		if qerr := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, ev.TransactionID).Scan(&exists); qerr == nil && !exists {
			return fmt.Errorf("order %s: %w", ev.TransactionID, model.ErrNotFound)
		}
		return fmt.Errorf("append event to %s: %w", ev.TransactionID, err)
	}
	return nil
}

func (s *PostgresStore) ListFillEvents(ctx context.Context, transactionID string) ([]model.FillEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, id::TEXT, transaction_id::TEXT, type, actor_id, actor_name,
		        amount::TEXT, price::TEXT, bet_limit::TEXT, seek_price::TEXT,
		        timer_seconds, notes, image_ref, ts
		 FROM fill_events WHERE transaction_id = $1 ORDER BY ts, seq`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.FillEvent
	for rows.Next() {
		var ev model.FillEvent
		var amount, price, betLimit, seekPrice *string
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.TransactionID, &ev.Type, &ev.ActorID, &ev.ActorName,
			&amount, &price, &betLimit, &seekPrice,
			&ev.TimerSeconds, &ev.Notes, &ev.ImageRef, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Amount = parseNullDecimal(amount)
		ev.Price = parseNullDecimal(price)
		ev.BetLimit = parseNullDecimal(betLimit)
		ev.SeekPrice = parseNullDecimal(seekPrice)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ApplyTransition runs the status compare-and-set and every insert in one
// database transaction.
func (s *PostgresStore) ApplyTransition(ctx context.Context, t *Transition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	var result *string
	if t.Result != nil {
		r := string(*t.Result)
		result = &r
	}
	tag, err := tx.Exec(ctx,
		`UPDATE orders
		 SET status = $3,
		     assigned_agents = COALESCE($4::TEXT[], assigned_agents),
		     result = COALESCE($5, result),
		     updated_at = $6
		 WHERE id = $1 AND status = $2`,
		t.OrderID, t.From, t.To, t.AssignedAgents, result, t.At)
	if err != nil {
		return fmt.Errorf("update order %s: %w", t.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, t.OrderID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order %s: %w", t.OrderID, model.ErrNotFound)
		}
		return fmt.Errorf("order %s is %s, expected %s: %w", t.OrderID, current, t.From, model.ErrConcurrentModification)
	}

	for i := range t.Events {
		if err := insertEvent(ctx, tx, &t.Events[i]); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	for _, p := range t.Positions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO position_entries (id, transaction_id, line, nomcode, entity, acc_type,
			                               dr, cr, net_position, entry_date, ref, details, notes, ts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12, $13, $14)`,
			p.ID, p.TransactionID, p.Line, p.NomCode, p.Entity, p.AccountType,
			p.DR.String(), p.CR.String(), p.NetPosition.String(),
			p.Date, p.Ref, p.Details, p.Notes, p.Timestamp,
		); err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
	}
	for _, j := range t.Journals {
		if _, err := tx.Exec(ctx,
			`INSERT INTO journal_entries (id, transaction_id, jrnl_no, line, acc_type, nomcode, nomname, entity,
			                              dr, cr, entry_date, ref, details, notes, systype, ts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11, $12, $13, $14, $15, $16)`,
			j.ID, j.TransactionID, j.JournalNo, j.Line, j.AccountType, j.NomCode, j.NomName, j.Entity,
			j.DR.String(), j.CR.String(),
			j.Date, j.Ref, j.Details, j.Notes, j.SysType, j.Timestamp,
		); err != nil {
			return fmt.Errorf("insert journal: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListPositions(ctx context.Context, transactionID string) ([]model.PositionEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, transaction_id::TEXT, line, nomcode, entity, acc_type,
		        dr::TEXT, cr::TEXT, net_position::TEXT, entry_date, ref, details, notes, ts
		 FROM position_entries
		 WHERE $1 = '' OR transaction_id::TEXT = $1
		 ORDER BY ts, transaction_id, line`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PositionEntry
	for rows.Next() {
		var p model.PositionEntry
		var dr, cr, net string
		if err := rows.Scan(&p.ID, &p.TransactionID, &p.Line, &p.NomCode, &p.Entity, &p.AccountType,
			&dr, &cr, &net, &p.Date, &p.Ref, &p.Details, &p.Notes, &p.Timestamp); err != nil {
			return nil, err
		}
		p.DR, _ = decimal.NewFromString(dr)
		p.CR, _ = decimal.NewFromString(cr)
		p.NetPosition, _ = decimal.NewFromString(net)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListJournals(ctx context.Context, transactionID string) ([]model.JournalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, transaction_id::TEXT, jrnl_no, line, acc_type, nomcode, nomname, entity,
		        dr::TEXT, cr::TEXT, entry_date, ref, details, notes, systype, ts
		 FROM journal_entries
		 WHERE $1 = '' OR transaction_id::TEXT = $1
		 ORDER BY ts, transaction_id, line`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.JournalEntry
	for rows.Next() {
		var j model.JournalEntry
		var dr, cr string
		if err := rows.Scan(&j.ID, &j.TransactionID, &j.JournalNo, &j.Line, &j.AccountType, &j.NomCode,
			&j.NomName, &j.Entity, &dr, &cr, &j.Date, &j.Ref, &j.Details, &j.Notes, &j.SysType, &j.Timestamp); err != nil {
			return nil, err
		}
		j.DR, _ = decimal.NewFromString(dr)
		j.CR, _ = decimal.NewFromString(cr)
		out = append(out, j)
	}
	return out, rows.Err()
}

// pgxQuerier is satisfied by both the pool and a transaction.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertEvent(ctx context.Context, q pgxQuerier, ev *model.FillEvent) error {
	return q.QueryRow(ctx,
		`INSERT INTO fill_events (id, transaction_id, type, actor_id, actor_name, amount, price,
		                          bet_limit, seek_price, timer_seconds, notes, image_ref, ts)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12, $13)
		 RETURNING seq`,
		ev.ID, ev.TransactionID, ev.Type, ev.ActorID, ev.ActorName,
		nullDecimalString(ev.Amount), nullDecimalString(ev.Price),
		nullDecimalString(ev.BetLimit), nullDecimalString(ev.SeekPrice),
		ev.TimerSeconds, ev.Notes, ev.ImageRef, ev.Timestamp,
	).Scan(&ev.Seq)
}

// rowScanner reads one row from pgx.Row or pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	var betLimit, requestPrice, seekPrice string
	var result *string
	if err := row.Scan(&o.ID, &o.Event, &o.League, &o.Market, &o.Bet,
		&betLimit, &requestPrice, &seekPrice, &o.Notes,
		&o.RequestBy, &o.SystemDate, &o.Origin, &o.Status, &o.AssignedAgents, &result, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.BetLimit, _ = decimal.NewFromString(betLimit)
	o.RequestPrice, _ = decimal.NewFromString(requestPrice)
	o.SeekPrice, _ = decimal.NewFromString(seekPrice)
	if result != nil {
		r := model.Result(*result)
		o.Result = &r
	}
	if len(o.AssignedAgents) == 0 {
		o.AssignedAgents = nil
	}
	return &o, nil
}

func nullDecimalString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseNullDecimal(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func agentsOrEmpty(agents []string) []string {
	if agents == nil {
		return []string{}
	}
	return agents
}
