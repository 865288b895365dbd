package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
)

// Timestamps are stored as Unix nanoseconds so ORDER BY is chronological.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orders (
    id              TEXT PRIMARY KEY,
    event           TEXT NOT NULL DEFAULT '',
    league          TEXT NOT NULL DEFAULT '',
    market          TEXT NOT NULL DEFAULT '',
    bet             TEXT NOT NULL DEFAULT '',
    bet_limit       TEXT NOT NULL DEFAULT '0',
    request_price   TEXT NOT NULL DEFAULT '0',
    seek_price      TEXT NOT NULL DEFAULT '0',
    notes           TEXT NOT NULL DEFAULT '',
    request_by      TEXT NOT NULL DEFAULT '',
    system_date     INTEGER NOT NULL,
    origin          TEXT NOT NULL,
    status          TEXT NOT NULL,
    assigned_agents TEXT NOT NULL DEFAULT '[]',
    result          TEXT,
    updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status);

CREATE TABLE IF NOT EXISTS fill_events (
    seq            INTEGER PRIMARY KEY AUTOINCREMENT,
    id             TEXT NOT NULL UNIQUE,
    transaction_id TEXT NOT NULL,
    type           TEXT NOT NULL,
    actor_id       TEXT NOT NULL DEFAULT '',
    actor_name     TEXT NOT NULL DEFAULT '',
    amount         TEXT,
    price          TEXT,
    bet_limit      TEXT,
    seek_price     TEXT,
    timer_seconds  INTEGER NOT NULL DEFAULT 0,
    notes          TEXT NOT NULL DEFAULT '',
    image_ref      TEXT NOT NULL DEFAULT '',
    ts             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS fill_events_tx_idx ON fill_events (transaction_id, ts, seq);

CREATE TABLE IF NOT EXISTS position_entries (
    id             TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    line           INTEGER NOT NULL,
    nomcode        TEXT NOT NULL,
    entity         TEXT NOT NULL,
    acc_type       TEXT NOT NULL,
    dr             TEXT NOT NULL,
    cr             TEXT NOT NULL,
    net_position   TEXT NOT NULL,
    entry_date     INTEGER NOT NULL,
    ref            TEXT NOT NULL DEFAULT '',
    details        TEXT NOT NULL DEFAULT '',
    notes          TEXT NOT NULL DEFAULT '',
    ts             INTEGER NOT NULL,
    UNIQUE (transaction_id, line)
);

CREATE TABLE IF NOT EXISTS journal_entries (
    id             TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    jrnl_no        INTEGER NOT NULL,
    line           INTEGER NOT NULL,
    acc_type       TEXT NOT NULL,
    nomcode        INTEGER NOT NULL,
    nomname        TEXT NOT NULL,
    entity         TEXT NOT NULL,
    dr             TEXT NOT NULL,
    cr             TEXT NOT NULL,
    entry_date     INTEGER NOT NULL,
    ref            TEXT NOT NULL DEFAULT '',
    details        TEXT NOT NULL DEFAULT '',
    notes          TEXT NOT NULL DEFAULT '',
    systype        TEXT NOT NULL,
    ts             INTEGER NOT NULL,
    UNIQUE (transaction_id, line)
);
`

// SQLiteStore implements Store on an embedded SQLite file (pure Go, no CGo).
// Decimals are stored as TEXT so no precision is lost.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateOrder(ctx context.Context, o *model.Order) error {
	agents, err := json.Marshal(agentsOrEmpty(o.AssignedAgents))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, event, league, market, bet, bet_limit, request_price, seek_price,
		                     notes, request_by, system_date, origin, status, assigned_agents, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Event, o.League, o.Market, o.Bet,
		o.BetLimit.String(), o.RequestPrice.String(), o.SeekPrice.String(),
		o.Notes, o.RequestBy, o.SystemDate.UnixNano(), string(o.Origin), string(o.Status),
		string(agents), o.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store.CreateOrder %s: %w", o.ID, err)
	}
	return nil
}

const sqliteOrderColumns = `id, event, league, market, bet, bet_limit, request_price, seek_price,
	notes, request_by, system_date, origin, status, assigned_agents, result, updated_at`

func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteOrderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanSQLiteOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetOrder %s: %w", id, err)
	}
	return o, nil
}

func (s *SQLiteStore) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteOrderColumns+` FROM orders
		 WHERE (? = '' OR status = ?) AND (? = '' OR request_by = ?)
		 ORDER BY system_date DESC, id`,
		string(f.Status), string(f.Status), f.RequestBy, f.RequestBy)
	if err != nil {
		return nil, fmt.Errorf("store.ListOrders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanSQLiteOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("store.ListOrders: scan: %w", err)
		}
		// Agents live in a JSON column; filter after decoding.
		if f.Match(o) {
			orders = append(orders, *o)
		}
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) AppendFillEvent(ctx context.Context, ev *model.FillEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store.AppendFillEvent: begin tx: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, ev.TransactionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("order %s: %w", ev.TransactionID, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("store.AppendFillEvent: %w", err)
	}
	if err := insertSQLiteEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListFillEvents(ctx context.Context, transactionID string) ([]model.FillEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, transaction_id, type, actor_id, actor_name, amount, price, bet_limit, seek_price,
		        timer_seconds, notes, image_ref, ts
		 FROM fill_events WHERE transaction_id = ? ORDER BY ts, seq`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("store.ListFillEvents: %w", err)
	}
	defer rows.Close()

	var events []model.FillEvent
	for rows.Next() {
		var ev model.FillEvent
		var typ string
		var amount, price, betLimit, seekPrice sql.NullString
		var ts int64
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.TransactionID, &typ, &ev.ActorID, &ev.ActorName,
			&amount, &price, &betLimit, &seekPrice, &ev.TimerSeconds, &ev.Notes, &ev.ImageRef, &ts); err != nil {
			return nil, fmt.Errorf("store.ListFillEvents: scan: %w", err)
		}
		ev.Type = model.EventType(typ)
		ev.Amount = parseNullString(amount)
		ev.Price = parseNullString(price)
		ev.BetLimit = parseNullString(betLimit)
		ev.SeekPrice = parseNullString(seekPrice)
		ev.Timestamp = fromNanos(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) ApplyTransition(ctx context.Context, t *Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store.ApplyTransition: begin tx: %w", err)
	}
	defer tx.Rollback()

	var agents, result any
	if t.AssignedAgents != nil {
		b, err := json.Marshal(t.AssignedAgents)
		if err != nil {
			return err
		}
		agents = string(b)
	}
	if t.Result != nil {
		result = string(*t.Result)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = ?, assigned_agents = COALESCE(?, assigned_agents), result = COALESCE(?, result), updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(t.To), agents, result, t.At.UnixNano(), t.OrderID, string(t.From))
	if err != nil {
		return fmt.Errorf("store.ApplyTransition: update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store.ApplyTransition: %w", err)
	}
	if n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, t.OrderID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %s: %w", t.OrderID, model.ErrNotFound)
		}
		return fmt.Errorf("order %s is %s, expected %s: %w", t.OrderID, current, t.From, model.ErrConcurrentModification)
	}

	for i := range t.Events {
		if err := insertSQLiteEvent(ctx, tx, &t.Events[i]); err != nil {
			return err
		}
	}
	for _, p := range t.Positions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO position_entries (id, transaction_id, line, nomcode, entity, acc_type,
			                               dr, cr, net_position, entry_date, ref, details, notes, ts)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.TransactionID, p.Line, p.NomCode, string(p.Entity), string(p.AccountType),
			p.DR.String(), p.CR.String(), p.NetPosition.String(),
			p.Date.UnixNano(), p.Ref, p.Details, p.Notes, p.Timestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("store.ApplyTransition: insert position: %w", err)
		}
	}
	for _, j := range t.Journals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO journal_entries (id, transaction_id, jrnl_no, line, acc_type, nomcode, nomname, entity,
			                              dr, cr, entry_date, ref, details, notes, systype, ts)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			j.ID, j.TransactionID, j.JournalNo, j.Line, string(j.AccountType), j.NomCode, j.NomName, string(j.Entity),
			j.DR.String(), j.CR.String(),
			j.Date.UnixNano(), j.Ref, j.Details, j.Notes, j.SysType, j.Timestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("store.ApplyTransition: insert journal: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListPositions(ctx context.Context, transactionID string) ([]model.PositionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transaction_id, line, nomcode, entity, acc_type, dr, cr, net_position,
		        entry_date, ref, details, notes, ts
		 FROM position_entries WHERE ? = '' OR transaction_id = ?
		 ORDER BY ts, transaction_id, line`, transactionID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("store.ListPositions: %w", err)
	}
	defer rows.Close()

	var out []model.PositionEntry
	for rows.Next() {
		var p model.PositionEntry
		var entity, accType, dr, cr, net string
		var date, ts int64
		if err := rows.Scan(&p.ID, &p.TransactionID, &p.Line, &p.NomCode, &entity, &accType,
			&dr, &cr, &net, &date, &p.Ref, &p.Details, &p.Notes, &ts); err != nil {
			return nil, fmt.Errorf("store.ListPositions: scan: %w", err)
		}
		p.Entity = model.Entity(entity)
		p.AccountType = model.AccountType(accType)
		p.DR, _ = decimal.NewFromString(dr)
		p.CR, _ = decimal.NewFromString(cr)
		p.NetPosition, _ = decimal.NewFromString(net)
		p.Date = fromNanos(date)
		p.Timestamp = fromNanos(ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListJournals(ctx context.Context, transactionID string) ([]model.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transaction_id, jrnl_no, line, acc_type, nomcode, nomname, entity, dr, cr,
		        entry_date, ref, details, notes, systype, ts
		 FROM journal_entries WHERE ? = '' OR transaction_id = ?
		 ORDER BY ts, transaction_id, line`, transactionID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("store.ListJournals: %w", err)
	}
	defer rows.Close()

	var out []model.JournalEntry
	for rows.Next() {
		var j model.JournalEntry
		var accType, entity, dr, cr string
		var date, ts int64
		if err := rows.Scan(&j.ID, &j.TransactionID, &j.JournalNo, &j.Line, &accType, &j.NomCode, &j.NomName,
			&entity, &dr, &cr, &date, &j.Ref, &j.Details, &j.Notes, &j.SysType, &ts); err != nil {
			return nil, fmt.Errorf("store.ListJournals: scan: %w", err)
		}
		j.AccountType = model.AccountType(accType)
		j.Entity = model.Entity(entity)
		j.DR, _ = decimal.NewFromString(dr)
		j.CR, _ = decimal.NewFromString(cr)
		j.Date = fromNanos(date)
		j.Timestamp = fromNanos(ts)
		out = append(out, j)
	}
	return out, rows.Err()
}

func insertSQLiteEvent(ctx context.Context, tx *sql.Tx, ev *model.FillEvent) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO fill_events (id, transaction_id, type, actor_id, actor_name, amount, price,
		                          bet_limit, seek_price, timer_seconds, notes, image_ref, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TransactionID, string(ev.Type), ev.ActorID, ev.ActorName,
		nullDecimalString(ev.Amount), nullDecimalString(ev.Price),
		nullDecimalString(ev.BetLimit), nullDecimalString(ev.SeekPrice),
		ev.TimerSeconds, ev.Notes, ev.ImageRef, ev.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	ev.Seq = seq
	return nil
}

// sqlScanner reads one row from *sql.Row or *sql.Rows.
type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteOrder(row sqlScanner) (*model.Order, error) {
	var o model.Order
	var betLimit, requestPrice, seekPrice, origin, status, agents string
	var result sql.NullString
	var systemDate, updatedAt int64
	if err := row.Scan(&o.ID, &o.Event, &o.League, &o.Market, &o.Bet,
		&betLimit, &requestPrice, &seekPrice, &o.Notes, &o.RequestBy,
		&systemDate, &origin, &status, &agents, &result, &updatedAt); err != nil {
		return nil, err
	}
	o.BetLimit, _ = decimal.NewFromString(betLimit)
	o.RequestPrice, _ = decimal.NewFromString(requestPrice)
	o.SeekPrice, _ = decimal.NewFromString(seekPrice)
	o.Origin = model.Origin(origin)
	o.Status = model.Status(status)
	o.SystemDate = fromNanos(systemDate)
	o.UpdatedAt = fromNanos(updatedAt)
	if err := json.Unmarshal([]byte(agents), &o.AssignedAgents); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	if len(o.AssignedAgents) == 0 {
		o.AssignedAgents = nil
	}
	if result.Valid {
		r := model.Result(result.String)
		o.Result = &r
	}
	return &o, nil
}

func parseNullString(s sql.NullString) decimal.NullDecimal {
	if !s.Valid {
		return decimal.NullDecimal{}
	}
	return parseNullDecimal(&s.String)
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
