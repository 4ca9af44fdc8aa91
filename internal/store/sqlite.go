package store

import (
	"context"
	"database/sql"
	"time"

	"signal_bot/internal/models"
	"signal_bot/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	action      TEXT NOT NULL,
	role        TEXT NOT NULL DEFAULT '',
	order_id    TEXT NOT NULL DEFAULT '',
	qty         TEXT NOT NULL DEFAULT '0',
	price       TEXT NOT NULL DEFAULT '0',
	from_state  TEXT NOT NULL DEFAULT '',
	to_state    TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_position_idx ON audit_events (position_id, id);

CREATE TABLE IF NOT EXISTS positions (
	id         TEXT PRIMARY KEY,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	state      TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	net_pnl    TEXT NOT NULL,
	snapshot   TEXT NOT NULL,
	summary    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	closed_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS positions_closed_idx ON positions (closed_at DESC);
`

// SQLite встроенный архив (modernc, без cgo). Цены хранятся строками.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	conn, err := db.OpenSQLite(path)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite.open")
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "sqlite.migrate")
	}
	return &SQLite{db: conn}, nil
}

func (s *SQLite) RecordAudit(ctx context.Context, ev models.AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_events (position_id, symbol, action, role, order_id, qty, price, from_state, to_state, detail, at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.PositionID, ev.Symbol, string(ev.Action), string(ev.Role), ev.OrderID,
		ev.Qty.String(), ev.Price.String(), string(ev.From), string(ev.To), ev.Detail, ev.At.UnixNano())
	return errors.Wrap(err, "sqlite.RecordAudit")
}

func (s *SQLite) ArchivePosition(ctx context.Context, pos models.Position, summary models.ProfitSummary) error {
	snapshot, err := sonic.Marshal(pos)
	if err != nil {
		return errors.Wrapf(err, "sqlite.ArchivePosition %s", pos.ID)
	}
	sum, err := sonic.Marshal(summary)
	if err != nil {
		return errors.Wrapf(err, "sqlite.ArchivePosition %s", pos.ID)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO positions (id, symbol, side, state, outcome, net_pnl, snapshot, summary, created_at, closed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	state = excluded.state, outcome = excluded.outcome, net_pnl = excluded.net_pnl,
	snapshot = excluded.snapshot, summary = excluded.summary, closed_at = excluded.closed_at`,
		pos.ID, pos.Symbol, string(pos.Side), string(pos.State), string(pos.Outcome),
		summary.NetPnL.String(), string(snapshot), string(sum),
		pos.CreatedAt.UnixNano(), closedAt(pos).UnixNano())
	return errors.Wrapf(err, "sqlite.ArchivePosition %s", pos.ID)
}

func (s *SQLite) RecentPositions(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot, summary FROM positions ORDER BY closed_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite.RecentPositions")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var snapshot, sum string
		if err := rows.Scan(&snapshot, &sum); err != nil {
			return nil, errors.Wrap(err, "sqlite.RecentPositions")
		}
		rec, err := decodeRecord([]byte(snapshot), []byte(sum))
		if err != nil {
			return nil, errors.Wrap(err, "sqlite.RecentPositions")
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "sqlite.RecentPositions")
}

func (s *SQLite) AuditTrail(ctx context.Context, positionID string) ([]models.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT position_id, symbol, action, role, order_id, qty, price, from_state, to_state, detail, at
FROM audit_events WHERE position_id = ? ORDER BY id`, positionID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite.AuditTrail")
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var (
			ev                     models.AuditEvent
			action, role, from, to string
			qty, price             string
			at                     int64
		)
		if err := rows.Scan(&ev.PositionID, &ev.Symbol, &action, &role, &ev.OrderID,
			&qty, &price, &from, &to, &ev.Detail, &at); err != nil {
			return nil, errors.Wrap(err, "sqlite.AuditTrail")
		}
		ev.Action, ev.Role = models.AuditAction(action), models.OrderRole(role)
		ev.From, ev.To = models.PositionState(from), models.PositionState(to)
		ev.Qty, _ = decimal.NewFromString(qty)
		ev.Price, _ = decimal.NewFromString(price)
		ev.At = time.Unix(0, at).UTC()
		out = append(out, ev)
	}
	return out, errors.Wrap(rows.Err(), "sqlite.AuditTrail")
}

func (s *SQLite) Close() error { return s.db.Close() }
