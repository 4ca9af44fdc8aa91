package store

import (
	"context"

	"signal_bot/internal/models"
	"signal_bot/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          BIGSERIAL PRIMARY KEY,
	position_id TEXT        NOT NULL,
	symbol      TEXT        NOT NULL,
	action      TEXT        NOT NULL,
	role        TEXT        NOT NULL DEFAULT '',
	order_id    TEXT        NOT NULL DEFAULT '',
	qty         NUMERIC     NOT NULL DEFAULT 0,
	price       NUMERIC     NOT NULL DEFAULT 0,
	from_state  TEXT        NOT NULL DEFAULT '',
	to_state    TEXT        NOT NULL DEFAULT '',
	detail      TEXT        NOT NULL DEFAULT '',
	at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_position_idx ON audit_events (position_id, id);

CREATE TABLE IF NOT EXISTS positions (
	id         TEXT PRIMARY KEY,
	symbol     TEXT        NOT NULL,
	side       TEXT        NOT NULL,
	state      TEXT        NOT NULL,
	outcome    TEXT        NOT NULL,
	net_pnl    NUMERIC     NOT NULL,
	snapshot   JSONB       NOT NULL,
	summary    JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	closed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS positions_closed_idx ON positions (closed_at DESC);
`

// Postgres архив в Postgres через pkg/db.
type Postgres struct {
	tx db.TxManager
}

func NewPostgres(ctx context.Context, tx db.TxManager) (*Postgres, error) {
	if _, err := tx.Conn().Exec(ctx, pgSchema); err != nil {
		tx.Close()
		return nil, errors.Wrap(err, "pg.migrate")
	}
	return &Postgres{tx: tx}, nil
}

func (p *Postgres) RecordAudit(ctx context.Context, ev models.AuditEvent) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "pg.RecordAudit")
		}
	}()
	_, err = p.tx.Conn().Exec(ctx, `
INSERT INTO audit_events (position_id, symbol, action, role, order_id, qty, price, from_state, to_state, detail, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ev.PositionID, ev.Symbol, string(ev.Action), string(ev.Role), ev.OrderID,
		ev.Qty.String(), ev.Price.String(), string(ev.From), string(ev.To), ev.Detail, ev.At)
	return err
}

func (p *Postgres) ArchivePosition(ctx context.Context, pos models.Position, summary models.ProfitSummary) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrapf(err, "pg.ArchivePosition %s", pos.ID)
		}
	}()
	snapshot, err := sonic.Marshal(pos)
	if err != nil {
		return err
	}
	sum, err := sonic.Marshal(summary)
	if err != nil {
		return err
	}

	return p.tx.RunInTx(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
INSERT INTO positions (id, symbol, side, state, outcome, net_pnl, snapshot, summary, created_at, closed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	state = EXCLUDED.state, outcome = EXCLUDED.outcome, net_pnl = EXCLUDED.net_pnl,
	snapshot = EXCLUDED.snapshot, summary = EXCLUDED.summary, closed_at = EXCLUDED.closed_at`,
			pos.ID, pos.Symbol, string(pos.Side), string(pos.State), string(pos.Outcome),
			summary.NetPnL.String(), string(snapshot), string(sum), pos.CreatedAt, closedAt(pos))
		return err
	})
}

func (p *Postgres) RecentPositions(ctx context.Context, limit int) (out []Record, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "pg.RecentPositions")
		}
	}()
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.tx.Conn().Query(ctx,
		`SELECT snapshot, summary FROM positions ORDER BY closed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var snapshot, sum []byte
		if err = rows.Scan(&snapshot, &sum); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(snapshot, sum)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) AuditTrail(ctx context.Context, positionID string) (out []models.AuditEvent, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "pg.AuditTrail")
		}
	}()
	rows, err := p.tx.Conn().Query(ctx, `
SELECT position_id, symbol, action, role, order_id, qty::text, price::text, from_state, to_state, detail, at
FROM audit_events WHERE position_id = $1 ORDER BY id`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev                     models.AuditEvent
			action, role, from, to string
			qty, price             string
		)
		if err = rows.Scan(&ev.PositionID, &ev.Symbol, &action, &role, &ev.OrderID,
			&qty, &price, &from, &to, &ev.Detail, &ev.At); err != nil {
			return nil, err
		}
		ev.Action, ev.Role = models.AuditAction(action), models.OrderRole(role)
		ev.From, ev.To = models.PositionState(from), models.PositionState(to)
		if ev.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if ev.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.tx.Close()
	return nil
}
