package store

import (
	"context"

	"signal_bot/internal/models"
)

// Record закрытая позиция вместе с итогом.
type Record struct {
	Position models.Position      `json:"position"`
	Summary  models.ProfitSummary `json:"summary"`
}

// Store журнал ордеров и архив закрытых позиций.
type Store interface {
	RecordAudit(ctx context.Context, ev models.AuditEvent) error
	ArchivePosition(ctx context.Context, pos models.Position, summary models.ProfitSummary) error
	RecentPositions(ctx context.Context, limit int) ([]Record, error)
	AuditTrail(ctx context.Context, positionID string) ([]models.AuditEvent, error)
	Close() error
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)
