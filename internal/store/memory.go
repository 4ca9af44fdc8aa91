package store

import (
	"context"
	"sync"

	"signal_bot/internal/models"
)

// Memory хранит всё в процессе. Для тестов и запуска без базы.
type Memory struct {
	mu      sync.RWMutex
	audit   []models.AuditEvent
	records []Record
	byID    map[string]int
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]int)}
}

func (m *Memory) RecordAudit(_ context.Context, ev models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, ev)
	return nil
}

// ArchivePosition повторный архив той же позиции перезаписывает запись.
func (m *Memory) ArchivePosition(_ context.Context, pos models.Position, summary models.ProfitSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := Record{Position: pos.Clone(), Summary: summary}
	if i, ok := m.byID[pos.ID]; ok {
		m.records[i] = rec
		return nil
	}
	m.byID[pos.ID] = len(m.records)
	m.records = append(m.records, rec)
	return nil
}

// RecentPositions новые первыми.
func (m *Memory) RecentPositions(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]Record, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *Memory) AuditTrail(_ context.Context, positionID string) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AuditEvent
	for _, ev := range m.audit {
		if ev.PositionID == positionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
