package store

import (
	"time"

	"signal_bot/internal/models"

	"github.com/bytedance/sonic"
)

func closedAt(pos models.Position) time.Time {
	if !pos.ClosedAt.IsZero() {
		return pos.ClosedAt
	}
	if !pos.UpdatedAt.IsZero() {
		return pos.UpdatedAt
	}
	return time.Now()
}

func decodeRecord(snapshot, summary []byte) (Record, error) {
	var rec Record
	if err := sonic.Unmarshal(snapshot, &rec.Position); err != nil {
		return Record{}, err
	}
	if err := sonic.Unmarshal(summary, &rec.Summary); err != nil {
		return Record{}, err
	}
	return rec, nil
}
