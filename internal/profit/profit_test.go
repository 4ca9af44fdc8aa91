package profit

import (
	"context"
	"testing"
	"time"

	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type sink struct{ got []models.ProfitSummary }

func (s *sink) Profit(_ context.Context, sum models.ProfitSummary) { s.got = append(s.got, sum) }

func closedLong() models.Position {
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	return models.Position{
		ID:            "p1",
		Symbol:        "BTCUSDT",
		Side:          models.SideLong,
		State:         models.StateClosed,
		Outcome:       models.OutcomeTakeProfit,
		FilledQty:     d("0.01"),
		EntryAvgPrice: d("50000"),
		CapitalAtRisk: d("20"),
		CreatedAt:     start,
		ClosedAt:      start.Add(90 * time.Minute),
		Fills: []models.Fill{
			{Role: models.RoleEntry, Qty: d("0.01"), Price: d("50000"), Fee: d("0.2")},
			{Role: models.RoleTakeProfit, Qty: d("0.002"), Price: d("51000"), Fee: d("0.05")},
			{Role: models.RoleTakeProfit, Qty: d("0.003"), Price: d("52000"), Fee: d("0.05")},
			{Role: models.RoleStopLoss, Qty: d("0.005"), Price: d("50000")},
		},
	}
}

func TestComputeLong(t *testing.T) {
	s := Compute(closedLong())
	// 0.002*1000 + 0.003*2000 + 0 = 8
	assert.True(t, s.GrossPnL.Equal(d("8")), s.GrossPnL.String())
	assert.True(t, s.Fees.Equal(d("0.3")))
	assert.True(t, s.NetPnL.Equal(d("7.7")))
	assert.True(t, s.PctOfRisk.Equal(d("38.5")), s.PctOfRisk.String())
	assert.True(t, s.ExitQty.Equal(d("0.01")))
	assert.True(t, s.ExitAvgPrice.Equal(d("50800")), s.ExitAvgPrice.String())
	assert.Equal(t, 90*time.Minute, s.Duration)
}

func TestComputeShort(t *testing.T) {
	pos := models.Position{
		Side:          models.SideShort,
		EntryAvgPrice: d("2"),
		CapitalAtRisk: d("10"),
		Fills: []models.Fill{
			{Role: models.RoleEntry, Qty: d("100"), Price: d("2")},
			{Role: models.RoleStopLoss, Qty: d("100"), Price: d("2.1")},
		},
	}
	s := Compute(pos)
	assert.True(t, s.NetPnL.Equal(d("-10")), s.NetPnL.String())
	assert.True(t, s.PctOfRisk.Equal(d("-100")))
}

func TestReporterGating(t *testing.T) {
	external := closedLong()
	external.Outcome = models.OutcomeExternal

	unfilled := closedLong()
	unfilled.State = models.StateCanceled
	unfilled.FilledQty = decimal.Zero
	unfilled.Fills = nil

	open := closedLong()
	open.State = models.StatePartiallyClosed

	failed := closedLong()
	failed.State = models.StateFailed
	failed.Outcome = models.OutcomeFailed

	cases := []struct {
		name    string
		toggles Toggles
		pos     models.Position
		want    bool
	}{
		{"disabled", Toggles{}, closedLong(), false},
		{"enabled", Toggles{Enabled: true}, closedLong(), true},
		{"manual only, target close", Toggles{Enabled: true, ManualOnly: true}, closedLong(), false},
		{"manual only, external close", Toggles{Enabled: true, ManualOnly: true}, external, true},
		{"nothing filled", Toggles{Enabled: true}, unfilled, false},
		{"not terminal", Toggles{Enabled: true}, open, false},
		{"failed with fills", Toggles{Enabled: true}, failed, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := &sink{}
			s := NewReporter(tc.toggles, out, nil).Report(context.Background(), tc.pos)
			assert.Equal(t, tc.pos.ID, s.PositionID)
			if tc.want {
				require.Len(t, out.got, 1)
			} else {
				assert.Empty(t, out.got)
			}
		})
	}
}
