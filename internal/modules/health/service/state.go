package service

import (
	"sync/atomic"
	"time"
)

// Probes источники данных для /healthz. Любой может быть nil.
type Probes struct {
	OpenPositions   func() int
	LastRefresh     func() time.Time
	StreamConnected func() bool
}

type State struct {
	ready     atomic.Bool
	startedAt time.Time
	probes    Probes
}

func NewState(p Probes) *State {
	return &State{startedAt: time.Now(), probes: p}
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.NotReadyReason() == "" }

// NotReadyReason пусто, когда бот может принимать сигналы. Без push-канала
// монитор живёт опросом, поэтому обрыв стрима готовность не снимает.
func (s *State) NotReadyReason() string {
	if !s.ready.Load() {
		return "starting"
	}
	if s.probes.LastRefresh != nil && s.probes.LastRefresh().IsZero() {
		return "account balance not synced"
	}
	return ""
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func (s *State) OpenPositions() int {
	if s.probes.OpenPositions == nil {
		return 0
	}
	return s.probes.OpenPositions()
}

func (s *State) LastRefresh() time.Time {
	if s.probes.LastRefresh == nil {
		return time.Time{}
	}
	return s.probes.LastRefresh()
}

// StreamConnected без push-канала всегда false: монитор работает опросом.
func (s *State) StreamConnected() bool {
	if s.probes.StreamConnected == nil {
		return false
	}
	return s.probes.StreamConnected()
}
