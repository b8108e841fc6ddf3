package detect

import (
	"sync/atomic"
	"time"
)

// Stats are the process-wide detection counters. The coordinator worker is
// the only writer; other goroutines take snapshots and accept brief
// staleness.
type Stats struct {
	totalScans     atomic.Uint64
	survivorsFound atomic.Uint64
	lastScanAt     atomic.Int64 // unix nanos, zero until the first scan
}

// StatsSnapshot is a point-in-time read of the counters.
type StatsSnapshot struct {
	TotalScans     uint64
	SurvivorsFound uint64
	LastScanAt     time.Time
}

func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		TotalScans:     s.totalScans.Load(),
		SurvivorsFound: s.survivorsFound.Load(),
	}
	if ns := s.lastScanAt.Load(); ns != 0 {
		snap.LastScanAt = time.Unix(0, ns)
	}
	return snap
}
