package metrics

import (
	"context"
	"time"

	"github.com/jmylchreest/dvrstreamd/internal/dvrclient"
)

// Snapshotter is the minimal registry surface the sampler polls; satisfied
// by internal/http/handlers.StreamRegistry.
type Snapshotter interface {
	Snapshot() map[string]*dvrclient.Stream
}

// Sample updates the gauge/counter series for every stream currently held
// by reg. Counters are derived from Stream.Stats(), which reports
// cumulative totals, so Sample must only ever increase them (Prometheus
// counters must be monotonic); it does this by tracking the last-seen
// value per stream ID and adding only the delta.
type Sampler struct {
	reg  Snapshotter
	last map[string]dvrclient.Stats
}

// NewSampler creates a Sampler over the given registry.
func NewSampler(reg Snapshotter) *Sampler {
	return &Sampler{reg: reg, last: make(map[string]dvrclient.Stats)}
}

// Sample takes one snapshot and updates all series.
func (s *Sampler) Sample() {
	for id, stream := range s.reg.Snapshot() {
		BufferOccupancy.WithLabelValues(id).Set(float64(stream.BufferOccupancy()))

		stats := stream.Stats()
		prev := s.last[id]

		if d := stats.BytesTransferred - prev.BytesTransferred; d > 0 {
			BytesTransferred.WithLabelValues(id).Add(float64(d))
		}
		if d := stats.PauseEvents - prev.PauseEvents; d > 0 {
			PauseEvents.WithLabelValues(id).Add(float64(d))
		}
		if d := stats.Restarts - prev.Restarts; d > 0 {
			Restarts.WithLabelValues(id).Add(float64(d))
		}
		if d := stats.PMTRewrites - prev.PMTRewrites; d > 0 {
			PMTRewrites.WithLabelValues(id).Add(float64(d))
		}

		s.last[id] = stats
	}
}

// Run samples on the given interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}
