package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics exposes a tiny in-memory counter set for sends and displayed notifications.
type Metrics struct {
	consumed         atomic.Int64
	accepted         atomic.Int64
	failed           atomic.Int64
	displayed        atomic.Int64
	backgroundRuns   atomic.Int64
	backgroundFailed atomic.Int64
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Consumed         int64 `json:"consumed"`
	Accepted         int64 `json:"accepted"`
	Failed           int64 `json:"failed"`
	Displayed        int64 `json:"displayed"`
	BackgroundRuns   int64 `json:"background_runs"`
	BackgroundFailed int64 `json:"background_failed"`
}

// New returns a zeroed Metrics collector.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncConsumed()         { m.consumed.Add(1) }
func (m *Metrics) IncAccepted()         { m.accepted.Add(1) }
func (m *Metrics) IncFailed()           { m.failed.Add(1) }
func (m *Metrics) IncDisplayed()        { m.displayed.Add(1) }
func (m *Metrics) IncBackgroundRun()    { m.backgroundRuns.Add(1) }
func (m *Metrics) IncBackgroundFailed() { m.backgroundFailed.Add(1) }

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Consumed:         m.consumed.Load(),
		Accepted:         m.accepted.Load(),
		Failed:           m.failed.Load(),
		Displayed:        m.displayed.Load(),
		BackgroundRuns:   m.backgroundRuns.Load(),
		BackgroundFailed: m.backgroundFailed.Load(),
	}
}

// Handler exposes the counters as JSON.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})
}
