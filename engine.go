package trueface

import (
	"context"
	"log/slog"
	"time"

	"github.com/trueface/trueface/extractor"
	internalaudit "github.com/trueface/trueface/internal/audit"
	"github.com/trueface/trueface/internal/rate"
	"github.com/trueface/trueface/jwt"
	"github.com/trueface/trueface/session"
	"github.com/trueface/trueface/vector"
)

// Engine is the face-matching and session engine. Construct it with
// [Builder]; a zero Engine is not usable. All methods are safe for
// concurrent use.
type Engine struct {
	config       Config
	log          *slog.Logger
	index        *vector.Index
	users        UserStore
	extractor    extractor.Extractor
	jwtManager   *jwt.Manager
	sessionStore *session.Store
	limiter      *rate.Limiter
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
}

// Close flushes the audit dispatcher. The engine must not be used after
// Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeLatency(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// IndexSize returns the number of visible enrolled embeddings.
func (e *Engine) IndexSize() int {
	if e == nil || e.index == nil {
		return 0
	}
	return e.index.Len()
}

// MatchAttempts returns how many failed match attempts the user has in
// the current rate-limit window. Zero when rate limiting is disabled.
func (e *Engine) MatchAttempts(ctx context.Context, userID string) (int, error) {
	if e == nil || e.limiter == nil {
		return 0, nil
	}
	return e.limiter.GetMatchAttempts(ctx, userID)
}

// Health reports engine readiness: session-store reachability and index
// population. Intended for health endpoints.
type Health struct {
	RedisOK      bool
	RedisLatency time.Duration
	IndexSize    int
	// DegradedQueries counts recognition queries that fell back from the
	// approximate backend to the exact scan.
	DegradedQueries uint64
}

// CheckHealth probes the session store and reports index state.
func (e *Engine) CheckHealth(ctx context.Context) Health {
	h := Health{}
	if e == nil {
		return h
	}
	if e.sessionStore != nil {
		latency, err := e.sessionStore.Ping(ctx)
		h.RedisOK = err == nil
		h.RedisLatency = latency
	}
	if e.index != nil {
		h.IndexSize = e.index.Len()
		h.DegradedQueries = e.index.DegradedQueries()
	}
	return h
}

func (e *Engine) threshold(s Sensitivity) float64 {
	if s == SensitivityHigh {
		return e.config.Matching.HighSecurityThreshold
	}
	return e.config.Matching.DefaultThreshold
}

func (e *Engine) searchBackend() vector.Backend {
	if e.config.Index.UseApproximate {
		return vector.BackendApproximate
	}
	return vector.BackendExact
}
