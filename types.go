package trueface

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/trueface/trueface/internal/audit"
	internalmetrics "github.com/trueface/trueface/internal/metrics"
)

// Sensitivity selects the similarity threshold a match must clear.
type Sensitivity uint8

const (
	// SensitivityNormal uses Config.Matching.DefaultThreshold.
	SensitivityNormal Sensitivity = iota
	// SensitivityHigh uses Config.Matching.HighSecurityThreshold.
	SensitivityHigh
)

// FaceRecord is one enrolled embedding. Vectors are stored unit-normalized.
type FaceRecord struct {
	Vector     []float32
	EnrolledAt int64
}

// UserRecord is the full account record returned by [UserStore].
type UserRecord struct {
	UserID   string
	Username string
	Role     string
	Disabled bool
	// DisabledReason and DisabledAt record why and when the account was
	// disabled. Both are zero while the account is enabled.
	DisabledReason string
	DisabledAt     int64
	Faces          []FaceRecord
	CreatedAt      int64
}

// CreateUserInput is the input for [UserStore.CreateUser].
type CreateUserInput struct {
	Username  string
	Role      string
	CreatedAt int64
}

// UserStore is the interface callers implement to integrate the engine
// with their user database. Implementations must be safe for concurrent
// use and should wrap backend failures so they match ErrStoreUnavailable.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*UserRecord, error)
	GetUserByUsername(ctx context.Context, username string) (*UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (*UserRecord, error)
	AddFace(ctx context.Context, userID string, face FaceRecord) error
	// SetDisabled flips the account flag. reason is stored alongside the
	// flag when disabling and cleared when re-enabling.
	SetDisabled(ctx context.Context, userID string, disabled bool, reason string) error
	// ListUsers streams every user for index hydration. The callback
	// returning an error stops iteration.
	ListUsers(ctx context.Context, fn func(*UserRecord) error) error
}

// VerifyResult is returned by one-to-one verification. Similarity is the
// best cosine score across the user's visible embeddings, reported
// unchanged whether or not it cleared the threshold.
type VerifyResult struct {
	UserID     string
	Matched    bool
	Similarity float64
	Threshold  float64
	// Compared is how many enrolled embeddings were scored.
	Compared int
}

// MatchCandidate is one ranked hit from one-to-many recognition. A user
// appears at most once, under their best-scoring embedding. Every
// returned candidate cleared the active threshold.
type MatchCandidate struct {
	UserID     string
	Username   string
	Similarity float64
}

// AuthResult is returned by [Engine.ValidateToken] for a valid session.
type AuthResult struct {
	UserID    string
	SessionID string
	Role      string
	ExpiresAt time.Time
}

// SessionInfo is a caller-facing view of a stored session.
type SessionInfo struct {
	SessionID string
	UserID    string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Active    bool
	RevokedAt time.Time
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit
// dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// RingSink keeps the most recent events in memory for the audit listing
// API.
type RingSink = internalaudit.RingSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewRingSink creates a [RingSink] holding up to capacity events.
func NewRingSink(capacity int) *RingSink {
	return internalaudit.NewRingSink(capacity)
}

// MetricID identifies a specific counter or histogram in the in-process
// metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricVerifySuccess       = internalmetrics.MetricVerifySuccess
	MetricVerifyReject        = internalmetrics.MetricVerifyReject
	MetricVerifyFailure       = internalmetrics.MetricVerifyFailure
	MetricRecognizeHit        = internalmetrics.MetricRecognizeHit
	MetricRecognizeMiss       = internalmetrics.MetricRecognizeMiss
	MetricEnrollSuccess       = internalmetrics.MetricEnrollSuccess
	MetricEnrollFailure       = internalmetrics.MetricEnrollFailure
	MetricSignupSuccess       = internalmetrics.MetricSignupSuccess
	MetricSignupDuplicate     = internalmetrics.MetricSignupDuplicate
	MetricLoginSuccess        = internalmetrics.MetricLoginSuccess
	MetricLoginFailure        = internalmetrics.MetricLoginFailure
	MetricSessionCreated      = internalmetrics.MetricSessionCreated
	MetricSessionRevoked      = internalmetrics.MetricSessionRevoked
	MetricSessionsBulkRevoked = internalmetrics.MetricSessionsBulkRevoked
	MetricLogout              = internalmetrics.MetricLogout
	MetricValidateSuccess     = internalmetrics.MetricValidateSuccess
	MetricValidateExpired     = internalmetrics.MetricValidateExpired
	MetricValidateRevoked     = internalmetrics.MetricValidateRevoked
	MetricValidateNotFound    = internalmetrics.MetricValidateNotFound
	MetricValidateInvalid     = internalmetrics.MetricValidateInvalid
	MetricUserDisabled        = internalmetrics.MetricUserDisabled
	MetricIndexDegraded       = internalmetrics.MetricIndexDegraded
	MetricIndexRebuilt        = internalmetrics.MetricIndexRebuilt
	MetricRateLimitHit        = internalmetrics.MetricRateLimitHit
	MetricMatchLatency        = internalmetrics.MetricMatchLatency
	MetricValidateLatency     = internalmetrics.MetricValidateLatency
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a new [Metrics] instance configured by the given
// [MetricsConfig]. When Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
