package trueface

import (
	"errors"
	"time"
)

// ValidationMode selects how ValidateToken checks revocation state.
type ValidationMode uint8

const (
	// ModeStrict verifies the token signature and then consults the
	// session store, so revocation is observed immediately. Default.
	ModeStrict ValidationMode = iota
	// ModeJWTOnly skips the session store. Cheaper, but revoked sessions
	// stay valid until the token expires. Use only for routes that can
	// tolerate that window.
	ModeJWTOnly
)

// Config defines the engine configuration. Instances are intended to be
// set up during initialization and then treated as immutable.
type Config struct {
	Matching  MatchingConfig
	Index     IndexConfig
	JWT       JWTConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig

	ValidationMode ValidationMode
}

/*
====================================
MATCHING CONFIG
====================================
*/

// MatchingConfig holds embedding dimension and decision thresholds.
// Thresholds apply to cosine similarity in [-1, 1]; scores are never
// rescaled before comparison.
type MatchingConfig struct {
	// Dim is the embedding dimension every vector must have.
	Dim int

	// DefaultThreshold is the similarity a normal-sensitivity match must
	// reach.
	DefaultThreshold float64

	// HighSecurityThreshold is the similarity a high-sensitivity match
	// must reach.
	HighSecurityThreshold float64

	// TopK is the default candidate count for recognition queries.
	TopK int
}

/*
====================================
INDEX CONFIG
====================================
*/

// IndexConfig tunes the approximate search backend. Zero values select
// the package defaults.
type IndexConfig struct {
	// UseApproximate routes recognition queries through the HNSW graph.
	// Verification always scans the target user's embeddings directly.
	UseApproximate bool

	OverfetchFactor int
	StalenessBound  int
	OnlineInsert    bool

	M              int
	EfConstruction int
	EfSearch       int
	Seed           int64
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds token signing material and policy.
type JWTConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	Secret        []byte
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side session records.
type SessionConfig struct {
	RedisPrefix string
	// TTL is the session lifetime. It bounds both token expiry and how
	// long a revoked record stays observable in Redis.
	TTL time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig bounds failed match attempts and gallery-wide searches
// with Redis fixed-window counters, shared by every engine instance on
// the same Redis.
type RateLimitConfig struct {
	Enabled bool

	// EnableIPThrottle counts failed match attempts per client IP in
	// addition to per user.
	EnableIPThrottle bool

	// EnableRecognizeThrottle budgets 1:N gallery searches per client IP.
	// Every search counts, not only misses.
	EnableRecognizeThrottle bool

	MaxMatchAttempts     int
	MatchCooldown        time.Duration
	MaxRecognizeAttempts int
	RecognizeCooldown    time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics system.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration a fresh [Builder] starts from.
// Callers can tweak it and pass the result to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Matching: MatchingConfig{
			Dim:                   128,
			DefaultThreshold:      0.7,
			HighSecurityThreshold: 0.85,
			TopK:                  5,
		},
		Index: IndexConfig{
			UseApproximate:  true,
			OverfetchFactor: 3,
			StalenessBound:  128,
			OnlineInsert:    true,
			M:               16,
			EfConstruction:  200,
			EfSearch:        64,
		},
		JWT: JWTConfig{
			SigningMethod: "hs256",
		},
		Session: SessionConfig{
			RedisPrefix: "tf",
			TTL:         24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:              true,
			EnableIPThrottle:     true,
			MaxMatchAttempts:     10,
			MatchCooldown:        5 * time.Minute,
			MaxRecognizeAttempts: 30,
			RecognizeCooldown:    time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for values the engine cannot run
// with.
func (c Config) Validate() error {
	if c.Matching.Dim <= 0 {
		return errors.New("Matching.Dim must be positive")
	}
	if c.Matching.DefaultThreshold < -1 || c.Matching.DefaultThreshold > 1 {
		return errors.New("Matching.DefaultThreshold outside [-1, 1]")
	}
	if c.Matching.HighSecurityThreshold < -1 || c.Matching.HighSecurityThreshold > 1 {
		return errors.New("Matching.HighSecurityThreshold outside [-1, 1]")
	}
	if c.Matching.HighSecurityThreshold < c.Matching.DefaultThreshold {
		return errors.New("Matching.HighSecurityThreshold below DefaultThreshold")
	}
	if c.Matching.TopK <= 0 {
		return errors.New("Matching.TopK must be positive")
	}
	if c.Session.TTL <= 0 {
		return errors.New("Session.TTL must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxMatchAttempts <= 0 || c.RateLimit.MatchCooldown <= 0 {
			return errors.New("RateLimit match budget must be positive when enabled")
		}
		if c.RateLimit.EnableRecognizeThrottle &&
			(c.RateLimit.MaxRecognizeAttempts <= 0 || c.RateLimit.RecognizeCooldown <= 0) {
			return errors.New("RateLimit recognize budget must be positive when enabled")
		}
	}
	switch c.JWT.SigningMethod {
	case "hs256", "ed25519":
	default:
		return errors.New("JWT.SigningMethod must be hs256 or ed25519")
	}
	switch c.ValidationMode {
	case ModeStrict, ModeJWTOnly:
	default:
		return errors.New("invalid ValidationMode")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
