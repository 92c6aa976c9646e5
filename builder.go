package trueface

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/trueface/trueface/extractor"
	internalaudit "github.com/trueface/trueface/internal/audit"
	"github.com/trueface/trueface/internal/rate"
	"github.com/trueface/trueface/jwt"
	"github.com/trueface/trueface/session"
	"github.com/trueface/trueface/vector"
)

// Builder assembles an [Engine]. A Builder is single-use; Build returns
// an error on the second call.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     UserStore
	extractor extractor.Extractor
	auditSink AuditSink
	log       *slog.Logger

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the session store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the user database integration.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithExtractor sets the embedding extractor used by the image-accepting
// operations. Without one, only the vector-accepting operations work.
func (b *Builder) WithExtractor(ex extractor.Extractor) *Builder {
	b.extractor = ex
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(log *slog.Logger) *Builder {
	b.log = log
	return b
}

// WithMetricsEnabled toggles the in-process metrics system.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles match and validate latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires the collaborators, and
// returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	log := b.log
	if log == nil {
		log = slog.Default()
	}

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		Secret:        cloneBytes(cfg.JWT.Secret),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	index := vector.New(vector.Config{
		Dim:             cfg.Matching.Dim,
		OverfetchFactor: cfg.Index.OverfetchFactor,
		StalenessBound:  cfg.Index.StalenessBound,
		OnlineInsert:    cfg.Index.OnlineInsert,
		M:               cfg.Index.M,
		EfConstruction:  cfg.Index.EfConstruction,
		EfSearch:        cfg.Index.EfSearch,
		Seed:            cfg.Index.Seed,
	}, log)

	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled {
		limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:          cfg.RateLimit.EnableIPThrottle,
			EnableRecognizeThrottle:   cfg.RateLimit.EnableRecognizeThrottle,
			MaxMatchAttempts:          cfg.RateLimit.MaxMatchAttempts,
			MatchCooldownDuration:     cfg.RateLimit.MatchCooldown,
			MaxRecognizeAttempts:      cfg.RateLimit.MaxRecognizeAttempts,
			RecognizeCooldownDuration: cfg.RateLimit.RecognizeCooldown,
		})
	}

	engine := &Engine{
		config:       cfg,
		log:          log,
		index:        index,
		users:        b.users,
		extractor:    b.extractor,
		jwtManager:   jm,
		sessionStore: session.NewStore(b.redis, cfg.Session.RedisPrefix),
		limiter:      limiter,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}

	b.built = true

	return engine, nil
}
