// Command truefaced runs the trueface engine as an HTTP service.
//
// Configuration comes from the environment (TRUEFACE_* variables), with an
// optional .env file loaded at startup. Required: TRUEFACE_JWT_SECRET.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	trueface "github.com/trueface/trueface"
	"github.com/trueface/trueface/extractor"
	promexport "github.com/trueface/trueface/metrics/export/prometheus"
	"github.com/trueface/trueface/userstore"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func loadSettings() (*viper.Viper, error) {
	// A missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("trueface")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_db", "trueface")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "tf")
	v.SetDefault("session_ttl", "24h")
	v.SetDefault("embedding_dim", 128)
	v.SetDefault("audit_log_size", 512)

	if v.GetString("jwt_secret") == "" {
		return nil, errors.New("TRUEFACE_JWT_SECRET is required")
	}
	return v, nil
}

func run(log *slog.Logger) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(settings.GetString("mongo_uri")))
	if err != nil {
		return err
	}
	defer func() {
		_ = mongoClient.Disconnect(context.Background())
	}()
	if err := mongoClient.Ping(ctx, nil); err != nil {
		return err
	}
	log.Info("connected to mongo", "uri", maskURI(settings.GetString("mongo_uri")))

	rdb := redis.NewClient(&redis.Options{Addr: settings.GetString("redis_addr")})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	users := userstore.NewMongo(mongoClient.Database(settings.GetString("mongo_db")).Collection("users"))
	if err := users.EnsureIndexes(ctx); err != nil {
		return err
	}

	cfg := engineConfig(settings)
	auditLog := trueface.NewRingSink(settings.GetInt("audit_log_size"))

	engine, err := trueface.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithExtractor(&extractor.Stub{Dim: cfg.Matching.Dim}).
		WithAuditSink(auditLog).
		WithLogger(log).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.LoadIndex(ctx); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		promexport.NewCollector(engine),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pingDB := func(ctx context.Context) error {
		return mongoClient.Ping(ctx, nil)
	}
	router := newRouter(engine, auditLog, registry, settings, pingDB)

	server := &http.Server{
		Addr:              settings.GetString("listen_addr"),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// maskURI hides credentials embedded in a connection string before it
// reaches the logs.
func maskURI(uri string) string {
	at := strings.LastIndex(uri, "@")
	if at < 0 {
		return uri
	}
	scheme := strings.Index(uri, "://")
	if scheme < 0 || scheme+3 > at {
		return uri
	}
	return uri[:scheme+3] + "***" + uri[at:]
}

func engineConfig(settings *viper.Viper) trueface.Config {
	cfg := trueface.DefaultConfig()
	cfg.Matching.Dim = settings.GetInt("embedding_dim")
	cfg.JWT.Secret = []byte(settings.GetString("jwt_secret"))
	cfg.Session.RedisPrefix = settings.GetString("redis_prefix")
	cfg.Session.TTL = settings.GetDuration("session_ttl")
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}
