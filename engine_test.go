package trueface_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	trueface "github.com/trueface/trueface"
	"github.com/trueface/trueface/extractor"
	"github.com/trueface/trueface/userstore"
)

const testDim = 32

var testSecret = []byte("test-secret-0123456789abcdef")

type testEnv struct {
	engine *trueface.Engine
	redis  *miniredis.Miniredis
	users  *userstore.Memory
}

// newTestEngine builds an engine on miniredis, an in-memory user store,
// and the stub extractor. mutate, when non-nil, adjusts the config
// before Build.
func newTestEngine(t *testing.T, mutate func(*trueface.Config)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := trueface.DefaultConfig()
	cfg.Matching.Dim = testDim
	cfg.JWT.Secret = testSecret
	cfg.RateLimit.Enabled = false
	cfg.Audit.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	users := userstore.NewMemory()
	engine, err := trueface.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithExtractor(&extractor.Stub{Dim: testDim}).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, redis: mr, users: users}
}

// faceImage returns a deterministic PNG-tagged payload; distinct seeds
// produce embeddings the stub extractor keeps far apart.
func faceImage(seed byte) []byte {
	img := make([]byte, 128)
	copy(img, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})
	for i := 8; i < len(img); i++ {
		img[i] = seed + byte(i)*7
	}
	return img
}

func mustSignup(t *testing.T, env *testEnv, username string, seed byte) *trueface.UserRecord {
	t.Helper()
	user, err := env.engine.Signup(context.Background(), username, "user", faceImage(seed))
	if err != nil {
		t.Fatalf("signup %s: %v", username, err)
	}
	return user
}

// unitVec returns a dim-testDim vector with the given leading
// components; the engine normalizes before matching.
func unitVec(components ...float32) []float32 {
	v := make([]float32, testDim)
	copy(v, components)
	return v
}
