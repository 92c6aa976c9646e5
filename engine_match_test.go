package trueface_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	trueface "github.com/trueface/trueface"
	"github.com/trueface/trueface/extractor"
	"github.com/trueface/trueface/userstore"
)

func TestRecognizeRanksEnrolledUserFirst(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	alice := mustSignup(t, env, "alice", 1)
	mustSignup(t, env, "bob", 2)
	mustSignup(t, env, "carol", 3)

	candidates, err := env.engine.Recognize(ctx, faceImage(1), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(candidates) == 0 {
		t.Fatal("no candidates")
	}
	top := candidates[0]
	if top.UserID != alice.UserID || top.Username != "alice" {
		t.Fatalf("top candidate = %+v, want alice", top)
	}
	if top.Similarity < 0.999 {
		t.Fatalf("enrolled face not matched: %+v", top)
	}

	// Each user appears at most once and every candidate cleared the
	// threshold.
	seen := make(map[string]bool)
	for _, c := range candidates {
		if seen[c.UserID] {
			t.Fatalf("user %s listed twice", c.UserID)
		}
		seen[c.UserID] = true
		if c.Similarity < 0.7 {
			t.Fatalf("below-threshold candidate returned: %+v", c)
		}
	}
}

func TestRecognizeUnknownFaceReturnsEmpty(t *testing.T) {
	env := newTestEngine(t, nil)
	mustSignup(t, env, "alice", 1)
	mustSignup(t, env, "bob", 2)

	candidates, err := env.engine.Recognize(context.Background(), faceImage(200), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("recognize returned an error for a no-match probe: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("unknown face produced candidates: %+v", candidates)
	}
}

func TestVerifySensitivityThresholds(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	user, err := env.engine.SignupVector(ctx, "alice", "user", unitVec(1))
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	// cos(enrolled, query) = 0.8: above the 0.7 default, below the 0.85
	// high-security threshold.
	query := unitVec(0.8, 0.6)

	normal, err := env.engine.VerifyVector(ctx, user.UserID, query, trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("verify normal: %v", err)
	}
	if !normal.Matched {
		t.Fatalf("similarity %v should clear the default threshold %v", normal.Similarity, normal.Threshold)
	}

	high, err := env.engine.VerifyVector(ctx, user.UserID, query, trueface.SensitivityHigh)
	if err != nil {
		t.Fatalf("verify high: %v", err)
	}
	if high.Matched {
		t.Fatalf("similarity %v should not clear the high threshold %v", high.Similarity, high.Threshold)
	}
	if normal.Similarity != high.Similarity {
		t.Fatalf("sensitivity changed the reported score: %v vs %v", normal.Similarity, high.Similarity)
	}
}

func TestVerifyVectorRejectsBadInput(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	user := mustSignup(t, env, "alice", 1)

	if _, err := env.engine.VerifyVector(ctx, user.UserID, make([]float32, 8), trueface.SensitivityNormal); !errors.Is(err, trueface.ErrInvalidVector) {
		t.Fatalf("wrong dimension = %v, want ErrInvalidVector", err)
	}
	if _, err := env.engine.VerifyVector(ctx, user.UserID, unitVec(), trueface.SensitivityNormal); !errors.Is(err, trueface.ErrInvalidVector) {
		t.Fatalf("zero vector = %v, want ErrInvalidVector", err)
	}
}

func TestRecognizeVectorAtExplicitThreshold(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	alice, err := env.engine.SignupVector(ctx, "alice", "user", unitVec(1))
	if err != nil {
		t.Fatalf("signup alice: %v", err)
	}
	if _, err := env.engine.SignupVector(ctx, "bob", "user", unitVec(0, 1)); err != nil {
		t.Fatalf("signup bob: %v", err)
	}
	if _, err := env.engine.SignupVector(ctx, "carol", "user", unitVec(0, 0, 1)); err != nil {
		t.Fatalf("signup carol: %v", err)
	}

	// cos(probe, alice) = 0.92; bob and carol score well under 0.7.
	probe := unitVec(0.92, float32(math.Sqrt(1-0.92*0.92)))

	candidates, err := env.engine.RecognizeVectorAt(ctx, probe, 0.7)
	if err != nil {
		t.Fatalf("recognize at 0.7: %v", err)
	}
	if len(candidates) != 1 || candidates[0].UserID != alice.UserID {
		t.Fatalf("candidates = %+v, want alice only", candidates)
	}
	if candidates[0].Similarity < 0.91 || candidates[0].Similarity > 0.93 {
		t.Fatalf("similarity = %v, want ≈0.92", candidates[0].Similarity)
	}

	// A stricter caller-supplied threshold empties the result.
	candidates, err = env.engine.RecognizeVectorAt(ctx, probe, 0.95)
	if err != nil {
		t.Fatalf("recognize at 0.95: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("candidates above 0.95 = %+v", candidates)
	}
}

// faultyUsers wraps a working store and can be flipped to fail every
// read or to report one record as missing.
type faultyUsers struct {
	trueface.UserStore
	mu      sync.Mutex
	down    bool
	missing string
}

func (f *faultyUsers) GetUser(ctx context.Context, userID string) (*trueface.UserRecord, error) {
	f.mu.Lock()
	down, missing := f.down, f.missing
	f.mu.Unlock()

	if down {
		return nil, fmt.Errorf("%w: connection reset", trueface.ErrStoreUnavailable)
	}
	if missing != "" && missing == userID {
		return nil, trueface.ErrUserNotFound
	}
	return f.UserStore.GetUser(ctx, userID)
}

func (f *faultyUsers) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *faultyUsers) setMissing(userID string) {
	f.mu.Lock()
	f.missing = userID
	f.mu.Unlock()
}

func newFaultyEngine(t *testing.T) (*trueface.Engine, *faultyUsers) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := trueface.DefaultConfig()
	cfg.Matching.Dim = testDim
	cfg.JWT.Secret = testSecret
	cfg.RateLimit.Enabled = false
	cfg.Audit.Enabled = false

	users := &faultyUsers{UserStore: userstore.NewMemory()}
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

	return engine, users
}

func TestRecognizeFailsFastWhenStoreDown(t *testing.T) {
	engine, users := newFaultyEngine(t)
	ctx := context.Background()

	if _, err := engine.Signup(ctx, "alice", "user", faceImage(1)); err != nil {
		t.Fatalf("signup: %v", err)
	}

	users.setDown(true)
	_, err := engine.Recognize(ctx, faceImage(1), trueface.SensitivityNormal)
	if !errors.Is(err, trueface.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}

	users.setDown(false)
	candidates, err := engine.Recognize(ctx, faceImage(1), trueface.SensitivityNormal)
	if err != nil || len(candidates) != 1 {
		t.Fatalf("recovered recognize = %+v, %v", candidates, err)
	}
}

func TestRecognizeSkipsVanishedRecords(t *testing.T) {
	engine, users := newFaultyEngine(t)
	ctx := context.Background()

	alice, err := engine.Signup(ctx, "alice", "user", faceImage(1))
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	// The embedding is still indexed but the record is gone; the
	// candidate is dropped rather than served unchecked.
	users.setMissing(alice.UserID)
	candidates, err := engine.Recognize(ctx, faceImage(1), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("vanished record still surfaced: %+v", candidates)
	}
}

func TestRecognizeVectorRejectsBadInput(t *testing.T) {
	env := newTestEngine(t, nil)
	mustSignup(t, env, "alice", 1)

	if _, err := env.engine.RecognizeVector(context.Background(), make([]float32, 8), trueface.SensitivityNormal); !errors.Is(err, trueface.ErrInvalidVector) {
		t.Fatalf("wrong dimension = %v, want ErrInvalidVector", err)
	}
}
