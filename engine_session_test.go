package trueface_test

import (
	"context"
	"errors"
	"testing"
	"time"

	trueface "github.com/trueface/trueface"
	"github.com/trueface/trueface/jwt"
)

func TestLoginAndValidateRoundTrip(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	alice := mustSignup(t, env, "alice", 1)

	login, err := env.engine.Login(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.UserID != alice.UserID || login.Username != "alice" || login.Token == "" {
		t.Fatalf("login result = %+v", login)
	}
	if login.Similarity < 0.999 {
		t.Fatalf("login similarity = %v", login.Similarity)
	}

	auth, err := env.engine.ValidateToken(ctx, login.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if auth.UserID != alice.UserID || auth.SessionID != login.SessionID || auth.Role != "user" {
		t.Fatalf("auth = %+v", auth)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[trueface.MetricLoginSuccess] != 1 {
		t.Fatalf("login_success = %d, want 1", snap.Counters[trueface.MetricLoginSuccess])
	}
	if snap.Counters[trueface.MetricValidateSuccess] != 1 {
		t.Fatalf("validate_success = %d, want 1", snap.Counters[trueface.MetricValidateSuccess])
	}
}

func TestLoginRejectsMismatchedFace(t *testing.T) {
	env := newTestEngine(t, nil)
	alice := mustSignup(t, env, "alice", 1)

	_, err := env.engine.Login(context.Background(), alice.UserID, faceImage(2), trueface.SensitivityNormal)
	if err == nil {
		t.Fatal("mismatched face logged in")
	}
	if errors.Is(err, trueface.ErrRateLimited) {
		t.Fatalf("mismatch reported as rate limit: %v", err)
	}
}

func TestIdentifyLogin(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	alice := mustSignup(t, env, "alice", 1)
	mustSignup(t, env, "bob", 2)

	login, err := env.engine.IdentifyLogin(ctx, faceImage(1), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("identify login: %v", err)
	}
	if login.UserID != alice.UserID {
		t.Fatalf("identified as %s, want alice", login.Username)
	}

	if _, err := env.engine.IdentifyLogin(ctx, faceImage(200), trueface.SensitivityNormal); !errors.Is(err, trueface.ErrUserNotFound) {
		t.Fatalf("unknown face = %v, want ErrUserNotFound", err)
	}
}

// Each validation failure keeps its own cause so callers and operators
// can tell an attack from an expiry from a logout.
func TestValidationFailureReasonsStayDistinct(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	alice := mustSignup(t, env, "alice", 1)

	t.Run("garbage token", func(t *testing.T) {
		_, err := env.engine.ValidateToken(ctx, "not.a.token")
		if !errors.Is(err, trueface.ErrTokenInvalid) {
			t.Fatalf("err = %v, want ErrTokenInvalid", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		// Signed with the same key but already dead.
		signer, err := jwt.NewManager(jwt.Config{SigningMethod: "hs256", Secret: testSecret})
		if err != nil {
			t.Fatalf("manager: %v", err)
		}
		token, err := signer.Sign(jwt.TokenClaims{
			UserID:    alice.UserID,
			SessionID: "dead",
			ExpiresAt: time.Now().Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := env.engine.ValidateToken(ctx, token); !errors.Is(err, trueface.ErrTokenExpired) {
			t.Fatalf("err = %v, want ErrTokenExpired", err)
		}
	})

	t.Run("revoked session", func(t *testing.T) {
		login, err := env.engine.Login(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal)
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		if err := env.engine.RevokeSession(ctx, login.SessionID); err != nil {
			t.Fatalf("revoke: %v", err)
		}
		if _, err := env.engine.ValidateToken(ctx, login.Token); !errors.Is(err, trueface.ErrSessionRevoked) {
			t.Fatalf("err = %v, want ErrSessionRevoked", err)
		}
	})

	t.Run("missing record", func(t *testing.T) {
		login, err := env.engine.Login(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal)
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		env.redis.FlushAll()
		if _, err := env.engine.ValidateToken(ctx, login.Token); !errors.Is(err, trueface.ErrSessionNotFound) {
			t.Fatalf("err = %v, want ErrSessionNotFound", err)
		}
	})
}

func TestRevokeSessionIdempotent(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	alice := mustSignup(t, env, "alice", 1)

	login, err := env.engine.Login(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := env.engine.RevokeSession(ctx, login.SessionID); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := env.engine.RevokeSession(ctx, login.SessionID); err != nil {
		t.Fatalf("second revoke: %v", err)
	}

	// Revoking a session that never existed is equally a no-op success.
	if err := env.engine.RevokeSession(ctx, "no-such-session"); err != nil {
		t.Fatalf("unknown session: %v", err)
	}

	// Only the flip that changed state counts.
	snap := env.engine.MetricsSnapshot()
	if snap.Counters[trueface.MetricSessionRevoked] != 1 {
		t.Fatalf("session_revoked = %d, want 1", snap.Counters[trueface.MetricSessionRevoked])
	}
}

func TestRevokeAllOtherSessions(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	alice := mustSignup(t, env, "alice", 1)

	logins := make([]*trueface.LoginResult, 3)
	for i := range logins {
		login, err := env.engine.Login(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal)
		if err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
		logins[i] = login
	}

	keep := logins[2]
	revoked, err := env.engine.RevokeAllOtherSessions(ctx, alice.UserID, keep.SessionID)
	if err != nil {
		t.Fatalf("revoke all others: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("revoked = %d, want 2", revoked)
	}

	if _, err := env.engine.ValidateToken(ctx, keep.Token); err != nil {
		t.Fatalf("kept session invalidated: %v", err)
	}
	for _, login := range logins[:2] {
		if _, err := env.engine.ValidateToken(ctx, login.Token); !errors.Is(err, trueface.ErrSessionRevoked) {
			t.Fatalf("old session = %v, want ErrSessionRevoked", err)
		}
	}
}

func TestLogout(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	alice := mustSignup(t, env, "alice", 1)

	login, err := env.engine.Login(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := env.engine.Logout(ctx, login.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.engine.ValidateToken(ctx, login.Token); !errors.Is(err, trueface.ErrSessionRevoked) {
		t.Fatalf("validate after logout = %v, want ErrSessionRevoked", err)
	}

	// Logging out twice is fine; a forged token is not.
	if err := env.engine.Logout(ctx, login.Token); err != nil {
		t.Fatalf("repeat logout: %v", err)
	}
	if err := env.engine.Logout(ctx, "not.a.token"); !errors.Is(err, trueface.ErrTokenInvalid) {
		t.Fatalf("garbage logout = %v, want ErrTokenInvalid", err)
	}
}

func TestJWTOnlyModeSkipsRevocationCheck(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	alice := mustSignup(t, env, "alice", 1)

	login, err := env.engine.Login(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := env.engine.RevokeSession(ctx, login.SessionID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := env.engine.ValidateTokenMode(ctx, login.Token, trueface.ModeStrict); !errors.Is(err, trueface.ErrSessionRevoked) {
		t.Fatalf("strict = %v, want ErrSessionRevoked", err)
	}
	auth, err := env.engine.ValidateTokenMode(ctx, login.Token, trueface.ModeJWTOnly)
	if err != nil {
		t.Fatalf("jwt-only rejected a signed unexpired token: %v", err)
	}
	if auth.UserID != alice.UserID {
		t.Fatalf("auth = %+v", auth)
	}
}

func TestLoginRateLimitedAfterFailedAttempts(t *testing.T) {
	env := newTestEngine(t, func(cfg *trueface.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.EnableIPThrottle = false
		cfg.RateLimit.MaxMatchAttempts = 2
		cfg.RateLimit.MatchCooldown = time.Minute
	})
	ctx := context.Background()
	alice := mustSignup(t, env, "alice", 1)

	// Three mismatches exhaust a budget of two.
	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(ctx, alice.UserID, faceImage(2), trueface.SensitivityNormal); err == nil {
			t.Fatalf("attempt %d: mismatched face logged in", i)
		}
	}
	if n, _ := env.engine.MatchAttempts(ctx, alice.UserID); n != 3 {
		t.Fatalf("recorded attempts = %d, want 3", n)
	}

	// Even the right face is refused while the budget is exhausted.
	if _, err := env.engine.Login(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal); !errors.Is(err, trueface.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestSuccessfulLoginResetsMatchBudget(t *testing.T) {
	env := newTestEngine(t, func(cfg *trueface.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.EnableIPThrottle = false
		cfg.RateLimit.MaxMatchAttempts = 5
		cfg.RateLimit.MatchCooldown = time.Minute
	})
	ctx := context.Background()
	alice := mustSignup(t, env, "alice", 1)

	env.engine.Login(ctx, alice.UserID, faceImage(2), trueface.SensitivityNormal)
	if n, _ := env.engine.MatchAttempts(ctx, alice.UserID); n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}

	if _, err := env.engine.Login(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal); err != nil {
		t.Fatalf("login: %v", err)
	}
	if n, _ := env.engine.MatchAttempts(ctx, alice.UserID); n != 0 {
		t.Fatalf("attempts after success = %d, want 0", n)
	}
}

func TestSessionsListing(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	alice := mustSignup(t, env, "alice", 1)

	first, err := env.engine.Login(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.engine.Login(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := env.engine.RevokeSession(ctx, first.SessionID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	sessions, err := env.engine.Sessions(ctx, alice.UserID)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len = %d, want 2 (revoked records stay until expiry)", len(sessions))
	}

	var active, revoked int
	for _, s := range sessions {
		if s.Active {
			active++
		} else {
			revoked++
			if s.RevokedAt.IsZero() {
				t.Fatalf("revoked session missing RevokedAt: %+v", s)
			}
		}
	}
	if active != 1 || revoked != 1 {
		t.Fatalf("active = %d revoked = %d", active, revoked)
	}
}
