package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func hsManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		SigningMethod: MethodHS256,
		Secret:        []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "trueface",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestSignVerifyRoundTrip(t *testing.T) {
	m := hsManager(t)

	exp := time.Now().Add(time.Hour)
	token, err := m.Sign(TokenClaims{
		UserID:    "u1",
		SessionID: "s1",
		Role:      "user",
		ExpiresAt: exp,
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "u1" || claims.SessionID != "s1" || claims.Role != "user" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt.Unix() != exp.Unix() {
		t.Fatalf("expiry drift: got %v want %v", claims.ExpiresAt, exp)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	m := hsManager(t)

	token, err := m.Sign(TokenClaims{
		UserID:    "u1",
		SessionID: "s1",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	_, err = m.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expired token must not report as invalid")
	}
}

func TestVerifyTamperedToken(t *testing.T) {
	m := hsManager(t)

	token, err := m.Sign(TokenClaims{
		UserID:    "u1",
		SessionID: "s1",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	_, err = m.Verify(tampered)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if errors.Is(err, ErrTokenExpired) {
		t.Fatalf("tampered token must not report as expired")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	m := hsManager(t)
	token, err := m.Sign(TokenClaims{
		UserID:    "u1",
		SessionID: "s1",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other, err := NewManager(Config{
		SigningMethod: MethodHS256,
		Secret:        []byte("a totally different shared secret"),
		Issuer:        "trueface",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := other.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyGarbageInput(t *testing.T) {
	m := hsManager(t)
	for _, in := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		if _, err := m.Verify(in); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("input %q: expected ErrTokenInvalid, got %v", in, err)
		}
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, err := m.Sign(TokenClaims{
		UserID:    "u2",
		SessionID: "s2",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "u2" || claims.SessionID != "s2" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSignRequiresExpiry(t *testing.T) {
	m := hsManager(t)
	if _, err := m.Sign(TokenClaims{UserID: "u1", SessionID: "s1"}); err == nil {
		t.Fatal("expected error for claims without expiry")
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{SigningMethod: MethodHS256},
		{SigningMethod: MethodEd25519},
		{SigningMethod: "rs256", Secret: []byte("x")},
		{SigningMethod: MethodHS256, Secret: []byte("x"), Leeway: -time.Second},
		{SigningMethod: MethodHS256, Secret: []byte("x"), Leeway: 3 * time.Minute},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
