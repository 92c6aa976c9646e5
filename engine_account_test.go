package trueface_test

import (
	"context"
	"errors"
	"testing"

	trueface "github.com/trueface/trueface"
)

func TestSignupAndVerify(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	alice := mustSignup(t, env, "alice", 1)
	if alice.Username != "alice" || len(alice.Faces) != 1 {
		t.Fatalf("signup record = %+v", alice)
	}

	got, err := env.engine.Verify(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !got.Matched || got.Similarity < 0.999 {
		t.Fatalf("same image should match: %+v", got)
	}
	if got.Compared != 1 {
		t.Fatalf("Compared = %d, want 1", got.Compared)
	}

	// A different face scores low but the true similarity is reported.
	got, err = env.engine.Verify(ctx, alice.UserID, faceImage(2), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("verify mismatch: %v", err)
	}
	if got.Matched {
		t.Fatalf("different image matched: %+v", got)
	}
	if got.Similarity >= got.Threshold {
		t.Fatalf("similarity %v not below threshold %v", got.Similarity, got.Threshold)
	}
}

func TestSignupDuplicateUsername(t *testing.T) {
	env := newTestEngine(t, nil)
	mustSignup(t, env, "alice", 1)

	_, err := env.engine.Signup(context.Background(), "alice", "user", faceImage(2))
	if !errors.Is(err, trueface.ErrUserExists) {
		t.Fatalf("err = %v, want ErrUserExists", err)
	}
}

func TestEnrollAdditionalFace(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	alice := mustSignup(t, env, "alice", 1)

	if err := env.engine.Enroll(ctx, alice.UserID, faceImage(9)); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	got, err := env.engine.Verify(ctx, alice.UserID, faceImage(9), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !got.Matched || got.Compared != 2 {
		t.Fatalf("second face not matched across both embeddings: %+v", got)
	}

	if err := env.engine.Enroll(ctx, "missing", faceImage(9)); !errors.Is(err, trueface.ErrUserNotFound) {
		t.Fatalf("enroll unknown user = %v, want ErrUserNotFound", err)
	}
}

func TestVerifyNoFacesEnrolled(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	// Created directly in the store, so nothing is enrolled.
	user, err := env.users.CreateUser(ctx, trueface.CreateUserInput{Username: "bare"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	_, err = env.engine.VerifyVector(ctx, user.UserID, unitVec(1), trueface.SensitivityNormal)
	if !errors.Is(err, trueface.ErrNoFacesEnrolled) {
		t.Fatalf("err = %v, want ErrNoFacesEnrolled", err)
	}
}

func TestDisableUserBlocksEverything(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	alice := mustSignup(t, env, "alice", 1)
	mustSignup(t, env, "bob", 2)

	login, err := env.engine.Login(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := env.engine.DisableUser(ctx, alice.UserID, "account takeover"); err != nil {
		t.Fatalf("disable: %v", err)
	}

	// The store keeps why and when the account was shut off.
	record, err := env.users.GetUser(ctx, alice.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !record.Disabled || record.DisabledReason != "account takeover" || record.DisabledAt == 0 {
		t.Fatalf("disable context not stored: %+v", record)
	}

	if _, err := env.engine.Verify(ctx, alice.UserID, faceImage(1), trueface.SensitivityNormal); !errors.Is(err, trueface.ErrUserDisabled) {
		t.Fatalf("verify after disable = %v, want ErrUserDisabled", err)
	}

	candidates, err := env.engine.Recognize(ctx, faceImage(1), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	for _, c := range candidates {
		if c.UserID == alice.UserID {
			t.Fatalf("disabled user surfaced in recognition: %+v", c)
		}
	}

	if _, err := env.engine.ValidateToken(ctx, login.Token); !errors.Is(err, trueface.ErrSessionRevoked) {
		t.Fatalf("validate after disable = %v, want ErrSessionRevoked", err)
	}
}

func TestLoadIndexHydratesFromStore(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	// Populate the store behind the engine's back.
	for i, name := range []string{"alice", "bob", "carol"} {
		user, err := env.users.CreateUser(ctx, trueface.CreateUserInput{Username: name})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		vec := unitVec()
		vec[i] = 1
		if err := env.users.AddFace(ctx, user.UserID, trueface.FaceRecord{Vector: vec, EnrolledAt: int64(i)}); err != nil {
			t.Fatalf("add face: %v", err)
		}
		if name == "carol" {
			if err := env.users.SetDisabled(ctx, user.UserID, true, "left the org"); err != nil {
				t.Fatalf("disable: %v", err)
			}
		}
	}

	if err := env.engine.LoadIndex(ctx); err != nil {
		t.Fatalf("load index: %v", err)
	}
	// carol's embedding is tombstoned on load.
	if n := env.engine.IndexSize(); n != 2 {
		t.Fatalf("IndexSize = %d, want 2", n)
	}

	candidates, err := env.engine.RecognizeVector(ctx, unitVec(1), trueface.SensitivityNormal)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Username != "alice" {
		t.Fatalf("candidates = %+v", candidates)
	}
}
