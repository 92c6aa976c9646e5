package trueface

import (
	"context"
	"fmt"
	"time"

	"github.com/trueface/trueface/vector"
)

// Signup creates a user and enrolls their first face in one call. The
// returned record reflects the stored state including the new embedding.
func (e *Engine) Signup(ctx context.Context, username, role string, image []byte) (*UserRecord, error) {
	vec, err := e.extract(ctx, image)
	if err != nil {
		e.emitAudit(ctx, auditEventSignupFailure, false, "", "", nil, err, nil)
		return nil, err
	}
	return e.SignupVector(ctx, username, role, vec)
}

// SignupVector is Signup for callers that already hold an embedding.
func (e *Engine) SignupVector(ctx context.Context, username, role string, vec []float32) (*UserRecord, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if username == "" {
		return nil, fmt.Errorf("%w: empty username", ErrUserNotFound)
	}

	normalized, err := e.normalizeQuery(vec)
	if err != nil {
		e.emitAudit(ctx, auditEventSignupFailure, false, "", "", nil, err, nil)
		return nil, err
	}

	if existing, err := e.users.GetUserByUsername(ctx, username); err == nil && existing != nil {
		e.metricInc(MetricSignupDuplicate)
		e.emitAudit(ctx, auditEventSignupDuplicate, false, existing.UserID, "", nil, ErrUserExists, func() map[string]string {
			return map[string]string{"username": username}
		})
		return nil, ErrUserExists
	}

	now := time.Now()
	user, err := e.users.CreateUser(ctx, CreateUserInput{
		Username:  username,
		Role:      role,
		CreatedAt: now.Unix(),
	})
	if err != nil {
		e.emitAudit(ctx, auditEventSignupFailure, false, "", "", nil, err, func() map[string]string {
			return map[string]string{"username": username}
		})
		return nil, err
	}

	if err := e.enrollNormalized(ctx, user, normalized, now.Unix()); err != nil {
		e.emitAudit(ctx, auditEventSignupFailure, false, user.UserID, "", nil, err, nil)
		return nil, err
	}

	e.metricInc(MetricSignupSuccess)
	e.emitAudit(ctx, auditEventSignupSuccess, true, user.UserID, "", nil, nil, func() map[string]string {
		return map[string]string{"username": username}
	})
	return e.users.GetUser(ctx, user.UserID)
}

// Enroll adds another face to an existing user.
func (e *Engine) Enroll(ctx context.Context, userID string, image []byte) error {
	vec, err := e.extract(ctx, image)
	if err != nil {
		e.metricInc(MetricEnrollFailure)
		e.emitAudit(ctx, auditEventEnrollFailure, false, userID, "", nil, err, nil)
		return err
	}
	return e.EnrollVector(ctx, userID, vec)
}

// EnrollVector is Enroll for callers that already hold an embedding.
func (e *Engine) EnrollVector(ctx context.Context, userID string, vec []float32) error {
	if e == nil || e.users == nil || e.index == nil {
		return ErrEngineNotReady
	}

	normalized, err := e.normalizeQuery(vec)
	if err != nil {
		e.metricInc(MetricEnrollFailure)
		e.emitAudit(ctx, auditEventEnrollFailure, false, userID, "", nil, err, nil)
		return err
	}

	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		e.metricInc(MetricEnrollFailure)
		e.emitAudit(ctx, auditEventEnrollFailure, false, userID, "", nil, err, nil)
		return err
	}
	if user.Disabled {
		e.metricInc(MetricEnrollFailure)
		e.emitAudit(ctx, auditEventEnrollFailure, false, userID, "", nil, ErrUserDisabled, nil)
		return ErrUserDisabled
	}

	if err := e.enrollNormalized(ctx, user, normalized, time.Now().Unix()); err != nil {
		e.emitAudit(ctx, auditEventEnrollFailure, false, userID, "", nil, err, nil)
		return err
	}

	e.metricInc(MetricEnrollSuccess)
	e.emitAudit(ctx, auditEventEnrollSuccess, true, userID, "", nil, nil, nil)
	return nil
}

// enrollNormalized persists the embedding and publishes it to the index.
// The store write happens first; if the index insert fails the store
// stays authoritative and the next rebuild picks the embedding up.
func (e *Engine) enrollNormalized(ctx context.Context, user *UserRecord, normalized []float32, enrolledAt int64) error {
	face := FaceRecord{Vector: normalized, EnrolledAt: enrolledAt}
	if err := e.users.AddFace(ctx, user.UserID, face); err != nil {
		e.metricInc(MetricEnrollFailure)
		return err
	}

	vecIndex := len(user.Faces)
	if _, err := e.index.Insert(user.UserID, vecIndex, normalized, enrolledAt); err != nil {
		e.log.Warn("embedding stored but not indexed, rebuild will pick it up",
			"user_id", user.UserID, "error", err)
	}
	return nil
}

// DisableUser flags the account with the given reason, hides its
// embeddings from matching, and revokes all of its sessions. A disabled
// user cannot verify, be recognized, or hold a valid session.
func (e *Engine) DisableUser(ctx context.Context, userID, reason string) error {
	if e == nil || e.users == nil || e.index == nil {
		return ErrEngineNotReady
	}

	if _, err := e.users.GetUser(ctx, userID); err != nil {
		return err
	}
	if err := e.users.SetDisabled(ctx, userID, true, reason); err != nil {
		return err
	}

	hidden := e.index.Tombstone(userID)

	revoked, err := e.revokeAllForUser(ctx, userID)
	if err != nil {
		// The account is already disabled; matching is blocked even if
		// some sessions outlive this call until their TTL.
		e.log.Error("session revocation incomplete for disabled user",
			"user_id", userID, "revoked", revoked, "error", err)
	}

	e.metricInc(MetricUserDisabled)
	e.emitAudit(ctx, auditEventUserDisabled, true, userID, "", nil, err, func() map[string]string {
		return map[string]string{
			"reason":            reason,
			"embeddings_hidden": fmt.Sprintf("%d", hidden),
			"sessions_revoked":  fmt.Sprintf("%d", revoked),
		}
	})
	return err
}

// LoadIndex hydrates the in-memory index from the user store and builds
// the approximate graph. Call once at startup; afterwards inserts keep
// the index current.
func (e *Engine) LoadIndex(ctx context.Context) error {
	if e == nil || e.users == nil || e.index == nil {
		return ErrEngineNotReady
	}

	var users, embeddings int
	err := e.users.ListUsers(ctx, func(user *UserRecord) error {
		users++
		for i, face := range user.Faces {
			if _, err := e.index.Insert(user.UserID, i, face.Vector, face.EnrolledAt); err != nil {
				return fmt.Errorf("user %s face %d: %w", user.UserID, i, err)
			}
			embeddings++
		}
		if user.Disabled {
			e.index.Tombstone(user.UserID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.RebuildIndex(ctx); err != nil {
		return err
	}

	e.log.Info("similarity index loaded", "users", users, "embeddings", embeddings)
	return nil
}

// RebuildIndex reconstructs the approximate graph from live entries.
// Concurrent calls coalesce.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	if e == nil || e.index == nil {
		return ErrEngineNotReady
	}
	if err := e.index.Rebuild(ctx); err != nil {
		return err
	}
	e.metricInc(MetricIndexRebuilt)
	e.emitAudit(ctx, auditEventIndexRebuilt, true, "", "", nil, nil, nil)
	return nil
}

// SearchBackendInUse reports which backend recognition queries use.
func (e *Engine) SearchBackendInUse() vector.Backend {
	return e.searchBackend()
}
