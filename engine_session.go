package trueface

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trueface/trueface/jwt"
	"github.com/trueface/trueface/session"
)

// LoginResult is returned by the face-login operations.
type LoginResult struct {
	Token      string
	UserID     string
	Username   string
	SessionID  string
	Similarity float64
	ExpiresAt  time.Time
}

// Login verifies the image against the claimed user and, on a match,
// issues a session token. Failed attempts count against the user's
// match budget; a successful login clears it.
func (e *Engine) Login(ctx context.Context, userID string, image []byte, sensitivity Sensitivity) (*LoginResult, error) {
	if err := e.checkMatchBudget(ctx, userID); err != nil {
		return nil, err
	}

	result, err := e.Verify(ctx, userID, image, sensitivity)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", nil, err, nil)
		return nil, err
	}
	if !result.Matched {
		e.recordFailedMatch(ctx, userID)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", confidenceOf(result.Similarity), nil, func() map[string]string {
			return map[string]string{"reason": "below_threshold"}
		})
		return nil, fmt.Errorf("face mismatch: similarity %.4f below threshold %.4f", result.Similarity, result.Threshold)
	}

	if e.limiter != nil {
		if err := e.limiter.ResetMatch(ctx, userID, clientIPFromContext(ctx)); err != nil {
			e.log.Warn("failed to reset match budget", "user_id", userID, "error", err)
		}
	}
	return e.issueLogin(ctx, userID, result.Similarity)
}

// IdentifyLogin recognizes the image against the whole gallery and logs
// in as the top candidate when it clears the threshold. Gallery searches
// draw from the caller IP's recognize budget whether or not they match.
func (e *Engine) IdentifyLogin(ctx context.Context, image []byte, sensitivity Sensitivity) (*LoginResult, error) {
	if err := e.checkRecognizeBudget(ctx); err != nil {
		return nil, err
	}

	candidates, err := e.Recognize(ctx, image, sensitivity)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", nil, err, nil)
		return nil, err
	}
	if len(candidates) == 0 {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", nil, nil, func() map[string]string {
			return map[string]string{"reason": "no_match"}
		})
		return nil, ErrUserNotFound
	}
	return e.issueLogin(ctx, candidates[0].UserID, candidates[0].Similarity)
}

func (e *Engine) checkMatchBudget(ctx context.Context, userID string) error {
	if e == nil || e.limiter == nil {
		return nil
	}
	err := e.limiter.CheckMatch(ctx, userID, clientIPFromContext(ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) {
		e.metricInc(MetricRateLimitHit)
		e.emitAudit(ctx, auditEventRateLimitTrigger, false, userID, "", nil, ErrRateLimited, nil)
		return ErrRateLimited
	}
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

func (e *Engine) checkRecognizeBudget(ctx context.Context) error {
	if e == nil || e.limiter == nil {
		return nil
	}
	err := e.limiter.CheckRecognize(ctx, clientIPFromContext(ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) {
		e.metricInc(MetricRateLimitHit)
		e.emitAudit(ctx, auditEventRateLimitTrigger, false, "", "", nil, ErrRateLimited, nil)
		return ErrRateLimited
	}
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

func (e *Engine) recordFailedMatch(ctx context.Context, userID string) {
	if e == nil || e.limiter == nil {
		return
	}
	err := e.limiter.IncrementMatch(ctx, userID, clientIPFromContext(ctx))
	if err != nil && !errors.Is(err, ErrRateLimited) {
		e.log.Warn("failed to record match attempt", "user_id", userID, "error", err)
	}
}

func (e *Engine) issueLogin(ctx context.Context, userID string, similarity float64) (*LoginResult, error) {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}

	token, sess, err := e.CreateSession(ctx, user.UserID, user.Role)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", nil, err, nil)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, sess.SessionID, confidenceOf(similarity), nil, nil)

	return &LoginResult{
		Token:      token,
		UserID:     user.UserID,
		Username:   user.Username,
		SessionID:  sess.SessionID,
		Similarity: similarity,
		ExpiresAt:  time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// CreateSession issues a new active session for the user and returns the
// signed token bound to it.
func (e *Engine) CreateSession(ctx context.Context, userID, role string) (string, *session.Session, error) {
	if e == nil || e.sessionStore == nil || e.jwtManager == nil {
		return "", nil, ErrEngineNotReady
	}

	now := time.Now()
	ttl := e.config.Session.TTL
	sess := &session.Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Role:      role,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Active:    true,
	}

	if err := e.sessionStore.Save(ctx, sess, ttl); err != nil {
		return "", nil, err
	}

	token, err := e.jwtManager.Sign(jwt.TokenClaims{
		UserID:    userID,
		SessionID: sess.SessionID,
		Role:      role,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	})
	if err != nil {
		// Roll back the orphaned record; its TTL would clean it anyway.
		_ = e.sessionStore.Delete(ctx, userID, sess.SessionID)
		return "", nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, userID, sess.SessionID, nil, nil, nil)
	return token, sess, nil
}

// ValidateToken checks a token end to end and returns the authenticated
// identity. Failures keep their causes distinct: a bad signature is
// ErrTokenInvalid, a dead token ErrTokenExpired, a revoked session
// ErrSessionRevoked, and a missing record ErrSessionNotFound.
func (e *Engine) ValidateToken(ctx context.Context, token string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.ValidateTokenMode(ctx, token, e.config.ValidationMode)
}

// ValidateTokenMode is ValidateToken with the validation mode overridden
// per call. Middleware uses it to enforce a stricter or cheaper check on
// individual routes than the engine-wide default.
func (e *Engine) ValidateTokenMode(ctx context.Context, token string, mode ValidationMode) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeLatency(MetricValidateLatency, start)

	claims, err := e.jwtManager.Verify(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			e.metricInc(MetricValidateExpired)
			e.emitAudit(ctx, auditEventValidateRejected, false, "", "", nil, ErrTokenExpired, nil)
			return nil, ErrTokenExpired
		}
		e.metricInc(MetricValidateInvalid)
		e.emitAudit(ctx, auditEventValidateRejected, false, "", "", nil, ErrTokenInvalid, nil)
		return nil, err
	}

	if mode == ModeJWTOnly {
		e.metricInc(MetricValidateSuccess)
		return authResultFromClaims(claims), nil
	}

	sess, err := e.sessionStore.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			e.metricInc(MetricValidateNotFound)
			e.emitAudit(ctx, auditEventValidateRejected, false, claims.UserID, claims.SessionID, nil, ErrSessionNotFound, nil)
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	now := time.Now()
	if !sess.Active {
		e.metricInc(MetricValidateRevoked)
		e.emitAudit(ctx, auditEventValidateRejected, false, sess.UserID, sess.SessionID, nil, ErrSessionRevoked, nil)
		return nil, ErrSessionRevoked
	}
	if sess.Expired(now) {
		// The record can outlive the claim by clock skew or leeway.
		e.metricInc(MetricValidateExpired)
		e.emitAudit(ctx, auditEventValidateRejected, false, sess.UserID, sess.SessionID, nil, ErrTokenExpired, nil)
		return nil, ErrTokenExpired
	}

	e.metricInc(MetricValidateSuccess)
	return &AuthResult{
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		Role:      sess.Role,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}

func authResultFromClaims(c *jwt.TokenClaims) *AuthResult {
	return &AuthResult{
		UserID:    c.UserID,
		SessionID: c.SessionID,
		Role:      c.Role,
		ExpiresAt: c.ExpiresAt,
	}
}

// RevokeSession flips one session to revoked. Idempotent: revoking an
// already revoked, expired, or unknown session succeeds without changing
// anything. Once RevokeSession returns, every later ValidateToken
// observes the revocation.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}

	changed, err := e.sessionStore.SetActive(ctx, sessionID, false)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			// Nothing to revoke; the outcome the caller asked for already
			// holds.
			e.emitAudit(ctx, auditEventSessionRevoked, true, "", sessionID, nil, nil, func() map[string]string {
				return map[string]string{"record": "missing"}
			})
			return nil
		}
		return err
	}

	if changed {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventSessionRevoked, true, "", sessionID, nil, nil, func() map[string]string {
		return map[string]string{"already_revoked": fmt.Sprintf("%t", !changed)}
	})
	return nil
}

// RevokeAllOtherSessions revokes every active session of the user except
// keepSessionID and returns how many flipped. Each flip is atomic on its
// own; the batch is not, so a concurrently created session can survive.
func (e *Engine) RevokeAllOtherSessions(ctx context.Context, userID, keepSessionID string) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}

	sessions, err := e.sessionStore.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	var revoked int
	var firstErr error
	for _, sess := range sessions {
		if sess.SessionID == keepSessionID || !sess.Active {
			continue
		}
		changed, err := e.sessionStore.SetActive(ctx, sess.SessionID, false)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				// Expired between the listing and the flip.
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if changed {
			revoked++
		}
	}

	if revoked > 0 {
		e.metricInc(MetricSessionsBulkRevoked)
	}
	e.emitAudit(ctx, auditEventSessionsBulk, firstErr == nil, userID, keepSessionID, nil, firstErr, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprintf("%d", revoked)}
	})
	return revoked, firstErr
}

// revokeAllForUser revokes every active session of the user.
func (e *Engine) revokeAllForUser(ctx context.Context, userID string) (int, error) {
	return e.RevokeAllOtherSessions(ctx, userID, "")
}

// Logout revokes the session bound to the token. An invalid token is an
// error; a token whose session is already revoked or gone is not.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}

	claims, err := e.jwtManager.Verify(token)
	if err != nil && !errors.Is(err, ErrTokenExpired) {
		e.emitAudit(ctx, auditEventLogout, false, "", "", nil, ErrTokenInvalid, nil)
		return ErrTokenInvalid
	}
	if claims == nil {
		return ErrTokenInvalid
	}

	if err := e.RevokeSession(ctx, claims.SessionID); err != nil {
		return err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, claims.UserID, claims.SessionID, nil, nil, nil)
	return nil
}

// Sessions lists the user's stored sessions, including revoked ones that
// have not yet expired.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}

	sessions, err := e.sessionStore.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		info := SessionInfo{
			SessionID: sess.SessionID,
			UserID:    sess.UserID,
			Role:      sess.Role,
			IssuedAt:  time.Unix(sess.IssuedAt, 0),
			ExpiresAt: time.Unix(sess.ExpiresAt, 0),
			Active:    sess.Active,
		}
		if sess.RevokedAt > 0 {
			info.RevokedAt = time.Unix(sess.RevokedAt, 0)
		}
		out = append(out, info)
	}
	return out, nil
}
