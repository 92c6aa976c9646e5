package trueface

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSignupSuccess    = "signup_success"
	auditEventSignupFailure    = "signup_failure"
	auditEventSignupDuplicate  = "signup_duplicate"
	auditEventEnrollSuccess    = "enroll_success"
	auditEventEnrollFailure    = "enroll_failure"
	auditEventVerifyAccepted   = "verify_accepted"
	auditEventVerifyRejected   = "verify_rejected"
	auditEventVerifyFailure    = "verify_failure"
	auditEventRecognizeHit     = "recognize_hit"
	auditEventRecognizeMiss    = "recognize_miss"
	auditEventLoginSuccess     = "login_success"
	auditEventLoginFailure     = "login_failure"
	auditEventSessionCreated   = "session_created"
	auditEventSessionRevoked   = "session_revoked"
	auditEventSessionsBulk     = "sessions_bulk_revoked"
	auditEventLogout           = "logout"
	auditEventValidateRejected = "validate_rejected"
	auditEventUserDisabled     = "user_disabled"
	auditEventIndexRebuilt     = "index_rebuilt"
	auditEventRateLimitTrigger = "rate_limit_triggered"
)

// AuditErrorCode is the stable error label recorded on audit events.
type AuditErrorCode string

const (
	auditErrInvalidVector   AuditErrorCode = "invalid_vector"
	auditErrNoFaceDetected  AuditErrorCode = "no_face_detected"
	auditErrInvalidImage    AuditErrorCode = "invalid_image"
	auditErrUserNotFound    AuditErrorCode = "user_not_found"
	auditErrUserExists      AuditErrorCode = "duplicate"
	auditErrUserDisabled    AuditErrorCode = "user_disabled"
	auditErrNoFacesEnrolled AuditErrorCode = "no_faces_enrolled"
	auditErrBelowThreshold  AuditErrorCode = "below_threshold"
	auditErrTokenInvalid    AuditErrorCode = "invalid_token"
	auditErrTokenExpired    AuditErrorCode = "token_expired"
	auditErrSessionRevoked  AuditErrorCode = "session_revoked"
	auditErrSessionNotFound AuditErrorCode = "session_not_found"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	confidence *float64,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		UserID:     userID,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Success:    success,
		Confidence: confidence,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidVector),
		errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrZeroVector):
		return auditErrInvalidVector
	case errors.Is(err, ErrNoFaceDetected):
		return auditErrNoFaceDetected
	case errors.Is(err, ErrInvalidImage):
		return auditErrInvalidImage
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrUserExists):
		return auditErrUserExists
	case errors.Is(err, ErrUserDisabled):
		return auditErrUserDisabled
	case errors.Is(err, ErrNoFacesEnrolled):
		return auditErrNoFacesEnrolled
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrSessionRevoked):
		return auditErrSessionRevoked
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRedisUnavailable),
		errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func confidenceOf(similarity float64) *float64 {
	s := similarity
	return &s
}
