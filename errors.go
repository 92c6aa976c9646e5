package trueface

import (
	"errors"

	"github.com/trueface/trueface/extractor"
	"github.com/trueface/trueface/internal/rate"
	"github.com/trueface/trueface/jwt"
	"github.com/trueface/trueface/session"
	"github.com/trueface/trueface/vector"
)

var (
	// ErrEngineNotReady is returned when an operation runs before the
	// engine's collaborators are wired.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidVector is returned when an embedding has the wrong
	// dimension or no magnitude.
	ErrInvalidVector = errors.New("invalid embedding vector")
	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned by Signup for a taken username.
	ErrUserExists = errors.New("user already exists")
	// ErrUserDisabled is returned when the target account is disabled.
	ErrUserDisabled = errors.New("user disabled")
	// ErrNoFacesEnrolled is returned by Verify when the user has no
	// visible enrolled embeddings to compare against.
	ErrNoFacesEnrolled = errors.New("no faces enrolled")
	// ErrStoreUnavailable wraps user-store backend failures.
	ErrStoreUnavailable = errors.New("user store unavailable")
	// ErrSessionRevoked is returned by ValidateToken when the session
	// record exists but was explicitly revoked. Kept distinct from
	// ErrTokenExpired and ErrSessionNotFound; validation reasons are
	// never conflated.
	ErrSessionRevoked = errors.New("session revoked")
)

// Sentinels owned by subpackages, re-exported so callers match on one
// package.
var (
	ErrTokenInvalid      = jwt.ErrTokenInvalid
	ErrTokenExpired      = jwt.ErrTokenExpired
	ErrSessionNotFound   = session.ErrSessionNotFound
	ErrRedisUnavailable  = session.ErrRedisUnavailable
	ErrRateLimited       = rate.ErrRateLimited
	ErrNoFaceDetected    = extractor.ErrNoFaceDetected
	ErrInvalidImage      = extractor.ErrInvalidImage
	ErrDimensionMismatch = vector.ErrDimensionMismatch
	ErrZeroVector        = vector.ErrZeroVector
)
