package middleware

import (
	"net/http"

	trueface "github.com/trueface/trueface"
)

// RequireJWTOnly returns middleware that overrides the validation mode to
// [trueface.ModeJWTOnly] for the wrapped handler, skipping Redis entirely.
// Revocations are not observed until the token expires.
func RequireJWTOnly(engine *trueface.Engine) func(http.Handler) http.Handler {
	return Guard(engine, trueface.ModeJWTOnly)
}
