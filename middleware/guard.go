package middleware

import (
	"context"
	"net/http"
	"strings"

	trueface "github.com/trueface/trueface"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the validated identity injected by
// [Guard], if any.
func AuthResultFromContext(ctx context.Context) (*trueface.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*trueface.AuthResult)
	return res, ok
}

// Guard returns middleware that rejects requests without a valid bearer
// token, validating with the given mode. The client IP and User-Agent
// are attached to the request context so engine audit events carry them.
func Guard(engine *trueface.Engine, mode trueface.ValidationMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := requestContext(r)
			res, err := engine.ValidateTokenMode(ctx, token, mode)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestContext(r *http.Request) context.Context {
	ctx := trueface.WithClientIP(r.Context(), clientIP(r))
	return trueface.WithUserAgent(ctx, r.UserAgent())
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if i := strings.IndexByte(forwarded, ','); i >= 0 {
			return strings.TrimSpace(forwarded[:i])
		}
		return strings.TrimSpace(forwarded)
	}

	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
