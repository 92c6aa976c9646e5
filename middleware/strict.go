package middleware

import (
	"net/http"

	trueface "github.com/trueface/trueface"
)

func RequireStrict(engine *trueface.Engine) func(http.Handler) http.Handler {
	return Guard(engine, trueface.ModeStrict)
}
