package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	trueface "github.com/trueface/trueface"
)

const maxImageBytes = 8 << 20

func newRouter(engine *trueface.Engine, auditLog *trueface.RingSink, registry *prometheus.Registry, settings *viper.Viper, pingDB func(context.Context) error) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	maskedMongo := maskURI(settings.GetString("mongo_uri"))
	router.GET("/health", func(c *gin.Context) {
		ctx := c.Request.Context()
		h := engine.CheckHealth(ctx)

		var dbErr error
		if pingDB != nil {
			dbErr = pingDB(ctx)
		}

		status := http.StatusOK
		if !h.RedisOK || dbErr != nil {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"redis_ok":         h.RedisOK,
			"redis_latency_ms": h.RedisLatency.Milliseconds(),
			"mongo_ok":         dbErr == nil,
			"mongo_uri":        maskedMongo,
			"index_size":       h.IndexSize,
			"degraded_queries": h.DegradedQueries,
			"backend":          engine.SearchBackendInUse().String(),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/signup", signupHandler(engine))
	auth.POST("/login", loginHandler(engine))
	auth.POST("/identify", identifyHandler(engine))
	auth.POST("/logout", logoutHandler(engine))

	face := api.Group("/face", authRequired(engine))
	face.POST("/enroll", enrollHandler(engine))
	face.POST("/verify", verifyHandler(engine))
	face.POST("/recognize", recognizeHandler(engine))

	sessions := api.Group("/sessions", authRequired(engine))
	sessions.GET("", listSessionsHandler(engine))
	sessions.POST("/revoke-others", revokeOthersHandler(engine))

	admin := api.Group("/admin", authRequired(engine), adminOnly())
	admin.POST("/users/:id/disable", disableUserHandler(engine))
	admin.POST("/index/rebuild", rebuildHandler(engine))
	admin.GET("/logs", logsHandler(auditLog))

	return router
}

// requestContext carries the caller's IP and User-Agent so engine audit
// events record them.
func requestContext(c *gin.Context) context.Context {
	ctx := trueface.WithClientIP(c.Request.Context(), c.ClientIP())
	return trueface.WithUserAgent(ctx, c.Request.UserAgent())
}

func authRequired(engine *trueface.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		res, err := engine.ValidateToken(requestContext(c), token)
		if err != nil {
			c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		c.Set("auth", res)
		c.Next()
	}
}

func adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if authResult(c).Role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

func authResult(c *gin.Context) *trueface.AuthResult {
	res, _ := c.MustGet("auth").(*trueface.AuthResult)
	return res
}

func signupHandler(engine *trueface.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.PostForm("username")
		role := c.DefaultPostForm("role", "user")
		image, err := readImage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := engine.Signup(requestContext(c), username, role, image)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"user_id":  user.UserID,
			"username": user.Username,
			"role":     user.Role,
		})
	}
}

func loginHandler(engine *trueface.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.PostForm("user_id")
		image, err := readImage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := engine.Login(requestContext(c), userID, image, sensitivityFrom(c))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, loginResponse(result))
	}
}

func identifyHandler(engine *trueface.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		image, err := readImage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := engine.IdentifyLogin(requestContext(c), image, sensitivityFrom(c))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, loginResponse(result))
	}
}

func loginResponse(result *trueface.LoginResult) gin.H {
	return gin.H{
		"token":      result.Token,
		"user_id":    result.UserID,
		"username":   result.Username,
		"session_id": result.SessionID,
		"similarity": result.Similarity,
		"expires_at": result.ExpiresAt,
	}
}

func logoutHandler(engine *trueface.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if err := engine.Logout(requestContext(c), token); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func enrollHandler(engine *trueface.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		image, err := readImage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := engine.Enroll(requestContext(c), authResult(c).UserID, image); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func verifyHandler(engine *trueface.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.DefaultPostForm("user_id", authResult(c).UserID)
		image, err := readImage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := engine.Verify(requestContext(c), userID, image, sensitivityFrom(c))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"matched":    result.Matched,
			"similarity": result.Similarity,
			"threshold":  result.Threshold,
			"compared":   result.Compared,
		})
	}
}

func recognizeHandler(engine *trueface.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		image, err := readImage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		candidates, err := engine.Recognize(requestContext(c), image, sensitivityFrom(c))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		out := make([]gin.H, 0, len(candidates))
		for _, cand := range candidates {
			out = append(out, gin.H{
				"user_id":    cand.UserID,
				"username":   cand.Username,
				"similarity": cand.Similarity,
			})
		}
		c.JSON(http.StatusOK, gin.H{"candidates": out})
	}
}

func listSessionsHandler(engine *trueface.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := engine.Sessions(requestContext(c), authResult(c).UserID)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

func revokeOthersHandler(engine *trueface.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := authResult(c)
		revoked, err := engine.RevokeAllOtherSessions(requestContext(c), auth.UserID, auth.SessionID)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "revoked": revoked})
			return
		}
		c.JSON(http.StatusOK, gin.H{"revoked": revoked})
	}
}

func disableUserHandler(engine *trueface.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		reason := c.DefaultPostForm("reason", "administrative action")
		if err := engine.DisableUser(requestContext(c), c.Param("id"), reason); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func rebuildHandler(engine *trueface.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := engine.RebuildIndex(requestContext(c)); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func logsHandler(auditLog *trueface.RingSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"events": auditLog.Recent(200)})
	}
}

// readImage accepts either a multipart "image" file or a raw request
// body.
func readImage(c *gin.Context) ([]byte, error) {
	if file, err := c.FormFile("image"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxImageBytes))
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("no image provided")
	}
	return data, nil
}

func sensitivityFrom(c *gin.Context) trueface.Sensitivity {
	if strings.EqualFold(c.PostForm("sensitivity"), "high") {
		return trueface.SensitivityHigh
	}
	return trueface.SensitivityNormal
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) || len(value) == len(bearer) {
		return "", false
	}
	return value[len(bearer):], true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, trueface.ErrUserNotFound), errors.Is(err, trueface.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, trueface.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, trueface.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, trueface.ErrTokenInvalid),
		errors.Is(err, trueface.ErrTokenExpired),
		errors.Is(err, trueface.ErrSessionRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, trueface.ErrUserDisabled):
		return http.StatusForbidden
	case errors.Is(err, trueface.ErrInvalidImage),
		errors.Is(err, trueface.ErrNoFaceDetected),
		errors.Is(err, trueface.ErrInvalidVector),
		errors.Is(err, trueface.ErrNoFacesEnrolled):
		return http.StatusBadRequest
	case errors.Is(err, trueface.ErrRedisUnavailable),
		errors.Is(err, trueface.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
