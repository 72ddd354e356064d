package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/nitesh/meal_match/internal/auth"
	"github.com/nitesh/meal_match/internal/logger"
)

const identityKey = "identity"

// Verifier checks a bearer token and returns who sent it.
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if id, ok := CallerIdentity(c); ok {
			fields = append(fields, "caller", id.Subject)
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

func CORS(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(v Verifier, log *logger.Logger) gin.HandlerFunc {
	log = log.With("middleware", "RequireAuth")
	return func(c *gin.Context) {
		id, err := v.Verify(auth.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			log.Debug("request rejected", "path", c.Request.URL.Path, "error", err)
			abortError(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// CallerIdentity returns the identity RequireAuth attached to the request.
func CallerIdentity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
