package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/auth"
	apperrors "github.com/UillB/appointmets-bot-sub003/internal/pkg/errors"
)

type contextKey string

const (
	// RequestIDHeader is the HTTP header for request tracing.
	RequestIDHeader = "X-Request-ID"

	ctxKeyRequestID contextKey = "request_id"
	ctxKeyUserID    contextKey = "user_id"
)

// defaultDevOrigins are the dashboard dev servers allowed when no
// origins are configured.
var defaultDevOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// requestID injects a unique request ID into the context and response header.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			id, _ := uuid.NewV7()
			rid = id.String()
		}
		c.Set(string(ctxKeyRequestID), rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), ctxKeyRequestID, rid),
		)
		c.Next()
	}
}

// requestIDFrom extracts the request ID from ctx.
func requestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// userIDFrom extracts the authenticated user ID from ctx.
func userIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserID).(string); ok {
		return v
	}
	return ""
}

// errorHandler renders errors added via c.Error() as {code, message}.
func errorHandler(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			log.Warn("Request error",
				zap.String("code", appErr.Code),
				zap.String("message", appErr.Message),
				zap.Int("status", appErr.HTTPStatus),
				zap.String("request_id", requestIDFrom(c.Request.Context())),
			)
			c.JSON(appErr.HTTPStatus, gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			})
			return
		}

		log.Error("Unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "An internal error occurred",
		})
	}
}

// bearerAuth validates the Authorization header and stores the user ID.
func bearerAuth(cfg auth.IssuerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, apperrors.Unauthorized(apperrors.CodeUnauthorized, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, apperrors.Unauthorized(apperrors.CodeUnauthorized, "invalid authorization header format"))
			return
		}

		claims, err := auth.ValidateToken(cfg, parts[1])
		if err != nil {
			abortUnauthorized(c, err)
			return
		}

		c.Set(string(ctxKeyUserID), claims.UserID)
		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), ctxKeyUserID, claims.UserID),
		)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, err error) {
	code, msg := apperrors.CodeUnauthorized, "invalid token"
	if appErr, ok := apperrors.IsAppError(err); ok {
		code, msg = appErr.Code, appErr.Message
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    code,
		"message": msg,
	})
}

// buildCORSConfig turns the configured allowlist into a cors.Config. A
// wildcard origin is honored only with UnsafeAllowAllOrigins, which also
// turns credentials off. Entries that are not http(s) origins are dropped.
func buildCORSConfig(cfg Config) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
	}

	if cfg.UnsafeAllowAllOrigins {
		cc.AllowAllOrigins = true
		cc.AllowCredentials = false
		return cc
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimSpace(o)
		if strings.HasPrefix(o, "http://") || strings.HasPrefix(o, "https://") {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = append(origins, defaultDevOrigins...)
	}
	cc.AllowOrigins = origins
	cc.AllowCredentials = cfg.AllowCredentials
	return cc
}

// originChecker applies the buildCORSConfig policy to socket upgrades.
// Requests without an Origin header come from non-browser clients and pass.
func originChecker(cfg Config) func(*http.Request) bool {
	cc := buildCORSConfig(cfg)
	allowed := make(map[string]struct{}, len(cc.AllowOrigins))
	for _, o := range cc.AllowOrigins {
		allowed[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || cc.AllowAllOrigins {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}
