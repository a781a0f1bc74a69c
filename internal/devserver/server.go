// Package devserver is an in-memory backend that speaks the push socket
// and notification REST protocols. It backs local runs of the realtime
// CLI and the end-to-end session tests.
package devserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/auth"
	"github.com/UillB/appointmets-bot-sub003/internal/notification"
	apperrors "github.com/UillB/appointmets-bot-sub003/internal/pkg/errors"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
	"github.com/UillB/appointmets-bot-sub003/internal/push"
)

const (
	defaultTokenTTL  = 15 * time.Minute
	defaultListLimit = 50
	defaultUserID    = "dev-user"
)

// Config configures the development backend.
type Config struct {
	SigningKey []byte
	Issuer     string
	TokenTTL   time.Duration

	AllowedOrigins        []string
	AllowCredentials      bool
	UnsafeAllowAllOrigins bool
}

// Server is the development backend.
type Server struct {
	cfg     Config
	issuer  auth.IssuerConfig
	log     *zap.Logger
	now     func() time.Time
	catalog *notification.Catalog

	hub    *Hub
	store  *MemoryStore
	router *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithClock sets the time source for timestamps and stats.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithCatalog sets the catalog deciding which events become notifications.
func WithCatalog(c *notification.Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// New builds the server and its routes.
func New(cfg Config, opts ...Option) *Server {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	s := &Server{
		cfg:    cfg,
		issuer: auth.IssuerConfig{SigningKey: cfg.SigningKey, Issuer: cfg.Issuer},
		log:    logger.Named("devserver"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog = notification.DefaultCatalog()
	}
	s.hub = newHub(s.log, s.now, originChecker(s.cfg))
	s.store = NewMemoryStore(s.now)
	s.router = s.newRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Store returns the notification store.
func (s *Server) Store() *MemoryStore { return s.store }

// Hub returns the socket hub.
func (s *Server) Hub() *Hub { return s.hub }

// CloseAll drops every push socket with code.
func (s *Server) CloseAll(code int) { s.hub.CloseAll(code) }

// IssueToken signs a token for userID using the server's TTL.
func (s *Server) IssueToken(userID string) (string, time.Time, error) {
	return auth.GenerateToken(s.issuer, userID, s.cfg.TokenTTL)
}

func (s *Server) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), errorHandler(s.log))
	router.Use(cors.New(buildCORSConfig(s.cfg)))

	router.GET("/healthz", s.health)
	router.GET("/ws", s.socket)

	v1 := router.Group("/api/v1")
	v1.POST("/auth/token", s.issueToken)

	authed := v1.Group("", bearerAuth(s.issuer))
	authed.GET("/notifications", s.listNotifications)
	authed.GET("/notifications/stats", s.notificationStats)
	authed.POST("/notifications/read-all", s.markAllRead)
	authed.POST("/notifications/:id/read", s.markRead)
	authed.POST("/notifications/:id/archive", s.archive)
	authed.DELETE("/notifications/:id", s.deleteNotification)
	authed.DELETE("/notifications", s.clearAll)
	authed.POST("/events", s.publishEvent)
	return router
}

// EventInput is the body of POST /api/v1/events.
type EventInput struct {
	ID        string         `json:"id"`
	Type      string         `json:"type" binding:"required"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload"`
	Timestamp *time.Time     `json:"timestamp"`
}

// Published reports what Publish did with an event.
type Published struct {
	EventID      string               `json:"eventId"`
	Delivered    int                  `json:"delivered"`
	Notification *notification.Record `json:"notification,omitempty"`
}

// Publish persists a notification when the event type is notifiable, then
// broadcasts the event frame (and the notification frame, if any) to
// every socket. Persisting first lets a client's refetch see the record.
func (s *Server) Publish(in EventInput) (Published, error) {
	if in.Type == "" {
		return Published{}, apperrors.BadRequest(apperrors.CodeValidationFailed, "event type is required")
	}
	now := s.now()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Source == "" {
		in.Source = string(push.SourceAPI)
	}
	at := now
	if in.Timestamp != nil {
		at = *in.Timestamp
	}

	out := Published{EventID: in.ID}
	if s.catalog.IsNotifiable(in.Type) {
		ev := push.Event{ID: in.ID, Type: push.NormalizeType(in.Type), Payload: in.Payload, Timestamp: at}
		title, message := s.catalog.Render(ev)
		rec := s.store.Add(notification.Record{Type: ev.Type, Title: title, Message: message, Data: in.Payload})
		out.Notification = &rec
	}

	eventFrame, err := push.NewFrame(push.TypeEvent, map[string]any{
		"id":        in.ID,
		"type":      in.Type,
		"source":    in.Source,
		"payload":   in.Payload,
		"timestamp": at.UTC().Format(time.RFC3339Nano),
	}, now)
	if err != nil {
		return Published{}, err
	}
	raw, err := eventFrame.Encode()
	if err != nil {
		return Published{}, err
	}
	out.Delivered = s.hub.Broadcast(raw)

	if out.Notification != nil {
		nf, err := push.NewFrame(push.TypeNotification, out.Notification, now)
		if err == nil {
			nf.Message = out.Notification.Title
			if raw, err := nf.Encode(); err == nil {
				s.hub.Broadcast(raw)
			}
		}
	}

	s.log.Debug("Event published",
		zap.String("event_id", in.ID),
		zap.String("type", in.Type),
		zap.Int("delivered", out.Delivered),
		zap.Bool("notification", out.Notification != nil),
	)
	return out, nil
}

// --- Handlers ---

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sockets": s.hub.Len()})
}

func (s *Server) socket(c *gin.Context) {
	claims, err := auth.ValidateToken(s.issuer, c.Query("token"))
	if err != nil {
		abortUnauthorized(c, err)
		return
	}
	s.hub.serve(c.Writer, c.Request, claims.UserID)
}

type tokenRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) issueToken(c *gin.Context) {
	var req tokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid token request"))
			return
		}
	}
	if req.UserID == "" {
		req.UserID = defaultUserID
	}

	token, expiresAt, err := s.IssueToken(req.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": expiresAt.UTC()})
}

func (s *Server) listNotifications(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	records, err := s.store.List(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": records})
}

func (s *Server) notificationStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) markRead(c *gin.Context) {
	s.noContent(c, s.store.MarkRead(c.Request.Context(), c.Param("id")))
}

func (s *Server) markAllRead(c *gin.Context) {
	s.noContent(c, s.store.MarkAllRead(c.Request.Context()))
}

func (s *Server) archive(c *gin.Context) {
	s.noContent(c, s.store.Archive(c.Request.Context(), c.Param("id")))
}

func (s *Server) deleteNotification(c *gin.Context) {
	s.noContent(c, s.store.Delete(c.Request.Context(), c.Param("id")))
}

func (s *Server) clearAll(c *gin.Context) {
	s.noContent(c, s.store.ClearAll(c.Request.Context()))
}

func (s *Server) publishEvent(c *gin.Context) {
	var in EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid event: "+err.Error()))
		return
	}
	out, err := s.Publish(in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	s.log.Info("Event injected",
		zap.String("event_id", out.EventID),
		zap.String("user_id", userIDFrom(c.Request.Context())),
	)
	c.JSON(http.StatusAccepted, out)
}

func (s *Server) noContent(c *gin.Context, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
