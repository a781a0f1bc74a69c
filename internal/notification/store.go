package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/UillB/appointmets-bot-sub003/internal/pkg/errors"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
)

// Store is the server-side notification collection.
type Store interface {
	// List returns the newest limit notifications.
	List(ctx context.Context, limit int) ([]Record, error)
	Stats(ctx context.Context) (ServerStats, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Archive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	// ClearAll deletes every notification. Clearing an empty set is a no-op.
	ClearAll(ctx context.Context) error
}

// Store operation names, used in errors, logs and metrics.
const (
	OpList        = "list"
	OpStats       = "stats"
	OpMarkRead    = "mark_read"
	OpMarkAllRead = "mark_all_read"
	OpArchive     = "archive"
	OpDelete      = "delete"
	OpClearAll    = "clear_all"
)

// TokenFunc returns the bearer token for the next request. An empty token
// sends no Authorization header.
type TokenFunc func() string

// HTTPStoreConfig configures HTTPStore.
type HTTPStoreConfig struct {
	// BaseURL is the API root, e.g. http://localhost:8080/api/v1.
	BaseURL string
	Timeout time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// HTTPStore talks to the notification REST API.
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
	token      TokenFunc
	limiter    *rate.Limiter
	log        *zap.Logger
}

// compile-time check
var _ Store = (*HTTPStore)(nil)

// HTTPStoreOption configures an HTTPStore.
type HTTPStoreOption func(*HTTPStore)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPStoreOption {
	return func(s *HTTPStore) {
		s.httpClient = client
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *zap.Logger) HTTPStoreOption {
	return func(s *HTTPStore) {
		s.log = l
	}
}

// NewHTTPStore creates a REST-backed Store.
func NewHTTPStore(cfg HTTPStoreConfig, token TokenFunc, opts ...HTTPStoreOption) (*HTTPStore, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperrors.BadRequest(apperrors.CodeConfigInvalid, "invalid notification api url: "+cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if token == nil {
		token = func() string { return "" }
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	s := &HTTPStore{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
		limiter:    rate.NewLimiter(limit, burst),
		log:        logger.Named("notification.store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type listResponse struct {
	Notifications []Record `json:"notifications"`
}

// List implements Store.
func (s *HTTPStore) List(ctx context.Context, limit int) ([]Record, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp listResponse
	if err := s.do(ctx, OpList, http.MethodGet, "/notifications", q, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

// Stats implements Store.
func (s *HTTPStore) Stats(ctx context.Context) (ServerStats, error) {
	var stats ServerStats
	if err := s.do(ctx, OpStats, http.MethodGet, "/notifications/stats", nil, &stats); err != nil {
		return ServerStats{}, err
	}
	return stats, nil
}

// MarkRead implements Store.
func (s *HTTPStore) MarkRead(ctx context.Context, id string) error {
	return s.do(ctx, OpMarkRead, http.MethodPost, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkAllRead implements Store.
func (s *HTTPStore) MarkAllRead(ctx context.Context) error {
	return s.do(ctx, OpMarkAllRead, http.MethodPost, "/notifications/read-all", nil, nil)
}

// Archive implements Store.
func (s *HTTPStore) Archive(ctx context.Context, id string) error {
	return s.do(ctx, OpArchive, http.MethodPost, "/notifications/"+url.PathEscape(id)+"/archive", nil, nil)
}

// Delete implements Store.
func (s *HTTPStore) Delete(ctx context.Context, id string) error {
	return s.do(ctx, OpDelete, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil)
}

// ClearAll implements Store.
func (s *HTTPStore) ClearAll(ctx context.Context) error {
	return s.do(ctx, OpClearAll, http.MethodDelete, "/notifications", nil, nil)
}

// --- Helpers ---

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *HTTPStore) do(ctx context.Context, op, method, path string, query url.Values, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.CodeRateLimited, "notification api rate limit wait", http.StatusTooManyRequests).
			WithParams(map[string]interface{}{"op": op})
	}

	target := s.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", newRequestID())
	if tok := s.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodePersistenceFailed, "notification api unreachable", http.StatusBadGateway).
			WithParams(map[string]interface{}{"op": op})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		appErr := apperrors.FromHTTPStatus(resp.StatusCode, op)
		var body errorBody
		if raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)); json.Unmarshal(raw, &body) == nil && body.Message != "" {
			appErr.Message = body.Message
		}
		s.log.Debug("Notification api request failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("request_id", req.Header.Get("X-Request-ID")),
		)
		return appErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.CodePersistenceFailed, "decoding "+op+" response", http.StatusBadGateway).
			WithParams(map[string]interface{}{"op": op})
	}
	return nil
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
