package shared

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// ErrUnauthenticated is returned when a request carries no usable session.
var ErrUnauthenticated = errors.New("unauthenticated")

// Session keys written by the main application.
const (
	SessionCompanyKey = "company_id"
	SessionCSRFKey    = "csrf_token"
)

// SessionStore reads cookie sessions issued by the main application from
// Redis. The sync service never writes sessions.
type SessionStore struct {
	client     *redis.Client
	cookieName string
}

// Session holds the authenticated request context.
type Session struct {
	ID     string
	values map[string]string
	userID string
	// ViaCookie is set when the session id came from the cookie rather than
	// an Authorization header.
	ViaCookie bool
}

type sessionPayload struct {
	Values map[string]string `json:"values"`
	UserID string            `json:"user_id"`
}

// NewSession builds a session from already resolved values.
func NewSession(id, userID string, values map[string]string, viaCookie bool) *Session {
	return &Session{ID: id, values: values, userID: userID, ViaCookie: viaCookie}
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, cookieName string) *SessionStore {
	return &SessionStore{client: client, cookieName: cookieName}
}

// Load resolves the session of r. A request without a session id returns
// ErrUnauthenticated, as does an id that is unknown or expired.
func (s *SessionStore) Load(ctx context.Context, r *http.Request) (*Session, error) {
	id, viaCookie := s.sessionID(r)
	if id == "" {
		return nil, ErrUnauthenticated
	}
	raw, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	var stored sessionPayload
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	if strings.TrimSpace(stored.UserID) == "" {
		return nil, ErrUnauthenticated
	}
	return NewSession(id, stored.UserID, stored.Values, viaCookie), nil
}

// CookieName returns the cookie identifier used for sessions.
func (s *SessionStore) CookieName() string {
	return s.cookieName
}

func (s *SessionStore) sessionID(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token), false
		}
	}
	if cookie, err := r.Cookie(s.cookieName); err == nil {
		return cookie.Value, true
	}
	return "", false
}

func redisKey(id string) string {
	return "session:" + id
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	if s == nil || s.values == nil {
		return ""
	}
	return s.values[key]
}

// User returns the current user ID.
func (s *Session) User() string {
	if s == nil {
		return ""
	}
	return s.userID
}

// UserID parses the user id.
func (s *Session) UserID() (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s.User()), 10, 64)
	return id, err == nil && id > 0
}

// TenantID returns the company the session is scoped to.
func (s *Session) TenantID() (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s.Get(SessionCompanyKey)), 10, 64)
	return id, err == nil && id > 0
}
