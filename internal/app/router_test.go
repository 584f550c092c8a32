package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sync/internal/observability"
	"github.com/odyssey-erp/odyssey-sync/internal/rbac"
	"github.com/odyssey-erp/odyssey-sync/internal/shared"
)

type stubSessions struct {
	sessions map[string]*shared.Session
	err      error
}

func (s stubSessions) Load(_ context.Context, r *http.Request) (*shared.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	if c, err := r.Cookie("odyssey_session"); err == nil {
		if sess, ok := s.sessions[c.Value]; ok {
			return sess, nil
		}
	}
	return nil, shared.ErrUnauthenticated
}

type grantAll struct{}

func (grantAll) EffectivePermissions(context.Context, int64) ([]string, error) {
	return shared.IntegrationScopes(), nil
}

type staticCatalog []rbac.Permission

func (c staticCatalog) ListPermissions(context.Context) ([]rbac.Permission, error) {
	return c, nil
}

func newTestRouter(t *testing.T, sessions SessionLoader, checks map[string]Pinger) http.Handler {
	t.Helper()
	logger := newLogger(&Config{LogLevel: "error"}, &discard{})
	return NewRouter(RouterParams{
		Logger:             logger,
		Config:             &Config{AppEnv: "test"},
		Sessions:           sessions,
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbac.Middleware{Service: grantAll{}}, staticCatalog{
			{ID: 1, Name: shared.PermIntegrationManage, Description: "Manage integrations"},
			{ID: 2, Name: "sales.order.view", Description: "View sales orders"},
		}),
		Metrics:            observability.NewMetrics(),
		Checks:             checks,
	})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func cookieSession() *shared.Session {
	return shared.NewSession("abc", "7", map[string]string{
		shared.SessionCompanyKey: "3",
		shared.SessionCSRFKey:    "tok",
	}, true)
}

func TestHealthzIsPublic(t *testing.T) {
	router := newTestRouter(t, stubSessions{}, map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzReportsDegraded(t *testing.T) {
	router := newTestRouter(t, stubSessions{}, map[string]Pinger{
		"redis": PingFunc(func(context.Context) error { return errors.New("refused") }),
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSessionRequired(t *testing.T) {
	router := newTestRouter(t, stubSessions{}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/permissions/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	router = newTestRouter(t, stubSessions{err: errors.New("redis down")}, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/permissions/me", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPermissionsWithCookieSession(t *testing.T) {
	router := newTestRouter(t, stubSessions{sessions: map[string]*shared.Session{"abc": cookieSession()}}, nil)
	req := httptest.NewRequest(http.MethodGet, "/permissions/me", nil)
	req.AddCookie(&http.Cookie{Name: "odyssey_session", Value: "abc"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tenantId":3`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestPermissionCatalogListsIntegrationScopes(t *testing.T) {
	router := newTestRouter(t, stubSessions{sessions: map[string]*shared.Session{"abc": cookieSession()}}, nil)
	req := httptest.NewRequest(http.MethodGet, "/permissions/", nil)
	req.AddCookie(&http.Cookie{Name: "odyssey_session", Value: "abc"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[{"id":1,"name":"integration.manage","description":"Manage integrations"}]}`, rec.Body.String())
}

func TestCSRFMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	mw := CSRFMiddleware("X-CSRF-Token", newLogger(nil, &discard{}))(next)

	withSession := func(r *http.Request) *http.Request {
		return r.WithContext(shared.ContextWithSession(r.Context(), cookieSession()))
	}

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodPost, "/integrations/xero/connect", nil)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := withSession(httptest.NewRequest(http.MethodPost, "/integrations/xero/connect", nil))
	req.Header.Set("X-CSRF-Token", "tok")
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/integrations", nil)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
