package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

func newPoster(t *testing.T, typ integration.ConnectionType, handler http.HandlerFunc, cfg Config) *HTTPPoster {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURLs = map[integration.ConnectionType]string{typ: srv.URL + "/api"}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 1000
	}
	return NewHTTPPoster(cfg, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func connection(typ integration.ConnectionType) integration.Connection {
	return integration.Connection{ID: uuid.New(), TenantID: 1, Type: typ, Status: integration.ConnectionConnected}
}

func invoicePayload(typ integration.ConnectionType, resource string) integration.ExternalPayload {
	return integration.ExternalPayload{
		ConnectionType: typ,
		DocType:        integration.DocInvoice,
		Method:         http.MethodPost,
		Resource:       resource,
		IdempotencyKey: integration.IdempotencyKey(1, integration.DocInvoice, "INV-1"),
		Body:           map[string]any{"InvoiceNumber": "INV-1"},
	}
}

func TestPostXeroSendsHeadersAndReadsReference(t *testing.T) {
	payload := invoicePayload(integration.TypeXero, "/Invoices")
	poster := newPoster(t, integration.TypeXero, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/Invoices", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "org-7", r.Header.Get("xero-tenant-id"))
		assert.Equal(t, payload.IdempotencyKey, r.Header.Get("Idempotency-Key"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "INV-1", body["InvoiceNumber"])

		_, _ = w.Write([]byte(`{"Invoices":[{"InvoiceID":"b1a2","Status":"AUTHORISED"}]}`))
	}, Config{})

	ref, err := poster.Post(context.Background(), connection(integration.TypeXero),
		integration.Credentials{AccessToken: "token-1", TenantRef: "org-7"}, payload)
	require.NoError(t, err)
	assert.Equal(t, "b1a2", ref)
}

func TestPostQuickBooksUsesRealmAndRequestID(t *testing.T) {
	payload := invoicePayload(integration.TypeQuickBooks, "/invoice")
	poster := newPoster(t, integration.TypeQuickBooks, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/company/9130/invoice", r.URL.Path)
		assert.Equal(t, payload.IdempotencyKey, r.URL.Query().Get("requestid"))
		_, _ = w.Write([]byte(`{"Invoice":{"Id":"145","SyncToken":"0"}}`))
	}, Config{})

	ref, err := poster.Post(context.Background(), connection(integration.TypeQuickBooks),
		integration.Credentials{AccessToken: "t", TenantRef: "9130"}, payload)
	require.NoError(t, err)
	assert.Equal(t, "145", ref)
}

func TestPostSAPReadsNumericDocEntry(t *testing.T) {
	poster := newPoster(t, integration.TypeSAPB1, func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("B1SESSION")
		if assert.NoError(t, err) {
			assert.Equal(t, "session-1", cookie.Value)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"DocEntry":1207,"DocNum":88}`))
	}, Config{})

	ref, err := poster.Post(context.Background(), connection(integration.TypeSAPB1),
		integration.Credentials{AccessToken: "session-1"}, invoicePayload(integration.TypeSAPB1, "/Invoices"))
	require.NoError(t, err)
	assert.Equal(t, "1207", ref)
}

func TestPostCustomAPIKey(t *testing.T) {
	poster := newPoster(t, integration.TypeCustomAPI, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k-1", r.Header.Get("X-API-Key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"externalRef":"EXT-9"}`))
	}, Config{})

	ref, err := poster.Post(context.Background(), connection(integration.TypeCustomAPI),
		integration.Credentials{APIKey: "k-1"}, invoicePayload(integration.TypeCustomAPI, "/documents/invoice"))
	require.NoError(t, err)
	assert.Equal(t, "EXT-9", ref)
}

func TestPostMapsUnauthorizedToAuthError(t *testing.T) {
	poster := newPoster(t, integration.TypeSage, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
	}, Config{})

	_, err := poster.Post(context.Background(), connection(integration.TypeSage),
		integration.Credentials{AccessToken: "stale"}, invoicePayload(integration.TypeSage, "/sales_invoices"))
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrAuth)

	var authErr *integration.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
}

func TestPostMissingCredentialIsAuthError(t *testing.T) {
	var calls atomic.Int32
	poster := newPoster(t, integration.TypeXero, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, Config{})

	_, err := poster.Post(context.Background(), connection(integration.TypeXero),
		integration.Credentials{AccessToken: "t"}, invoicePayload(integration.TypeXero, "/Invoices"))
	assert.ErrorIs(t, err, integration.ErrAuth)
	assert.Zero(t, calls.Load())
}

func TestPostExpiredTokenIsAuthError(t *testing.T) {
	poster := newPoster(t, integration.TypeSage, func(w http.ResponseWriter, r *http.Request) {
		t.Error("expired credentials must not reach the provider")
	}, Config{})
	expired := time.Now().Add(-time.Minute)

	_, err := poster.Post(context.Background(), connection(integration.TypeSage),
		integration.Credentials{AccessToken: "t", ExpiresAt: &expired}, invoicePayload(integration.TypeSage, "/sales_invoices"))
	assert.ErrorIs(t, err, integration.ErrAuth)
}

func TestPostServerErrorIsExternalCallError(t *testing.T) {
	poster := newPoster(t, integration.TypeEvolution, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database locked", http.StatusServiceUnavailable)
	}, Config{})

	_, err := poster.Post(context.Background(), connection(integration.TypeEvolution),
		integration.Credentials{APIKey: "k"}, invoicePayload(integration.TypeEvolution, "/SalesInvoice"))
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrExternalCall)
	assert.Contains(t, err.Error(), "database locked")
	assert.Contains(t, err.Error(), "503")
}

func TestPostMissingReference(t *testing.T) {
	poster := newPoster(t, integration.TypeSage, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, Config{})

	_, err := poster.Post(context.Background(), connection(integration.TypeSage),
		integration.Credentials{AccessToken: "t"}, invoicePayload(integration.TypeSage, "/sales_invoices"))
	assert.ErrorIs(t, err, integration.ErrExternalCall)
}

func TestPostHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	poster := newPoster(t, integration.TypeSage, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Config{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := poster.Post(ctx, connection(integration.TypeSage),
		integration.Credentials{AccessToken: "t"}, invoicePayload(integration.TypeSage, "/sales_invoices"))
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrExternalCall)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBreakerOpensPerConnection(t *testing.T) {
	var calls atomic.Int32
	poster := newPoster(t, integration.TypeSage, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, Config{BreakerFailures: 2, BreakerCooldown: time.Hour})

	failing := connection(integration.TypeSage)
	creds := integration.Credentials{AccessToken: "t"}
	payload := invoicePayload(integration.TypeSage, "/sales_invoices")
	for i := 0; i < 2; i++ {
		_, err := poster.Post(context.Background(), failing, creds, payload)
		require.ErrorIs(t, err, integration.ErrExternalCall)
	}
	assert.Equal(t, "open", poster.BreakerState(failing))

	_, err := poster.Post(context.Background(), failing, creds, payload)
	assert.ErrorIs(t, err, integration.ErrExternalCall)
	assert.Equal(t, int32(2), calls.Load())

	other := connection(integration.TypeSage)
	assert.Equal(t, "closed", poster.BreakerState(other))
	_, _ = poster.Post(context.Background(), other, creds, payload)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	poster := newPoster(t, integration.TypeSage, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}, Config{BreakerFailures: 1, BreakerCooldown: time.Hour})

	conn := connection(integration.TypeSage)
	for i := 0; i < 3; i++ {
		_, err := poster.Post(context.Background(), conn, integration.Credentials{AccessToken: "t"}, invoicePayload(integration.TypeSage, "/sales_invoices"))
		require.ErrorIs(t, err, integration.ErrExternalCall)
	}
	assert.Equal(t, "closed", poster.BreakerState(conn))
}

func TestPostWithoutBaseURL(t *testing.T) {
	poster := NewHTTPPoster(Config{}, nil, nil)
	_, err := poster.Post(context.Background(), connection(integration.TypeSage),
		integration.Credentials{AccessToken: "t"}, invoicePayload(integration.TypeSage, "/sales_invoices"))
	assert.ErrorIs(t, err, integration.ErrExternalCall)
}
