// Package provider sends mapped payloads to accounting provider APIs.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

const maxErrorBody = 512

// Config tunes the poster.
type Config struct {
	BaseURLs        map[integration.ConnectionType]string
	BreakerFailures uint32
	BreakerCooldown time.Duration
	RatePerSecond   float64
	Burst           int
}

func (c Config) withDefaults() Config {
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = time.Minute
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RatePerSecond)
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	return c
}

// HTTPPoster posts payloads over HTTPS. Each connection gets its own circuit
// breaker and token bucket so one failing tenant does not starve the others.
type HTTPPoster struct {
	client      *http.Client
	cfg         Config
	logger      *slog.Logger
	descriptors map[integration.ConnectionType]descriptor
	clock       func() time.Time

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[string]
	limiters map[string]*rate.Limiter
}

// NewHTTPPoster constructs a poster. A nil client uses http.DefaultClient;
// call deadlines come from the context.
func NewHTTPPoster(cfg Config, client *http.Client, logger *slog.Logger) *HTTPPoster {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPPoster{
		client:      client,
		cfg:         cfg.withDefaults(),
		logger:      logger,
		descriptors: descriptors(),
		clock:       time.Now,
		breakers:    make(map[string]*gobreaker.CircuitBreaker[string]),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Post sends payload through conn and returns the provider's reference.
func (p *HTTPPoster) Post(ctx context.Context, conn integration.Connection, creds integration.Credentials, payload integration.ExternalPayload) (string, error) {
	desc, ok := p.descriptors[conn.Type]
	if !ok {
		return "", &integration.UnsupportedMappingError{DocType: payload.DocType, ConnectionType: conn.Type}
	}
	if creds.ExpiresAt != nil && !creds.ExpiresAt.After(p.clock()) {
		return "", &integration.AuthError{Err: errors.New("access token expired")}
	}

	key := conn.ID.String()
	if err := p.limiter(key).Wait(ctx); err != nil {
		return "", &integration.ExternalCallError{Err: fmt.Errorf("rate limit: %w", err)}
	}

	ref, err := p.breaker(key, conn).Execute(func() (string, error) {
		return p.send(ctx, desc, conn, creds, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", &integration.ExternalCallError{Err: err}
	}
	return ref, err
}

func (p *HTTPPoster) send(ctx context.Context, desc descriptor, conn integration.Connection, creds integration.Credentials, payload integration.ExternalPayload) (string, error) {
	target, err := desc.endpoint(p.cfg.BaseURLs[conn.Type], creds, payload)
	if errors.Is(err, errMissingCredential) {
		return "", &integration.AuthError{Err: err}
	}
	if err != nil {
		return "", &integration.ExternalCallError{Err: err}
	}

	body, err := json.Marshal(payload.Body)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, payload.Method, target, bytes.NewReader(body))
	if err != nil {
		return "", &integration.ExternalCallError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", payload.IdempotencyKey)
	if err := desc.authorize(req, creds); err != nil {
		return "", &integration.AuthError{Err: err}
	}

	started := p.clock()
	resp, err := p.client.Do(req)
	if err != nil {
		return "", &integration.ExternalCallError{Err: err}
	}
	defer resp.Body.Close()

	p.logger.Debug("provider call",
		slog.String("provider", string(conn.Type)),
		slog.String("connection_id", conn.ID.String()),
		slog.String("method", payload.Method),
		slog.String("resource", payload.Resource),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", p.clock().Sub(started)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &integration.AuthError{StatusCode: resp.StatusCode, Err: errors.New(readSnippet(resp.Body))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", &integration.ExternalCallError{StatusCode: resp.StatusCode, Err: errors.New(readSnippet(resp.Body))}
	}

	decoded := map[string]any{}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil && !errors.Is(err, io.EOF) {
		return "", &integration.ExternalCallError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	ref := desc.reference(decoded)
	if ref == "" {
		return "", &integration.ExternalCallError{StatusCode: resp.StatusCode, Err: errors.New("response carried no reference")}
	}
	return ref, nil
}

func (p *HTTPPoster) limiter(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.cfg.RatePerSecond), p.cfg.Burst)
		p.limiters[key] = l
	}
	return l
}

func (p *HTTPPoster) breaker(key string, conn integration.Connection) *gobreaker.CircuitBreaker[string] {
	p.mu.Lock()
	defer p.mu.Unlock()
	cb, ok := p.breakers[key]
	if ok {
		return cb
	}
	threshold := p.cfg.BreakerFailures
	logger := p.logger
	cb = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        string(conn.Type) + ":" + key,
		MaxRequests: 1,
		Timeout:     p.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	p.breakers[key] = cb
	return cb
}

// BreakerState reports the breaker state of a connection, "closed" when the
// connection has not been used yet.
func (p *HTTPPoster) BreakerState(conn integration.Connection) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[conn.ID.String()]; ok {
		return cb.State().String()
	}
	return gobreaker.StateClosed.String()
}

// Credential and client errors say nothing about provider availability.
func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, integration.ErrAuth) {
		return true
	}
	var callErr *integration.ExternalCallError
	if errors.As(err, &callErr) {
		code := callErr.StatusCode
		return code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout
	}
	return false
}

func readSnippet(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	text := string(bytes.TrimSpace(raw))
	if text == "" {
		return "empty response body"
	}
	return text
}
