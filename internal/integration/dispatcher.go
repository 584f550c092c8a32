package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-sync/internal/shared"
)

var errLeaseExpired = errors.New("processing lease expired")

// DocumentSource loads immutable document snapshots.
type DocumentSource interface {
	Load(ctx context.Context, tenantID int64, docType DocType, docID string) (Document, error)
}

// Mapper turns documents into provider payloads.
type Mapper interface {
	Supports(docType DocType, connType ConnectionType) bool
	Map(doc Document, connType ConnectionType) (ExternalPayload, error)
}

// Poster performs the external call and returns the provider's reference.
type Poster interface {
	Post(ctx context.Context, conn Connection, creds Credentials, payload ExternalPayload) (string, error)
}

// Observer receives one notification per dispatched item.
type Observer interface {
	ObservePosting(provider ConnectionType, docType DocType, outcome string, elapsed time.Duration)
}

// Posting outcomes reported to observers.
const (
	OutcomeSuccess  = "success"
	OutcomeRetrying = "retrying"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
)

// DispatcherConfig tunes the dispatcher.
type DispatcherConfig struct {
	Policy      RetryPolicy
	CallTimeout time.Duration
	BatchSize   int
	Concurrency int
	StaleAfter  time.Duration
	LeaseTTL    time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Policy.MaxAttempts <= 0 {
		c.Policy = DefaultRetryPolicy()
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 20 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * time.Minute
	}
	return c
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Scanned   int
	Succeeded int
	Retrying  int
	Failed    int
	Skipped   int
	Requeued  int
}

func (r *SweepResult) add(outcome string) {
	switch outcome {
	case OutcomeSuccess:
		r.Succeeded++
	case OutcomeRetrying:
		r.Retrying++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
}

// Dispatcher moves eligible queue items through the external call.
type Dispatcher struct {
	repo     Repository
	source   DocumentSource
	mapper   Mapper
	poster   Poster
	sealer   *Sealer
	leaser   Leaser
	cache    *Cache
	observer Observer
	cfg      DispatcherConfig
	logger   *slog.Logger
	clock    func() time.Time
}

// DispatcherDeps groups the dispatcher collaborators. Leaser, Cache and
// Observer are optional.
type DispatcherDeps struct {
	Repo     Repository
	Source   DocumentSource
	Mapper   Mapper
	Poster   Poster
	Sealer   *Sealer
	Leaser   Leaser
	Cache    *Cache
	Observer Observer
	Logger   *slog.Logger
}

// NewDispatcher constructs the dispatcher.
func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		repo:     deps.Repo,
		source:   deps.Source,
		mapper:   deps.Mapper,
		poster:   deps.Poster,
		sealer:   deps.Sealer,
		leaser:   deps.Leaser,
		cache:    deps.Cache,
		observer: deps.Observer,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		clock:    time.Now,
	}
}

// Sweep dispatches one batch of eligible items across all tenants. Item
// failures are recorded on the items and never fail the sweep.
func (d *Dispatcher) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	if d.leaser != nil {
		release, err := d.leaser.Acquire(ctx, shared.PostingSweepLockKey, d.cfg.LeaseTTL)
		if errors.Is(err, ErrLeaseHeld) {
			d.logger.Debug("sweep skipped; lease held elsewhere")
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("acquire sweep lease: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				d.logger.Warn("release sweep lease", slog.Any("error", err))
			}
		}()
	}

	requeued, err := d.requeueStale(ctx)
	if err != nil {
		d.logger.Error("requeue stale items", slog.Any("error", err))
	}
	result.Requeued = requeued

	items, err := d.repo.ListEligible(ctx, d.clock().UTC(), d.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list eligible: %w", err)
	}
	result.Scanned = len(items)
	if len(items) == 0 {
		return result, nil
	}

	order := make([]uuid.UUID, 0)
	groups := make(map[uuid.UUID][]PostingItem)
	tenants := make(map[int64]struct{})
	for _, item := range items {
		if _, ok := groups[item.ConnectionID]; !ok {
			order = append(order, item.ConnectionID)
		}
		groups[item.ConnectionID] = append(groups[item.ConnectionID], item)
		tenants[item.TenantID] = struct{}{}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, connID := range order {
		batch := groups[connID]
		g.Go(func() error {
			outcomes := d.dispatchConnection(gctx, connID, batch)
			mu.Lock()
			for _, o := range outcomes {
				result.add(o)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for tenantID := range tenants {
		if err := d.cache.Invalidate(ctx, tenantID, EntityPostingQueue); err != nil {
			d.logger.Warn("integration cache invalidate", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
		}
	}
	d.logger.Info("posting sweep finished",
		slog.Int("scanned", result.Scanned),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("retrying", result.Retrying),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
		slog.Int("requeued", result.Requeued))
	return result, nil
}

// DispatchOne dispatches a single item now if it is eligible and due.
func (d *Dispatcher) DispatchOne(ctx context.Context, id uuid.UUID) (string, error) {
	item, err := d.repo.GetItem(ctx, id)
	if err != nil {
		return "", err
	}
	now := d.clock().UTC()
	if !item.Status.Eligible() || (item.NextAttemptAt != nil && item.NextAttemptAt.After(now)) {
		return OutcomeSkipped, nil
	}
	outcomes := d.dispatchConnection(ctx, item.ConnectionID, []PostingItem{item})
	if err := d.cache.Invalidate(ctx, item.TenantID, EntityPostingQueue); err != nil {
		d.logger.Warn("integration cache invalidate", slog.Int64("tenant_id", item.TenantID), slog.Any("error", err))
	}
	return outcomes[0], nil
}

// dispatchConnection processes items of one connection in order. Items are
// left untouched unless the connection is CONNECTED, and an auth failure
// stops the rest of the batch.
func (d *Dispatcher) dispatchConnection(ctx context.Context, connID uuid.UUID, items []PostingItem) []string {
	outcomes := make([]string, len(items))
	for i := range outcomes {
		outcomes[i] = OutcomeSkipped
	}
	logger := d.logger.With(slog.String("connection_id", connID.String()))

	conn, err := d.repo.GetConnection(ctx, connID)
	if err != nil {
		logger.Error("load connection", slog.Any("error", err))
		return outcomes
	}
	if conn.Status != ConnectionConnected {
		logger.Debug("connection not connected; items left in place",
			slog.String("status", string(conn.Status)), slog.Int("items", len(items)))
		return outcomes
	}
	creds, err := d.openCredentials(conn)
	if err != nil {
		logger.Error("open credentials", slog.Any("error", err))
		if markErr := d.repo.MarkConnectionError(ctx, conn.ID, err.Error(), d.clock().UTC()); markErr != nil {
			logger.Error("mark connection error", slog.Any("error", markErr))
		}
		return outcomes
	}

	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		outcome, authErr := d.dispatchItem(ctx, logger, conn, creds, item)
		outcomes[i] = outcome
		if authErr != nil {
			if err := d.repo.MarkConnectionError(ctx, conn.ID, authErr.Error(), d.clock().UTC()); err != nil {
				logger.Error("mark connection error", slog.Any("error", err))
			}
			logger.Warn("provider rejected credentials; connection moved to ERROR",
				slog.Int("remaining", len(items)-i-1))
			break
		}
	}
	return outcomes
}

func (d *Dispatcher) openCredentials(conn Connection) (Credentials, error) {
	if !conn.HasCredentials() {
		return Credentials{}, nil
	}
	if d.sealer == nil {
		return Credentials{}, errors.New("integration: credentials sealer not configured")
	}
	return d.sealer.Open(conn.Credentials)
}

// dispatchItem claims and processes one item. The returned error is non-nil
// only for connection level auth failures.
func (d *Dispatcher) dispatchItem(ctx context.Context, logger *slog.Logger, conn Connection, creds Credentials, item PostingItem) (string, error) {
	claimed, err := d.repo.ClaimItem(ctx, item.ID, d.clock().UTC())
	if errors.Is(err, ErrAlreadyClaimed) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		logger.Error("claim item", slog.String("item_id", item.ID.String()), slog.Any("error", err))
		return OutcomeSkipped, nil
	}

	start := time.Now()
	ref, callErr := d.attempt(ctx, conn, creds, claimed)
	now := d.clock().UTC()
	if callErr == nil {
		claimed.markSucceeded(ref, now)
	} else {
		claimed.markFailed(callErr, d.cfg.Policy, isTerminal(callErr), now)
	}

	// The provider may have accepted the document; record that even when
	// the job is being cancelled.
	persistCtx := context.WithoutCancel(ctx)
	if err := d.repo.CompleteItem(persistCtx, claimed); err != nil {
		logger.Error("complete item", slog.String("item_id", claimed.ID.String()), slog.Any("error", err))
	}
	if callErr == nil {
		if err := d.repo.MarkConnectionSynced(persistCtx, conn.ID, now); err != nil {
			logger.Warn("mark connection synced", slog.Any("error", err))
		}
	}

	outcome := outcomeOf(claimed.Status)
	if d.observer != nil {
		d.observer.ObservePosting(conn.Type, claimed.DocType, outcome, time.Since(start))
	}
	attrs := []any{
		slog.String("item_id", claimed.ID.String()),
		slog.String("doc_type", string(claimed.DocType)),
		slog.String("doc_id", claimed.DocID),
		slog.Int("attempts", claimed.Attempts),
		slog.String("status", string(claimed.Status)),
	}
	if callErr != nil {
		logger.Warn("posting attempt failed", append(attrs, slog.Any("error", callErr))...)
	} else {
		logger.Info("posting succeeded", append(attrs, slog.String("external_ref", ref))...)
	}

	if errors.Is(callErr, ErrAuth) {
		return outcome, callErr
	}
	return outcome, nil
}

func (d *Dispatcher) attempt(ctx context.Context, conn Connection, creds Credentials, item PostingItem) (string, error) {
	if !d.mapper.Supports(item.DocType, conn.Type) {
		return "", &UnsupportedMappingError{DocType: item.DocType, ConnectionType: conn.Type}
	}
	doc, err := d.source.Load(ctx, item.TenantID, item.DocType, item.DocID)
	if err != nil {
		return "", fmt.Errorf("load %s %s: %w", item.DocType, item.DocID, err)
	}
	payload, err := d.mapper.Map(doc, conn.Type)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	ref, err := d.poster.Post(callCtx, conn, creds, payload)
	if err != nil {
		if errors.Is(err, ErrAuth) || errors.Is(err, ErrExternalCall) {
			return "", err
		}
		return "", &ExternalCallError{Err: err}
	}
	if strings.TrimSpace(ref) == "" {
		return "", &ExternalCallError{Err: errors.New("provider returned no reference")}
	}
	return ref, nil
}

func (d *Dispatcher) requeueStale(ctx context.Context) (int, error) {
	now := d.clock().UTC()
	stale, err := d.repo.ListStale(ctx, now.Add(-d.cfg.StaleAfter), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, item := range stale {
		item.markFailed(errLeaseExpired, d.cfg.Policy, false, now)
		if err := d.repo.CompleteItem(ctx, item); err != nil {
			if !errors.Is(err, ErrStale) {
				d.logger.Error("requeue stale item", slog.String("item_id", item.ID.String()), slog.Any("error", err))
			}
			continue
		}
		count++
	}
	if count > 0 {
		d.logger.Warn("requeued stale processing items", slog.Int("count", count))
	}
	return count, nil
}

// isTerminal reports failures that cannot succeed by retrying the same input.
func isTerminal(err error) bool {
	return errors.Is(err, ErrUnsupportedMapping) || errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}

func outcomeOf(status PostingStatus) string {
	switch status {
	case PostingSuccess:
		return OutcomeSuccess
	case PostingRetrying:
		return OutcomeRetrying
	case PostingFailed:
		return OutcomeFailed
	default:
		return OutcomeSkipped
	}
}
