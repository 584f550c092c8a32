package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-sync/internal/shared"
)

// DispatchScheduler requests an out-of-band dispatch of one item.
type DispatchScheduler interface {
	ScheduleDispatch(ctx context.Context, itemID uuid.UUID) error
}

// Page is one page of queue items.
type Page struct {
	Items      []PostingItem
	Pagination shared.Pagination
}

// QueueService is the posting queue.
type QueueService struct {
	repo      Repository
	cache     *Cache
	audit     AuditRecorder
	scheduler DispatchScheduler
	logger    *slog.Logger
	clock     func() time.Time
}

// NewQueueService constructs the queue. cache, audit and scheduler may be nil.
func NewQueueService(repo Repository, cache *Cache, audit AuditRecorder, scheduler DispatchScheduler, logger *slog.Logger) *QueueService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueService{repo: repo, cache: cache, audit: audit, scheduler: scheduler, logger: logger, clock: time.Now}
}

// Enqueue records that a document needs posting. While an unfinished item
// exists for the same document it is returned instead and created is false.
func (s *QueueService) Enqueue(ctx context.Context, tenantID int64, docType DocType, docID string) (item PostingItem, created bool, err error) {
	docID = strings.TrimSpace(docID)
	if !docType.IsValid() {
		return PostingItem{}, false, &ValidationError{Field: "docType", Reason: fmt.Sprintf("%q is not a document type", docType)}
	}
	if docID == "" {
		return PostingItem{}, false, &ValidationError{Field: "docId", Reason: "is required"}
	}
	existing, err := s.repo.FindOpenItem(ctx, tenantID, docType, docID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return PostingItem{}, false, err
	}
	conn, err := s.route(ctx, tenantID, docType)
	if err != nil {
		return PostingItem{}, false, err
	}
	now := s.clock().UTC()
	item, created, err = s.repo.EnqueueItem(ctx, PostingItem{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ConnectionID:   conn.ID,
		ConnectionType: conn.Type,
		DocType:        docType,
		DocID:          docID,
		Status:         PostingPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return PostingItem{}, false, err
	}
	if created {
		s.invalidate(ctx, tenantID)
		s.logger.Debug("posting enqueued",
			slog.Int64("tenant_id", tenantID),
			slog.String("item_id", item.ID.String()),
			slog.String("doc_type", string(docType)),
			slog.String("doc_id", docID),
			slog.String("connection_type", string(conn.Type)))
	}
	return item, created, nil
}

// route picks the connection that receives docType: explicit docTypes
// listings win over catch-all connections, then the oldest connection.
func (s *QueueService) route(ctx context.Context, tenantID int64, docType DocType) (Connection, error) {
	conns, err := s.repo.ListConnections(ctx, tenantID)
	if err != nil {
		return Connection{}, err
	}
	var candidates []Connection
	for _, c := range conns {
		if c.Status.IsActive() && c.Accepts(docType) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return Connection{}, fmt.Errorf("%w: %s", ErrNoConnection, docType)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ei, ej := len(candidates[i].DocTypes) > 0, len(candidates[j].DocTypes) > 0
		if ei != ej {
			return ei
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates[0], nil
}

// Get loads a tenant's queue item.
func (s *QueueService) Get(ctx context.Context, tenantID int64, id uuid.UUID) (PostingItem, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return PostingItem{}, err
	}
	if item.TenantID != tenantID {
		return PostingItem{}, ErrNotFound
	}
	return item, nil
}

// List returns the tenant's queue ordered by creation time.
func (s *QueueService) List(ctx context.Context, tenantID int64, filter ListFilter) (Page, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return Page{}, &ValidationError{Field: "status", Reason: fmt.Sprintf("%q is not a posting status", *filter.Status)}
	}
	filter = filter.Normalize()
	items, total, err := s.repo.ListItems(ctx, tenantID, filter)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []PostingItem{}
	}
	return Page{Items: items, Pagination: shared.NewPagination(filter.Page, filter.Limit, total)}, nil
}

// Retry moves a FAILED item to RETRYING and schedules a dispatch. Any other
// status yields an InvalidStateError and leaves the item unchanged.
func (s *QueueService) Retry(ctx context.Context, tenantID, actorID int64, id uuid.UUID) (PostingItem, error) {
	item, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return PostingItem{}, err
	}
	if !item.Status.CanRetry() {
		return PostingItem{}, &InvalidStateError{Op: "retry", Status: item.Status}
	}
	item, err = s.repo.RetryItem(ctx, id, s.clock().UTC())
	if err != nil {
		return PostingItem{}, err
	}

	if s.scheduler != nil {
		if err := s.scheduler.ScheduleDispatch(ctx, item.ID); err != nil {
			s.logger.Warn("schedule dispatch failed; sweep will pick the item up",
				slog.String("item_id", item.ID.String()), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "posting.retry",
			Entity:   "posting_queue_item",
			EntityID: item.ID.String(),
			Meta:     map[string]any{"tenant_id": tenantID, "attempts": item.Attempts, "doc_type": item.DocType, "doc_id": item.DocID},
			At:       s.clock().UTC(),
		})
		if err != nil {
			s.logger.Warn("audit record failed", slog.String("action", "posting.retry"), slog.Any("error", err))
		}
	}
	s.invalidate(ctx, tenantID)
	return item, nil
}

// Stats counts the tenant's items per status. Every status is present.
func (s *QueueService) Stats(ctx context.Context, tenantID int64) (map[PostingStatus]int, error) {
	counts, err := s.repo.CountByStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make(map[PostingStatus]int, len(PostingStatuses()))
	for _, st := range PostingStatuses() {
		out[st] = counts[st]
	}
	return out, nil
}

func (s *QueueService) invalidate(ctx context.Context, tenantID int64) {
	if err := s.cache.Invalidate(ctx, tenantID, EntityPostingQueue); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("integration cache invalidate", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
	}
}
