package integration

import (
	"context"
	"errors"
	"log/slog"
)

// Enqueuer adds documents to the posting queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, tenantID int64, docType DocType, docID string) (PostingItem, bool, error)
}

// DocumentReadyEvent announces that a document can be posted.
type DocumentReadyEvent struct {
	TenantID int64   `json:"tenantId"`
	DocType  DocType `json:"docType"`
	DocID    string  `json:"docId"`
}

// Hooks wires domain events from operational modules into the posting queue.
type Hooks struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewHooks constructs integration hooks.
func NewHooks(queue Enqueuer, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{queue: queue, logger: logger}
}

// HandleDocumentReady enqueues the document. Tenants without a connection
// for the document type are ignored.
func (h *Hooks) HandleDocumentReady(ctx context.Context, evt DocumentReadyEvent) error {
	if h == nil || h.queue == nil {
		return nil
	}
	if evt.TenantID == 0 {
		return &ValidationError{Field: "tenantId", Reason: "is required"}
	}
	item, created, err := h.queue.Enqueue(ctx, evt.TenantID, evt.DocType, evt.DocID)
	if errors.Is(err, ErrNoConnection) {
		h.logger.Debug("no integration for document",
			slog.Int64("tenant_id", evt.TenantID),
			slog.String("doc_type", string(evt.DocType)))
		return nil
	}
	if err != nil {
		return err
	}
	if !created {
		h.logger.Debug("document already queued",
			slog.String("item_id", item.ID.String()),
			slog.String("status", string(item.Status)))
	}
	return nil
}
