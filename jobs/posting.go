package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
	jobmetrics "github.com/odyssey-erp/odyssey-sync/internal/jobs"
)

// PostingDispatcher is the dispatcher surface the posting jobs drive.
type PostingDispatcher interface {
	Sweep(ctx context.Context) (integration.SweepResult, error)
	DispatchOne(ctx context.Context, id uuid.UUID) (string, error)
}

// SnapshotWriter stores document snapshots delivered with document-ready tasks.
type SnapshotWriter interface {
	Save(ctx context.Context, doc integration.Document) error
}

// DocumentHook queues a ready document.
type DocumentHook interface {
	HandleDocumentReady(ctx context.Context, evt integration.DocumentReadyEvent) error
}

// PostingJobs handles the integration task types.
type PostingJobs struct {
	Dispatcher PostingDispatcher
	Snapshots  SnapshotWriter
	Hooks      DocumentHook
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewPostingJobs constructs the integration job handlers. snapshots may be nil
// when documents are written by another service.
func NewPostingJobs(dispatcher PostingDispatcher, snapshots SnapshotWriter, hooks DocumentHook, logger *slog.Logger, metrics *jobmetrics.Metrics) *PostingJobs {
	return &PostingJobs{
		Dispatcher: dispatcher,
		Snapshots:  snapshots,
		Hooks:      hooks,
		Logger:     logger,
		Metrics:    metrics,
	}
}

// Handlers lists the task registrations for the worker.
func (j *PostingJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskPostingSweep, Handler: j.HandleSweep},
		{Type: TaskPostingDispatch, Handler: j.HandleDispatch},
		{Type: TaskDocumentReady, Handler: j.HandleDocumentReady},
	}
}

// HandleSweep runs one dispatcher sweep. Item failures live on the items, so
// only infrastructure errors fail the task.
func (j *PostingJobs) HandleSweep(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Dispatcher == nil {
		return errors.New("posting sweep: handler not configured")
	}
	tracker := j.Metrics.Track(TaskPostingSweep)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	result, err := j.Dispatcher.Sweep(ctx)
	if err != nil {
		j.logger().Error("posting sweep failed", slog.Any("error", err))
		return err
	}
	if result.Scanned > 0 || result.Requeued > 0 {
		j.logger().Info("posting sweep completed",
			slog.Int("scanned", result.Scanned),
			slog.Int("succeeded", result.Succeeded),
			slog.Int("retrying", result.Retrying),
			slog.Int("failed", result.Failed),
			slog.Int("skipped", result.Skipped),
			slog.Int("requeued", result.Requeued),
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

// HandleDispatch dispatches the item named in the payload.
func (j *PostingJobs) HandleDispatch(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Dispatcher == nil {
		return errors.New("posting dispatch: handler not configured")
	}
	var payload PostingDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ItemID == uuid.Nil {
		return fmt.Errorf("posting dispatch: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskPostingDispatch)
	defer func() { err = tracker.End(err) }()

	logger := j.logger().With(slog.String("item_id", payload.ItemID.String()))
	outcome, err := j.Dispatcher.DispatchOne(ctx, payload.ItemID)
	if errors.Is(err, integration.ErrNotFound) {
		logger.Warn("posting dispatch: item not found")
		return fmt.Errorf("posting dispatch: %w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		logger.Error("posting dispatch failed", slog.Any("error", err))
		return err
	}
	logger.Info("posting dispatched", slog.String("outcome", outcome))
	return nil
}

// HandleDocumentReady stores the optional snapshot and queues the document.
func (j *PostingJobs) HandleDocumentReady(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Hooks == nil {
		return errors.New("document ready: handler not configured")
	}
	var payload DocumentReadyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("document ready: bad payload: %w", asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskDocumentReady)
	defer func() { err = tracker.End(err) }()

	logger := j.logger().With(
		slog.Int64("tenant_id", payload.TenantID),
		slog.String("doc_type", string(payload.DocType)),
		slog.String("doc_id", payload.DocID),
	)
	if payload.Snapshot != nil {
		if j.Snapshots == nil {
			return fmt.Errorf("document ready: snapshot given but no store configured: %w", asynq.SkipRetry)
		}
		if err := j.Snapshots.Save(ctx, *payload.Snapshot); err != nil {
			logger.Error("store document snapshot", slog.Any("error", err))
			return err
		}
	}
	err = j.Hooks.HandleDocumentReady(ctx, integration.DocumentReadyEvent{
		TenantID: payload.TenantID,
		DocType:  payload.DocType,
		DocID:    payload.DocID,
	})
	if errors.Is(err, integration.ErrValidation) {
		logger.Warn("document rejected", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (j *PostingJobs) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
