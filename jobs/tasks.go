package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueIntegration carries posting work so provider slowness cannot starve other jobs.
	QueueIntegration = "integration"

	// TaskPostingSweep dispatches one batch of eligible posting queue items.
	TaskPostingSweep = "integration:posting:sweep"
	// TaskPostingDispatch dispatches a single queue item immediately.
	TaskPostingDispatch = "integration:posting:dispatch"
	// TaskDocumentReady announces a document that operational modules want posted.
	TaskDocumentReady = "integration:document:ready"
)

// PostingDispatchPayload identifies the item to dispatch.
type PostingDispatchPayload struct {
	ItemID uuid.UUID `json:"item_id"`
}

// DocumentReadyPayload carries the document reference and, optionally, the
// snapshot to store before it is queued.
type DocumentReadyPayload struct {
	TenantID int64                 `json:"tenant_id"`
	DocType  integration.DocType   `json:"doc_type"`
	DocID    string                `json:"doc_id"`
	Snapshot *integration.Document `json:"snapshot,omitempty"`
}

// Validate checks the payload before it is enqueued or handled.
func (p DocumentReadyPayload) Validate() error {
	if p.TenantID <= 0 {
		return fmt.Errorf("document ready: tenant_id required")
	}
	if !p.DocType.IsValid() {
		return fmt.Errorf("document ready: unknown doc_type %q", p.DocType)
	}
	if strings.TrimSpace(p.DocID) == "" {
		return fmt.Errorf("document ready: doc_id required")
	}
	if p.Snapshot != nil && (p.Snapshot.DocType != p.DocType || p.Snapshot.DocID != p.DocID || p.Snapshot.TenantID != p.TenantID) {
		return fmt.Errorf("document ready: snapshot does not match %s/%s", p.DocType, p.DocID)
	}
	return nil
}

// NewPostingSweepTask constructs the recurring sweep task. The sweep is
// unique for its interval so a slow run is not stacked.
func NewPostingSweepTask(uniqueFor time.Duration) *asynq.Task {
	opts := []asynq.Option{asynq.Queue(QueueIntegration), asynq.MaxRetry(0)}
	if uniqueFor > 0 {
		opts = append(opts, asynq.Unique(uniqueFor))
	}
	return asynq.NewTask(TaskPostingSweep, nil, opts...)
}

// NewPostingDispatchTask constructs a dispatch task for one item. The task id
// is derived from the item so repeated requests collapse while one is queued.
func NewPostingDispatchTask(itemID uuid.UUID) (*asynq.Task, error) {
	if itemID == uuid.Nil {
		return nil, fmt.Errorf("posting dispatch: item id required")
	}
	body, err := json.Marshal(PostingDispatchPayload{ItemID: itemID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPostingDispatch, body,
		asynq.Queue(QueueIntegration),
		asynq.TaskID("dispatch:"+itemID.String()),
		asynq.MaxRetry(0),
	), nil
}

// NewDocumentReadyTask constructs a document-ready task.
func NewDocumentReadyTask(payload DocumentReadyPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDocumentReady, body, asynq.Queue(QueueIntegration), asynq.MaxRetry(5)), nil
}
