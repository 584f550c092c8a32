package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
	jobmetrics "github.com/odyssey-erp/odyssey-sync/internal/jobs"
)

type stubDispatcher struct {
	result     integration.SweepResult
	sweepErr   error
	dispatched []uuid.UUID
	outcome    string
	oneErr     error
}

func (s *stubDispatcher) Sweep(context.Context) (integration.SweepResult, error) {
	return s.result, s.sweepErr
}

func (s *stubDispatcher) DispatchOne(_ context.Context, id uuid.UUID) (string, error) {
	s.dispatched = append(s.dispatched, id)
	return s.outcome, s.oneErr
}

type stubSnapshots struct {
	saved []integration.Document
	err   error
}

func (s *stubSnapshots) Save(_ context.Context, doc integration.Document) error {
	s.saved = append(s.saved, doc)
	return s.err
}

type stubHooks struct {
	events []integration.DocumentReadyEvent
	err    error
}

func (s *stubHooks) HandleDocumentReady(_ context.Context, evt integration.DocumentReadyEvent) error {
	s.events = append(s.events, evt)
	return s.err
}

func newJobs() (*PostingJobs, *stubDispatcher, *stubSnapshots, *stubHooks) {
	d, s, h := &stubDispatcher{outcome: integration.OutcomeSuccess}, &stubSnapshots{}, &stubHooks{}
	return NewPostingJobs(d, s, h, nil, jobmetrics.NewMetrics(prometheus.NewRegistry())), d, s, h
}

func TestHandleSweep(t *testing.T) {
	j, d, _, _ := newJobs()
	d.result = integration.SweepResult{Scanned: 3, Succeeded: 2, Retrying: 1}
	require.NoError(t, j.HandleSweep(context.Background(), NewPostingSweepTask(time.Minute)))

	d.sweepErr = errors.New("db down")
	assert.Error(t, j.HandleSweep(context.Background(), NewPostingSweepTask(0)))
}

func TestHandleDispatch(t *testing.T) {
	j, d, _, _ := newJobs()
	id := uuid.New()
	task, err := NewPostingDispatchTask(id)
	require.NoError(t, err)

	require.NoError(t, j.HandleDispatch(context.Background(), task))
	assert.Equal(t, []uuid.UUID{id}, d.dispatched)

	d.oneErr = integration.ErrNotFound
	err = j.HandleDispatch(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = j.HandleDispatch(context.Background(), asynq.NewTask(TaskPostingDispatch, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	_, err = NewPostingDispatchTask(uuid.Nil)
	assert.Error(t, err)
}

func TestHandleDocumentReadyStoresSnapshotFirst(t *testing.T) {
	j, _, snaps, hooks := newJobs()
	doc := integration.Document{
		TenantID: 4,
		DocType:  integration.DocInvoice,
		DocID:    "INV-9",
		Number:   "INV-9",
		Date:     time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		Currency: "USD",
		Lines:    []integration.DocumentLine{{SKU: "A", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("4.50")}},
	}
	task, err := NewDocumentReadyTask(DocumentReadyPayload{TenantID: 4, DocType: integration.DocInvoice, DocID: "INV-9", Snapshot: &doc})
	require.NoError(t, err)

	require.NoError(t, j.HandleDocumentReady(context.Background(), task))
	require.Len(t, snaps.saved, 1)
	assert.True(t, snaps.saved[0].Lines[0].UnitPrice.Equal(decimal.RequireFromString("4.5")))
	assert.Equal(t, []integration.DocumentReadyEvent{{TenantID: 4, DocType: integration.DocInvoice, DocID: "INV-9"}}, hooks.events)

	snaps.err = errors.New("db down")
	assert.Error(t, j.HandleDocumentReady(context.Background(), task))
	assert.Len(t, hooks.events, 1)
}

func TestHandleDocumentReadyRejectsBadPayload(t *testing.T) {
	j, _, _, hooks := newJobs()

	body, err := json.Marshal(DocumentReadyPayload{TenantID: 1, DocType: "payslip", DocID: "1"})
	require.NoError(t, err)
	err = j.HandleDocumentReady(context.Background(), asynq.NewTask(TaskDocumentReady, body))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	hooks.err = &integration.ValidationError{Field: "docId", Reason: "is required"}
	task, err := NewDocumentReadyTask(DocumentReadyPayload{TenantID: 1, DocType: integration.DocCustomer, DocID: "C-1"})
	require.NoError(t, err)
	assert.ErrorIs(t, j.HandleDocumentReady(context.Background(), task), asynq.SkipRetry)

	_, err = NewDocumentReadyTask(DocumentReadyPayload{TenantID: 1, DocType: integration.DocCustomer, DocID: "C-1",
		Snapshot: &integration.Document{TenantID: 1, DocType: integration.DocCustomer, DocID: "C-2"}})
	assert.Error(t, err)
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	if r.err != nil {
		return nil, r.err
	}
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (r *recordingEnqueuer) Close() error { return nil }

func TestClientScheduleDispatch(t *testing.T) {
	rec := &recordingEnqueuer{}
	client := &Client{client: rec}
	id := uuid.New()

	require.NoError(t, client.ScheduleDispatch(context.Background(), id))
	require.Len(t, rec.tasks, 1)
	assert.Equal(t, TaskPostingDispatch, rec.tasks[0].Type())

	var payload PostingDispatchPayload
	require.NoError(t, json.Unmarshal(rec.tasks[0].Payload(), &payload))
	assert.Equal(t, id, payload.ItemID)

	rec.err = asynq.ErrTaskIDConflict
	assert.NoError(t, client.ScheduleDispatch(context.Background(), id))

	rec.err = errors.New("redis down")
	assert.Error(t, client.ScheduleDispatch(context.Background(), id))
}

func TestClientEnqueueDocumentReady(t *testing.T) {
	rec := &recordingEnqueuer{}
	client := NewClientWithEnqueuer(rec)

	_, err := client.EnqueueDocumentReady(context.Background(), DocumentReadyPayload{TenantID: 42, DocType: "receipt", DocID: "R-1"})
	require.Error(t, err)
	assert.Empty(t, rec.tasks)

	info, err := client.EnqueueDocumentReady(context.Background(), DocumentReadyPayload{TenantID: 42, DocType: integration.DocInvoice, DocID: "INV-9"})
	require.NoError(t, err)
	assert.Equal(t, TaskDocumentReady, info.Type)

	var payload DocumentReadyPayload
	require.NoError(t, json.Unmarshal(rec.tasks[0].Payload(), &payload))
	assert.Equal(t, int64(42), payload.TenantID)
	assert.Equal(t, "INV-9", payload.DocID)
	assert.Nil(t, payload.Snapshot)
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestJobsHealth(t *testing.T) {
	h := NewHandler(stubInspector{infos: map[string]*asynq.QueueInfo{
		QueueIntegration: {Queue: QueueIntegration, Pending: 4, Retry: 1, Latency: 2 * time.Second},
	}}, nil)
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	assert.Equal(t, queueHealth{Queue: QueueIntegration, Pending: 4, Retry: 1, LatencyMS: 2000}, body.Queues[0])
	assert.Equal(t, queueHealth{Queue: QueueDefault}, body.Queues[1])
}
