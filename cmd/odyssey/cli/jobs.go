package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
	"github.com/odyssey-erp/odyssey-sync/jobs"
)

// PostingStats counts a tenant's posting queue items.
type PostingStats interface {
	Stats(ctx context.Context, tenantID int64) (map[integration.PostingStatus]int, error)
}

// JobsCLI wraps manual management helpers for the posting jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector jobs.QueueInspector
	postings  PostingStats
	closers   []io.Closer
}

// NewJobsCLI builds the helpers. postings may be nil, in which case tenant
// statistics are unavailable.
func NewJobsCLI(client *jobs.Client, inspector jobs.QueueInspector, postings PostingStats, closers ...io.Closer) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector, postings: postings, closers: closers}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	for _, closer := range c.closers {
		if closer != nil {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

// TriggerSweep enqueues a sweep outside the cron schedule.
func (c *JobsCLI) TriggerSweep(ctx context.Context) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueSweep(ctx)
}

// TriggerDispatch enqueues an immediate dispatch of one item.
func (c *JobsCLI) TriggerDispatch(ctx context.Context, itemID uuid.UUID) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueDispatch(ctx, itemID)
}

// AnnounceDocument enqueues a document-ready task so the worker queues the
// document for every connection that accepts it.
func (c *JobsCLI) AnnounceDocument(ctx context.Context, payload jobs.DocumentReadyPayload) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueDocumentReady(ctx, payload)
}

// QueueStats summarises one Asynq queue.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueues reports the integration and default queues. Queues that have
// never received a task report zeros.
func (c *JobsCLI) InspectQueues() ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	var out []QueueStats
	for _, name := range []string{jobs.QueueIntegration, jobs.QueueDefault} {
		stats := QueueStats{Queue: name}
		info, err := c.inspector.GetQueueInfo(name)
		switch {
		case errors.Is(err, asynq.ErrQueueNotFound):
		case err != nil:
			return nil, err
		default:
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}

type statsReport struct {
	Queues   []QueueStats   `json:"queues"`
	TenantID int64          `json:"tenantId,omitempty"`
	Postings map[string]int `json:"postings,omitempty"`
}

func newJobsCommand(env Env, opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect posting jobs",
	}

	withJobs := func(run func(cmd *cobra.Command, args []string, c *JobsCLI) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) (err error) {
			if env.Jobs == nil {
				return errors.New("jobs: not configured")
			}
			c, err := env.Jobs()
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := c.Close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}()
			return run(cmd, args, c)
		}
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Enqueue a posting sweep now",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, args []string, c *JobsCLI) error {
			info, err := c.TriggerSweep(cmd.Context())
			if err != nil {
				return err
			}
			return renderTask(cmd.OutOrStdout(), opts, info)
		}),
	}

	dispatch := &cobra.Command{
		Use:   "dispatch <item-id>",
		Short: "Enqueue an immediate dispatch of one queue item",
		Args:  cobra.ExactArgs(1),
		RunE: withJobs(func(cmd *cobra.Command, args []string, c *JobsCLI) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("item id: %w", err)
			}
			info, err := c.TriggerDispatch(cmd.Context(), id)
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				fmt.Fprintf(cmd.OutOrStdout(), "dispatch for %s already queued\n", id)
				return nil
			}
			if err != nil {
				return err
			}
			return renderTask(cmd.OutOrStdout(), opts, info)
		}),
	}

	var doc jobs.DocumentReadyPayload
	var docType string
	announce := &cobra.Command{
		Use:   "document-ready",
		Short: "Announce a stored document so it is queued for posting",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, args []string, c *JobsCLI) error {
			doc.DocType = integration.DocType(docType)
			info, err := c.AnnounceDocument(cmd.Context(), doc)
			if err != nil {
				return err
			}
			return renderTask(cmd.OutOrStdout(), opts, info)
		}),
	}
	announce.Flags().Int64Var(&doc.TenantID, "tenant", 0, "tenant id")
	announce.Flags().StringVar(&docType, "type", "", "document type (invoice, credit_note, stock_journal, customer, supplier)")
	announce.Flags().StringVar(&doc.DocID, "id", "", "document id")
	_ = announce.MarkFlagRequired("tenant")
	_ = announce.MarkFlagRequired("type")
	_ = announce.MarkFlagRequired("id")

	var tenantID int64
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and, with --tenant, posting status counts",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, args []string, c *JobsCLI) error {
			queues, err := c.InspectQueues()
			if err != nil {
				return err
			}
			report := statsReport{Queues: queues}
			if tenantID > 0 {
				if c.postings == nil {
					return errors.New("jobs stats: posting statistics unavailable")
				}
				counts, err := c.postings.Stats(cmd.Context(), tenantID)
				if err != nil {
					return err
				}
				report.TenantID = tenantID
				report.Postings = make(map[string]int, len(counts))
				for status, n := range counts {
					report.Postings[string(status)] = n
				}
			}
			return render(cmd.OutOrStdout(), opts, report, func(w io.Writer) {
				for _, q := range report.Queues {
					fmt.Fprintf(w, "queue %-12s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
						q.Queue, q.Pending, q.Active, q.Scheduled, q.Retry, q.Archived)
				}
				if report.Postings != nil {
					statuses := make([]string, 0, len(report.Postings))
					for s := range report.Postings {
						statuses = append(statuses, s)
					}
					sort.Strings(statuses)
					fmt.Fprintf(w, "tenant %d postings:\n", report.TenantID)
					for _, s := range statuses {
						fmt.Fprintf(w, "  %-10s %d\n", s, report.Postings[s])
					}
				}
			})
		}),
	}
	stats.Flags().Int64Var(&tenantID, "tenant", 0, "tenant id for posting status counts")

	cmd.AddCommand(sweep, dispatch, announce, stats)
	return cmd
}

func renderTask(w io.Writer, opts *RootOptions, info *asynq.TaskInfo) error {
	out := map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue}
	return render(w, opts, out, func(w io.Writer) {
		fmt.Fprintf(w, "enqueued %s on %s (id %s)\n", info.Type, info.Queue, info.ID)
	})
}
