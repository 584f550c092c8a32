package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists connections and posting queue items.
type Repository interface {
	// Connections
	ListConnections(ctx context.Context, tenantID int64) ([]Connection, error)
	GetConnection(ctx context.Context, id uuid.UUID) (Connection, error)
	FindConnection(ctx context.Context, tenantID int64, typ ConnectionType) (Connection, error)
	InsertConnection(ctx context.Context, conn Connection) (Connection, error)
	// UpdateConnection writes conn only while the stored status still equals expect.
	UpdateConnection(ctx context.Context, conn Connection, expect ConnectionStatus) (Connection, error)
	MarkConnectionError(ctx context.Context, id uuid.UUID, message string, at time.Time) error
	MarkConnectionSynced(ctx context.Context, id uuid.UUID, at time.Time) error

	// Queue
	EnqueueItem(ctx context.Context, item PostingItem) (PostingItem, bool, error)
	// FindOpenItem returns the unfinished item for a document or ErrNotFound.
	FindOpenItem(ctx context.Context, tenantID int64, docType DocType, docID string) (PostingItem, error)
	GetItem(ctx context.Context, id uuid.UUID) (PostingItem, error)
	ListItems(ctx context.Context, tenantID int64, filter ListFilter) ([]PostingItem, int, error)
	CountByStatus(ctx context.Context, tenantID int64) (map[PostingStatus]int, error)
	ListEligible(ctx context.Context, now time.Time, limit int) ([]PostingItem, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]PostingItem, error)
	ClaimItem(ctx context.Context, id uuid.UUID, now time.Time) (PostingItem, error)
	// CompleteItem persists the outcome of a PROCESSING item.
	CompleteItem(ctx context.Context, item PostingItem) error
	RetryItem(ctx context.Context, id uuid.UUID, now time.Time) (PostingItem, error)
}

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs the repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const connectionColumns = `id, tenant_id, type, name, status, doc_types, credentials,
       last_sync_at, error_message, created_at, updated_at`

const itemColumns = `id, tenant_id, connection_id, connection_type, doc_type, doc_id, status,
       attempts, last_error, external_ref, next_attempt_at, created_at, updated_at`

func scanConnection(row pgx.Row) (Connection, error) {
	var (
		conn     Connection
		docTypes []string
	)
	err := row.Scan(
		&conn.ID, &conn.TenantID, &conn.Type, &conn.Name, &conn.Status, &docTypes, &conn.Credentials,
		&conn.LastSyncAt, &conn.ErrorMessage, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, err
	}
	conn.DocTypes = toDocTypes(docTypes)
	return conn, nil
}

func scanItem(row pgx.Row) (PostingItem, error) {
	var item PostingItem
	err := row.Scan(
		&item.ID, &item.TenantID, &item.ConnectionID, &item.ConnectionType, &item.DocType, &item.DocID,
		&item.Status, &item.Attempts, &item.LastError, &item.ExternalRef, &item.NextAttemptAt,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PostingItem{}, ErrNotFound
		}
		return PostingItem{}, err
	}
	return item, nil
}

func collectItems(rows pgx.Rows) ([]PostingItem, error) {
	defer rows.Close()
	var items []PostingItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func qualified(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func toDocTypes(values []string) []DocType {
	if len(values) == 0 {
		return nil
	}
	out := make([]DocType, 0, len(values))
	for _, v := range values {
		out = append(out, DocType(v))
	}
	return out
}

func fromDocTypes(values []DocType) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ListConnections returns every connection of the tenant regardless of status.
func (r *PostgresRepository) ListConnections(ctx context.Context, tenantID int64) ([]Connection, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+connectionColumns+`
		FROM integration_connections
		WHERE tenant_id = $1
		ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()
	var out []Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

// GetConnection loads a connection by id.
func (r *PostgresRepository) GetConnection(ctx context.Context, id uuid.UUID) (Connection, error) {
	return scanConnection(r.pool.QueryRow(ctx, `SELECT `+connectionColumns+`
		FROM integration_connections WHERE id = $1`, id))
}

// FindConnection loads the tenant's connection of the given type.
func (r *PostgresRepository) FindConnection(ctx context.Context, tenantID int64, typ ConnectionType) (Connection, error) {
	return scanConnection(r.pool.QueryRow(ctx, `SELECT `+connectionColumns+`
		FROM integration_connections WHERE tenant_id = $1 AND type = $2`, tenantID, typ))
}

// InsertConnection creates a connection row. A concurrent insert for the same
// (tenant, type) surfaces as ErrConflict.
func (r *PostgresRepository) InsertConnection(ctx context.Context, conn Connection) (Connection, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO integration_connections
		(id, tenant_id, type, name, status, doc_types, credentials, last_sync_at, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING `+connectionColumns,
		conn.ID, conn.TenantID, conn.Type, conn.Name, conn.Status, fromDocTypes(conn.DocTypes), conn.Credentials,
		conn.LastSyncAt, conn.ErrorMessage, conn.CreatedAt,
	)
	created, err := scanConnection(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Connection{}, fmt.Errorf("insert connection: %w", ErrConflict)
		}
		return Connection{}, fmt.Errorf("insert connection: %w", err)
	}
	return created, nil
}

// UpdateConnection applies a compare-and-set on status.
func (r *PostgresRepository) UpdateConnection(ctx context.Context, conn Connection, expect ConnectionStatus) (Connection, error) {
	row := r.pool.QueryRow(ctx, `UPDATE integration_connections
		SET name = $3, status = $4, doc_types = $5, credentials = $6, error_message = $7, updated_at = $8
		WHERE id = $1 AND status = $2
		RETURNING `+connectionColumns,
		conn.ID, expect, conn.Name, conn.Status, fromDocTypes(conn.DocTypes), conn.Credentials, conn.ErrorMessage, conn.UpdatedAt,
	)
	updated, err := scanConnection(row)
	if errors.Is(err, ErrNotFound) {
		return Connection{}, ErrStale
	}
	if err != nil {
		return Connection{}, fmt.Errorf("update connection: %w", err)
	}
	return updated, nil
}

// MarkConnectionError flips a CONNECTED connection to ERROR.
func (r *PostgresRepository) MarkConnectionError(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE integration_connections
		SET status = 'ERROR', error_message = $2, updated_at = $3
		WHERE id = $1 AND status = 'CONNECTED'`, id, message, at)
	if err != nil {
		return fmt.Errorf("mark connection error: %w", err)
	}
	return nil
}

// MarkConnectionSynced records a successful posting through the connection.
func (r *PostgresRepository) MarkConnectionSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE integration_connections
		SET last_sync_at = GREATEST(COALESCE(last_sync_at, $2), $2)
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark connection synced: %w", err)
	}
	return nil
}

// EnqueueItem inserts item unless an unfinished item exists for the same
// document, in which case the existing row is returned with created=false.
func (r *PostgresRepository) EnqueueItem(ctx context.Context, item PostingItem) (PostingItem, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		row := r.pool.QueryRow(ctx, `INSERT INTO posting_queue_items
			(id, tenant_id, connection_id, connection_type, doc_type, doc_id, status, attempts, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', 0, $7, $7)
			ON CONFLICT (tenant_id, doc_type, doc_id) WHERE status <> 'SUCCESS' DO NOTHING
			RETURNING `+itemColumns,
			item.ID, item.TenantID, item.ConnectionID, item.ConnectionType, item.DocType, item.DocID, item.CreatedAt,
		)
		created, err := scanItem(row)
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return PostingItem{}, false, fmt.Errorf("enqueue item: %w", err)
		}
		existing, err := r.FindOpenItem(ctx, item.TenantID, item.DocType, item.DocID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return PostingItem{}, false, fmt.Errorf("load existing item: %w", err)
		}
		// The conflicting item finished between the insert and the read.
	}
	return PostingItem{}, false, fmt.Errorf("enqueue item: %w", ErrStale)
}

// FindOpenItem loads the item for a document that has not reached SUCCESS.
func (r *PostgresRepository) FindOpenItem(ctx context.Context, tenantID int64, docType DocType, docID string) (PostingItem, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+`
		FROM posting_queue_items
		WHERE tenant_id = $1 AND doc_type = $2 AND doc_id = $3 AND status <> 'SUCCESS'`,
		tenantID, docType, docID))
}

// GetItem loads a queue item by id.
func (r *PostgresRepository) GetItem(ctx context.Context, id uuid.UUID) (PostingItem, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM posting_queue_items WHERE id = $1`, id))
}

// ListItems returns one FIFO page of the tenant's queue and the total match count.
func (r *PostgresRepository) ListItems(ctx context.Context, tenantID int64, filter ListFilter) ([]PostingItem, int, error) {
	filter = filter.Normalize()
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posting_queue_items WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM posting_queue_items
		WHERE %s
		ORDER BY created_at, id
		LIMIT $%d OFFSET $%d`, itemColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CountByStatus returns item counts per status for the tenant.
func (r *PostgresRepository) CountByStatus(ctx context.Context, tenantID int64) (map[PostingStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM posting_queue_items
		WHERE tenant_id = $1 GROUP BY status`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	out := make(map[PostingStatus]int)
	for rows.Next() {
		var (
			status PostingStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

// ListEligible returns due PENDING and RETRYING items whose connection is
// CONNECTED, oldest first.
func (r *PostgresRepository) ListEligible(ctx context.Context, now time.Time, limit int) ([]PostingItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+qualified(itemColumns, "q")+`
		FROM posting_queue_items q
		JOIN integration_connections c ON c.id = q.connection_id
		WHERE q.status IN ('PENDING', 'RETRYING')
		  AND (q.next_attempt_at IS NULL OR q.next_attempt_at <= $1)
		  AND c.status = 'CONNECTED'
		ORDER BY q.created_at, q.id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list eligible: %w", err)
	}
	return collectItems(rows)
}

// ListStale returns PROCESSING items untouched since cutoff.
func (r *PostgresRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]PostingItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+`
		FROM posting_queue_items
		WHERE status = 'PROCESSING' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	return collectItems(rows)
}

// ClaimItem moves an eligible item to PROCESSING and counts the attempt.
// ErrAlreadyClaimed is returned when another worker won the race.
func (r *PostgresRepository) ClaimItem(ctx context.Context, id uuid.UUID, now time.Time) (PostingItem, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `UPDATE posting_queue_items
		SET status = 'PROCESSING', attempts = attempts + 1, next_attempt_at = NULL, updated_at = $2
		WHERE id = $1 AND status IN ('PENDING', 'RETRYING')
		RETURNING `+itemColumns, id, now))
	if errors.Is(err, ErrNotFound) {
		return PostingItem{}, ErrAlreadyClaimed
	}
	if err != nil {
		return PostingItem{}, fmt.Errorf("claim item: %w", err)
	}
	return item, nil
}

// CompleteItem writes the outcome fields of a PROCESSING item.
func (r *PostgresRepository) CompleteItem(ctx context.Context, item PostingItem) error {
	tag, err := r.pool.Exec(ctx, `UPDATE posting_queue_items
		SET status = $2, last_error = $3, external_ref = $4, next_attempt_at = $5, updated_at = $6
		WHERE id = $1 AND status = 'PROCESSING' AND attempts = $7`,
		item.ID, item.Status, item.LastError, item.ExternalRef, item.NextAttemptAt, item.UpdatedAt, item.Attempts)
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

// RetryItem moves a FAILED item to RETRYING.
func (r *PostgresRepository) RetryItem(ctx context.Context, id uuid.UUID, now time.Time) (PostingItem, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `UPDATE posting_queue_items
		SET status = 'RETRYING', next_attempt_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'FAILED'
		RETURNING `+itemColumns, id, now))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return PostingItem{}, fmt.Errorf("retry item: %w", err)
	}
	current, err := r.GetItem(ctx, id)
	if err != nil {
		return PostingItem{}, err
	}
	return PostingItem{}, &InvalidStateError{Op: "retry", Status: current.Status}
}
