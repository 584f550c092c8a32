package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-sync/internal/shared"
)

type memoryRepo struct {
	mu    sync.Mutex
	conns map[uuid.UUID]Connection
	items map[uuid.UUID]PostingItem
	// history records every stored attempts value per item.
	history map[uuid.UUID][]int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		conns:   make(map[uuid.UUID]Connection),
		items:   make(map[uuid.UUID]PostingItem),
		history: make(map[uuid.UUID][]int),
	}
}

func (m *memoryRepo) putItem(item PostingItem) {
	m.items[item.ID] = item
	m.history[item.ID] = append(m.history[item.ID], item.Attempts)
}

func (m *memoryRepo) ListConnections(_ context.Context, tenantID int64) ([]Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Connection
	for _, c := range m.conns {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryRepo) GetConnection(_ context.Context, id uuid.UUID) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return Connection{}, ErrNotFound
	}
	return c, nil
}

func (m *memoryRepo) FindConnection(_ context.Context, tenantID int64, typ ConnectionType) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		if c.TenantID == tenantID && c.Type == typ {
			return c, nil
		}
	}
	return Connection{}, ErrNotFound
}

func (m *memoryRepo) InsertConnection(_ context.Context, conn Connection) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		if c.TenantID == conn.TenantID && c.Type == conn.Type {
			return Connection{}, ErrConflict
		}
	}
	m.conns[conn.ID] = conn
	return conn, nil
}

func (m *memoryRepo) UpdateConnection(_ context.Context, conn Connection, expect ConnectionStatus) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.conns[conn.ID]
	if !ok || current.Status != expect {
		return Connection{}, ErrStale
	}
	conn.CreatedAt = current.CreatedAt
	conn.LastSyncAt = current.LastSyncAt
	m.conns[conn.ID] = conn
	return conn, nil
}

func (m *memoryRepo) MarkConnectionError(_ context.Context, id uuid.UUID, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok || c.Status != ConnectionConnected {
		return nil
	}
	c.Status = ConnectionError
	c.ErrorMessage = &message
	c.UpdatedAt = at
	m.conns[id] = c
	return nil
}

func (m *memoryRepo) MarkConnectionSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil
	}
	c.LastSyncAt = &at
	m.conns[id] = c
	return nil
}

func (m *memoryRepo) EnqueueItem(_ context.Context, item PostingItem) (PostingItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.TenantID == item.TenantID && existing.DocType == item.DocType &&
			existing.DocID == item.DocID && existing.Status != PostingSuccess {
			return existing, false, nil
		}
	}
	item.Status = PostingPending
	item.Attempts = 0
	m.putItem(item)
	return item, true, nil
}

func (m *memoryRepo) FindOpenItem(_ context.Context, tenantID int64, docType DocType, docID string) (PostingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.TenantID == tenantID && existing.DocType == docType &&
			existing.DocID == docID && existing.Status != PostingSuccess {
			return existing, nil
		}
	}
	return PostingItem{}, ErrNotFound
}

func (m *memoryRepo) GetItem(_ context.Context, id uuid.UUID) (PostingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return PostingItem{}, ErrNotFound
	}
	return item, nil
}

func (m *memoryRepo) sorted(filter func(PostingItem) bool) []PostingItem {
	var out []PostingItem
	for _, item := range m.items {
		if filter(item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *memoryRepo) ListItems(_ context.Context, tenantID int64, filter ListFilter) ([]PostingItem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	filter = filter.Normalize()
	all := m.sorted(func(item PostingItem) bool {
		return item.TenantID == tenantID && (filter.Status == nil || item.Status == *filter.Status)
	})
	start := filter.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (m *memoryRepo) CountByStatus(_ context.Context, tenantID int64) (map[PostingStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[PostingStatus]int)
	for _, item := range m.items {
		if item.TenantID == tenantID {
			out[item.Status]++
		}
	}
	return out, nil
}

func (m *memoryRepo) ListEligible(_ context.Context, now time.Time, limit int) ([]PostingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(item PostingItem) bool {
		return item.Status.Eligible() && (item.NextAttemptAt == nil || !item.NextAttemptAt.After(now))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepo) ListStale(_ context.Context, cutoff time.Time, limit int) ([]PostingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(item PostingItem) bool {
		return item.Status == PostingProcessing && item.UpdatedAt.Before(cutoff)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepo) ClaimItem(_ context.Context, id uuid.UUID, now time.Time) (PostingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || !item.Status.Eligible() {
		return PostingItem{}, ErrAlreadyClaimed
	}
	item.Status = PostingProcessing
	item.Attempts++
	item.NextAttemptAt = nil
	item.UpdatedAt = now
	m.putItem(item)
	return item, nil
}

func (m *memoryRepo) CompleteItem(ctx context.Context, item PostingItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[item.ID]
	if !ok || current.Status != PostingProcessing || current.Attempts != item.Attempts {
		return ErrStale
	}
	m.putItem(item)
	return nil
}

func (m *memoryRepo) RetryItem(_ context.Context, id uuid.UUID, now time.Time) (PostingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return PostingItem{}, ErrNotFound
	}
	if item.Status != PostingFailed {
		return PostingItem{}, &InvalidStateError{Op: "retry", Status: item.Status}
	}
	item.Status = PostingRetrying
	item.NextAttemptAt = nil
	item.UpdatedAt = now
	m.putItem(item)
	return item, nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, log.Action)
	return nil
}
