package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/odyssey-sync/internal/shared"
)

const maxNameLength = 120

// AuditRecorder persists operator actions.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ConnectInput carries a connect request.
type ConnectInput struct {
	TenantID    int64
	ActorID     int64
	Type        ConnectionType
	Name        string
	DocTypes    []DocType
	Credentials *Credentials
}

// AuthorizeInput supplies credentials for an existing connection.
type AuthorizeInput struct {
	TenantID     int64
	ActorID      int64
	ConnectionID uuid.UUID
	Credentials  Credentials
}

// ConnectionService is the connection registry.
type ConnectionService struct {
	repo   Repository
	sealer *Sealer
	cache  *Cache
	audit  AuditRecorder
	logger *slog.Logger
	clock  func() time.Time
}

// NewConnectionService constructs the registry. cache and audit may be nil.
func NewConnectionService(repo Repository, sealer *Sealer, cache *Cache, audit AuditRecorder, logger *slog.Logger) *ConnectionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionService{repo: repo, sealer: sealer, cache: cache, audit: audit, logger: logger, clock: time.Now}
}

// Connect creates the tenant's connection for a provider or re-activates a
// DISCONNECTED or ERROR one in place. An existing CONNECTED or PENDING_AUTH
// connection yields a ConflictError.
func (s *ConnectionService) Connect(ctx context.Context, in ConnectInput) (Connection, error) {
	if !in.Type.IsValid() {
		return Connection{}, &ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not supported", in.Type)}
	}
	name, err := normalizeName(in.Name, in.Type)
	if err != nil {
		return Connection{}, err
	}
	docTypes, err := normalizeDocTypes(in.DocTypes)
	if err != nil {
		return Connection{}, err
	}
	var sealed []byte
	if in.Credentials != nil {
		if sealed, err = s.seal(*in.Credentials); err != nil {
			return Connection{}, err
		}
	}

	now := s.clock().UTC()
	existing, err := s.repo.FindConnection(ctx, in.TenantID, in.Type)
	var conn Connection
	switch {
	case errors.Is(err, ErrNotFound):
		conn, err = s.create(ctx, in, name, docTypes, sealed, now)
	case err != nil:
		return Connection{}, err
	case !existing.Status.CanReactivate():
		return Connection{}, conflictWith(existing)
	default:
		conn, err = s.reactivate(ctx, existing, name, docTypes, sealed, now)
	}
	if err != nil {
		return Connection{}, err
	}

	s.record(ctx, in.ActorID, "integration.connect", conn, map[string]any{"type": conn.Type, "status": conn.Status})
	s.invalidate(ctx, conn.TenantID, EntityIntegrations)
	s.logger.Info("integration connected",
		slog.Int64("tenant_id", conn.TenantID),
		slog.String("connection_id", conn.ID.String()),
		slog.String("type", string(conn.Type)),
		slog.String("status", string(conn.Status)))
	return conn, nil
}

func (s *ConnectionService) create(ctx context.Context, in ConnectInput, name string, docTypes []DocType, sealed []byte, now time.Time) (Connection, error) {
	conn := Connection{
		ID:          uuid.New(),
		TenantID:    in.TenantID,
		Type:        in.Type,
		Name:        name,
		Status:      initialStatus(in.Type, sealed),
		DocTypes:    docTypes,
		Credentials: sealed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := s.repo.InsertConnection(ctx, conn)
	if errors.Is(err, ErrConflict) {
		if current, findErr := s.repo.FindConnection(ctx, in.TenantID, in.Type); findErr == nil {
			return Connection{}, conflictWith(current)
		}
	}
	return created, err
}

func (s *ConnectionService) reactivate(ctx context.Context, existing Connection, name string, docTypes []DocType, sealed []byte, now time.Time) (Connection, error) {
	expect := existing.Status
	existing.Name = name
	existing.DocTypes = docTypes
	if sealed != nil {
		existing.Credentials = sealed
	}
	existing.Status = initialStatus(existing.Type, existing.Credentials)
	existing.ErrorMessage = nil
	existing.UpdatedAt = now
	updated, err := s.repo.UpdateConnection(ctx, existing, expect)
	if errors.Is(err, ErrStale) {
		current, findErr := s.repo.GetConnection(ctx, existing.ID)
		if findErr != nil {
			return Connection{}, findErr
		}
		if !current.Status.CanReactivate() {
			return Connection{}, conflictWith(current)
		}
	}
	return updated, err
}

// Disconnect marks the connection DISCONNECTED. Disconnecting an already
// disconnected connection succeeds without change.
func (s *ConnectionService) Disconnect(ctx context.Context, tenantID, actorID int64, id uuid.UUID) (Connection, error) {
	for attempt := 0; attempt < 3; attempt++ {
		conn, err := s.Get(ctx, tenantID, id)
		if err != nil {
			return Connection{}, err
		}
		if conn.Status == ConnectionDisconnected {
			return conn, nil
		}
		expect := conn.Status
		conn.Status = ConnectionDisconnected
		conn.ErrorMessage = nil
		conn.UpdatedAt = s.clock().UTC()
		updated, err := s.repo.UpdateConnection(ctx, conn, expect)
		if errors.Is(err, ErrStale) {
			continue
		}
		if err != nil {
			return Connection{}, err
		}
		s.record(ctx, actorID, "integration.disconnect", updated, map[string]any{"previous_status": expect})
		s.invalidate(ctx, tenantID, EntityIntegrations)
		s.logger.Info("integration disconnected",
			slog.Int64("tenant_id", tenantID),
			slog.String("connection_id", id.String()))
		return updated, nil
	}
	return Connection{}, ErrStale
}

// Authorize stores credentials and moves the connection to CONNECTED.
func (s *ConnectionService) Authorize(ctx context.Context, in AuthorizeInput) (Connection, error) {
	if in.Credentials.IsZero() {
		return Connection{}, &ValidationError{Field: "credentials", Reason: "must include a token or api key"}
	}
	conn, err := s.Get(ctx, in.TenantID, in.ConnectionID)
	if err != nil {
		return Connection{}, err
	}
	if conn.Status == ConnectionDisconnected {
		return Connection{}, fmt.Errorf("%w: connection is %s", ErrInvalidState, conn.Status)
	}
	sealed, err := s.seal(in.Credentials)
	if err != nil {
		return Connection{}, err
	}
	expect := conn.Status
	conn.Credentials = sealed
	conn.Status = ConnectionConnected
	conn.ErrorMessage = nil
	conn.UpdatedAt = s.clock().UTC()
	updated, err := s.repo.UpdateConnection(ctx, conn, expect)
	if err != nil {
		return Connection{}, err
	}
	s.record(ctx, in.ActorID, "integration.authorize", updated, map[string]any{"previous_status": expect})
	s.invalidate(ctx, in.TenantID, EntityIntegrations)
	return updated, nil
}

// List returns every connection of the tenant regardless of status.
func (s *ConnectionService) List(ctx context.Context, tenantID int64) ([]Connection, error) {
	load := func(ctx context.Context) (any, error) {
		conns, err := s.repo.ListConnections(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if conns == nil {
			conns = []Connection{}
		}
		return conns, nil
	}
	if s.cache == nil {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return value.([]Connection), nil
	}
	key, err := s.cache.Key(ctx, tenantID, EntityIntegrations, "list")
	if err != nil {
		s.logger.Warn("integration cache key", slog.Any("error", err))
		value, loadErr := load(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		return value.([]Connection), nil
	}
	var conns []Connection
	if err := s.cache.FetchJSON(ctx, key, &conns, load); err != nil {
		return nil, err
	}
	return conns, nil
}

// Get loads a tenant's connection by id.
func (s *ConnectionService) Get(ctx context.Context, tenantID int64, id uuid.UUID) (Connection, error) {
	conn, err := s.repo.GetConnection(ctx, id)
	if err != nil {
		return Connection{}, err
	}
	if conn.TenantID != tenantID {
		return Connection{}, ErrNotFound
	}
	return conn, nil
}

func (s *ConnectionService) seal(creds Credentials) ([]byte, error) {
	if creds.IsZero() {
		return nil, nil
	}
	if s.sealer == nil {
		return nil, errors.New("integration: credentials sealer not configured")
	}
	return s.sealer.Seal(creds)
}

func (s *ConnectionService) record(ctx context.Context, actorID int64, action string, conn Connection, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["tenant_id"] = conn.TenantID
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "integration_connection",
		EntityID: conn.ID.String(),
		Meta:     meta,
		At:       s.clock().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *ConnectionService) invalidate(ctx context.Context, tenantID int64, entities ...string) {
	if err := s.cache.Invalidate(ctx, tenantID, entities...); err != nil {
		s.logger.Warn("integration cache invalidate", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
	}
}

func initialStatus(typ ConnectionType, sealed []byte) ConnectionStatus {
	if len(sealed) == 0 && typ.RequiresCredentials() {
		return ConnectionPendingAuth
	}
	return ConnectionConnected
}

func conflictWith(conn Connection) error {
	return &ConflictError{TenantID: conn.TenantID, Type: conn.Type, ExistingID: conn.ID, Status: conn.Status}
}

func normalizeName(name string, typ ConnectionType) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		name = typ.Label()
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", &ValidationError{Field: "name", Reason: fmt.Sprintf("must be at most %d characters", maxNameLength)}
	}
	return name, nil
}

func normalizeDocTypes(in []DocType) ([]DocType, error) {
	if len(in) == 0 {
		return nil, nil
	}
	seen := make(map[DocType]struct{}, len(in))
	out := make([]DocType, 0, len(in))
	for _, dt := range in {
		if !dt.IsValid() {
			return nil, &ValidationError{Field: "docTypes", Reason: fmt.Sprintf("%q is not a document type", dt)}
		}
		if _, ok := seen[dt]; ok {
			continue
		}
		seen[dt] = struct{}{}
		out = append(out, dt)
	}
	return out, nil
}
