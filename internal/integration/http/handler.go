// Package integrationhttp exposes the integration registry and posting queue over HTTP.
package integrationhttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
	"github.com/odyssey-erp/odyssey-sync/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-sync/internal/rbac"
	"github.com/odyssey-erp/odyssey-sync/internal/shared"
)

// ConnectionRegistry is the subset of integration.ConnectionService used by the handler.
type ConnectionRegistry interface {
	Connect(ctx context.Context, in integration.ConnectInput) (integration.Connection, error)
	Disconnect(ctx context.Context, tenantID, actorID int64, id uuid.UUID) (integration.Connection, error)
	Authorize(ctx context.Context, in integration.AuthorizeInput) (integration.Connection, error)
	List(ctx context.Context, tenantID int64) ([]integration.Connection, error)
}

// PostingQueue is the subset of integration.QueueService used by the handler.
type PostingQueue interface {
	Enqueue(ctx context.Context, tenantID int64, docType integration.DocType, docID string) (integration.PostingItem, bool, error)
	Get(ctx context.Context, tenantID int64, id uuid.UUID) (integration.PostingItem, error)
	List(ctx context.Context, tenantID int64, filter integration.ListFilter) (integration.Page, error)
	Retry(ctx context.Context, tenantID, actorID int64, id uuid.UUID) (integration.PostingItem, error)
	Stats(ctx context.Context, tenantID int64) (map[integration.PostingStatus]int, error)
}

// Handler serves /integrations.
type Handler struct {
	logger      *slog.Logger
	connections ConnectionRegistry
	queue       PostingQueue
	rbac        rbac.Middleware
	validator   *validator.Validate
}

// NewHandler constructs the integration HTTP handler.
func NewHandler(logger *slog.Logger, connections ConnectionRegistry, queue PostingQueue, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	return &Handler{
		logger:      logger,
		connections: connections,
		queue:       queue,
		rbac:        rbac,
		validator:   v,
	}
}

type credentialsRequest struct {
	AccessToken  string     `json:"accessToken" validate:"omitempty,max=4096"`
	RefreshToken string     `json:"refreshToken" validate:"omitempty,max=4096"`
	APIKey       string     `json:"apiKey" validate:"omitempty,max=1024"`
	TenantRef    string     `json:"tenantRef" validate:"omitempty,max=255"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

func (c credentialsRequest) toDomain() integration.Credentials {
	return integration.Credentials{
		AccessToken:  strings.TrimSpace(c.AccessToken),
		RefreshToken: strings.TrimSpace(c.RefreshToken),
		APIKey:       strings.TrimSpace(c.APIKey),
		TenantRef:    strings.TrimSpace(c.TenantRef),
		ExpiresAt:    c.ExpiresAt,
	}
}

type connectRequest struct {
	Name        string              `json:"name"`
	DocTypes    []string            `json:"docTypes" validate:"omitempty,dive,oneof=invoice credit_note stock_journal customer supplier"`
	Credentials *credentialsRequest `json:"credentials" validate:"omitempty"`
}

type authorizeRequest struct {
	Credentials credentialsRequest `json:"credentials"`
}

type enqueueRequest struct {
	DocType string `json:"docType" validate:"required,oneof=invoice credit_note stock_journal customer supplier"`
	DocID   string `json:"docId" validate:"required,max=128"`
}

type listQuery struct {
	Status string `json:"status" validate:"omitempty,oneof=PENDING PROCESSING SUCCESS FAILED RETRYING"`
	Page   int    `json:"page" validate:"gte=0"`
	Limit  int    `json:"limit" validate:"gte=0,lte=100"`
}

type listResponse struct {
	Data []integration.PostingItem `json:"data"`
	Meta shared.Pagination         `json:"meta"`
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	conns, err := h.connections.List(r.Context(), principal.TenantID)
	if err != nil {
		h.respondError(w, r, "list connections", err)
		return
	}
	if conns == nil {
		conns = []integration.Connection{}
	}
	httpx.JSON(w, http.StatusOK, conns)
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req connectRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	in := integration.ConnectInput{
		TenantID: principal.TenantID,
		ActorID:  principal.UserID,
		Type:     integration.ConnectionType(strings.ToLower(chi.URLParam(r, "type"))),
		Name:     req.Name,
	}
	for _, dt := range req.DocTypes {
		in.DocTypes = append(in.DocTypes, integration.DocType(dt))
	}
	if req.Credentials != nil {
		creds := req.Credentials.toDomain()
		in.Credentials = &creds
	}
	conn, err := h.connections.Connect(r.Context(), in)
	if err != nil {
		h.respondError(w, r, "connect integration", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, conn)
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	conn, err := h.connections.Disconnect(r.Context(), principal.TenantID, principal.UserID, id)
	if err != nil {
		h.respondError(w, r, "disconnect integration", err)
		return
	}
	httpx.JSON(w, http.StatusOK, conn)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req authorizeRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	conn, err := h.connections.Authorize(r.Context(), integration.AuthorizeInput{
		TenantID:     principal.TenantID,
		ActorID:      principal.UserID,
		ConnectionID: id,
		Credentials:  req.Credentials.toDomain(),
	})
	if err != nil {
		h.respondError(w, r, "authorize integration", err)
		return
	}
	httpx.JSON(w, http.StatusOK, conn)
}

func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	query, fields := parseListQuery(r)
	if len(fields) == 0 {
		fields = h.validate(query)
	}
	if len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	filter := integration.ListFilter{Page: query.Page, Limit: query.Limit}
	if query.Status != "" {
		status := integration.PostingStatus(query.Status)
		filter.Status = &status
	}
	page, err := h.queue.List(r.Context(), principal.TenantID, filter)
	if err != nil {
		h.respondError(w, r, "list posting queue", err)
		return
	}
	items := page.Items
	if items == nil {
		items = []integration.PostingItem{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: items, Meta: page.Pagination})
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req enqueueRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	item, created, err := h.queue.Enqueue(r.Context(), principal.TenantID, integration.DocType(req.DocType), req.DocID)
	if err != nil {
		h.respondError(w, r, "enqueue posting", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, item)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	counts, err := h.queue.Stats(r.Context(), principal.TenantID)
	if err != nil {
		h.respondError(w, r, "posting queue stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": counts})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	item, err := h.queue.Get(r.Context(), principal.TenantID, id)
	if err != nil {
		h.respondError(w, r, "get posting item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	item, err := h.queue.Retry(r.Context(), principal.TenantID, principal.UserID, id)
	if err != nil {
		h.respondError(w, r, "retry posting item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (shared.Principal, bool) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "session required")
	}
	return principal, ok
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{"id": "must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// decode reads and validates a JSON body. An empty body is accepted only when allowEmpty is set.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return false
		}
	}
	if fields := h.validate(dst); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return false
	}
	return true
}

func (h *Handler) validate(v any) map[string]string {
	err := h.validator.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": err.Error()}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = describe(fe)
	}
	return fields
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *integration.ValidationError
	if errors.As(err, &verr) {
		httpx.ValidationProblem(w, map[string]string{verr.Field: verr.Reason})
		return
	}
	if status := statusOf(err); status != 0 {
		httpx.RespondError(w, httpx.WithStatus(status, err))
		return
	}
	h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, integration.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, integration.ErrConflict),
		errors.Is(err, integration.ErrInvalidState),
		errors.Is(err, integration.ErrNoConnection):
		return http.StatusConflict
	case errors.Is(err, integration.ErrUnsupportedMapping):
		return http.StatusUnprocessableEntity
	}
	return 0
}

func parseListQuery(r *http.Request) (listQuery, map[string]string) {
	values := r.URL.Query()
	query := listQuery{Status: strings.ToUpper(strings.TrimSpace(values.Get("status")))}
	fields := map[string]string{}
	for name, dst := range map[string]*int{"page": &query.Page, "limit": &query.Limit} {
		raw := strings.TrimSpace(values.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			fields[name] = "must be an integer"
			continue
		}
		*dst = n
	}
	return query, fields
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// fieldPath strips the struct name from the validator namespace, e.g.
// "connectRequest.docTypes[1]" becomes "docTypes[1]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "is invalid"
	}
}
