// Package mapper translates internal documents into provider payloads.
package mapper

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

// BuildFunc renders the provider body for a validated document. It must be
// pure so retries resend the same payload.
type BuildFunc func(doc integration.Document) (map[string]any, error)

// ResourceFunc picks the endpoint for a document. Most cells use a fixed path.
type ResourceFunc func(doc integration.Document) (string, error)

type key struct {
	doc  integration.DocType
	conn integration.ConnectionType
}

type cell struct {
	method   string
	resource ResourceFunc
	build    BuildFunc
}

// Registry holds one mapper per (document type, connection type) pair.
type Registry struct {
	cells map[key]cell
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{cells: make(map[key]cell)}
}

// Register installs a mapper with a fixed resource path.
func (r *Registry) Register(docType integration.DocType, connType integration.ConnectionType, method, resource string, build BuildFunc) {
	r.RegisterDynamic(docType, connType, method, func(integration.Document) (string, error) { return resource, nil }, build)
}

// RegisterDynamic installs a mapper whose resource depends on the document.
func (r *Registry) RegisterDynamic(docType integration.DocType, connType integration.ConnectionType, method string, resource ResourceFunc, build BuildFunc) {
	r.cells[key{doc: docType, conn: connType}] = cell{method: method, resource: resource, build: build}
}

// Supports reports whether a mapper exists for the pair.
func (r *Registry) Supports(docType integration.DocType, connType integration.ConnectionType) bool {
	_, ok := r.cells[key{doc: docType, conn: connType}]
	return ok
}

// Map validates doc and renders it for connType.
func (r *Registry) Map(doc integration.Document, connType integration.ConnectionType) (integration.ExternalPayload, error) {
	c, ok := r.cells[key{doc: doc.DocType, conn: connType}]
	if !ok {
		return integration.ExternalPayload{}, &integration.UnsupportedMappingError{DocType: doc.DocType, ConnectionType: connType}
	}
	normalized, err := validate(doc)
	if err != nil {
		return integration.ExternalPayload{}, err
	}
	resource, err := c.resource(normalized)
	if err != nil {
		return integration.ExternalPayload{}, err
	}
	body, err := c.build(normalized)
	if err != nil {
		return integration.ExternalPayload{}, fmt.Errorf("map %s for %s: %w", doc.DocType, connType, err)
	}
	return integration.ExternalPayload{
		ConnectionType: connType,
		DocType:        doc.DocType,
		Method:         c.method,
		Resource:       resource,
		IdempotencyKey: integration.IdempotencyKey(doc.TenantID, doc.DocType, doc.DocID),
		Body:           body,
	}, nil
}

// Pairs lists the registered pairs.
func (r *Registry) Pairs() map[integration.DocType][]integration.ConnectionType {
	out := make(map[integration.DocType][]integration.ConnectionType)
	for _, dt := range integration.DocTypes() {
		for _, ct := range integration.ConnectionTypes() {
			if r.Supports(dt, ct) {
				out[dt] = append(out[dt], ct)
			}
		}
	}
	return out
}

// Default returns a registry with every supported provider mapping.
// Xero and QuickBooks Online expose no stock journal endpoint.
func Default() *Registry {
	r := NewRegistry()
	registerXero(r)
	registerQuickBooks(r)
	registerSage(r)
	registerEvolution(r)
	registerSAPB1(r)
	registerCustom(r)
	return r
}
