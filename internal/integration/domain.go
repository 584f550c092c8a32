// Package integration posts operational documents to external accounting systems.
package integration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConnectionType identifies an external accounting/ERP provider.
type ConnectionType string

const (
	TypeXero       ConnectionType = "xero"
	TypeSage       ConnectionType = "sage"
	TypeQuickBooks ConnectionType = "quickbooks"
	TypeEvolution  ConnectionType = "evolution"
	TypeSAPB1      ConnectionType = "sap_b1"
	TypeCustomAPI  ConnectionType = "custom_api"
)

// ConnectionTypes lists every supported provider.
func ConnectionTypes() []ConnectionType {
	return []ConnectionType{TypeXero, TypeSage, TypeQuickBooks, TypeEvolution, TypeSAPB1, TypeCustomAPI}
}

// IsValid reports whether t is a supported provider.
func (t ConnectionType) IsValid() bool {
	switch t {
	case TypeXero, TypeSage, TypeQuickBooks, TypeEvolution, TypeSAPB1, TypeCustomAPI:
		return true
	default:
		return false
	}
}

// Label is the default display name.
func (t ConnectionType) Label() string {
	switch t {
	case TypeXero:
		return "Xero"
	case TypeSage:
		return "Sage"
	case TypeQuickBooks:
		return "QuickBooks Online"
	case TypeEvolution:
		return "Sage Evolution"
	case TypeSAPB1:
		return "SAP Business One"
	case TypeCustomAPI:
		return "Custom API"
	default:
		return string(t)
	}
}

// RequiresCredentials reports whether the provider cannot be used before credentials are supplied.
func (t ConnectionType) RequiresCredentials() bool {
	return t != TypeCustomAPI
}

// ConnectionStatus is the lifecycle state of a connection.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "CONNECTED"
	ConnectionDisconnected ConnectionStatus = "DISCONNECTED"
	ConnectionError        ConnectionStatus = "ERROR"
	ConnectionPendingAuth  ConnectionStatus = "PENDING_AUTH"
)

// IsActive reports whether the connection still occupies its (tenant, type) slot.
func (s ConnectionStatus) IsActive() bool {
	return s != ConnectionDisconnected
}

// CanReactivate reports whether connect may revive the existing row in place.
func (s ConnectionStatus) CanReactivate() bool {
	return s == ConnectionDisconnected || s == ConnectionError
}

// DocType identifies the kind of internal document being posted.
type DocType string

const (
	DocInvoice      DocType = "invoice"
	DocCreditNote   DocType = "credit_note"
	DocStockJournal DocType = "stock_journal"
	DocCustomer     DocType = "customer"
	DocSupplier     DocType = "supplier"
)

// DocTypes lists every postable document type.
func DocTypes() []DocType {
	return []DocType{DocInvoice, DocCreditNote, DocStockJournal, DocCustomer, DocSupplier}
}

// IsValid reports whether d is a postable document type.
func (d DocType) IsValid() bool {
	switch d {
	case DocInvoice, DocCreditNote, DocStockJournal, DocCustomer, DocSupplier:
		return true
	default:
		return false
	}
}

// IsParty reports whether the document is master data rather than a transaction.
func (d DocType) IsParty() bool {
	return d == DocCustomer || d == DocSupplier
}

// PostingStatus is the lifecycle state of a queue item.
type PostingStatus string

const (
	PostingPending    PostingStatus = "PENDING"
	PostingProcessing PostingStatus = "PROCESSING"
	PostingSuccess    PostingStatus = "SUCCESS"
	PostingFailed     PostingStatus = "FAILED"
	PostingRetrying   PostingStatus = "RETRYING"
)

// PostingStatuses lists every queue item status.
func PostingStatuses() []PostingStatus {
	return []PostingStatus{PostingPending, PostingProcessing, PostingSuccess, PostingFailed, PostingRetrying}
}

// IsValid reports whether s is a known status.
func (s PostingStatus) IsValid() bool {
	switch s {
	case PostingPending, PostingProcessing, PostingSuccess, PostingFailed, PostingRetrying:
		return true
	default:
		return false
	}
}

// Eligible reports whether the dispatcher may claim an item in this status.
func (s PostingStatus) Eligible() bool {
	return s == PostingPending || s == PostingRetrying
}

// CanRetry reports whether an operator may request a manual retry.
func (s PostingStatus) CanRetry() bool {
	return s == PostingFailed
}

// Connection is a tenant's configured link to one provider.
type Connection struct {
	ID           uuid.UUID        `json:"id"`
	TenantID     int64            `json:"tenantId"`
	Type         ConnectionType   `json:"type"`
	Name         string           `json:"name"`
	Status       ConnectionStatus `json:"status"`
	DocTypes     []DocType        `json:"docTypes,omitempty"`
	LastSyncAt   *time.Time       `json:"lastSyncAt"`
	ErrorMessage *string          `json:"errorMessage"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`

	// Credentials holds the sealed provider credentials.
	Credentials []byte `json:"-"`
}

// Accepts reports whether documents of type d route through this connection.
// An empty DocTypes list accepts everything.
func (c Connection) Accepts(d DocType) bool {
	if len(c.DocTypes) == 0 {
		return true
	}
	for _, dt := range c.DocTypes {
		if dt == d {
			return true
		}
	}
	return false
}

// HasCredentials reports whether sealed credentials are stored.
func (c Connection) HasCredentials() bool {
	return len(c.Credentials) > 0
}

// PostingItem tracks the sync history of one document.
type PostingItem struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       int64          `json:"tenantId"`
	ConnectionID   uuid.UUID      `json:"connectionId"`
	ConnectionType ConnectionType `json:"connectionType"`
	DocType        DocType        `json:"docType"`
	DocID          string         `json:"docId"`
	Status         PostingStatus  `json:"status"`
	Attempts       int            `json:"attempts"`
	LastError      *string        `json:"lastError"`
	ExternalRef    *string        `json:"externalRef"`
	NextAttemptAt  *time.Time     `json:"nextAttemptAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// markSucceeded records a successful attempt. Attempts were counted at claim time.
func (i *PostingItem) markSucceeded(ref string, now time.Time) {
	i.Status = PostingSuccess
	i.ExternalRef = &ref
	i.LastError = nil
	i.NextAttemptAt = nil
	i.UpdatedAt = now
}

// markFailed records a failed attempt. Terminal failures skip the automatic budget.
func (i *PostingItem) markFailed(cause error, policy RetryPolicy, terminal bool, now time.Time) {
	msg := cause.Error()
	i.LastError = &msg
	i.ExternalRef = nil
	i.UpdatedAt = now
	if terminal || policy.Exhausted(i.Attempts) {
		i.Status = PostingFailed
		i.NextAttemptAt = nil
		return
	}
	next := now.Add(policy.Backoff(i.Attempts))
	i.Status = PostingRetrying
	i.NextAttemptAt = &next
}

// ListFilter narrows queue listings.
type ListFilter struct {
	Status *PostingStatus
	Page   int
	Limit  int
}

// Normalize applies default paging.
func (f ListFilter) Normalize() ListFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	return f
}

// Offset returns the row offset of the requested page.
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Credentials are the provider secrets held for a connection.
type Credentials struct {
	AccessToken  string     `json:"accessToken,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	APIKey       string     `json:"apiKey,omitempty"`
	TenantRef    string     `json:"tenantRef,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// IsZero reports whether no secret is present.
func (c Credentials) IsZero() bool {
	return c.AccessToken == "" && c.APIKey == "" && c.RefreshToken == ""
}

// Document is a read-only snapshot of an internal document.
type Document struct {
	TenantID  int64
	DocType   DocType
	DocID     string
	Number    string
	Date      time.Time
	DueDate   *time.Time
	Currency  string
	Reference string
	Memo      string
	Party     *Party
	Lines     []DocumentLine
}

// Party describes a customer or supplier.
type Party struct {
	Code      string
	Name      string
	Email     string
	Phone     string
	TaxNumber string
	Address   Address
}

// Address is a postal address.
type Address struct {
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// DocumentLine is one line of a transactional document. Stock journal lines use
// a signed Quantity and the unit cost in UnitPrice.
type DocumentLine struct {
	SKU           string
	Description   string
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	TaxRate       decimal.Decimal
	AccountCode   string
	WarehouseCode string
}

// ExternalPayload is a provider-specific representation ready to be sent.
type ExternalPayload struct {
	ConnectionType ConnectionType
	DocType        DocType
	Method         string
	Resource       string
	IdempotencyKey string
	Body           map[string]any
}

var idempotencyNamespace = uuid.MustParse("0f8a3f0e-5c7b-4b8e-9a51-6f0d2b9c7e11")

// IdempotencyKey derives the stable key sent to providers for a document.
func IdempotencyKey(tenantID int64, docType DocType, docID string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(fmt.Sprintf("%d:%s:%s", tenantID, docType, docID))).String()
}
