package integration

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	ErrNotFound           = errors.New("integration: not found")
	ErrValidation         = errors.New("integration: validation failed")
	ErrConflict           = errors.New("integration: active connection already exists")
	ErrInvalidState       = errors.New("integration: invalid state for operation")
	ErrUnsupportedMapping = errors.New("integration: unsupported mapping")
	ErrExternalCall       = errors.New("integration: external call failed")
	ErrAuth               = errors.New("integration: provider rejected credentials")
	ErrNoConnection       = errors.New("integration: no active connection accepts document type")
	ErrAlreadyClaimed     = errors.New("integration: item already claimed")
	ErrConnectionOffline  = errors.New("integration: connection not connected")
	ErrStale              = errors.New("integration: record changed concurrently")
)

// ConflictError reports an active connection blocking connect.
type ConflictError struct {
	TenantID   int64
	Type       ConnectionType
	ExistingID uuid.UUID
	Status     ConnectionStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("integration: %s connection %s is %s; disconnect it first", e.Type, e.ExistingID, e.Status)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// InvalidStateError reports an operation attempted from a disallowed status.
type InvalidStateError struct {
	Op     string
	Status PostingStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("integration: cannot %s item in status %s", e.Op, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// UnsupportedMappingError reports a missing (docType, connectionType) mapper.
type UnsupportedMappingError struct {
	DocType        DocType
	ConnectionType ConnectionType
}

func (e *UnsupportedMappingError) Error() string {
	return fmt.Sprintf("integration: no mapper for %s to %s", e.DocType, e.ConnectionType)
}

func (e *UnsupportedMappingError) Is(target error) bool { return target == ErrUnsupportedMapping }

// ExternalCallError is a transient provider or network failure.
type ExternalCallError struct {
	StatusCode int
	Err        error
}

func (e *ExternalCallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("integration: external call failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("integration: external call failed: %v", e.Err)
}

func (e *ExternalCallError) Unwrap() error { return e.Err }

func (e *ExternalCallError) Is(target error) bool { return target == ErrExternalCall }

// AuthError is a provider rejection of the connection's credentials.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("integration: provider rejected credentials (status %d): %v", e.StatusCode, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("integration: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
