package provider

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

var errMissingCredential = errors.New("credential not configured")

// descriptor captures how one provider authenticates, addresses resources
// and reports the id of a created record.
type descriptor struct {
	authorize func(req *http.Request, creds integration.Credentials) error
	endpoint  func(base string, creds integration.Credentials, payload integration.ExternalPayload) (string, error)
	reference func(body map[string]any) string
}

func descriptors() map[integration.ConnectionType]descriptor {
	return map[integration.ConnectionType]descriptor{
		integration.TypeXero: {
			authorize: func(req *http.Request, creds integration.Credentials) error {
				if creds.AccessToken == "" || creds.TenantRef == "" {
					return errMissingCredential
				}
				req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
				req.Header.Set("xero-tenant-id", creds.TenantRef)
				return nil
			},
			endpoint:  joinPath,
			reference: firstListed("InvoiceID", "CreditNoteID", "ContactID"),
		},
		integration.TypeQuickBooks: {
			authorize: bearer,
			endpoint: func(base string, creds integration.Credentials, payload integration.ExternalPayload) (string, error) {
				if creds.TenantRef == "" {
					return "", errMissingCredential
				}
				u, err := joinPath(base, creds, integration.ExternalPayload{Resource: "/v3/company/" + url.PathEscape(creds.TenantRef) + payload.Resource})
				if err != nil {
					return "", err
				}
				return u + "?requestid=" + url.QueryEscape(payload.IdempotencyKey), nil
			},
			reference: nestedField("Id", "Invoice", "CreditMemo", "Customer", "Vendor"),
		},
		integration.TypeSage: {
			authorize: bearer,
			endpoint:  joinPath,
			reference: topField("id"),
		},
		integration.TypeEvolution: {
			authorize: apiKey("X-API-Key"),
			endpoint:  joinPath,
			reference: topField("Reference", "DocumentNumber", "Code"),
		},
		integration.TypeSAPB1: {
			authorize: func(req *http.Request, creds integration.Credentials) error {
				if creds.AccessToken == "" {
					return errMissingCredential
				}
				req.AddCookie(&http.Cookie{Name: "B1SESSION", Value: creds.AccessToken})
				return nil
			},
			endpoint:  joinPath,
			reference: topField("DocEntry", "CardCode"),
		},
		integration.TypeCustomAPI: {
			authorize: func(req *http.Request, creds integration.Credentials) error {
				if creds.APIKey != "" {
					req.Header.Set("X-API-Key", creds.APIKey)
				}
				if creds.AccessToken != "" {
					req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
				}
				return nil
			},
			endpoint:  joinPath,
			reference: topField("externalRef", "id"),
		},
	}
}

func bearer(req *http.Request, creds integration.Credentials) error {
	if creds.AccessToken == "" {
		return errMissingCredential
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	return nil
}

func apiKey(header string) func(*http.Request, integration.Credentials) error {
	return func(req *http.Request, creds integration.Credentials) error {
		if creds.APIKey == "" {
			return errMissingCredential
		}
		req.Header.Set(header, creds.APIKey)
		return nil
	}
}

func joinPath(base string, _ integration.Credentials, payload integration.ExternalPayload) (string, error) {
	if base == "" {
		return "", fmt.Errorf("no base url configured for %s", payload.ConnectionType)
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(payload.Resource, "/"), nil
}

// topField returns the first non-empty field of the response object.
func topField(names ...string) func(map[string]any) string {
	return func(body map[string]any) string {
		for _, name := range names {
			if ref := stringify(body[name]); ref != "" {
				return ref
			}
		}
		return ""
	}
}

// nestedField reads field from the first wrapper object present.
func nestedField(field string, wrappers ...string) func(map[string]any) string {
	return func(body map[string]any) string {
		for _, w := range wrappers {
			if inner, ok := body[w].(map[string]any); ok {
				if ref := stringify(inner[field]); ref != "" {
					return ref
				}
			}
		}
		return ""
	}
}

// firstListed handles envelopes such as {"Invoices":[{"InvoiceID":"..."}]}.
func firstListed(names ...string) func(map[string]any) string {
	return func(body map[string]any) string {
		for _, value := range body {
			list, ok := value.([]any)
			if !ok || len(list) == 0 {
				continue
			}
			first, ok := list[0].(map[string]any)
			if !ok {
				continue
			}
			if ref := topField(names...)(first); ref != "" {
				return ref
			}
		}
		return ""
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
