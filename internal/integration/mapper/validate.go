package mapper

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

const dateLayout = "2006-01-02"

func invalid(field, reason string) error {
	return &integration.ValidationError{Field: field, Reason: reason}
}

// validate checks the fields every provider relies on and returns a copy
// with a canonical currency code.
func validate(doc integration.Document) (integration.Document, error) {
	if strings.TrimSpace(doc.DocID) == "" {
		return doc, invalid("docId", "is required")
	}
	if doc.DocType.IsParty() {
		if doc.Party == nil {
			return doc, invalid("party", "is required")
		}
		if strings.TrimSpace(doc.Party.Code) == "" || strings.TrimSpace(doc.Party.Name) == "" {
			return doc, invalid("party", "requires code and name")
		}
		return doc, nil
	}

	if doc.Date.IsZero() {
		return doc, invalid("date", "is required")
	}
	if len(doc.Lines) == 0 {
		return doc, invalid("lines", "must not be empty")
	}
	if doc.DocType == integration.DocStockJournal {
		for i, line := range doc.Lines {
			if strings.TrimSpace(line.SKU) == "" {
				return doc, invalid(fmt.Sprintf("lines[%d].sku", i), "is required")
			}
			if line.Quantity.IsZero() {
				return doc, invalid(fmt.Sprintf("lines[%d].quantity", i), "must not be zero")
			}
		}
		return doc, nil
	}

	if doc.Party == nil || strings.TrimSpace(doc.Party.Code) == "" {
		return doc, invalid("party", "is required")
	}
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(doc.Currency)))
	if err != nil {
		return doc, invalid("currency", fmt.Sprintf("%q is not an ISO 4217 code", doc.Currency))
	}
	doc.Currency = unit.String()
	for i, line := range doc.Lines {
		if !line.Quantity.IsPositive() {
			return doc, invalid(fmt.Sprintf("lines[%d].quantity", i), "must be positive")
		}
		if line.UnitPrice.IsNegative() {
			return doc, invalid(fmt.Sprintf("lines[%d].unitPrice", i), "must not be negative")
		}
	}
	return doc, nil
}

func formatDate(doc integration.Document) string {
	return doc.Date.Format(dateLayout)
}

func dueDate(doc integration.Document) string {
	if doc.DueDate == nil {
		return doc.Date.Format(dateLayout)
	}
	return doc.DueDate.Format(dateLayout)
}

func description(line integration.DocumentLine) string {
	if line.Description != "" {
		return line.Description
	}
	return line.SKU
}
