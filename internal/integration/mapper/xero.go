package mapper

import (
	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

func registerXero(r *Registry) {
	r.Register(integration.DocInvoice, integration.TypeXero, "POST", "/Invoices", xeroInvoice("ACCREC", "InvoiceNumber"))
	r.Register(integration.DocCreditNote, integration.TypeXero, "POST", "/CreditNotes", xeroInvoice("ACCRECCREDIT", "CreditNoteNumber"))
	r.Register(integration.DocCustomer, integration.TypeXero, "POST", "/Contacts", xeroContact(false))
	r.Register(integration.DocSupplier, integration.TypeXero, "POST", "/Contacts", xeroContact(true))
}

func xeroInvoice(kind, numberField string) BuildFunc {
	return func(doc integration.Document) (map[string]any, error) {
		lines := make([]map[string]any, 0, len(doc.Lines))
		for _, line := range doc.Lines {
			item := map[string]any{
				"Description": description(line),
				"Quantity":    quantity(line.Quantity),
				"UnitAmount":  amount(line.UnitPrice),
				"LineAmount":  amount(lineNet(line)),
				"TaxAmount":   amount(lineTax(line)),
			}
			if line.SKU != "" {
				item["ItemCode"] = line.SKU
			}
			if line.AccountCode != "" {
				item["AccountCode"] = line.AccountCode
			}
			lines = append(lines, item)
		}
		body := map[string]any{
			"Type":            kind,
			numberField:       doc.Number,
			"Reference":       doc.Reference,
			"Date":            formatDate(doc),
			"DueDate":         dueDate(doc),
			"CurrencyCode":    doc.Currency,
			"LineAmountTypes": "Exclusive",
			"Status":          "AUTHORISED",
			"Contact":         map[string]any{"ContactNumber": doc.Party.Code, "Name": doc.Party.Name},
			"LineItems":       lines,
		}
		return body, nil
	}
}

func xeroContact(supplier bool) BuildFunc {
	return func(doc integration.Document) (map[string]any, error) {
		p := doc.Party
		body := map[string]any{
			"ContactNumber": p.Code,
			"Name":          p.Name,
			"EmailAddress":  p.Email,
			"TaxNumber":     p.TaxNumber,
			"IsSupplier":    supplier,
			"IsCustomer":    !supplier,
			"Addresses":     []map[string]any{{
				"AddressType":  "POBOX",
				"AddressLine1": p.Address.Line1,
				"AddressLine2": p.Address.Line2,
				"City":         p.Address.City,
				"Region":       p.Address.Region,
				"PostalCode":   p.Address.PostalCode,
				"Country":      p.Address.Country,
			}},
		}
		if p.Phone != "" {
			body["Phones"] = []map[string]any{{"PhoneType": "DEFAULT", "PhoneNumber": p.Phone}}
		}
		return body, nil
	}
}
