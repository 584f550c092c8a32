package mapper

import (
	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

func registerQuickBooks(r *Registry) {
	r.Register(integration.DocInvoice, integration.TypeQuickBooks, "POST", "/invoice", qboSale)
	r.Register(integration.DocCreditNote, integration.TypeQuickBooks, "POST", "/creditmemo", qboSale)
	r.Register(integration.DocCustomer, integration.TypeQuickBooks, "POST", "/customer", qboParty)
	r.Register(integration.DocSupplier, integration.TypeQuickBooks, "POST", "/vendor", qboParty)
}

func qboSale(doc integration.Document) (map[string]any, error) {
	lines := make([]map[string]any, 0, len(doc.Lines))
	for i, line := range doc.Lines {
		detail := map[string]any{
			"Qty":       quantity(line.Quantity),
			"UnitPrice": amount(line.UnitPrice),
		}
		if line.SKU != "" {
			detail["ItemRef"] = map[string]any{"value": line.SKU}
		}
		lines = append(lines, map[string]any{
			"LineNum":             i + 1,
			"DetailType":          "SalesItemLineDetail",
			"Description":         description(line),
			"Amount":              amount(lineNet(line)),
			"SalesItemLineDetail": detail,
		})
	}
	t := documentTotals(doc)
	return map[string]any{
		"DocNumber":    doc.Number,
		"TxnDate":      formatDate(doc),
		"DueDate":      dueDate(doc),
		"PrivateNote":  doc.Memo,
		"CurrencyRef":  map[string]any{"value": doc.Currency},
		"CustomerRef":  map[string]any{"value": doc.Party.Code, "name": doc.Party.Name},
		"TxnTaxDetail": map[string]any{"TotalTax": amount(t.Tax)},
		"Line":         lines,
	}, nil
}

func qboParty(doc integration.Document) (map[string]any, error) {
	p := doc.Party
	body := map[string]any{
		"DisplayName": p.Name,
		"CompanyName": p.Name,
		"AcctNum":     p.Code,
		"BillAddr":    map[string]any{
			"Line1":                  p.Address.Line1,
			"Line2":                  p.Address.Line2,
			"City":                   p.Address.City,
			"CountrySubDivisionCode": p.Address.Region,
			"PostalCode":             p.Address.PostalCode,
			"Country":                p.Address.Country,
		},
	}
	if p.Email != "" {
		body["PrimaryEmailAddr"] = map[string]any{"Address": p.Email}
	}
	if p.Phone != "" {
		body["PrimaryPhone"] = map[string]any{"FreeFormNumber": p.Phone}
	}
	if p.TaxNumber != "" {
		if doc.DocType == integration.DocSupplier {
			body["TaxIdentifier"] = p.TaxNumber
		} else {
			body["ResaleNum"] = p.TaxNumber
		}
	}
	return body, nil
}
