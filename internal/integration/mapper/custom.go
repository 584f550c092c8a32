package mapper

import (
	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

// The custom API receives one canonical shape for every document type.
func registerCustom(r *Registry) {
	for _, dt := range integration.DocTypes() {
		r.Register(dt, integration.TypeCustomAPI, "POST", "/documents/"+string(dt), canonical)
	}
}

func canonical(doc integration.Document) (map[string]any, error) {
	body := map[string]any{
		"tenantId": doc.TenantID,
		"docType":  string(doc.DocType),
		"docId":    doc.DocID,
	}
	if doc.Party != nil {
		p := doc.Party
		body["party"] = map[string]any{
			"code":      p.Code,
			"name":      p.Name,
			"email":     p.Email,
			"phone":     p.Phone,
			"taxNumber": p.TaxNumber,
			"address":   map[string]any{
				"line1":      p.Address.Line1,
				"line2":      p.Address.Line2,
				"city":       p.Address.City,
				"region":     p.Address.Region,
				"postalCode": p.Address.PostalCode,
				"country":    p.Address.Country,
			},
		}
	}
	if doc.DocType.IsParty() {
		return body, nil
	}

	lines := make([]map[string]any, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, map[string]any{
			"sku":         line.SKU,
			"description": line.Description,
			"quantity":    quantity(line.Quantity),
			"unitPrice":   amount(line.UnitPrice),
			"taxRate":     line.TaxRate.Round(4).InexactFloat64(),
			"net":         amount(lineNet(line)),
			"tax":         amount(lineTax(line)),
			"account":     line.AccountCode,
			"warehouse":   line.WarehouseCode,
		})
	}
	t := documentTotals(doc)
	body["number"] = doc.Number
	body["date"] = formatDate(doc)
	body["reference"] = doc.Reference
	body["memo"] = doc.Memo
	body["lines"] = lines
	if doc.DocType != integration.DocStockJournal {
		body["dueDate"] = dueDate(doc)
		body["currency"] = doc.Currency
		body["totals"] = map[string]any{"net": amount(t.Net), "tax": amount(t.Tax), "gross": amount(t.Gross)}
	}
	return body, nil
}
