package mapper

import (
	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

func registerSage(r *Registry) {
	r.Register(integration.DocInvoice, integration.TypeSage, "POST", "/sales_invoices", sageSale("sales_invoice", "invoice_lines"))
	r.Register(integration.DocCreditNote, integration.TypeSage, "POST", "/sales_credit_notes", sageSale("sales_credit_note", "credit_note_lines"))
	r.Register(integration.DocStockJournal, integration.TypeSage, "POST", "/stock_movements", sageStockMovement)
	r.Register(integration.DocCustomer, integration.TypeSage, "POST", "/contacts", sageContact("CUSTOMER"))
	r.Register(integration.DocSupplier, integration.TypeSage, "POST", "/contacts", sageContact("VENDOR"))
}

func sageSale(root, linesField string) BuildFunc {
	return func(doc integration.Document) (map[string]any, error) {
		lines := make([]map[string]any, 0, len(doc.Lines))
		for _, line := range doc.Lines {
			item := map[string]any{
				"description": description(line),
				"quantity":    quantity(line.Quantity),
				"unit_price":  amount(line.UnitPrice),
				"net_amount":  amount(lineNet(line)),
				"tax_amount":  amount(lineTax(line)),
			}
			if line.SKU != "" {
				item["product_id"] = line.SKU
			}
			if line.AccountCode != "" {
				item["ledger_account_id"] = line.AccountCode
			}
			lines = append(lines, item)
		}
		t := documentTotals(doc)
		return map[string]any{root: map[string]any{
			"contact_id":       doc.Party.Code,
			"date":             formatDate(doc),
			"due_date":         dueDate(doc),
			"reference":        doc.Number,
			"vendor_reference": doc.Reference,
			"currency_id":      doc.Currency,
			"notes":            doc.Memo,
			"net_amount":       amount(t.Net),
			"tax_amount":       amount(t.Tax),
			"total_amount":     amount(t.Gross),
			linesField:         lines,
		}}, nil
	}
}

func sageStockMovement(doc integration.Document) (map[string]any, error) {
	movements := make([]map[string]any, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		movements = append(movements, map[string]any{
			"stock_item_id": line.SKU,
			"quantity":      quantity(line.Quantity),
			"cost_price":    amount(line.UnitPrice),
			"details":       description(line),
		})
	}
	return map[string]any{"stock_movement": map[string]any{
		"date":      formatDate(doc),
		"reference": doc.Number,
		"details":   doc.Memo,
		"movements": movements,
	}}, nil
}

func sageContact(contactType string) BuildFunc {
	return func(doc integration.Document) (map[string]any, error) {
		p := doc.Party
		return map[string]any{"contact": map[string]any{
			"name":             p.Name,
			"reference":        p.Code,
			"contact_type_ids": []string{contactType},
			"email":            p.Email,
			"telephone":        p.Phone,
			"tax_number":       p.TaxNumber,
			"main_address":     map[string]any{
				"address_line_1": p.Address.Line1,
				"address_line_2": p.Address.Line2,
				"city":           p.Address.City,
				"region":         p.Address.Region,
				"postal_code":    p.Address.PostalCode,
				"country_id":     p.Address.Country,
			},
		}}, nil
	}
}
