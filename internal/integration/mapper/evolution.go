package mapper

import (
	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

func registerEvolution(r *Registry) {
	r.Register(integration.DocInvoice, integration.TypeEvolution, "POST", "/SalesInvoice", evolutionSale)
	r.Register(integration.DocCreditNote, integration.TypeEvolution, "POST", "/CreditNote", evolutionSale)
	r.Register(integration.DocStockJournal, integration.TypeEvolution, "POST", "/InventoryTransaction", evolutionInventory)
	r.Register(integration.DocCustomer, integration.TypeEvolution, "POST", "/Customer", evolutionAccount)
	r.Register(integration.DocSupplier, integration.TypeEvolution, "POST", "/Supplier", evolutionAccount)
}

func evolutionSale(doc integration.Document) (map[string]any, error) {
	lines := make([]map[string]any, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, map[string]any{
			"StockCode":        line.SKU,
			"Description":      description(line),
			"Quantity":         quantity(line.Quantity),
			"UnitSellingPrice": amount(line.UnitPrice),
			"TaxRate":          line.TaxRate.Round(4).InexactFloat64(),
			"WarehouseCode":    line.WarehouseCode,
			"GLAccount":        line.AccountCode,
		})
	}
	return map[string]any{
		"CustomerAccountCode": doc.Party.Code,
		"DocumentNumber":      doc.Number,
		"ExternalOrderNo":     doc.DocID,
		"OrderDate":           formatDate(doc),
		"DueDate":             dueDate(doc),
		"CurrencyCode":        doc.Currency,
		"Message":             doc.Memo,
		"Lines":               lines,
	}, nil
}

func evolutionInventory(doc integration.Document) (map[string]any, error) {
	lines := make([]map[string]any, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, map[string]any{
			"StockCode":     line.SKU,
			"WarehouseCode": line.WarehouseCode,
			"Quantity":      quantity(line.Quantity),
			"UnitCost":      amount(line.UnitPrice),
			"Description":   description(line),
		})
	}
	return map[string]any{
		"Reference":       doc.Number,
		"TransactionDate": formatDate(doc),
		"TransactionCode": "ADJ",
		"Description":     doc.Memo,
		"Lines":           lines,
	}, nil
}

func evolutionAccount(doc integration.Document) (map[string]any, error) {
	p := doc.Party
	return map[string]any{
		"Code":            p.Code,
		"Description":     p.Name,
		"EmailAddress":    p.Email,
		"Telephone":       p.Phone,
		"TaxNumber":       p.TaxNumber,
		"PhysicalAddress": map[string]any{
			"Line1":      p.Address.Line1,
			"Line2":      p.Address.Line2,
			"Line3":      p.Address.City,
			"Line4":      p.Address.Region,
			"Line5":      p.Address.Country,
			"PostalCode": p.Address.PostalCode,
		},
	}, nil
}
