package mapper

import (
	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

func registerSAPB1(r *Registry) {
	r.Register(integration.DocInvoice, integration.TypeSAPB1, "POST", "/Invoices", sapDocument)
	r.Register(integration.DocCreditNote, integration.TypeSAPB1, "POST", "/CreditNotes", sapDocument)
	r.RegisterDynamic(integration.DocStockJournal, integration.TypeSAPB1, "POST", sapStockResource, sapStockJournal)
	r.Register(integration.DocCustomer, integration.TypeSAPB1, "POST", "/BusinessPartners", sapBusinessPartner("cCustomer"))
	r.Register(integration.DocSupplier, integration.TypeSAPB1, "POST", "/BusinessPartners", sapBusinessPartner("cSupplier"))
}

func sapDocument(doc integration.Document) (map[string]any, error) {
	lines := make([]map[string]any, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		item := map[string]any{
			"ItemDescription": description(line),
			"Quantity":        quantity(line.Quantity),
			"UnitPrice":       amount(line.UnitPrice),
			"LineTotal":       amount(lineNet(line)),
		}
		if line.SKU != "" {
			item["ItemCode"] = line.SKU
		}
		if line.WarehouseCode != "" {
			item["WarehouseCode"] = line.WarehouseCode
		}
		if line.AccountCode != "" {
			item["AccountCode"] = line.AccountCode
		}
		lines = append(lines, item)
	}
	return map[string]any{
		"CardCode":      doc.Party.Code,
		"DocDate":       formatDate(doc),
		"DocDueDate":    dueDate(doc),
		"NumAtCard":     doc.Number,
		"DocCurrency":   doc.Currency,
		"Comments":      doc.Memo,
		"DocumentLines": lines,
	}, nil
}

// sapStockResource routes receipts and issues to their own documents. SAP
// Business One has no signed stock journal, so mixed journals are rejected.
func sapStockResource(doc integration.Document) (string, error) {
	positive, negative := 0, 0
	for _, line := range doc.Lines {
		if line.Quantity.IsPositive() {
			positive++
		} else {
			negative++
		}
	}
	switch {
	case negative == 0:
		return "/InventoryGenEntries", nil
	case positive == 0:
		return "/InventoryGenExits", nil
	default:
		return "", invalid("lines", "mix receipts and issues; split the journal")
	}
}

func sapStockJournal(doc integration.Document) (map[string]any, error) {
	lines := make([]map[string]any, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		item := map[string]any{
			"ItemCode":  line.SKU,
			"Quantity":  quantity(abs(line.Quantity)),
			"UnitPrice": amount(line.UnitPrice),
		}
		if line.WarehouseCode != "" {
			item["WarehouseCode"] = line.WarehouseCode
		}
		if line.AccountCode != "" {
			item["AccountCode"] = line.AccountCode
		}
		lines = append(lines, item)
	}
	return map[string]any{
		"DocDate":       formatDate(doc),
		"Reference2":    doc.Number,
		"Comments":      doc.Memo,
		"DocumentLines": lines,
	}, nil
}

func sapBusinessPartner(cardType string) BuildFunc {
	return func(doc integration.Document) (map[string]any, error) {
		p := doc.Party
		return map[string]any{
			"CardCode":     p.Code,
			"CardName":     p.Name,
			"CardType":     cardType,
			"EmailAddress": p.Email,
			"Phone1":       p.Phone,
			"FederalTaxID": p.TaxNumber,
			"BPAddresses":  []map[string]any{{
				"AddressName": "Main",
				"AddressType": "bo_BillTo",
				"Street":      p.Address.Line1,
				"Block":       p.Address.Line2,
				"City":        p.Address.City,
				"State":       p.Address.Region,
				"ZipCode":     p.Address.PostalCode,
				"Country":     p.Address.Country,
			}},
		}, nil
	}
}
