package mapper

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

func sampleInvoice() integration.Document {
	due := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)
	return integration.Document{
		TenantID: 1,
		DocType:  integration.DocInvoice,
		DocID:    "INV-001",
		Number:   "INV-001",
		Date:     time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		DueDate:  &due,
		Currency: "zar",
		Party:    &integration.Party{Code: "C001", Name: "Acme"},
		Lines: []integration.DocumentLine{
			{SKU: "W-1", Quantity: decimal.NewFromInt(3), UnitPrice: decimal.RequireFromString("19.99"), TaxRate: decimal.NewFromInt(15)},
			{SKU: "W-2", Description: "Gadget", Quantity: decimal.RequireFromString("1.5"), UnitPrice: decimal.NewFromInt(10), TaxRate: decimal.Zero},
		},
	}
}

func sampleJournal(qty ...int64) integration.Document {
	doc := integration.Document{
		TenantID: 1,
		DocType:  integration.DocStockJournal,
		DocID:    "SJ-9",
		Number:   "SJ-9",
		Date:     time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	for _, q := range qty {
		doc.Lines = append(doc.Lines, integration.DocumentLine{SKU: "W-1", Quantity: decimal.NewFromInt(q), UnitPrice: decimal.NewFromInt(4)})
	}
	return doc
}

func sampleParty(dt integration.DocType) integration.Document {
	return integration.Document{
		TenantID: 1,
		DocType:  dt,
		DocID:    "P-1",
		Party:    &integration.Party{Code: "V001", Name: "Supplies Ltd", Email: "ap@supplies.test"},
	}
}

func TestDefaultRegistryMatrix(t *testing.T) {
	r := Default()
	cells := 0
	for _, dt := range integration.DocTypes() {
		for _, ct := range integration.ConnectionTypes() {
			if r.Supports(dt, ct) {
				cells++
			}
		}
	}
	assert.Equal(t, 28, cells)
	assert.False(t, r.Supports(integration.DocStockJournal, integration.TypeXero))
	assert.False(t, r.Supports(integration.DocStockJournal, integration.TypeQuickBooks))
	assert.Len(t, r.Pairs()[integration.DocInvoice], len(integration.ConnectionTypes()))
}

func TestMapUnsupportedPair(t *testing.T) {
	_, err := Default().Map(sampleJournal(2), integration.TypeXero)
	require.Error(t, err)
	assert.True(t, errors.Is(err, integration.ErrUnsupportedMapping))

	var unsupported *integration.UnsupportedMappingError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, integration.DocStockJournal, unsupported.DocType)
	assert.Equal(t, integration.TypeXero, unsupported.ConnectionType)
}

func TestMapIsDeterministic(t *testing.T) {
	r := Default()
	for _, ct := range integration.ConnectionTypes() {
		first, err := r.Map(sampleInvoice(), ct)
		require.NoError(t, err, ct)
		second, err := r.Map(sampleInvoice(), ct)
		require.NoError(t, err, ct)
		assert.Equal(t, first, second, ct)
		assert.Equal(t, integration.IdempotencyKey(1, integration.DocInvoice, "INV-001"), first.IdempotencyKey)
		assert.Equal(t, "POST", first.Method)
	}
}

func TestMapXeroInvoice(t *testing.T) {
	payload, err := Default().Map(sampleInvoice(), integration.TypeXero)
	require.NoError(t, err)

	assert.Equal(t, "/Invoices", payload.Resource)
	assert.Equal(t, "ACCREC", payload.Body["Type"])
	assert.Equal(t, "ZAR", payload.Body["CurrencyCode"])
	assert.Equal(t, "2025-03-31", payload.Body["Date"])
	assert.Equal(t, "2025-04-30", payload.Body["DueDate"])

	lines := payload.Body["LineItems"].([]map[string]any)
	require.Len(t, lines, 2)
	assert.Equal(t, 59.97, lines[0]["LineAmount"])
	assert.Equal(t, 9.0, lines[0]["TaxAmount"])
	assert.Equal(t, "Gadget", lines[1]["Description"])
	assert.Equal(t, "W-1", lines[0]["Description"])
}

func TestMapCustomTotals(t *testing.T) {
	payload, err := Default().Map(sampleInvoice(), integration.TypeCustomAPI)
	require.NoError(t, err)

	assert.Equal(t, "/documents/invoice", payload.Resource)
	totals := payload.Body["totals"].(map[string]any)
	assert.Equal(t, 74.97, totals["net"])
	assert.Equal(t, 9.0, totals["tax"])
	assert.Equal(t, 83.97, totals["gross"])
}

func TestMapCreditNoteResources(t *testing.T) {
	doc := sampleInvoice()
	doc.DocType = integration.DocCreditNote
	want := map[integration.ConnectionType]string{
		integration.TypeXero:       "/CreditNotes",
		integration.TypeQuickBooks: "/creditmemo",
		integration.TypeSage:       "/sales_credit_notes",
		integration.TypeEvolution:  "/CreditNote",
		integration.TypeSAPB1:      "/CreditNotes",
		integration.TypeCustomAPI:  "/documents/credit_note",
	}
	for ct, resource := range want {
		payload, err := Default().Map(doc, ct)
		require.NoError(t, err, ct)
		assert.Equal(t, resource, payload.Resource, ct)
	}
}

func TestMapPartyRoles(t *testing.T) {
	r := Default()

	supplier, err := r.Map(sampleParty(integration.DocSupplier), integration.TypeXero)
	require.NoError(t, err)
	assert.Equal(t, true, supplier.Body["IsSupplier"])
	assert.Equal(t, false, supplier.Body["IsCustomer"])

	customer, err := r.Map(sampleParty(integration.DocCustomer), integration.TypeSAPB1)
	require.NoError(t, err)
	assert.Equal(t, "cCustomer", customer.Body["CardType"])

	vendor, err := r.Map(sampleParty(integration.DocSupplier), integration.TypeQuickBooks)
	require.NoError(t, err)
	assert.Equal(t, "/vendor", vendor.Resource)
	assert.Equal(t, map[string]any{"Address": "ap@supplies.test"}, vendor.Body["PrimaryEmailAddr"])

	contact, err := r.Map(sampleParty(integration.DocSupplier), integration.TypeSage)
	require.NoError(t, err)
	inner := contact.Body["contact"].(map[string]any)
	assert.Equal(t, []string{"VENDOR"}, inner["contact_type_ids"])
}

func TestMapSAPStockJournalRouting(t *testing.T) {
	r := Default()

	receipt, err := r.Map(sampleJournal(5, 2), integration.TypeSAPB1)
	require.NoError(t, err)
	assert.Equal(t, "/InventoryGenEntries", receipt.Resource)

	issue, err := r.Map(sampleJournal(-5), integration.TypeSAPB1)
	require.NoError(t, err)
	assert.Equal(t, "/InventoryGenExits", issue.Resource)
	lines := issue.Body["DocumentLines"].([]map[string]any)
	assert.Equal(t, 5.0, lines[0]["Quantity"])

	_, err = r.Map(sampleJournal(5, -1), integration.TypeSAPB1)
	assert.ErrorIs(t, err, integration.ErrValidation)
}

func TestMapValidation(t *testing.T) {
	r := Default()
	cases := map[string]func(*integration.Document){
		"missing party":    func(d *integration.Document) { d.Party = nil },
		"bad currency":     func(d *integration.Document) { d.Currency = "XX" },
		"no lines":         func(d *integration.Document) { d.Lines = nil },
		"zero quantity":    func(d *integration.Document) { d.Lines[0].Quantity = decimal.Zero },
		"negative price":   func(d *integration.Document) { d.Lines[0].UnitPrice = decimal.NewFromInt(-1) },
		"missing date":     func(d *integration.Document) { d.Date = time.Time{} },
		"missing document": func(d *integration.Document) { d.DocID = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			doc := sampleInvoice()
			mutate(&doc)
			_, err := r.Map(doc, integration.TypeSage)
			require.Error(t, err)
			assert.ErrorIs(t, err, integration.ErrValidation)
		})
	}

	party := sampleParty(integration.DocCustomer)
	party.Party.Name = ""
	_, err := r.Map(party, integration.TypeEvolution)
	assert.ErrorIs(t, err, integration.ErrValidation)

	journal := sampleJournal(0)
	_, err = r.Map(journal, integration.TypeSage)
	assert.ErrorIs(t, err, integration.ErrValidation)
}
