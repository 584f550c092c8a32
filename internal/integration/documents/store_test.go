//go:build integration

package documents

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
	"github.com/odyssey-erp/odyssey-sync/internal/testing/pgtest"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(pgtest.Start(t))
	ctx := context.Background()
	due := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)

	doc := integration.Document{
		TenantID: 1,
		DocType:  integration.DocInvoice,
		DocID:    "INV-7",
		Number:   "INV-7",
		Date:     time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		DueDate:  &due,
		Currency: "ZAR",
		Party: &integration.Party{
			Code:    "C001",
			Name:    "Acme",
			Address: integration.Address{City: "Cape Town", Country: "ZA"},
		},
		Lines: []integration.DocumentLine{
			{SKU: "W-1", Quantity: decimal.NewFromInt(3), UnitPrice: decimal.RequireFromString("19.99"), TaxRate: decimal.NewFromInt(15)},
			{SKU: "W-2", Quantity: decimal.RequireFromString("1.5"), UnitPrice: decimal.NewFromInt(10)},
		},
	}
	require.NoError(t, store.Save(ctx, doc))

	loaded, err := store.Load(ctx, 1, integration.DocInvoice, "INV-7")
	require.NoError(t, err)
	assert.Equal(t, "INV-7", loaded.Number)
	assert.Equal(t, "Cape Town", loaded.Party.Address.City)
	require.Len(t, loaded.Lines, 2)
	assert.True(t, loaded.Lines[0].UnitPrice.Equal(decimal.RequireFromString("19.99")))
	assert.True(t, loaded.Lines[1].Quantity.Equal(decimal.RequireFromString("1.5")))

	doc.Lines = doc.Lines[:1]
	require.NoError(t, store.Save(ctx, doc))
	loaded, err = store.Load(ctx, 1, integration.DocInvoice, "INV-7")
	require.NoError(t, err)
	assert.Len(t, loaded.Lines, 1)
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(pgtest.Start(t))
	_, err := store.Load(context.Background(), 1, integration.DocCustomer, "nope")
	assert.ErrorIs(t, err, integration.ErrNotFound)
}
