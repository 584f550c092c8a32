package app

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

func TestNewIntegrationWiresProviderMappings(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", validKey())
	cfg, err := LoadConfig()
	require.NoError(t, err)

	in, err := NewIntegration(IntegrationDeps{
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	require.NotNil(t, in.Dispatcher)
	require.NotNil(t, in.Mapper)

	assert.True(t, in.Mapper.Supports(integration.DocInvoice, integration.TypeXero))
	assert.False(t, in.Mapper.Supports(integration.DocStockJournal, integration.TypeXero))

	supported := 0
	for _, dt := range integration.DocTypes() {
		for _, ct := range integration.ConnectionTypes() {
			if in.Mapper.Supports(dt, ct) {
				supported++
			}
		}
	}
	assert.Equal(t, 28, supported)
}
