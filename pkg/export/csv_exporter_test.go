package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	exporter := NewCSVExporter()

	out, err := exporter.Render(Dataset{
		Headers: []string{"Topic", "Weight"},
		Rows: []map[string]string{
			{"Topic": "Basics", "Weight": "60"},
			{"Topic": "Advanced"},
		},
	})
	require.NoError(t, err)
	// A row missing a column renders an empty cell, not a shifted record.
	assert.Equal(t, "Topic,Weight\nBasics,60\nAdvanced,\n", string(out))
}

func TestCSVExporterRenderRequiresHeaders(t *testing.T) {
	exporter := NewCSVExporter()

	_, err := exporter.Render(Dataset{})
	require.Error(t, err)
}
