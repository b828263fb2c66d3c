package audit

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelware/agentgate/models"
)

func exportFixtures() []models.AuditRecord {
	level := 3
	required := 2
	used := 12.5
	remaining := 87.5
	return []models.AuditRecord{
		{
			ID:              "rec-1",
			Timestamp:       "2026-02-01T12:00:00.000Z",
			AgentID:         "agent-1",
			Action:          "purchase",
			Permitted:       true,
			TrustLevel:      &level,
			RequiredLevel:   &required,
			BudgetUsed:      &used,
			BudgetRemaining: &remaining,
			Reason:          "within budget",
			Metadata:        map[string]string{"sku": "A-100"},
			PreviousHash:    models.GenesisHash,
			RecordHash:      "aa11",
		},
		{
			ID:           "rec-2",
			Timestamp:    "2026-02-01T12:00:01.000Z",
			AgentID:      "agent-2",
			Action:       "delete|all",
			Permitted:    false,
			Reason:       "key=value pairs",
			PreviousHash: "aa11",
			RecordHash:   "bb22",
		},
	}
}

func TestExportJSON(t *testing.T) {
	out, err := Export(exportFixtures(), FormatJSON)
	require.NoError(t, err)

	var decoded []models.AuditRecord
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "rec-1", decoded[0].ID)
	assert.Nil(t, decoded[1].TrustLevel)

	t.Run("empty set is an array", func(t *testing.T) {
		out, err := Export(nil, FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, "[]", out)
	})
}

func TestExportCSV(t *testing.T) {
	out, err := Export(exportFixtures(), FormatCSV)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, csvColumns, rows[0])
	require.Len(t, rows[1], 13)
	assert.Equal(t, "rec-1", rows[1][0])
	assert.Equal(t, "true", rows[1][4])
	assert.Equal(t, "3", rows[1][5])
	assert.Equal(t, "12.5", rows[1][7])
	assert.Equal(t, `{"sku":"A-100"}`, rows[1][10])

	// Absent optionals are empty cells, never omitted columns.
	assert.Equal(t, "", rows[2][5])
	assert.Equal(t, "", rows[2][10])
	assert.Equal(t, "false", rows[2][4])
}

func TestExportCEF(t *testing.T) {
	out, err := Export(exportFixtures(), FormatCEF)
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)

	t.Run("permitted maps to severity 3", func(t *testing.T) {
		assert.True(t, strings.HasPrefix(lines[0], "CEF:0|AgentGate|AuditChain|1.0|purchase|Governance Decision: purchase|3|"))
		assert.Contains(t, lines[0], "outcome=permitted")
		assert.Contains(t, lines[0], "cn1Label=trustLevel cn1=3")
		assert.Contains(t, lines[0], "cn3Label=budgetUsed cn3=12.5")
	})

	t.Run("denied maps to severity 7", func(t *testing.T) {
		assert.Contains(t, lines[1], "|7|")
		assert.Contains(t, lines[1], "outcome=denied")
	})

	t.Run("header pipes are escaped", func(t *testing.T) {
		assert.Contains(t, lines[1], `delete\|all`)
	})

	t.Run("extension equals signs are escaped", func(t *testing.T) {
		assert.Contains(t, lines[1], `msg=key\=value pairs`)
	})
}

func TestExportUnknownFormat(t *testing.T) {
	_, err := Export(exportFixtures(), ExportFormat("xml"))
	assert.Error(t, err)
}
