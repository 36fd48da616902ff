package blocking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func record(id, entityType string, attrs map[string]any) models.SourceRecord {
	return models.SourceRecord{
		RecordID:     id,
		SourceSystem: "crm",
		EntityType:   entityType,
		Attributes:   models.AttributesFromMap(attrs),
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		name     string
		record   models.SourceRecord
		expected string
	}{
		{"upper-cases first character", record("1", "person", map[string]any{"name": "john"}), "person_J"},
		{"missing attribute", record("2", "person", map[string]any{"email": "a@b.c"}), "person_X"},
		{"empty attribute", record("3", "person", map[string]any{"name": ""}), "person_X"},
		{"null attribute", record("4", "person", map[string]any{"name": nil}), "person_X"},
		{"multibyte first rune", record("5", "person", map[string]any{"name": "élise"}), "person_É"},
		{"number attribute", record("6", "account", map[string]any{"name": 42}), "account_4"},
		{"leading space is kept", record("7", "person", map[string]any{"name": " ann"}), "person_ "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Key(tt.record, "name"))
		})
	}
}

func TestBuild(t *testing.T) {
	records := []models.SourceRecord{
		record("1", "person", map[string]any{"name": "John"}),
		record("2", "person", map[string]any{"name": "jane"}),
		record("3", "organization", map[string]any{"name": "Jupiter Inc"}),
		record("4", "person", map[string]any{"name": "Zed"}),
		record("5", "person", map[string]any{}),
		record("6", "person", map[string]any{"name": "Jo"}),
	}

	idx := Build(records, "name")
	require.Equal(t, 4, idx.Len())

	blocks := idx.Blocks()
	keys := make([]string, len(blocks))
	for i, b := range blocks {
		keys[i] = b.Key
	}
	assert.Equal(t, []string{"organization_J", "person_J", "person_X", "person_Z"}, keys)

	personJ := blocks[1]
	assert.Equal(t, []string{"1", "2", "6"}, models.RecordIDs(personJ.Records))
	assert.Equal(t, 3, personJ.Pairs())
	assert.Equal(t, 3, idx.Comparisons())

	total := 0
	for _, b := range blocks {
		total += len(b.Records)
		for _, r := range b.Records {
			assert.Equal(t, b.Key, Key(r, "name"))
		}
	}
	assert.Equal(t, len(records), total)
}

func TestBuild_Empty(t *testing.T) {
	idx := Build(nil, "name")
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Blocks())
	assert.Equal(t, 0, idx.Comparisons())
}
