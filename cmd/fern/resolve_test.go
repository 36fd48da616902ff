package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolution"
)

const batchJSON = `{
  "batch_id": "b-1",
  "records": [
    {"record_id": "r1", "source_system": "crm", "entity_type": "person", "timestamp": "2024-01-01T00:00:00Z",
     "attributes": {"name": "John Smith", "email": "john@example.com"}},
    {"record_id": "r2", "source_system": "erp", "entity_type": "person", "timestamp": "2024-02-01T00:00:00Z",
     "attributes": {"name": "Jon Smith", "email": "john@example.com", "phone": "555-0100"}},
    {"record_id": "r3", "source_system": "crm", "entity_type": "person",
     "attributes": {"name": "Alice Jones", "email": "alice@example.com"}}
  ]
}`

const batchYAML = `
- record_id: r1
  source_system: crm
  entity_type: person
  attributes:
    name: John Smith
    age: 42
    active: true
    nickname: null
`

func TestDecodeBatch(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		format  string
		wantID  string
		wantLen int
		wantErr bool
	}{
		{name: "json object", data: batchJSON, format: "json", wantID: "b-1", wantLen: 3},
		{name: "json array", data: `[{"record_id":"r1","source_system":"crm","entity_type":"person"}]`, format: "json", wantLen: 1},
		{name: "yaml list", data: batchYAML, format: "yaml", wantLen: 1},
		{name: "yaml object", data: "batch_id: b-2\nrecords:\n  - record_id: r1\n", format: "YAML", wantID: "b-2", wantLen: 1},
		{name: "nested attribute", data: `[{"record_id":"r1","attributes":{"name":{"first":"x"}}}]`, format: "json", wantErr: true},
		{name: "unknown format", data: batchJSON, format: "csv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := decodeBatch([]byte(tt.data), tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, batch.BatchID)
			assert.Len(t, batch.Records, tt.wantLen)
		})
	}
}

func TestDecodeBatch_YAMLValueKinds(t *testing.T) {
	batch, err := decodeBatch([]byte(batchYAML), "yaml")
	require.NoError(t, err)

	attrs := batch.Records[0].Attributes
	assert.Equal(t, models.String("John Smith"), attrs.Get("name"))
	assert.Equal(t, models.Number(42), attrs.Get("age"))
	assert.Equal(t, models.Bool(true), attrs.Get("active"))
	assert.True(t, attrs.Get("nickname").IsAbsent())
}

func TestReadBatchFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "people.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(batchYAML), 0o600))

	batch, err := readBatchFile(yamlPath, "")
	require.NoError(t, err)
	assert.Equal(t, "people", batch.BatchID, "batch id falls back to the file name")
	assert.Len(t, batch.Records, 1)

	jsonPath := filepath.Join(dir, "batch.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(batchJSON), 0o600))

	batch, err = readBatchFile(jsonPath, "")
	require.NoError(t, err)
	assert.Equal(t, "b-1", batch.BatchID)

	_, err = readBatchFile(filepath.Join(dir, "missing.json"), "")
	assert.Error(t, err)
}

func testApp(t *testing.T) *app {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	return &app{
		config: cfg,
		logger: ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}),
	}
}

func runResolve(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, []byte(batchJSON), 0o600))

	cmd := newResolveCmd(testApp(t))
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"--input", path}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func TestResolveCmd_JSON(t *testing.T) {
	out, err := runResolve(t, "--output", "json", "--id-strategy", "membership")
	require.NoError(t, err)

	var result resolution.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))

	again, err := runResolve(t, "--output", "json", "--id-strategy", "membership")
	require.NoError(t, err)
	var second resolution.Result
	require.NoError(t, json.Unmarshal([]byte(again), &second))

	assert.Equal(t, "b-1", result.BatchID)
	require.Len(t, result.GoldenRecords, 1)
	assert.ElementsMatch(t, []string{"r1", "r2"}, result.GoldenRecords[0].SourceRecordIDs)
	require.Len(t, second.GoldenRecords, 1)
	assert.Equal(t, result.GoldenRecords[0].GoldenID, second.GoldenRecords[0].GoldenID, "membership ids are stable")
	assert.NotEqual(t, result.RunID, second.RunID)
	require.Len(t, result.Unmatched, 1)
	assert.Equal(t, "r3", result.Unmatched[0].RecordID)
	assert.Equal(t, 3, result.Stats.Records)
}

func TestResolveCmd_MergeSingletons(t *testing.T) {
	out, err := runResolve(t, "--output", "json", "--merge-singletons")
	require.NoError(t, err)

	var result resolution.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Len(t, result.GoldenRecords, 2)
	assert.Empty(t, result.Unmatched)
}

func TestResolveCmd_ThresholdOverride(t *testing.T) {
	out, err := runResolve(t, "--output", "json", "--threshold", "1")
	require.NoError(t, err)

	var result resolution.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Empty(t, result.GoldenRecords)
	assert.Len(t, result.Unmatched, 3)
}

func TestResolveCmd_YAML(t *testing.T) {
	out, err := runResolve(t, "--output", "yaml")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "b-1", doc["batch_id"])
	assert.Contains(t, doc, "golden_records")
	assert.NotContains(t, doc, "records")
}

func TestResolveCmd_Table(t *testing.T) {
	out, err := runResolve(t)
	require.NoError(t, err)

	assert.Contains(t, out, "Golden records")
	assert.Contains(t, out, "Unmatched records")
	assert.Contains(t, out, "r3")
	assert.Contains(t, out, "email=john@example.com")
}

func TestResolveCmd_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "threshold out of range", args: []string{"--threshold", "1.5"}},
		{name: "unknown id strategy", args: []string{"--id-strategy", "sequential"}},
		{name: "bad priorities", args: []string{"--priorities", "crm"}},
		{name: "unknown output", args: []string{"--output", "xml"}},
		{name: "missing weights file", args: []string{"--weights", "/nonexistent/weights.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runResolve(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestResolveCmd_RequiresInput(t *testing.T) {
	cmd := newResolveCmd(testApp(t))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)
	assert.Error(t, cmd.Execute())
}

func TestWriteResult_EmptyResult(t *testing.T) {
	out := &bytes.Buffer{}
	err := writeResult(out, &resolution.Result{RunID: "run-1"}, "table")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "run-1")
	assert.NotContains(t, out.String(), "Unmatched records")
}
