package clustering

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func records(ids ...string) []models.SourceRecord {
	out := make([]models.SourceRecord, len(ids))
	for i, id := range ids {
		out[i] = models.SourceRecord{RecordID: id, SourceSystem: "crm", EntityType: "person"}
	}
	return out
}

func candidate(a, b string, score float64) models.MatchCandidate {
	return models.MatchCandidate{RecordAID: a, RecordBID: b, Score: score, EntityType: "person"}
}

func clusterIDs(clusters []models.Cluster) [][]string {
	out := make([][]string, len(clusters))
	for i, c := range clusters {
		out[i] = c.RecordIDs()
	}
	return out
}

func TestBuilder_Build(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		records    []models.SourceRecord
		candidates []models.MatchCandidate
		expected   [][]string
	}{
		{
			name:     "no candidates yields singletons",
			records:  records("a", "b", "c"),
			expected: [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name:       "pair plus singleton in input order",
			records:    records("a", "b", "c"),
			candidates: []models.MatchCandidate{candidate("c", "a", 0.9)},
			expected:   [][]string{{"a", "c"}, {"b"}},
		},
		{
			name:       "transitive chain is one cluster",
			records:    records("a", "b", "c", "d"),
			candidates: []models.MatchCandidate{candidate("a", "b", 0.9), candidate("b", "c", 0.9)},
			expected:   [][]string{{"a", "b", "c"}, {"d"}},
		},
		{
			name:    "candidates outside the batch are ignored",
			records: records("a", "b"),
			candidates: []models.MatchCandidate{
				candidate("a", "ghost", 0.99),
				candidate("ghost", "b", 0.99),
			},
			expected: [][]string{{"a"}, {"b"}},
		},
		{
			name:     "empty batch",
			records:  nil,
			expected: [][]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder, err := NewBuilder(testLogger(), DefaultConfig())
			require.NoError(t, err)

			clusters, err := builder.Build(ctx, tt.records, tt.candidates)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, clusterIDs(clusters))
		})
	}
}

func TestBuilder_Build_Density(t *testing.T) {
	builder, err := NewBuilder(testLogger(), DefaultConfig())
	require.NoError(t, err)

	recs := records("a", "b", "c", "d", "e")
	candidates := []models.MatchCandidate{
		candidate("a", "b", 0.95),
		candidate("b", "c", 0.90),
		candidate("b", "a", 0.97), // same pair reversed
		candidate("d", "e", 0.99),
	}

	clusters, err := builder.Build(context.Background(), recs, candidates)
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	chain := clusters[0]
	assert.Equal(t, 2, chain.EdgeCount)
	assert.InDelta(t, 2.0/3.0, chain.Density, 1e-9)
	assert.True(t, chain.Chained)

	pair := clusters[1]
	assert.Equal(t, 1, pair.EdgeCount)
	assert.Equal(t, 1.0, pair.Density)
	assert.False(t, pair.Chained)
}

func TestBuilder_Build_MinDensitySplitsChains(t *testing.T) {
	builder, err := NewBuilder(testLogger(), Config{MinDensity: 1.0})
	require.NoError(t, err)

	// a-b-c-d path: the weakest link b-c goes first
	recs := records("a", "b", "c", "d")
	candidates := []models.MatchCandidate{
		candidate("a", "b", 0.95),
		candidate("b", "c", 0.86),
		candidate("c", "d", 0.92),
	}

	clusters, err := builder.Build(context.Background(), recs, candidates)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, clusterIDs(clusters))
	for _, c := range clusters {
		assert.False(t, c.Chained)
		assert.Equal(t, 1.0, c.Density)
	}
}

func TestBuilder_Build_MinDensityKeepsDenseClusters(t *testing.T) {
	builder, err := NewBuilder(testLogger(), Config{MinDensity: 0.6})
	require.NoError(t, err)

	recs := records("a", "b", "c")
	candidates := []models.MatchCandidate{
		candidate("a", "b", 0.9),
		candidate("b", "c", 0.9),
	}

	clusters, err := builder.Build(context.Background(), recs, candidates)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c"}}, clusterIDs(clusters))
}

func TestBuilder_Build_Partition(t *testing.T) {
	builder, err := NewBuilder(testLogger(), Config{MinDensity: 0.5})
	require.NoError(t, err)

	recs := records("r1", "r2", "r3", "r4", "r5", "r6", "r7")
	candidates := []models.MatchCandidate{
		candidate("r1", "r2", 0.9),
		candidate("r2", "r3", 0.88),
		candidate("r3", "r4", 0.87),
		candidate("r4", "r5", 0.93),
		candidate("r6", "r1", 0.91),
	}

	clusters, err := builder.Build(context.Background(), recs, candidates)
	require.NoError(t, err)

	seen := make(map[string]int)
	last := -1
	position := map[string]int{"r1": 0, "r2": 1, "r3": 2, "r4": 3, "r5": 4, "r6": 5, "r7": 6}
	for _, c := range clusters {
		first := position[c.Members[0].RecordID]
		assert.Greater(t, first, last, "clusters ordered by first member")
		last = first
		for _, m := range c.Members {
			seen[m.RecordID]++
		}
	}
	assert.Len(t, seen, len(recs))
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestBuilder_Build_MinDensityRepeatedRecordIDs(t *testing.T) {
	builder, err := NewBuilder(testLogger(), Config{MinDensity: 0.5})
	require.NoError(t, err)

	var clusters []models.Cluster
	require.NotPanics(t, func() {
		clusters, err = builder.Build(context.Background(),
			records("a", "a", "a", "b"),
			[]models.MatchCandidate{candidate("a", "b", 0.9)},
		)
	})
	require.NoError(t, err)

	// the repeated ids share one node and cannot be pulled apart
	assert.Equal(t, [][]string{{"a", "a", "a"}, {"b"}}, clusterIDs(clusters))
	assert.Equal(t, 0, clusters[0].EdgeCount)
}

func TestBuilder_Build_Cancelled(t *testing.T) {
	builder, err := NewBuilder(testLogger(), DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = builder.Build(ctx, records("a"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewBuilder_InvalidConfig(t *testing.T) {
	_, err := NewBuilder(testLogger(), Config{MinDensity: 2})
	assert.ErrorIs(t, err, ErrInvalidMinDensity)
}
