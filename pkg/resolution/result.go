package resolution

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Stats summarises one resolution run
type Stats struct {
	Records         int           `json:"records"`
	Blocks          int           `json:"blocks"`
	Comparisons     int           `json:"comparisons"`
	Candidates      int           `json:"candidates"`
	Clusters        int           `json:"clusters"`
	ChainedClusters int           `json:"chained_clusters"`
	GoldenRecords   int           `json:"golden_records"`
	Unmatched       int           `json:"unmatched"`
	Duration        time.Duration `json:"duration_ns"`
}

// Result is the output of one resolution run
type Result struct {
	RunID         string                  `json:"run_id"`
	BatchID       string                  `json:"batch_id,omitempty"`
	StartedAt     time.Time               `json:"started_at"`
	Candidates    []models.MatchCandidate `json:"candidates"`
	Clusters      []models.Cluster        `json:"clusters"`
	GoldenRecords []models.GoldenRecord   `json:"golden_records"`
	// Unmatched holds records that formed singleton clusters and were not merged
	Unmatched []models.SourceRecord `json:"unmatched"`
	Stats     Stats                 `json:"stats"`

	// Records is the input batch, retained so sinks can resolve lineage
	Records []models.SourceRecord `json:"-"`
}

// EntityTypes returns the distinct entity types in the input batch, sorted
func (r *Result) EntityTypes() []string {
	return entityTypes(r.Records)
}
