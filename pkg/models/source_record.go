package models

// SourceRecord is an immutable fact ingested from one source system
type SourceRecord struct {
	RecordID     string     `json:"record_id" yaml:"record_id" db:"record_id" validate:"required"`
	SourceSystem string     `json:"source_system" yaml:"source_system" db:"source_system" validate:"required"`
	EntityType   string     `json:"entity_type" yaml:"entity_type" db:"entity_type" validate:"required"`
	Attributes   Attributes `json:"attributes" yaml:"attributes"`
	// Timestamp is an optional ISO-8601 last-update time. Empty sorts after
	// every timestamped record.
	Timestamp string `json:"timestamp,omitempty" yaml:"timestamp,omitempty" db:"timestamp"`
}

// RecordBatch is a complete batch of source records for one resolution run
type RecordBatch struct {
	BatchID string         `json:"batch_id" yaml:"batch_id"`
	Records []SourceRecord `json:"records" yaml:"records"`
}

// RecordIDs returns the ids of the given records in order
func RecordIDs(records []SourceRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.RecordID
	}
	return ids
}
