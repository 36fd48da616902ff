package models

// GoldenRecord is the consolidated representation of one resolved entity
type GoldenRecord struct {
	GoldenID        string          `json:"golden_id" db:"golden_id"`
	EntityType      string          `json:"entity_type" db:"entity_type"`
	Attributes      Attributes      `json:"attributes"`
	SourceRecordIDs []string        `json:"source_record_ids"`
	Lineage         []LineageEntry  `json:"lineage"`
	Conflicts       []MergeConflict `json:"conflicts,omitempty"`
	// Fingerprint identifies the cluster membership, independent of member order
	Fingerprint string `json:"fingerprint" db:"fingerprint"`
}

// LineageEntry explains which source record donated a surviving attribute value
type LineageEntry struct {
	Attribute      string `json:"attribute"`
	SourceRecordID string `json:"source_record_id"`
	SourceSystem   string `json:"source_system"`
	Value          Value  `json:"value"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// MergeConflict records an attribute on which cluster members disagreed
type MergeConflict struct {
	Attribute       string   `json:"attribute"`
	Values          []Value  `json:"values"`
	SourceRecordIDs []string `json:"source_record_ids"`
	Resolution      string   `json:"resolution"`
	ResolvedValue   Value    `json:"resolved_value"`
}

// SourcePriority defines how trusted a source system is. Higher is more trusted.
type SourcePriority struct {
	SourceSystem string `json:"source_system" yaml:"source_system"`
	Priority     int    `json:"priority" yaml:"priority"`
}

// LineageFor returns the lineage entry for an attribute, if any
func (g *GoldenRecord) LineageFor(attribute string) (LineageEntry, bool) {
	for _, entry := range g.Lineage {
		if entry.Attribute == attribute {
			return entry, true
		}
	}
	return LineageEntry{}, false
}
