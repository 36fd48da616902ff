package models

// Cluster is a set of records connected directly or transitively by match candidates
type Cluster struct {
	EntityType string         `json:"entity_type"`
	Members    []SourceRecord `json:"members"`
	// EdgeCount is the number of distinct member pairs joined by a candidate
	EdgeCount int     `json:"edge_count"`
	Density   float64 `json:"density"`
	// Chained is set when the cluster holds members that were never matched
	// to each other directly.
	Chained bool `json:"chained"`
}

// IsSingleton reports whether the cluster holds exactly one record
func (c Cluster) IsSingleton() bool {
	return len(c.Members) == 1
}

// RecordIDs returns the member ids in cluster order
func (c Cluster) RecordIDs() []string {
	return RecordIDs(c.Members)
}
