package models

// MatchCandidate asserts that two records likely describe the same entity.
// The pair is unordered.
type MatchCandidate struct {
	RecordAID    string             `json:"record_a_id" db:"record_a_id"`
	RecordBID    string             `json:"record_b_id" db:"record_b_id"`
	Score        float64            `json:"score" db:"score"`
	MatchReasons []string           `json:"match_reasons"`
	EntityType   string             `json:"entity_type" db:"entity_type"`
	BlockKey     string             `json:"block_key" db:"block_key"`
	FieldScores  map[string]float64 `json:"field_scores,omitempty"`
}

// PairKey returns an order-independent key for the candidate's record pair
func (c MatchCandidate) PairKey() string {
	return PairKey(c.RecordAID, c.RecordBID)
}

// PairKey returns an order-independent key for two record ids
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}
