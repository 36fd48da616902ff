package merging

import (
	"github.com/Ramsey-B/fern/pkg/models"
)

// FieldMerger picks the surviving value of one attribute across cluster members
type FieldMerger struct{}

// NewFieldMerger creates a new FieldMerger
func NewFieldMerger() *FieldMerger {
	return &FieldMerger{}
}

// fieldValue is one member's non-empty value for an attribute
type fieldValue struct {
	Value          models.Value
	SourceRecordID string
	SourceSystem   string
	Timestamp      string
}

// MergeField returns the lineage entry of the first non-empty value in
// survivorship order. ok is false when every member lacks the attribute.
// A conflict is reported when members carry differing values.
func (m *FieldMerger) MergeField(
	attribute string,
	ordered []models.SourceRecord,
	resolution string,
) (entry models.LineageEntry, conflict *models.MergeConflict, ok bool) {
	values := make([]fieldValue, 0, len(ordered))
	for _, member := range ordered {
		v := member.Attributes.Get(attribute)
		if v.IsEmpty() {
			continue
		}
		values = append(values, fieldValue{
			Value:          v,
			SourceRecordID: member.RecordID,
			SourceSystem:   member.SourceSystem,
			Timestamp:      member.Timestamp,
		})
	}

	if len(values) == 0 {
		return models.LineageEntry{}, nil, false
	}

	winner := values[0]
	entry = models.LineageEntry{
		Attribute:      attribute,
		SourceRecordID: winner.SourceRecordID,
		SourceSystem:   winner.SourceSystem,
		Value:          winner.Value,
		Timestamp:      winner.Timestamp,
	}

	conflict = m.detectConflict(attribute, values)
	if conflict != nil {
		conflict.ResolvedValue = winner.Value
		conflict.Resolution = resolution
	}

	return entry, conflict, true
}

// detectConflict reports every contributed value when they do not all agree
func (m *FieldMerger) detectConflict(attribute string, values []fieldValue) *models.MergeConflict {
	if len(values) < 2 {
		return nil
	}

	first := values[0].Value.Text()
	allSame := true
	for _, v := range values[1:] {
		if v.Value.Text() != first {
			allSame = false
			break
		}
	}
	if allSame {
		return nil
	}

	conflict := &models.MergeConflict{
		Attribute:       attribute,
		Values:          make([]models.Value, len(values)),
		SourceRecordIDs: make([]string, len(values)),
	}
	for i, v := range values {
		conflict.Values[i] = v.Value
		conflict.SourceRecordIDs[i] = v.SourceRecordID
	}
	return conflict
}
