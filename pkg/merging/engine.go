// Package merging builds golden records from clusters using timestamp
// survivorship and records per-attribute lineage.
package merging

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrEmptyCluster is returned when a merge is requested for a cluster with no members
var ErrEmptyCluster = errors.New("cannot merge an empty cluster")

// IDStrategy selects how golden ids are generated
type IDStrategy string

const (
	// IDStrategyRandom assigns a new random UUID to every golden record
	IDStrategyRandom IDStrategy = "random"
	// IDStrategyMembership derives a UUID from the cluster membership, so the
	// same members always produce the same golden id
	IDStrategyMembership IDStrategy = "membership"
)

// Resolution names recorded on merge conflicts
const (
	ResolutionMostRecent               = "most_recent"
	ResolutionMostRecentSourcePriority = "most_recent_then_source_priority"
)

// goldenNamespace scopes membership-derived golden ids
var goldenNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("fern.golden_record"))

// ParseIDStrategy converts a configuration string into an IDStrategy
func ParseIDStrategy(s string) (IDStrategy, error) {
	switch IDStrategy(s) {
	case "", IDStrategyRandom:
		return IDStrategyRandom, nil
	case IDStrategyMembership:
		return IDStrategyMembership, nil
	default:
		return "", fmt.Errorf("unknown golden id strategy %q", s)
	}
}

// Option configures an Engine
type Option func(*Engine)

// WithSourcePriorities breaks timestamp ties by source priority, highest
// first. Sources missing from the table rank as priority 0. Without this
// option ties keep input order.
func WithSourcePriorities(priorities []models.SourcePriority) Option {
	return func(e *Engine) {
		if len(priorities) == 0 {
			e.priorities = nil
			return
		}
		e.priorities = make(map[string]int, len(priorities))
		for _, p := range priorities {
			e.priorities[p.SourceSystem] = p.Priority
		}
	}
}

// WithIDStrategy sets how golden ids are generated
func WithIDStrategy(strategy IDStrategy) Option {
	return func(e *Engine) {
		e.idStrategy = strategy
	}
}

// Engine merges clusters into golden records. It performs no I/O.
type Engine struct {
	logger      ectologger.Logger
	fieldMerger *FieldMerger
	priorities  map[string]int
	idStrategy  IDStrategy
}

// NewEngine creates a new merge engine
func NewEngine(logger ectologger.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:      logger,
		fieldMerger: NewFieldMerger(),
		idStrategy:  IDStrategyRandom,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateGoldenRecord merges the members of one cluster.
//
// Members are ordered most recent first (empty timestamps last, ties in input
// order). Each attribute takes the first non-empty value in that order, so an
// older record still donates attributes the newer ones lack. Attributes empty
// on every member are omitted.
func (e *Engine) CreateGoldenRecord(ctx context.Context, members []models.SourceRecord) (*models.GoldenRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.CreateGoldenRecord")
	defer span.End()

	if len(members) == 0 {
		return nil, ErrEmptyCluster
	}

	ordered := e.survivorshipOrder(members)
	resolution := ResolutionMostRecent
	if e.priorities != nil {
		resolution = ResolutionMostRecentSourcePriority
	}

	attributes := make(models.Attributes)
	var lineage []models.LineageEntry
	var conflicts []models.MergeConflict
	for _, attribute := range attributeUnion(members) {
		entry, conflict, ok := e.fieldMerger.MergeField(attribute, ordered, resolution)
		if !ok {
			continue
		}
		attributes[attribute] = entry.Value
		lineage = append(lineage, entry)
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
		}
	}

	recordIDs := models.RecordIDs(members)
	fp := fingerprint.Membership(recordIDs)

	golden := &models.GoldenRecord{
		GoldenID:        e.goldenID(fp),
		EntityType:      members[0].EntityType,
		Attributes:      attributes,
		SourceRecordIDs: recordIDs,
		Lineage:         lineage,
		Conflicts:       conflicts,
		Fingerprint:     fp,
	}

	if len(conflicts) > 0 {
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"golden_id":  golden.GoldenID,
			"conflicts":  ectolinq.Map(conflicts, func(c models.MergeConflict) string { return c.Attribute }),
			"resolution": resolution,
		}).Debug("Resolved attribute conflicts")
	}

	return golden, nil
}

// survivorshipOrder returns a copy of members sorted most recent first.
// Timestamps compare as strings, which orders ISO-8601 values correctly.
func (e *Engine) survivorshipOrder(members []models.SourceRecord) []models.SourceRecord {
	ordered := make([]models.SourceRecord, len(members))
	copy(ordered, members)

	sort.SliceStable(ordered, func(i, j int) bool {
		ti, tj := ordered[i].Timestamp, ordered[j].Timestamp
		if ti != tj {
			if ti == "" {
				return false
			}
			if tj == "" {
				return true
			}
			return ti > tj
		}
		if e.priorities != nil {
			return e.priorities[ordered[i].SourceSystem] > e.priorities[ordered[j].SourceSystem]
		}
		return false
	})

	return ordered
}

func (e *Engine) goldenID(membership string) string {
	if e.idStrategy == IDStrategyMembership {
		return uuid.NewSHA1(goldenNamespace, []byte(membership)).String()
	}
	return uuid.NewString()
}

// attributeUnion returns every attribute name present on any member, sorted
func attributeUnion(members []models.SourceRecord) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range members {
		for name := range m.Attributes {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
