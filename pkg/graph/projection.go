package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Statement is one parameterised Cypher query
type Statement struct {
	Cypher string
	Params map[string]any
}

// statementExecutor runs statements in a single write transaction
type statementExecutor interface {
	ExecuteWrite(ctx context.Context, statements []Statement) error
}

// Projection writes golden records, their source records and the match
// edges between them. It implements resolution.Sink.
//
// Nodes are MERGEd on their ids so replaying a run is idempotent.
type Projection struct {
	executor statementExecutor
	logger   ectologger.Logger
}

// NewProjection creates a new graph projection
func NewProjection(client *Client, logger ectologger.Logger) *Projection {
	return &Projection{
		executor: client,
		logger:   logger,
	}
}

// Name implements resolution.Sink
func (p *Projection) Name() string {
	return "graph"
}

// Write implements resolution.Sink
func (p *Projection) Write(ctx context.Context, result *resolution.Result) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projection.Write")
	defer span.End()

	statements := BuildStatements(result)
	if len(statements) == 0 {
		return nil
	}

	if err := p.executor.ExecuteWrite(ctx, statements); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("run_id", result.RunID).Error("Failed to project resolution run")
		return fmt.Errorf("failed to project run %s: %w", result.RunID, err)
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":         result.RunID,
		"golden_records": len(result.GoldenRecords),
		"statements":     len(statements),
	}).Debug("Projected resolution run")

	return nil
}

// BuildStatements turns a result into Cypher statements. Source records are
// written before golden records so edges can MATCH both ends.
func BuildStatements(result *resolution.Result) []Statement {
	var statements []Statement

	records := groupRecords(result.Records)
	for _, entityType := range sortedKeys(records) {
		statements = append(statements, Statement{
			Cypher: fmt.Sprintf(`
				UNWIND $records AS r
				MERGE (s:SourceRecord {record_id: r.record_id})
				SET s:%s, s += r.props, s.source_system = r.source_system, s.entity_type = r.entity_type, s.timestamp = r.timestamp
			`, sanitizeLabel(entityType)),
			Params: map[string]any{"records": records[entityType]},
		})
	}

	golden := groupGolden(result.GoldenRecords, result.RunID)
	for _, entityType := range sortedKeys(golden) {
		statements = append(statements, Statement{
			Cypher: fmt.Sprintf(`
				UNWIND $golden AS g
				MERGE (n:GoldenRecord {golden_id: g.golden_id})
				SET n:%s, n += g.props, n.entity_type = g.entity_type, n.fingerprint = g.fingerprint, n.run_id = g.run_id
			`, sanitizeLabel(entityType)),
			Params: map[string]any{"golden": golden[entityType]},
		})
	}

	if links := resolvedFrom(result.GoldenRecords, result.RunID); len(links) > 0 {
		statements = append(statements, Statement{
			Cypher: `
				UNWIND $links AS l
				MATCH (g:GoldenRecord {golden_id: l.golden_id})
				MATCH (s:SourceRecord {record_id: l.record_id})
				MERGE (g)-[r:RESOLVED_FROM]->(s)
				SET r.run_id = l.run_id, r.donated = l.donated
			`,
			Params: map[string]any{"links": links},
		})
	}

	if pairs := matched(result.Candidates, result.RunID); len(pairs) > 0 {
		statements = append(statements, Statement{
			Cypher: `
				UNWIND $pairs AS p
				MATCH (a:SourceRecord {record_id: p.a})
				MATCH (b:SourceRecord {record_id: p.b})
				MERGE (a)-[m:MATCHED]->(b)
				SET m.score = p.score, m.block_key = p.block_key, m.run_id = p.run_id
			`,
			Params: map[string]any{"pairs": pairs},
		})
	}

	return statements
}

func groupRecords(records []models.SourceRecord) map[string][]map[string]any {
	out := make(map[string][]map[string]any)
	for _, r := range records {
		out[r.EntityType] = append(out[r.EntityType], map[string]any{
			"record_id":     r.RecordID,
			"source_system": r.SourceSystem,
			"entity_type":   r.EntityType,
			"timestamp":     r.Timestamp,
			"props":         properties(r.Attributes),
		})
	}
	return out
}

func groupGolden(golden []models.GoldenRecord, runID string) map[string][]map[string]any {
	out := make(map[string][]map[string]any)
	for _, g := range golden {
		out[g.EntityType] = append(out[g.EntityType], map[string]any{
			"golden_id":   g.GoldenID,
			"entity_type": g.EntityType,
			"fingerprint": g.Fingerprint,
			"run_id":      runID,
			"props":       properties(g.Attributes),
		})
	}
	return out
}

// resolvedFrom links each golden record to every member, listing the
// attributes that member donated.
func resolvedFrom(golden []models.GoldenRecord, runID string) []map[string]any {
	var links []map[string]any
	for _, g := range golden {
		donated := make(map[string][]string)
		for _, entry := range g.Lineage {
			donated[entry.SourceRecordID] = append(donated[entry.SourceRecordID], entry.Attribute)
		}
		for _, id := range g.SourceRecordIDs {
			attrs := donated[id]
			if attrs == nil {
				attrs = []string{}
			}
			links = append(links, map[string]any{
				"golden_id": g.GoldenID,
				"record_id": id,
				"run_id":    runID,
				"donated":   attrs,
			})
		}
	}
	return links
}

// matched orders each pair so the same two records always share one edge
func matched(candidates []models.MatchCandidate, runID string) []map[string]any {
	pairs := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		a, b := c.RecordAID, c.RecordBID
		if b < a {
			a, b = b, a
		}
		pairs = append(pairs, map[string]any{
			"a":         a,
			"b":         b,
			"score":     c.Score,
			"block_key": c.BlockKey,
			"run_id":    runID,
		})
	}
	return pairs
}

// properties flattens attributes into node properties under an "attr_"
// prefix. Absent values are skipped.
func properties(attrs models.Attributes) map[string]any {
	props := make(map[string]any, len(attrs))
	for _, k := range attrs.Keys() {
		v := attrs[k]
		if v.IsAbsent() {
			continue
		}
		props["attr_"+sanitizeProperty(k)] = v.Interface()
	}
	return props
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sanitizeLabel keeps letters, digits and underscores and upper-cases the
// first letter: "person" becomes "Person".
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	result := b.String()
	if result == "" || (result[0] >= '0' && result[0] <= '9') {
		return "Entity" + result
	}
	return strings.ToUpper(result[:1]) + result[1:]
}

func sanitizeProperty(name string) string {
	var b strings.Builder
	for _, c := range name {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
