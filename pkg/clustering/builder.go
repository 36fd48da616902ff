// Package clustering turns pairwise match candidates into clusters of records
// that describe the same entity.
//
// By default clusters are full connected components: A~B and B~C puts A and C
// together even when A and C were never matched. Each cluster reports its
// edge density so such chains are visible, and Config.MinDensity splits
// clusters that are too loosely connected.
package clustering

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrInvalidMinDensity is returned when MinDensity is outside [0,1]
var ErrInvalidMinDensity = errors.New("minimum cluster density must be between 0 and 1")

// Config contains configuration for the cluster builder
type Config struct {
	// MinDensity is the minimum fraction of member pairs that must be joined
	// directly. 0 keeps full connected components.
	MinDensity float64
}

// DefaultConfig returns the default builder configuration
func DefaultConfig() Config {
	return Config{}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MinDensity < 0 || c.MinDensity > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidMinDensity, c.MinDensity)
	}
	return nil
}

// Builder groups records into clusters
type Builder struct {
	logger ectologger.Logger
	config Config
}

// NewBuilder creates a new cluster builder
func NewBuilder(logger ectologger.Logger, config Config) (*Builder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Builder{logger: logger, config: config}, nil
}

// edge is a deduplicated candidate between two known records
type edge struct {
	a, b  string
	key   string
	score float64
}

// part is a set of member positions plus the edges between them
type part struct {
	members []int
	edges   []edge
}

// Build partitions records into clusters using the candidates as edges.
//
// Every record lands in exactly one cluster; records touched by no candidate
// become singletons. Candidates naming records outside the batch are skipped.
// Clusters are ordered by the input position of their first member and
// members keep input order.
func (b *Builder) Build(ctx context.Context, records []models.SourceRecord, candidates []models.MatchCandidate) ([]models.Cluster, error) {
	ctx, span := tracing.StartSpan(ctx, "clustering.Builder.Build")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := b.logger.WithContext(ctx)

	uf := NewUnionFind()
	first := make(map[string]int, len(records))
	for i, r := range records {
		uf.Add(r.RecordID)
		if _, ok := first[r.RecordID]; !ok {
			first[r.RecordID] = i
		}
	}

	edges := make([]edge, 0, len(candidates))
	byKey := make(map[string]int, len(candidates))
	skipped := 0
	for _, c := range candidates {
		if !uf.Has(c.RecordAID) || !uf.Has(c.RecordBID) {
			skipped++
			continue
		}
		if c.RecordAID == c.RecordBID {
			continue
		}

		key := c.PairKey()
		if i, ok := byKey[key]; ok {
			edges[i].score = max(edges[i].score, c.Score)
			continue
		}
		byKey[key] = len(edges)
		edges = append(edges, edge{a: c.RecordAID, b: c.RecordBID, key: key, score: c.Score})
		uf.Union(c.RecordAID, c.RecordBID)
	}

	if skipped > 0 {
		log.WithFields(map[string]any{
			"skipped_candidates": skipped,
		}).Warn("Ignoring match candidates that reference records outside the batch")
	}

	parts := components(records, uf, edges)

	if b.config.MinDensity > 0 {
		var split []part
		for _, p := range parts {
			split = append(split, b.split(records, p)...)
		}
		sort.SliceStable(split, func(i, j int) bool {
			return split[i].members[0] < split[j].members[0]
		})
		parts = split
	}

	clusters := make([]models.Cluster, len(parts))
	chained := 0
	for i, p := range parts {
		clusters[i] = newCluster(records, p)
		if clusters[i].Chained {
			chained++
		}
	}

	log.WithFields(map[string]any{
		"records":          len(records),
		"edges":            len(edges),
		"clusters":         len(clusters),
		"chained_clusters": chained,
	}).Debug("Built clusters")

	return clusters, nil
}

// components groups record positions by union-find root, ordered by first member
func components(records []models.SourceRecord, uf *UnionFind, edges []edge) []part {
	index := make(map[string]int)
	var parts []part
	for i, r := range records {
		root := uf.Find(r.RecordID)
		n, ok := index[root]
		if !ok {
			n = len(parts)
			index[root] = n
			parts = append(parts, part{})
		}
		parts[n].members = append(parts[n].members, i)
	}

	for _, e := range edges {
		n := index[uf.Find(e.a)]
		parts[n].edges = append(parts[n].edges, e)
	}

	return parts
}

// split peels the weakest edge off a loosely connected part until it breaks
// apart, then recurses into the pieces. Parts of two or fewer members are
// never split further, and neither is a part with no edges left, which
// happens when repeated record ids share one union-find node.
func (b *Builder) split(records []models.SourceRecord, p part) []part {
	work := make([]edge, len(p.edges))
	copy(work, p.edges)
	sort.SliceStable(work, func(i, j int) bool {
		if work[i].score != work[j].score {
			return work[i].score < work[j].score
		}
		return work[i].key < work[j].key
	})

	for {
		if len(p.members) <= 2 || len(work) == 0 || density(len(p.members), len(work)) >= b.config.MinDensity {
			return []part{{members: p.members, edges: work}}
		}

		work = work[1:]

		uf := NewUnionFind()
		subset := make([]models.SourceRecord, len(p.members))
		for i, m := range p.members {
			subset[i] = records[m]
			uf.Add(records[m].RecordID)
		}
		for _, e := range work {
			uf.Union(e.a, e.b)
		}

		pieces := components(subset, uf, work)
		if len(pieces) == 1 {
			continue
		}

		var out []part
		for _, piece := range pieces {
			piece.members = ectolinq.Map(piece.members, func(i int) int { return p.members[i] })
			out = append(out, b.split(records, piece)...)
		}
		return out
	}
}

func newCluster(records []models.SourceRecord, p part) models.Cluster {
	members := ectolinq.Map(p.members, func(i int) models.SourceRecord { return records[i] })
	d := density(len(members), len(p.edges))

	return models.Cluster{
		EntityType: members[0].EntityType,
		Members:    members,
		EdgeCount:  len(p.edges),
		Density:    d,
		Chained:    len(members) > 2 && d < 1,
	}
}

// density is the fraction of possible member pairs joined by an edge
func density(members, edges int) float64 {
	if members < 2 {
		return 1.0
	}
	possible := members * (members - 1) / 2
	return min(float64(edges)/float64(possible), 1.0)
}
