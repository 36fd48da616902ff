// Package blocking partitions source records into comparison groups so that
// matching is quadratic in block size rather than in batch size.
//
// Blocking is lossy by construction: records in different blocks are never
// compared. Two records describing the same entity whose blocking attribute
// differs in its first character (a typo, an alias, a missing value on one
// side) land in different blocks and will never be matched.
package blocking

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Ramsey-B/fern/pkg/models"
)

// MissingKey is the block suffix for records without a usable blocking attribute
const MissingKey = "X"

// Block is a group of records that are compared pairwise
type Block struct {
	Key     string
	Records []models.SourceRecord
}

// Pairs returns the number of unordered pairs in the block
func (b Block) Pairs() int {
	n := len(b.Records)
	return n * (n - 1) / 2
}

// Index holds the blocks for one batch
type Index struct {
	attribute string
	blocks    map[string]*Block
}

// NewIndex creates an empty index keyed on the given attribute
func NewIndex(attribute string) *Index {
	return &Index{
		attribute: attribute,
		blocks:    make(map[string]*Block),
	}
}

// Build creates an index over records
func Build(records []models.SourceRecord, attribute string) *Index {
	idx := NewIndex(attribute)
	for _, r := range records {
		idx.Add(r)
	}
	return idx
}

// Key returns the block key for a record:
// "<entity_type>_<first character of attribute, upper-cased>", or
// "<entity_type>_X" when the attribute is missing or empty.
func Key(record models.SourceRecord, attribute string) string {
	prefix := MissingKey

	value := record.Attributes.Get(attribute)
	if !value.IsEmpty() {
		if r, _ := utf8.DecodeRuneInString(value.Text()); r != utf8.RuneError {
			prefix = strings.ToUpper(string(r))
		}
	}

	return fmt.Sprintf("%s_%s", record.EntityType, prefix)
}

// Add places a record into its block
func (i *Index) Add(record models.SourceRecord) {
	key := Key(record, i.attribute)
	block, ok := i.blocks[key]
	if !ok {
		block = &Block{Key: key}
		i.blocks[key] = block
	}
	block.Records = append(block.Records, record)
}

// Blocks returns the blocks sorted by key
func (i *Index) Blocks() []Block {
	keys := make([]string, 0, len(i.blocks))
	for k := range i.blocks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Block, len(keys))
	for n, k := range keys {
		out[n] = *i.blocks[k]
	}
	return out
}

// Len returns the number of blocks
func (i *Index) Len() int {
	return len(i.blocks)
}

// Comparisons returns the total number of pairwise comparisons the index implies
func (i *Index) Comparisons() int {
	total := 0
	for _, b := range i.blocks {
		total += b.Pairs()
	}
	return total
}
