package matching

import (
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Comparator names a similarity algorithm
type Comparator string

const (
	// ComparatorRatio is the longest-common-subsequence ratio (default)
	ComparatorRatio Comparator = "ratio"
	// ComparatorExact scores 1.0 for case-insensitive equality, 0.0 otherwise
	ComparatorExact Comparator = "exact"
	// ComparatorJaroWinkler is Jaro similarity boosted for common prefixes
	ComparatorJaroWinkler Comparator = "jaro_winkler"
	// ComparatorLevenshtein is 1 - edit distance / longest length
	ComparatorLevenshtein Comparator = "levenshtein"
)

// Scorer provides value comparison algorithms. All algorithms return a
// similarity in [0,1], return 0.0 when either side is empty, and compare the
// case-folded textual form of the values.
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Compare scores two values with the named comparator.
// Unknown comparators fall back to Ratio.
func (s *Scorer) Compare(comparator Comparator, a, b models.Value) float64 {
	switch comparator {
	case ComparatorExact:
		return s.ExactMatch(a, b)
	case ComparatorJaroWinkler:
		return s.JaroWinkler(a, b)
	case ComparatorLevenshtein:
		return s.Levenshtein(a, b)
	default:
		return s.Ratio(a, b)
	}
}

// Ratio returns 2*LCS/(len(a)+len(b)) over the case-folded runes of both values.
//
// This rewards typos and substrings but not reordering: "Smith John" and
// "John Smith" score low.
func (s *Scorer) Ratio(a, b models.Value) float64 {
	ra, rb, ok := prepare(a, b)
	if !ok {
		return 0.0
	}
	lcs := longestCommonSubsequence(ra, rb)
	return 2.0 * float64(lcs) / float64(len(ra)+len(rb))
}

// ExactMatch returns 1.0 for a case-insensitive exact match, 0.0 otherwise
func (s *Scorer) ExactMatch(a, b models.Value) float64 {
	ra, rb, ok := prepare(a, b)
	if !ok {
		return 0.0
	}
	if string(ra) == string(rb) {
		return 1.0
	}
	return 0.0
}

// JaroWinkler calculates the Jaro-Winkler similarity between two values
func (s *Scorer) JaroWinkler(a, b models.Value) float64 {
	ra, rb, ok := prepare(a, b)
	if !ok {
		return 0.0
	}

	j := jaro(ra, rb)

	prefix := 0
	for i := 0; i < len(ra) && i < len(rb) && i < 4; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefix++
	}

	return j + float64(prefix)*0.1*(1.0-j)
}

// Levenshtein returns 1 - editDistance/maxLen
func (s *Scorer) Levenshtein(a, b models.Value) float64 {
	ra, rb, ok := prepare(a, b)
	if !ok {
		return 0.0
	}
	distance := levenshteinDistance(ra, rb)
	return 1.0 - float64(distance)/float64(max(len(ra), len(rb)))
}

// prepare case-folds both values into runes. ok is false when either is empty.
func prepare(a, b models.Value) ([]rune, []rune, bool) {
	if a.IsEmpty() || b.IsEmpty() {
		return nil, nil, false
	}
	ra := []rune(strings.ToLower(a.Text()))
	rb := []rune(strings.ToLower(b.Text()))
	if len(ra) == 0 || len(rb) == 0 {
		return nil, nil, false
	}
	return ra, rb, true
}

func longestCommonSubsequence(a, b []rune) int {
	if len(b) > len(a) {
		a, b = b, a
	}

	prev := make([]int, len(b)+1)
	row := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				row[j] = prev[j-1] + 1
			} else {
				row[j] = max(prev[j], row[j-1])
			}
		}
		prev, row = row, prev
	}
	return prev[len(b)]
}

func jaro(a, b []rune) float64 {
	if string(a) == string(b) {
		return 1.0
	}

	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	for i := range a {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

func levenshteinDistance(a, b []rune) int {
	prev := make([]int, len(b)+1)
	row := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			row[j] = min(row[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, row = row, prev
	}
	return prev[len(b)]
}
