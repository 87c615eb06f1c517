package resolve

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const DefaultThreshold = 0.74

type Kind string

const (
	KindExact      Kind = "exact"
	KindFuzzy      Kind = "fuzzy"
	KindUnresolved Kind = "unresolved"
)

// A stop that labels can resolve to. The first name is the primary
// one, any others are alternates.
type Candidate struct {
	ID    int
	Names []string
}

type Match struct {
	Label string
	ID    int
	Kind  Kind
	Score float64
}

func (m Match) OK() bool {
	return m.Kind != KindUnresolved
}

// Maps free text stop labels to stop IDs.
type Resolver interface {
	Resolve(label string) (int, bool)
	Match(label string) Match
}

type entry struct {
	id   int
	name string
	len  int
}

// Exact lookup table shared by the implementations. Primary names
// take precedence over alternates, lower IDs over higher.
type exactIndex map[string]int

func buildIndex(candidates []Candidate) (exactIndex, []entry) {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	exact := exactIndex{}
	entries := []entry{}
	seen := map[entry]bool{}

	for pass := 0; pass < 2; pass++ {
		for _, c := range sorted {
			for i, name := range c.Names {
				if (pass == 0) != (i == 0) {
					continue
				}
				n := Normalize(name)
				if n == "" {
					continue
				}
				if _, found := exact[n]; !found {
					exact[n] = c.ID
				}
				e := entry{id: c.ID, name: n, len: utf8.RuneCountInString(n)}
				if !seen[e] {
					seen[e] = true
					entries = append(entries, e)
				}
			}
		}
	}

	return exact, entries
}

// Similarity of two normalized strings on a 0 to 1 scale. Prefix
// matches score above containment, which scores above the edit
// distance ratio. Prefix and containment need at least 3 runes on
// the shorter side.
func Score(a, b string) float64 {
	if a == b {
		return 1
	}

	la := utf8.RuneCountInString(a)
	lb := utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}

	short, long := a, b
	ls, ll := la, lb
	if la > lb {
		short, long = b, a
		ls, ll = lb, la
	}
	ratio := float64(ls) / float64(ll)

	if ls >= 3 {
		if strings.HasPrefix(long, short) {
			return 0.9 + 0.09*ratio
		}
		if strings.Contains(long, short) {
			return 0.8 + 0.09*ratio
		}
	}

	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(ll)
}

// Picks the best scored entry above threshold. Ties go to the
// smaller length difference, then to the lower ID.
func best(query string, entries []entry, threshold float64) (entry, float64, bool) {
	ql := utf8.RuneCountInString(query)

	var top entry
	topScore := -1.0
	topDiff := 0
	found := false

	for _, e := range entries {
		s := Score(query, e.name)
		diff := abs(ql - e.len)

		switch {
		case !found || s > topScore:
		case s == topScore && diff < topDiff:
		case s == topScore && diff == topDiff && e.id < top.id:
		default:
			continue
		}

		top, topScore, topDiff, found = e, s, diff, true
	}

	if !found || topScore <= threshold {
		return entry{}, 0, false
	}
	return top, topScore, true
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
