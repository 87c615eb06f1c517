package resolve

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/sync/errgroup"
)

// Resolves through an inverted token index. Only names sharing a
// token with the label (within a small edit distance, or by prefix)
// are scored, which keeps bulk matching of large sets cheap.
type Indexed struct {
	Threshold float64

	exact   exactIndex
	entries []entry

	postings map[string][]int
	byLen    map[int][]string
	vocab    []string
}

func NewIndexed(candidates []Candidate, threshold float64) *Indexed {
	exact, entries := buildIndex(candidates)

	idx := &Indexed{
		Threshold: threshold,
		exact:     exact,
		entries:   entries,
		postings:  map[string][]int{},
		byLen:     map[int][]string{},
	}

	for i, e := range entries {
		for _, tok := range strings.Fields(e.name) {
			if _, found := idx.postings[tok]; !found {
				idx.vocab = append(idx.vocab, tok)
				n := utf8.RuneCountInString(tok)
				idx.byLen[n] = append(idx.byLen[n], tok)
			}
			p := idx.postings[tok]
			if len(p) == 0 || p[len(p)-1] != i {
				idx.postings[tok] = append(p, i)
			}
		}
	}
	sort.Strings(idx.vocab)

	return idx
}

func (idx *Indexed) Resolve(label string) (int, bool) {
	m := idx.Match(label)
	return m.ID, m.OK()
}

func (idx *Indexed) Match(label string) Match {
	q := Normalize(label)
	if q == "" {
		return Match{Label: label, Kind: KindUnresolved}
	}

	if id, found := idx.exact[q]; found {
		return Match{Label: label, ID: id, Kind: KindExact, Score: 1}
	}

	e, score, ok := best(q, idx.candidates(q), idx.Threshold)
	if !ok {
		return Match{Label: label, Kind: KindUnresolved}
	}
	return Match{Label: label, ID: e.id, Kind: KindFuzzy, Score: score}
}

// Matches a batch of labels. Results are in input order.
func (idx *Indexed) ResolveAll(ctx context.Context, labels []string) ([]Match, error) {
	matches := make([]Match, len(labels))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, label := range labels {
		i, label := i, label
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			matches[i] = idx.Match(label)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return matches, nil
}

func maxTokenDistance(n int) int {
	if n <= 5 {
		return 1
	}
	return 2
}

// Entries sharing at least one approximately equal token with q.
func (idx *Indexed) candidates(q string) []entry {
	hit := map[int]bool{}

	for _, qt := range strings.Fields(q) {
		n := utf8.RuneCountInString(qt)
		maxDist := maxTokenDistance(n)

		for l := n - maxDist; l <= n+maxDist; l++ {
			for _, tok := range idx.byLen[l] {
				if levenshtein.ComputeDistance(qt, tok) <= maxDist {
					for _, i := range idx.postings[tok] {
						hit[i] = true
					}
				}
			}
		}

		// Abbreviations, "hosp" for "hospital"
		if n >= 3 {
			start := sort.SearchStrings(idx.vocab, qt)
			for j := start; j < len(idx.vocab) && strings.HasPrefix(idx.vocab[j], qt); j++ {
				for _, i := range idx.postings[idx.vocab[j]] {
					hit[i] = true
				}
			}
		}
	}

	ids := make([]int, 0, len(hit))
	for i := range hit {
		ids = append(ids, i)
	}
	sort.Ints(ids)

	res := make([]entry, 0, len(ids))
	for _, i := range ids {
		res = append(res, idx.entries[i])
	}
	return res
}
