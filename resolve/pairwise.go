package resolve

// Scores the label against every candidate name. Fine for the few
// hundred stops of a city.
type Pairwise struct {
	Threshold float64

	exact   exactIndex
	entries []entry
}

func NewPairwise(candidates []Candidate, threshold float64) *Pairwise {
	exact, entries := buildIndex(candidates)
	return &Pairwise{
		Threshold: threshold,
		exact:     exact,
		entries:   entries,
	}
}

func (p *Pairwise) Resolve(label string) (int, bool) {
	m := p.Match(label)
	return m.ID, m.OK()
}

func (p *Pairwise) Match(label string) Match {
	q := Normalize(label)
	if q == "" {
		return Match{Label: label, Kind: KindUnresolved}
	}

	if id, found := p.exact[q]; found {
		return Match{Label: label, ID: id, Kind: KindExact, Score: 1}
	}

	e, score, ok := best(q, p.entries, p.Threshold)
	if !ok {
		return Match{Label: label, Kind: KindUnresolved}
	}
	return Match{Label: label, ID: e.id, Kind: KindFuzzy, Score: score}
}
