package resolve_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit/resolve"
)

func TestNormalize(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out string
	}{
		{"  Atuarfik  Hans-Lynge ", "atuarfik hans lynge"},
		{"Café Ilulissat", "cafe ilulissat"},
		{"Sømandshjemmet", "sømandshjemmet"},
		{"Ålborg", "alborg"},
		{"Nuuk Center!!", "nuuk center"},
		{"3. Dronning Ingrid", "3 dronning ingrid"},
		{"", ""},
		{"--", ""},
	} {
		assert.Equal(t, tc.out, resolve.Normalize(tc.in), tc.in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, in := range []string{
		"  Atuarfik  Hans-Lynge ",
		"İstanbul",
		"ÆØÅ æøå",
		"Nuuḱ Center",
		"a\tb\nc",
		"Qinngorput (vest)",
		"ﬁjord",
		"東京 駅",
		"",
	} {
		once := resolve.Normalize(in)
		assert.Equal(t, once, resolve.Normalize(once), in)
	}
}

func TestScore(t *testing.T) {
	assert.Equal(t, 1.0, resolve.Score("nuuk", "nuuk"))
	assert.Equal(t, 0.0, resolve.Score("", "nuuk"))

	// Prefix, either way around
	assert.InDelta(t, 0.9+0.09*4/6, resolve.Score("nuuk c", "nuuk"), 1e-9)
	assert.InDelta(t, 0.9+0.09*4/6, resolve.Score("nuuk", "nuuk c"), 1e-9)

	// Containment
	assert.InDelta(t, 0.8+0.09*6/11, resolve.Score("nuuk center", "center"), 1e-9)

	// Too short for prefix, falls back to edit distance
	assert.InDelta(t, 1-3.0/5, resolve.Score("ab", "abcde"), 1e-9)

	// Edit distance ratio
	assert.InDelta(t, 0.75, resolve.Score("tela", "tele"), 1e-9)
}

type resolverBuilder func(candidates []resolve.Candidate, threshold float64) resolve.Resolver

var resolvers = map[string]resolverBuilder{
	"pairwise": func(c []resolve.Candidate, th float64) resolve.Resolver { return resolve.NewPairwise(c, th) },
	"indexed":  func(c []resolve.Candidate, th float64) resolve.Resolver { return resolve.NewIndexed(c, th) },
}

var nuuk = []resolve.Candidate{
	{ID: 1, Names: []string{"Atuarfik Hans Lynge", "Hans Lynge Skole"}},
	{ID: 2, Names: []string{"Qinngorput"}},
	{ID: 3, Names: []string{"Nuuk Center"}},
	{ID: 4, Names: []string{"Kolonihavnen"}},
	{ID: 5, Names: []string{"Kolonihavn"}},
}

func TestResolve(t *testing.T) {
	for name, build := range resolvers {
		t.Run(name, func(t *testing.T) {
			r := build(nuuk, resolve.DefaultThreshold)

			for _, tc := range []struct {
				label string
				id    int
				kind  resolve.Kind
			}{
				{"Atuarfik Hans Lyngé", 1, resolve.KindExact},
				{"hans lynge skole", 1, resolve.KindExact},
				{"Atuarfik Hans Lynge Skole", 1, resolve.KindFuzzy},
				{"Qinngorpt", 2, resolve.KindFuzzy},
				{"NUUK CENTER", 3, resolve.KindExact},
				{"Kangerlussuaq", 0, resolve.KindUnresolved},
				{"", 0, resolve.KindUnresolved},
				{"N/A", 0, resolve.KindUnresolved},
			} {
				m := r.Match(tc.label)
				assert.Equal(t, tc.kind, m.Kind, tc.label)
				assert.Equal(t, tc.id, m.ID, tc.label)

				id, ok := r.Resolve(tc.label)
				assert.Equal(t, tc.kind != resolve.KindUnresolved, ok, tc.label)
				assert.Equal(t, tc.id, id, tc.label)
			}
		})
	}
}

func TestResolveExactPrecedence(t *testing.T) {
	for name, build := range resolvers {
		t.Run(name, func(t *testing.T) {
			// "Kolonihavn" is a near perfect prefix of the lower
			// ID "Kolonihavnen", but exact matches win.
			candidates := []resolve.Candidate{
				{ID: 1, Names: []string{"Kolonihavnen"}},
				{ID: 9, Names: []string{"Kolonihavn"}},
			}
			r := build(candidates, resolve.DefaultThreshold)

			m := r.Match("Kolonihavn")
			assert.Equal(t, 9, m.ID)
			assert.Equal(t, resolve.KindExact, m.Kind)

			m = r.Match("Kolonihavne")
			assert.Equal(t, 1, m.ID)
			assert.Equal(t, resolve.KindFuzzy, m.Kind)
		})
	}
}

func TestResolveThresholdIsStrict(t *testing.T) {
	candidates := []resolve.Candidate{{ID: 1, Names: []string{"Tele"}}}

	for name, build := range resolvers {
		t.Run(name, func(t *testing.T) {
			// Score is exactly 0.75
			_, ok := build(candidates, 0.75).Resolve("Tela")
			assert.False(t, ok)

			id, ok := build(candidates, 0.74).Resolve("Tela")
			assert.True(t, ok)
			assert.Equal(t, 1, id)
		})
	}
}

func TestResolveTieBreak(t *testing.T) {
	for name, build := range resolvers {
		t.Run(name, func(t *testing.T) {
			// Same score, lower ID wins
			r := build([]resolve.Candidate{
				{ID: 7, Names: []string{"Sana"}},
				{ID: 3, Names: []string{"Sane"}},
			}, 0.7)
			id, ok := r.Resolve("Sanx")
			require.True(t, ok)
			assert.Equal(t, 3, id)

			// Same score (0.75), smaller length difference wins
			// over lower ID
			r = build([]resolve.Candidate{
				{ID: 1, Names: []string{"abdegh"}},
				{ID: 2, Names: []string{"abxdefyh"}},
			}, 0.7)
			id, ok = r.Resolve("abcdefgh")
			require.True(t, ok)
			assert.Equal(t, 2, id)
		})
	}
}

func TestIndexedResolveAll(t *testing.T) {
	idx := resolve.NewIndexed(nuuk, resolve.DefaultThreshold)

	matches, err := idx.ResolveAll(context.Background(), []string{
		"Qinngorpt",
		"Nowhere at all",
		"Nuuk Center",
	})
	require.NoError(t, err)
	require.Equal(t, 3, len(matches))

	assert.Equal(t, "Qinngorpt", matches[0].Label)
	assert.Equal(t, 2, matches[0].ID)
	assert.Equal(t, resolve.KindFuzzy, matches[0].Kind)
	assert.InDelta(t, 0.9, matches[0].Score, 1e-9)
	assert.Equal(t, resolve.KindUnresolved, matches[1].Kind)
	assert.Equal(t, "Nowhere at all", matches[1].Label)
	assert.Equal(t, resolve.Match{Label: "Nuuk Center", ID: 3, Kind: resolve.KindExact, Score: 1}, matches[2])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = idx.ResolveAll(ctx, []string{"Nuuk Center"})
	assert.Error(t, err)
}
