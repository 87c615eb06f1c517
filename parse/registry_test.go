package parse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/parse"
	"tidbyt.dev/transit/storage"
)

func TestParseRegistry(t *testing.T) {
	s := storage.NewMemoryStorage()
	writer, err := s.GetWriter("h")
	require.NoError(t, err)

	md, err := parse.ParseRegistry(writer, []byte(`{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "id": 54,
      "properties": {"name": "Atuarfik Hans Lynge", "alt_name": "Hans Lynge Skole", "match": "fuzzy"},
      "geometry": {"type": "Point", "coordinates": [-51.6941, 64.1814]}
    },
    {
      "type": "Feature",
      "properties": {"id": 3, "name": " Nuuk Center ", "alt_name": null, "match": "EXACT"},
      "geometry": {"type": "Point", "coordinates": [-51.7360, 64.1766]}
    },
    {
      "type": "Feature",
      "properties": {"id": 9, "name": "Nowhere", "match": "unmatched"},
      "geometry": null
    },
    {
      "type": "Feature",
      "properties": {"id": 10, "name": "Lost", "match": "manual"},
      "geometry": null
    }
  ]
}`))
	require.NoError(t, err)
	assert.Equal(t, 4, md.NumStops)
	assert.Equal(t, 2, md.NumMatched)

	reader, err := s.GetReader("h")
	require.NoError(t, err)
	stops, err := reader.Stops()
	require.NoError(t, err)

	assert.Equal(t, []*model.Stop{
		{ID: 3, Name: "Nuuk Center", Coord: &model.Coord{Lat: 64.1766, Lon: -51.7360}, Match: model.MatchExact},
		{ID: 9, Name: "Nowhere", Match: model.MatchUnmatched},
		{ID: 10, Name: "Lost", Match: model.MatchUnmatched},
		{ID: 54, Name: "Atuarfik Hans Lynge", AltName: "Hans Lynge Skole", Coord: &model.Coord{Lat: 64.1814, Lon: -51.6941}, Match: model.MatchFuzzy},
	}, stops)
}

func TestParseRegistryInvalid(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
	}{
		{"not_json", `nope`},
		{"wrong_type", `{"type": "Feature"}`},
		{"missing_id", `{"features": [{"properties": {"name": "A", "match": "exact"}, "geometry": null}]}`},
		{"missing_name", `{"features": [{"id": 1, "properties": {"name": " ", "match": "exact"}, "geometry": null}]}`},
		{"bad_match", `{"features": [{"id": 1, "properties": {"name": "A", "match": "sorta"}, "geometry": null}]}`},
		{"duplicate_id", `{"features": [
			{"id": 1, "properties": {"name": "A", "match": "unmatched"}, "geometry": null},
			{"id": 1, "properties": {"name": "B", "match": "unmatched"}, "geometry": null}]}`},
		{"out_of_range", `{"features": [{"id": 1, "properties": {"name": "A", "match": "exact"}, "geometry": {"type": "Point", "coordinates": [10, 95]}}]}`},
		{"short_coordinates", `{"features": [{"id": 1, "properties": {"name": "A", "match": "exact"}, "geometry": {"type": "Point", "coordinates": [10]}}]}`},
		{"line_string", `{"features": [{"id": 1, "properties": {"name": "A", "match": "exact"}, "geometry": {"type": "LineString", "coordinates": [10, 20]}}]}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			writer, err := storage.NewMemoryStorage().GetWriter("h")
			require.NoError(t, err)
			_, err = parse.ParseRegistry(writer, []byte(tc.content))
			assert.Error(t, err)
		})
	}
}
