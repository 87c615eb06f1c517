package storage

import (
	"math"
	"sort"

	"tidbyt.dev/transit/model"
)

// Great-circle distance in km.
func HaversineDistance(aLat, aLon, bLat, bLon float64) float64 {
	const earthRadiusKm = 6371

	aLatRad := aLat * math.Pi / 180
	aLonRad := aLon * math.Pi / 180
	bLatRad := bLat * math.Pi / 180
	bLonRad := bLon * math.Pi / 180
	deltaLat := aLatRad - bLatRad
	deltaLon := aLonRad - bLonRad

	a := math.Cos(aLatRad)*math.Cos(bLatRad)*math.Pow(math.Sin(deltaLon/2), 2) + math.Pow(math.Sin(deltaLat/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return c * earthRadiusKm
}

// Shared by all backends: drops stops without coordinates, orders by
// distance and applies limit.
func nearest(stops []*model.Stop, lat float64, lon float64, limit int) []model.Stop {
	located := []*model.Stop{}
	for _, s := range stops {
		if s.Coord != nil {
			located = append(located, s)
		}
	}

	sort.SliceStable(located, func(i, j int) bool {
		di := HaversineDistance(lat, lon, located[i].Coord.Lat, located[i].Coord.Lon)
		dj := HaversineDistance(lat, lon, located[j].Coord.Lat, located[j].Coord.Lon)
		return di < dj
	})

	if limit > 0 && len(located) > limit {
		located = located[:limit]
	}

	res := []model.Stop{}
	for _, s := range located {
		res = append(res, *s)
	}
	return res
}

// Counts stops with coordinates matched against OSM, one way or
// another.
func CountMatched(stops []*model.Stop) int {
	n := 0
	for _, s := range stops {
		if s.Match != model.MatchUnmatched && s.Coord != nil {
			n++
		}
	}
	return n
}
