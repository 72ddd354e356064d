package service

import (
	"math"
	"sort"

	"github.com/nitesh/meal_match/pkg/models"
)

const (
	earthRadiusKm = 6371.0

	// MatchRadiusKm is the widest donor to informer distance that still matches.
	MatchRadiusKm = 3.0
	// MaxMatches caps how many informers one run stores.
	MaxMatches = 5
)

// HaversineKm returns the great-circle distance between two points given in
// decimal degrees. Out-of-range input is not rejected.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

type scored struct {
	candidate  models.Candidate
	distanceKm float64
}

// nearest scores every candidate against the donor position, drops the
// donor's own reports and anything beyond MatchRadiusKm, and returns at most
// MaxMatches survivors closest first. Equal distances keep listing order.
func nearest(donorID string, lat, lon float64, candidates []models.Candidate) []scored {
	out := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == donorID {
			continue
		}
		d := HaversineKm(lat, lon, c.Latitude, c.Longitude)
		if d <= MatchRadiusKm {
			out = append(out, scored{candidate: c, distanceKm: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].distanceKm < out[j].distanceKm })
	if len(out) > MaxMatches {
		out = out[:MaxMatches]
	}
	return out
}
