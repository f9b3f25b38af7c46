package retrieval

import (
	"math"
	"net/url"
	"sort"
	"strconv"

	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

const earthRadiusKm = 6371.0

// calculateDistance returns the great-circle distance in km (haversine).
func calculateDistance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// nearbyScore decays with distance; the offset keeps a place at 0 km finite.
func nearbyScore(distanceKm float64) float64 {
	return 1.0 / (distanceKm + 0.1)
}

// rankNearby keeps places within radiusKm of the origin, nearest first.
// Places stored without coordinates (0,0) are skipped.
func rankNearby(places []types.Place, lat, lng float64, limit int, radiusKm float64) []types.Candidate {
	var out []types.Candidate
	for _, p := range places {
		if p.Latitude == 0 && p.Longitude == 0 {
			continue
		}
		d := calculateDistance(lat, lng, p.Latitude, p.Longitude)
		if d > radiusKm {
			continue
		}
		dist := d
		out = append(out, types.Candidate{
			Place:      p,
			Score:      nearbyScore(d),
			Channels:   []types.Channel{types.ChannelNearby},
			DistanceKm: &dist,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].DistanceKm < *out[j].DistanceKm })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MapURL links a place to a Naver map search centred on its coordinates.
func MapURL(p types.Place) string {
	query := p.Title
	if query == "" {
		query = p.Address
	}
	if query == "" {
		return ""
	}
	u := "https://map.naver.com/v5/search/" + url.PathEscape(query)
	if p.Latitude != 0 || p.Longitude != 0 {
		u += "?c=15.00," + formatCoord(p.Longitude) + "," + formatCoord(p.Latitude) + ",0,dh"
	}
	return u
}

func formatCoord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
