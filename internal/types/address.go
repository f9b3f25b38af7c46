package types

import "strings"

// Address is a geocoder result.
type Address struct {
	Latitude     float64 `json:"lat"`
	Longitude    float64 `json:"lng"`
	RoadAddress  string  `json:"road_address,omitempty"`
	JibunAddress string  `json:"jibun_address,omitempty"`
}

// Formatted joins the road and jibun forms, skipping empty ones.
func (a Address) Formatted() string {
	parts := make([]string, 0, 2)
	for _, p := range []string{a.RoadAddress, a.JibunAddress} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
