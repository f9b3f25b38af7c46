package retrieval

import (
	"sort"

	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

// Weights are the per-channel multipliers applied to native index scores.
// Scores from different embedding spaces are not normalized before weighting.
type Weights map[types.Channel]float64

func DefaultWeights() Weights {
	return Weights{
		types.ChannelTextSemantic: 1.0,
		types.ChannelTextToImage:  0.5,
		types.ChannelImageVisual:  1.0,
		types.ChannelImageCaption: 0.8,
	}
}

const DefaultMultiMatchBoost = 0.2

type fusedPlace struct {
	place    types.Place
	score    float64
	channels types.ChannelSet
	order    int
	final    float64
}

// fusion accumulates weighted channel hits per place id.
type fusion struct {
	weights Weights
	boost   float64
	places  map[string]*fusedPlace
}

func newFusion(weights Weights, boost float64) *fusion {
	return &fusion{weights: weights, boost: boost, places: make(map[string]*fusedPlace)}
}

func (f *fusion) add(ch types.Channel, hits []types.PlaceHit) {
	weight := f.weights[ch]
	for _, h := range hits {
		fp, ok := f.places[h.Place.ID]
		if !ok {
			fp = &fusedPlace{place: h.Place, channels: types.ChannelSet{}, order: len(f.places)}
			f.places[h.Place.ID] = fp
		}
		if len(fp.place.PhotoURLs) == 0 && len(h.Place.PhotoURLs) > 0 {
			fp.place.PhotoURLs = h.Place.PhotoURLs
		}
		fp.score += h.Score * weight
		fp.channels.Add(ch)
	}
}

// ranked applies the multi-match boost, sorts by fused score and truncates to limit.
// Ties keep first-seen order so results are deterministic.
func (f *fusion) ranked(limit int) []types.Candidate {
	fused := make([]*fusedPlace, 0, len(f.places))
	for _, fp := range f.places {
		fp.final = boosted(fp.score, len(fp.channels), f.boost)
		fused = append(fused, fp)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].final != fused[j].final {
			return fused[i].final > fused[j].final
		}
		return fused[i].order < fused[j].order
	})
	if limit >= 0 && len(fused) > limit {
		fused = fused[:limit]
	}

	out := make([]types.Candidate, len(fused))
	for i, fp := range fused {
		out[i] = types.Candidate{
			Place:    fp.place,
			Score:    fp.final,
			Channels: fp.channels.Sorted(),
		}
	}
	return out
}

// boosted rewards places that more than one distinct channel agreed on.
func boosted(score float64, distinct int, boost float64) float64 {
	if distinct > 1 {
		return score * (1 + boost*float64(distinct-1))
	}
	return score
}
