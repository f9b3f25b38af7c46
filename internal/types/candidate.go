package types

import "sort"

// Channel identifies one similarity signal that can contribute to a candidate.
type Channel string

const (
	ChannelTextSemantic Channel = "text_semantic"
	ChannelTextToImage  Channel = "text_to_image"
	ChannelImageVisual  Channel = "image_visual"
	ChannelImageCaption Channel = "image_caption"
	ChannelNearby       Channel = "nearby"
)

// Place is the payload stored alongside every vector in the place index.
type Place struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	Address              string   `json:"address"`
	Description          string   `json:"description,omitempty"`
	EmotionalDescription string   `json:"emotional_description,omitempty"`
	Category             string   `json:"category"`
	ImageURL             string   `json:"image_url,omitempty"`
	Latitude             float64  `json:"latitude"`
	Longitude            float64  `json:"longitude"`
	PhotoURLs            []string `json:"photo_urls,omitempty"`
}

// PlaceHit is one ranked row returned by an index query. Score is the index's
// native similarity and is only comparable within one query.
type PlaceHit struct {
	Place Place
	Score float64
}

// ItinerarySegment is one planned day/time/activity unit awaiting a place search.
type ItinerarySegment struct {
	Day         int    `json:"day"`
	TimeSlot    string `json:"time_slot"`
	Activity    string `json:"activity"`
	SearchQuery string `json:"search_query"`
	Category    string `json:"category"`
}

// Query returns the text used to search for the segment, falling back to the activity.
func (s ItinerarySegment) Query() string {
	if s.SearchQuery != "" {
		return s.SearchQuery
	}
	return s.Activity
}

// ItineraryLink ties a candidate back to the segment whose search produced it.
type ItineraryLink struct {
	Day      int    `json:"day"`
	TimeSlot string `json:"time_slot"`
	Activity string `json:"activity"`
}

// Candidate is a ranked place handed to the answer stage.
type Candidate struct {
	Place
	Score      float64        `json:"score"`
	Channels   []Channel      `json:"channels"`
	DistanceKm *float64       `json:"distance_km,omitempty"`
	Itinerary  *ItineraryLink `json:"itinerary,omitempty"`
}

// ChannelSet is the distinct set of channels that hit a place.
type ChannelSet map[Channel]struct{}

func (c ChannelSet) Add(ch Channel) { c[ch] = struct{}{} }

// Sorted returns the channel tags in a stable order.
func (c ChannelSet) Sorted() []Channel {
	out := make([]Channel, 0, len(c))
	for ch := range c {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
