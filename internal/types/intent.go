package types

import "strings"

// Intent is the closed set of conversational intents a turn can carry.
type Intent string

const (
	IntentPlaceInquiry  Intent = "PLACE_INQUIRY"
	IntentTripPlanning  Intent = "TRIP_PLANNING"
	IntentBooking       Intent = "BOOKING"
	IntentReviews       Intent = "REVIEWS"
	IntentBudget        Intent = "BUDGET"
	IntentItinerarySave Intent = "ITINERARY_SAVE"
	IntentInfoQA        Intent = "INFO_QA"
	IntentImageSimilar  Intent = "IMAGE_SIMILAR"
)

// AllIntents lists every intent, in the order they are offered to the classifier.
var AllIntents = []Intent{
	IntentPlaceInquiry,
	IntentTripPlanning,
	IntentBooking,
	IntentReviews,
	IntentBudget,
	IntentItinerarySave,
	IntentInfoQA,
	IntentImageSimilar,
}

// DefaultIntent is used when classification fails or produces an unknown label.
const DefaultIntent = IntentPlaceInquiry

// ParseIntent maps a classifier label onto the closed intent set.
func ParseIntent(s string) (Intent, bool) {
	candidate := Intent(strings.ToUpper(strings.TrimSpace(s)))
	for _, i := range AllIntents {
		if i == candidate {
			return i, true
		}
	}
	return "", false
}

func (i Intent) String() string { return string(i) }

// InputType records which modalities the user supplied in a turn.
type InputType string

const (
	InputText  InputType = "text"
	InputImage InputType = "image"
	InputBoth  InputType = "both"
)

// InputTypeFor derives the modality from the presence of text and image.
// A turn with neither is reported as text.
func InputTypeFor(hasText, hasImage bool) InputType {
	switch {
	case hasText && hasImage:
		return InputBoth
	case hasImage:
		return InputImage
	default:
		return InputText
	}
}
