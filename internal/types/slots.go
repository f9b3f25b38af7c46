package types

import (
	"fmt"
	"strings"
)

// Slots is the structured reading of a trip-related request. It is built once per
// turn by NormalizeSlots and treated as a value afterwards.
type Slots struct {
	InputType   InputType `json:"input_type"`
	Location    string    `json:"location,omitempty"`
	Category    string    `json:"category,omitempty"`
	Dates       string    `json:"dates,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	PartySize   *int      `json:"party_size,omitempty"`
	BudgetLevel string    `json:"budget_level,omitempty"`
	Themes      []string  `json:"themes,omitempty"`
	MustHave    string    `json:"must_have,omitempty"`
	NiceToHave  string    `json:"nice_to_have,omitempty"`
}

// RawSlots is the loose shape produced by the structured classifier. Every field
// is optional; NormalizeSlots is the only place that reads it.
type RawSlots struct {
	InputType   *string  `json:"input_type"`
	Location    *string  `json:"location"`
	Category    *string  `json:"category"`
	Dates       *string  `json:"dates"`
	Duration    *string  `json:"duration"`
	PartySize   *int     `json:"party_size"`
	BudgetLevel *string  `json:"budget_level"`
	Themes      []string `json:"themes"`
	MustHave    *string  `json:"must_have"`
	NiceToHave  *string  `json:"nice_to_have"`
}

// NormalizeSlots converts classifier output into a Slots record. The modality
// observed on the turn always wins over whatever the classifier claims.
func NormalizeSlots(raw *RawSlots, modality InputType) Slots {
	s := Slots{InputType: modality}
	if raw == nil {
		return s
	}
	s.Location = trimPtr(raw.Location)
	s.Category = trimPtr(raw.Category)
	s.Dates = trimPtr(raw.Dates)
	s.Duration = trimPtr(raw.Duration)
	s.BudgetLevel = trimPtr(raw.BudgetLevel)
	s.MustHave = trimPtr(raw.MustHave)
	s.NiceToHave = trimPtr(raw.NiceToHave)
	if raw.PartySize != nil && *raw.PartySize > 0 {
		size := *raw.PartySize
		s.PartySize = &size
	}
	for _, theme := range raw.Themes {
		if t := strings.TrimSpace(theme); t != "" {
			s.Themes = append(s.Themes, t)
		}
	}
	return s
}

// ModalityOnlySlots is the record used for image-only turns.
func ModalityOnlySlots(modality InputType) Slots {
	return Slots{InputType: modality}
}

// Lines renders the set fields as "- key: value" lines for prompts.
func (s Slots) Lines() []string {
	lines := []string{fmt.Sprintf("- input_type: %s", s.InputType)}
	add := func(key, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", key, value))
		}
	}
	add("location", s.Location)
	add("category", s.Category)
	add("dates", s.Dates)
	add("duration", s.Duration)
	if s.PartySize != nil {
		lines = append(lines, fmt.Sprintf("- party_size: %d", *s.PartySize))
	}
	add("budget_level", s.BudgetLevel)
	if len(s.Themes) > 0 {
		add("themes", strings.Join(s.Themes, ", "))
	}
	add("must_have", s.MustHave)
	add("nice_to_have", s.NiceToHave)
	return lines
}

func trimPtr(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
