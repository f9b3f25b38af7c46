package types

import (
	"time"

	"github.com/google/uuid"
)

// HistoryWindow is the number of recent messages a turn carries.
const HistoryWindow = 10

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry of a thread's conversation history.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	ImageRef  string      `json:"image_ref,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// TurnInput is what the caller supplies for one user message.
type TurnInput struct {
	ThreadID    uuid.UUID    `json:"thread_id"`
	Text        string       `json:"text,omitempty"`
	ImageRef    string       `json:"image_ref,omitempty"`
	Location    *Coordinates `json:"location,omitempty"`
	Preferences string       `json:"preferences,omitempty"`
}

// TurnState is owned by exactly one turn and mutated only through Apply.
type TurnState struct {
	ThreadID      uuid.UUID          `json:"thread_id"`
	Text          string             `json:"text,omitempty"`
	ImageRef      string             `json:"image_ref,omitempty"`
	Location      *Coordinates       `json:"location,omitempty"`
	Preferences   string             `json:"preferences,omitempty"`
	History       []Message          `json:"history"`
	Intents       []Intent           `json:"intents,omitempty"`
	PrimaryIntent Intent             `json:"primary_intent,omitempty"`
	Slots         Slots              `json:"slots"`
	Itinerary     []ItinerarySegment `json:"itinerary"`
	Candidates    []Candidate        `json:"candidates"`
	MissingSlots  []string           `json:"missing_slots"`
	FollowUp      string             `json:"follow_up,omitempty"`
	Answer        string             `json:"answer,omitempty"`
}

// NewTurnState builds the state for a turn from its input and the persisted history.
// Only the last HistoryWindow messages are kept.
func NewTurnState(in TurnInput, history []Message) *TurnState {
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	window := make([]Message, len(history))
	copy(window, history)

	return &TurnState{
		ThreadID:    in.ThreadID,
		Text:        in.Text,
		ImageRef:    in.ImageRef,
		Location:    in.Location,
		Preferences: in.Preferences,
		History:     window,
		Slots:       ModalityOnlySlots(InputTypeFor(in.Text != "", in.ImageRef != "")),
	}
}

func (s *TurnState) HasText() bool  { return s.Text != "" }
func (s *TurnState) HasImage() bool { return s.ImageRef != "" }

// StateDelta is what a stage hands back to the controller. Nil fields are left untouched.
type StateDelta struct {
	Intents       []Intent
	PrimaryIntent *Intent
	Slots         *Slots
	Itinerary     *[]ItinerarySegment
	Candidates    *[]Candidate
	MissingSlots  *[]string
	FollowUp      *string
	Answer        *string
}

// Apply merges a stage delta into the state.
func (s *TurnState) Apply(d StateDelta) {
	if d.Intents != nil {
		s.Intents = d.Intents
	}
	if d.PrimaryIntent != nil {
		s.PrimaryIntent = *d.PrimaryIntent
	}
	if d.Slots != nil {
		s.Slots = *d.Slots
	}
	if d.Itinerary != nil {
		s.Itinerary = *d.Itinerary
	}
	if d.Candidates != nil {
		s.Candidates = *d.Candidates
	}
	if d.MissingSlots != nil {
		s.MissingSlots = *d.MissingSlots
	}
	if d.FollowUp != nil {
		s.FollowUp = *d.FollowUp
	}
	if d.Answer != nil {
		s.Answer = *d.Answer
	}
}

// TurnOutput is returned to the caller once the turn reaches END.
type TurnOutput struct {
	ThreadID      uuid.UUID          `json:"thread_id"`
	Answer        string             `json:"answer"`
	PrimaryIntent Intent             `json:"primary_intent,omitempty"`
	Candidates    []Candidate        `json:"candidates"`
	Itinerary     []ItinerarySegment `json:"itinerary,omitempty"`
	Slots         Slots              `json:"slots"`
	MissingSlots  []string           `json:"missing_slots"`
}

// Output projects the final state onto the turn output.
func (s *TurnState) Output() TurnOutput {
	candidates := s.Candidates
	if candidates == nil {
		candidates = []Candidate{}
	}
	missing := s.MissingSlots
	if missing == nil {
		missing = []string{}
	}
	return TurnOutput{
		ThreadID:      s.ThreadID,
		Answer:        s.Answer,
		PrimaryIntent: s.PrimaryIntent,
		Candidates:    candidates,
		Itinerary:     s.Itinerary,
		Slots:         s.Slots,
		MissingSlots:  missing,
	}
}

// Ptr returns a pointer to v; handy when building deltas.
func Ptr[T any](v T) *T { return &v }
