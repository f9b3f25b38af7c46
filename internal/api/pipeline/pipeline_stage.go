package pipeline

import (
	"github.com/FACorreiaa/go-poi-concierge/internal/api/planner"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

// Stage is a node of the turn state machine.
type Stage int

const (
	StageIntent Stage = iota
	StagePlan
	StageRetrieve
	StageAnswer
	StageAnswerMissingInfo
	StageEnd
)

// MaxMissingSlots is the most missing slots a planned turn may have and still
// go on to retrieval.
const MaxMissingSlots = planner.MaxMissingSlots

func (s Stage) String() string {
	switch s {
	case StageIntent:
		return "INTENT"
	case StagePlan:
		return "PLAN"
	case StageRetrieve:
		return "RETRIEVE"
	case StageAnswer:
		return "ANSWER"
	case StageAnswerMissingInfo:
		return "ANSWER_MISSING_INFO"
	case StageEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// next is the transition function. It only reads the state.
func next(stage Stage, state *types.TurnState) Stage {
	switch stage {
	case StageIntent:
		return afterIntent(state)
	case StagePlan:
		return afterPlan(state)
	case StageRetrieve:
		return StageAnswer
	default:
		return StageEnd
	}
}

func afterIntent(state *types.TurnState) Stage {
	switch state.PrimaryIntent {
	case types.IntentTripPlanning:
		return StagePlan
	case types.IntentPlaceInquiry,
		types.IntentBooking,
		types.IntentReviews,
		types.IntentBudget,
		types.IntentItinerarySave,
		types.IntentInfoQA,
		types.IntentImageSimilar:
		return StageRetrieve
	default:
		// Turns without any input carry no intent.
		return StageRetrieve
	}
}

func afterPlan(state *types.TurnState) Stage {
	if len(state.MissingSlots) > MaxMissingSlots {
		return StageAnswerMissingInfo
	}
	return StageRetrieve
}
