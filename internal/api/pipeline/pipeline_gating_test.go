package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-poi-concierge/internal/api/answer"
	generativeAI "github.com/FACorreiaa/go-poi-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/planner"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

type MockGenerator struct{ mock.Mock }

func (m *MockGenerator) Invoke(ctx context.Context, p generativeAI.Prompt) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *MockGenerator) InvokeStream(ctx context.Context, p generativeAI.Prompt) iter.Seq2[string, error] {
	args := m.Called(ctx, p)
	return args.Get(0).(iter.Seq2[string, error])
}

func (m *MockGenerator) InvokeStructured(ctx context.Context, p generativeAI.Prompt, schema *generativeAI.Schema, out any) error {
	args := m.Called(ctx, p, schema, out)
	return args.Error(0)
}

// The planner and answer services are real here so the slot count they agree
// on is what routes the turn.
func TestRunTurn_PlannerMissingSlotsRouteToGeneratedQuestion(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := new(MockGenerator)
	intent := new(MockIntentService)
	retriever := new(MockRetriever)
	store := new(MockStore)
	c := NewController(intent, planner.NewServiceImpl(gen, logger), retriever, answer.NewServiceImpl(gen, nil, logger), store, logger)

	threadID := uuid.New()
	draft := `{"itinerary":[{"day":1,"time_slot":"오전","activity":"해변 산책"}],"missing_slots":["location","duration","dates"]}`

	store.On("Load", mock.Anything, threadID, types.HistoryWindow).Return([]types.Message{}, nil).Once()
	intent.On("Classify", mock.Anything, mock.Anything).
		Return(intentDelta(types.IntentTripPlanning, types.Slots{InputType: types.InputText})).Once()
	gen.On("InvokeStructured", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			require.NoError(t, json.Unmarshal([]byte(draft), args.Get(3)))
		}).
		Return(nil).Once()
	gen.On("Invoke", mock.Anything, mock.Anything).Return("어디로, 며칠, 언제 가시나요?", nil).Once()
	store.On("Save", mock.Anything, mock.MatchedBy(func(s *types.TurnState) bool {
		return s.Answer == "어디로, 며칠, 언제 가시나요?" && len(s.MissingSlots) == 3
	})).Return(nil).Once()

	var stages []string
	out, err := c.RunTurnStream(context.Background(), types.TurnInput{ThreadID: threadID, Text: "여행 가고 싶어"},
		func(e Event) {
			if e.Type == EventTypeStage {
				stages = append(stages, e.Stage)
			}
		})

	require.NoError(t, err)
	assert.Equal(t, "어디로, 며칠, 언제 가시나요?", out.Answer)
	assert.Equal(t, []string{"location", "duration", "dates"}, out.MissingSlots)
	assert.Len(t, out.Itinerary, 1)
	assert.Empty(t, out.Candidates)
	assert.Equal(t, []string{"INTENT", "PLAN", "ANSWER_MISSING_INFO"}, stages)
	retriever.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
	gen.AssertNotCalled(t, "InvokeStream", mock.Anything, mock.Anything)
	gen.AssertExpectations(t)
	intent.AssertExpectations(t)
	store.AssertExpectations(t)
}
