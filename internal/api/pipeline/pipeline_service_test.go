package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-poi-concierge/internal/api/retrieval"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

type MockIntentService struct{ mock.Mock }

func (m *MockIntentService) Classify(ctx context.Context, state *types.TurnState) types.StateDelta {
	return m.Called(ctx, state).Get(0).(types.StateDelta)
}

type MockPlannerService struct{ mock.Mock }

func (m *MockPlannerService) Plan(ctx context.Context, state *types.TurnState) types.StateDelta {
	return m.Called(ctx, state).Get(0).(types.StateDelta)
}

type MockRetriever struct{ mock.Mock }

func (m *MockRetriever) HybridSearch(ctx context.Context, req retrieval.SearchRequest) []types.Candidate {
	return m.Called(ctx, req).Get(0).([]types.Candidate)
}

func (m *MockRetriever) Nearby(ctx context.Context, lat, lng float64, limit int, radiusKm float64) ([]types.Candidate, error) {
	args := m.Called(ctx, lat, lng, limit, radiusKm)
	return args.Get(0).([]types.Candidate), args.Error(1)
}

func (m *MockRetriever) ItineraryFanout(ctx context.Context, segments []types.ItinerarySegment, imageRef string, caption *string) []types.Candidate {
	return m.Called(ctx, segments, imageRef, caption).Get(0).([]types.Candidate)
}

func (m *MockRetriever) Retrieve(ctx context.Context, state *types.TurnState) types.StateDelta {
	return m.Called(ctx, state).Get(0).(types.StateDelta)
}

type MockAnswerService struct{ mock.Mock }

func (m *MockAnswerService) Answer(ctx context.Context, state *types.TurnState, onChunk func(string)) types.StateDelta {
	return m.Called(ctx, state, onChunk).Get(0).(types.StateDelta)
}

func (m *MockAnswerService) MissingInfo(ctx context.Context, state *types.TurnState) types.StateDelta {
	return m.Called(ctx, state).Get(0).(types.StateDelta)
}

type MockStore struct{ mock.Mock }

func (m *MockStore) Load(ctx context.Context, threadID uuid.UUID, limit int) ([]types.Message, error) {
	args := m.Called(ctx, threadID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Message), args.Error(1)
}

func (m *MockStore) Save(ctx context.Context, state *types.TurnState) error {
	return m.Called(ctx, state).Error(0)
}

func (m *MockStore) Checkpoint(ctx context.Context, threadID uuid.UUID) (*types.TurnOutput, error) {
	args := m.Called(ctx, threadID)
	out, _ := args.Get(0).(*types.TurnOutput)
	return out, args.Error(1)
}

type controllerMocks struct {
	intent    *MockIntentService
	planner   *MockPlannerService
	retriever *MockRetriever
	answer    *MockAnswerService
	store     *MockStore
}

func (m controllerMocks) assertExpectations(t *testing.T) {
	m.intent.AssertExpectations(t)
	m.planner.AssertExpectations(t)
	m.retriever.AssertExpectations(t)
	m.answer.AssertExpectations(t)
	m.store.AssertExpectations(t)
}

func setupControllerTest() (*Controller, controllerMocks) {
	m := controllerMocks{
		intent:    new(MockIntentService),
		planner:   new(MockPlannerService),
		retriever: new(MockRetriever),
		answer:    new(MockAnswerService),
		store:     new(MockStore),
	}
	c := NewController(m.intent, m.planner, m.retriever, m.answer, m.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return c, m
}

func intentDelta(intent types.Intent, slots types.Slots) types.StateDelta {
	return types.StateDelta{Intents: []types.Intent{intent}, PrimaryIntent: &intent, Slots: &slots}
}

func TestRunTurn_PlaceInquiry(t *testing.T) {
	c, m := setupControllerTest()
	threadID := uuid.New()
	past := []types.Message{{Role: types.RoleUser, Content: "안녕"}}
	found := []types.Candidate{{Place: types.Place{ID: "p1", Title: "광장시장"}, Score: 1}}

	m.store.On("Load", mock.Anything, threadID, types.HistoryWindow).Return(past, nil).Once()
	m.intent.On("Classify", mock.Anything, mock.MatchedBy(func(s *types.TurnState) bool {
		return s.Text == "종로 맛집" && len(s.History) == 1
	})).Return(intentDelta(types.IntentPlaceInquiry, types.Slots{InputType: types.InputText, Location: "종로"})).Once()
	m.retriever.On("Retrieve", mock.Anything, mock.MatchedBy(func(s *types.TurnState) bool {
		return s.PrimaryIntent == types.IntentPlaceInquiry && s.Slots.Location == "종로"
	})).Return(types.StateDelta{Candidates: &found}).Once()
	m.answer.On("Answer", mock.Anything, mock.MatchedBy(func(s *types.TurnState) bool {
		return len(s.Candidates) == 1
	}), mock.Anything).Return(types.StateDelta{Answer: types.Ptr("광장시장 추천")}).Once()
	m.store.On("Save", mock.Anything, mock.MatchedBy(func(s *types.TurnState) bool {
		return s.Answer == "광장시장 추천"
	})).Return(nil).Once()

	out, err := c.RunTurn(context.Background(), types.TurnInput{ThreadID: threadID, Text: "  종로 맛집 "})

	require.NoError(t, err)
	assert.Equal(t, threadID, out.ThreadID)
	assert.Equal(t, "광장시장 추천", out.Answer)
	assert.Equal(t, found, out.Candidates)
	assert.Equal(t, types.IntentPlaceInquiry, out.PrimaryIntent)
	assert.Empty(t, out.MissingSlots)
	m.planner.AssertNotCalled(t, "Plan", mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestRunTurn_TripPlanningWithFewMissingSlotsStillRetrieves(t *testing.T) {
	c, m := setupControllerTest()
	threadID := uuid.New()
	itinerary := []types.ItinerarySegment{{Day: 1, TimeSlot: "morning", Activity: "해변", SearchQuery: "해운대"}}
	missing := []string{"duration"}

	m.store.On("Load", mock.Anything, threadID, types.HistoryWindow).Return([]types.Message{}, nil).Once()
	m.intent.On("Classify", mock.Anything, mock.Anything).
		Return(intentDelta(types.IntentTripPlanning, types.Slots{InputType: types.InputText, Location: "부산"})).Once()
	m.planner.On("Plan", mock.Anything, mock.Anything).Return(types.StateDelta{
		Itinerary:    &itinerary,
		MissingSlots: &missing,
		FollowUp:     types.Ptr("며칠 가세요?"),
		Answer:       types.Ptr("며칠 가세요?"),
	}).Once()
	m.retriever.On("Retrieve", mock.Anything, mock.MatchedBy(func(s *types.TurnState) bool {
		return len(s.Itinerary) == 1
	})).Return(types.StateDelta{Candidates: &[]types.Candidate{}}).Once()
	m.answer.On("Answer", mock.Anything, mock.Anything, mock.Anything).
		Return(types.StateDelta{Answer: types.Ptr("일정 초안\n\n며칠 가세요?")}).Once()
	m.store.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

	out, err := c.RunTurn(context.Background(), types.TurnInput{ThreadID: threadID, Text: "부산 여행"})

	require.NoError(t, err)
	assert.Equal(t, "일정 초안\n\n며칠 가세요?", out.Answer)
	assert.Equal(t, itinerary, out.Itinerary)
	assert.Equal(t, missing, out.MissingSlots)
	m.answer.AssertNotCalled(t, "MissingInfo", mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestRunTurn_TripPlanningMissingInfo(t *testing.T) {
	c, m := setupControllerTest()
	threadID := uuid.New()
	missing := []string{"location", "duration", "dates"}

	m.store.On("Load", mock.Anything, threadID, types.HistoryWindow).Return(nil, nil).Once()
	m.intent.On("Classify", mock.Anything, mock.Anything).
		Return(intentDelta(types.IntentTripPlanning, types.Slots{InputType: types.InputText})).Once()
	m.planner.On("Plan", mock.Anything, mock.Anything).Return(types.StateDelta{
		Itinerary:    &[]types.ItinerarySegment{},
		MissingSlots: &missing,
		FollowUp:     types.Ptr(""),
	}).Once()
	m.answer.On("MissingInfo", mock.Anything, mock.Anything).
		Return(types.StateDelta{Answer: types.Ptr("어디로, 언제 가세요?")}).Once()
	m.store.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

	var events []Event
	out, err := c.RunTurnStream(context.Background(), types.TurnInput{ThreadID: threadID, Text: "여행 가고 싶어"},
		func(e Event) { events = append(events, e) })

	require.NoError(t, err)
	assert.Equal(t, "어디로, 언제 가세요?", out.Answer)
	assert.Empty(t, out.Candidates)
	m.retriever.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
	m.answer.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything, mock.Anything)

	var stages []string
	for _, e := range events {
		if e.Type == EventTypeStage {
			stages = append(stages, e.Stage)
		}
	}
	assert.Equal(t, []string{"INTENT", "PLAN", "ANSWER_MISSING_INFO"}, stages)
	last := events[len(events)-1]
	assert.Equal(t, EventTypeDone, last.Type)
	require.NotNil(t, last.Output)
	assert.Equal(t, "어디로, 언제 가세요?", last.Output.Answer)
	m.assertExpectations(t)
}

func TestRunTurnStream_EmitsChunksInOrder(t *testing.T) {
	c, m := setupControllerTest()
	threadID := uuid.New()
	found := []types.Candidate{{Place: types.Place{ID: "p1"}}}

	m.store.On("Load", mock.Anything, threadID, types.HistoryWindow).Return([]types.Message{}, nil).Once()
	m.intent.On("Classify", mock.Anything, mock.Anything).
		Return(intentDelta(types.IntentImageSimilar, types.ModalityOnlySlots(types.InputImage))).Once()
	m.retriever.On("Retrieve", mock.Anything, mock.Anything).Return(types.StateDelta{Candidates: &found}).Once()
	m.answer.On("Answer", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			onChunk := args.Get(2).(func(string))
			onChunk("비슷한 ")
			onChunk("장소예요")
		}).
		Return(types.StateDelta{Answer: types.Ptr("비슷한 장소예요")}).Once()
	m.store.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

	var events []Event
	_, err := c.RunTurnStream(context.Background(), types.TurnInput{ThreadID: threadID, ImageRef: "https://img/1.jpg"},
		func(e Event) { events = append(events, e) })
	require.NoError(t, err)

	var kinds []EventType
	for _, e := range events {
		kinds = append(kinds, e.Type)
		assert.NotEmpty(t, e.EventID)
	}
	assert.Equal(t, []EventType{
		EventTypeStage, EventTypeStage, EventTypeCandidates,
		EventTypeStage, EventTypeChunk, EventTypeChunk, EventTypeDone,
	}, kinds)
	assert.Equal(t, found, events[2].Candidates)
	assert.Equal(t, "비슷한 ", events[4].Chunk)
}

func TestRunTurn_NoInputGoesStraightToRetrieval(t *testing.T) {
	c, m := setupControllerTest()
	threadID := uuid.New()

	m.store.On("Load", mock.Anything, threadID, types.HistoryWindow).Return([]types.Message{}, nil).Once()
	m.intent.On("Classify", mock.Anything, mock.Anything).Return(types.StateDelta{}).Once()
	m.retriever.On("Retrieve", mock.Anything, mock.Anything).Return(types.StateDelta{Candidates: &[]types.Candidate{}}).Once()
	m.answer.On("Answer", mock.Anything, mock.Anything, mock.Anything).Return(types.StateDelta{Answer: types.Ptr("무엇을 도와드릴까요?")}).Once()
	m.store.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

	out, err := c.RunTurn(context.Background(), types.TurnInput{ThreadID: threadID})

	require.NoError(t, err)
	assert.Equal(t, "무엇을 도와드릴까요?", out.Answer)
	assert.Equal(t, types.InputText, out.Slots.InputType)
	m.assertExpectations(t)
}

func TestRunTurn_Errors(t *testing.T) {
	t.Run("missing thread id", func(t *testing.T) {
		c, m := setupControllerTest()
		_, err := c.RunTurn(context.Background(), types.TurnInput{Text: "안녕"})
		assert.ErrorIs(t, err, types.ErrMissingThreadID)
		m.store.AssertNotCalled(t, "Load", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("history load failure", func(t *testing.T) {
		c, m := setupControllerTest()
		m.store.On("Load", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("redis down")).Once()

		_, err := c.RunTurn(context.Background(), types.TurnInput{ThreadID: uuid.New(), Text: "안녕"})
		require.Error(t, err)
		m.intent.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
	})

	t.Run("history save failure is not fatal", func(t *testing.T) {
		c, m := setupControllerTest()
		m.store.On("Load", mock.Anything, mock.Anything, mock.Anything).Return([]types.Message{}, nil).Once()
		m.intent.On("Classify", mock.Anything, mock.Anything).Return(intentDelta(types.IntentInfoQA, types.Slots{InputType: types.InputText})).Once()
		m.retriever.On("Retrieve", mock.Anything, mock.Anything).Return(types.StateDelta{Candidates: &[]types.Candidate{}}).Once()
		m.answer.On("Answer", mock.Anything, mock.Anything, mock.Anything).Return(types.StateDelta{Answer: types.Ptr("답")}).Once()
		m.store.On("Save", mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()

		out, err := c.RunTurn(context.Background(), types.TurnInput{ThreadID: uuid.New(), Text: "운영시간?"})
		require.NoError(t, err)
		assert.Equal(t, "답", out.Answer)
	})
}

func TestMessages(t *testing.T) {
	c, m := setupControllerTest()
	threadID := uuid.New()
	m.store.On("Load", mock.Anything, threadID, 20).Return([]types.Message{{Role: types.RoleUser, Content: "q"}}, nil).Once()

	messages, err := c.Messages(context.Background(), threadID, 20)
	require.NoError(t, err)
	assert.Len(t, messages, 1)

	_, err = c.Messages(context.Background(), uuid.Nil, 20)
	assert.ErrorIs(t, err, types.ErrMissingThreadID)
}

func TestCheckpoint(t *testing.T) {
	c, m := setupControllerTest()
	threadID := uuid.New()
	saved := &types.TurnOutput{ThreadID: threadID, Answer: "추천"}
	m.store.On("Checkpoint", mock.Anything, threadID).Return(saved, nil).Once()

	out, err := c.Checkpoint(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, saved, out)

	_, err = c.Checkpoint(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, types.ErrMissingThreadID)
	m.assertExpectations(t)
}
