package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

type MockService struct{ mock.Mock }

func (m *MockService) RunTurn(ctx context.Context, in types.TurnInput) (types.TurnOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(types.TurnOutput), args.Error(1)
}

func (m *MockService) RunTurnStream(ctx context.Context, in types.TurnInput, emit func(Event)) (types.TurnOutput, error) {
	args := m.Called(ctx, in, emit)
	return args.Get(0).(types.TurnOutput), args.Error(1)
}

func (m *MockService) Messages(ctx context.Context, threadID uuid.UUID, limit int) ([]types.Message, error) {
	args := m.Called(ctx, threadID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Message), args.Error(1)
}

func (m *MockService) Checkpoint(ctx context.Context, threadID uuid.UUID) (*types.TurnOutput, error) {
	args := m.Called(ctx, threadID)
	out, _ := args.Get(0).(*types.TurnOutput)
	return out, args.Error(1)
}

func setupHandlerTest() (*Handler, *MockService) {
	service := new(MockService)
	return NewHandler(service, slog.New(slog.NewTextHandler(io.Discard, nil))), service
}

func TestHandler_Turn(t *testing.T) {
	threadID := uuid.New()
	lat, lng := 37.5, 127.0

	tests := []struct {
		name       string
		body       string
		setupMock  func(m *MockService)
		wantStatus int
		wantBody   string
	}{
		{
			name: "success with location",
			body: `{"thread_id":"` + threadID.String() + `","text":"근처 카페","lat":37.5,"lng":127.0}`,
			setupMock: func(m *MockService) {
				m.On("RunTurn", mock.Anything, types.TurnInput{
					ThreadID: threadID,
					Text:     "근처 카페",
					Location: &types.Coordinates{Latitude: lat, Longitude: lng},
				}).Return(types.TurnOutput{ThreadID: threadID, Answer: "카페 추천"}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"answer":"카페 추천"`,
		},
		{
			name:       "missing thread id",
			body:       `{"text":"안녕"}`,
			setupMock:  func(m *MockService) {},
			wantStatus: http.StatusBadRequest,
			wantBody:   types.ErrMissingThreadID.Error(),
		},
		{
			name:       "invalid thread id",
			body:       `{"thread_id":"abc"}`,
			setupMock:  func(m *MockService) {},
			wantStatus: http.StatusBadRequest,
			wantBody:   "invalid thread_id format",
		},
		{
			name:       "half coordinates",
			body:       `{"thread_id":"` + threadID.String() + `","lat":37.5}`,
			setupMock:  func(m *MockService) {},
			wantStatus: http.StatusBadRequest,
			wantBody:   "lat and lng must be provided together",
		},
		{
			name:       "unknown field",
			body:       `{"thread_id":"` + threadID.String() + `","room":"x"}`,
			setupMock:  func(m *MockService) {},
			wantStatus: http.StatusBadRequest,
			wantBody:   "unknown key",
		},
		{
			name: "history failure",
			body: `{"thread_id":"` + threadID.String() + `","text":"q"}`,
			setupMock: func(m *MockService) {
				m.On("RunTurn", mock.Anything, mock.Anything).Return(types.TurnOutput{}, errors.New("redis down")).Once()
			},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Failed to process turn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, service := setupHandlerTest()
			tt.setupMock(service)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/turn", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.Turn(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantBody)
			service.AssertExpectations(t)
		})
	}
}

func TestHandler_TurnStream(t *testing.T) {
	h, service := setupHandlerTest()
	threadID := uuid.New()
	out := types.TurnOutput{ThreadID: threadID, Answer: "안녕하세요"}

	service.On("RunTurnStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			emit := args.Get(2).(func(Event))
			emit(Event{Type: EventTypeStage, EventID: "1", Stage: "INTENT"})
			emit(Event{Type: EventTypeChunk, EventID: "2", Chunk: "안녕하세요"})
			emit(Event{Type: EventTypeDone, EventID: "3", Output: &out})
		}).
		Return(out, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/turn/stream",
		strings.NewReader(`{"thread_id":"`+threadID.String()+`","text":"안녕"}`))
	rr := httptest.NewRecorder()
	h.TurnStream(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	var names []string
	var chunk Event
	scanner := bufio.NewScanner(rr.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok && strings.Contains(data, `"chunk"`) {
			require.NoError(t, json.Unmarshal([]byte(data), &chunk))
		}
	}
	assert.Equal(t, []string{"stage", "chunk", "done"}, names)
	assert.Equal(t, "안녕하세요", chunk.Chunk)
}

func TestHandler_TurnStreamError(t *testing.T) {
	h, service := setupHandlerTest()
	service.On("RunTurnStream", mock.Anything, mock.Anything, mock.Anything).
		Return(types.TurnOutput{}, errors.New("failed to load thread history")).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/turn/stream",
		strings.NewReader(`{"thread_id":"`+uuid.NewString()+`"}`))
	rr := httptest.NewRecorder()
	h.TurnStream(rr, req)

	assert.Contains(t, rr.Body.String(), "event: error\n")
	assert.Contains(t, rr.Body.String(), "failed to load thread history")
}

func TestHandler_Messages(t *testing.T) {
	threadID := uuid.New()

	newRequest := func(id, query string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/threads/"+id+"/messages"+query, nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("threadID", id)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	t.Run("success", func(t *testing.T) {
		h, service := setupHandlerTest()
		service.On("Messages", mock.Anything, threadID, 4).
			Return([]types.Message{{Role: types.RoleUser, Content: "q"}}, nil).Once()

		rr := httptest.NewRecorder()
		h.Messages(rr, newRequest(threadID.String(), "?limit=4"))

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp MessagesResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, threadID, resp.ThreadID)
		assert.Len(t, resp.Messages, 1)
	})

	t.Run("empty thread", func(t *testing.T) {
		h, service := setupHandlerTest()
		service.On("Messages", mock.Anything, threadID, types.HistoryWindow).Return(nil, nil).Once()

		rr := httptest.NewRecorder()
		h.Messages(rr, newRequest(threadID.String(), ""))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"messages":[]`)
	})

	t.Run("bad requests", func(t *testing.T) {
		h, _ := setupHandlerTest()

		rr := httptest.NewRecorder()
		h.Messages(rr, newRequest("nope", ""))
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = httptest.NewRecorder()
		h.Messages(rr, newRequest(threadID.String(), "?limit=500"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestHandler_Checkpoint(t *testing.T) {
	threadID := uuid.New()

	newRequest := func(id string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/threads/"+id+"/checkpoint", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("threadID", id)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	t.Run("last turn", func(t *testing.T) {
		h, service := setupHandlerTest()
		service.On("Checkpoint", mock.Anything, threadID).Return(&types.TurnOutput{
			ThreadID:      threadID,
			Answer:        "광장시장을 추천해요",
			PrimaryIntent: types.IntentPlaceInquiry,
			Candidates:    []types.Candidate{},
			MissingSlots:  []string{},
		}, nil).Once()

		rr := httptest.NewRecorder()
		h.Checkpoint(rr, newRequest(threadID.String()))

		assert.Equal(t, http.StatusOK, rr.Code)
		var out types.TurnOutput
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
		assert.Equal(t, threadID, out.ThreadID)
		assert.Equal(t, "광장시장을 추천해요", out.Answer)
		service.AssertExpectations(t)
	})

	t.Run("no finished turn", func(t *testing.T) {
		h, service := setupHandlerTest()
		service.On("Checkpoint", mock.Anything, threadID).Return(nil, nil).Once()

		rr := httptest.NewRecorder()
		h.Checkpoint(rr, newRequest(threadID.String()))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("store error", func(t *testing.T) {
		h, service := setupHandlerTest()
		service.On("Checkpoint", mock.Anything, threadID).Return(nil, errors.New("redis down")).Once()

		rr := httptest.NewRecorder()
		h.Checkpoint(rr, newRequest(threadID.String()))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("bad thread id", func(t *testing.T) {
		h, service := setupHandlerTest()

		rr := httptest.NewRecorder()
		h.Checkpoint(rr, newRequest("nope"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		service.AssertNotCalled(t, "Checkpoint", mock.Anything, mock.Anything)
	})
}
