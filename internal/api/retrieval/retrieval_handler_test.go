package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-poi-concierge/internal/api/geocoding"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) HybridSearch(ctx context.Context, req SearchRequest) []types.Candidate {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]types.Candidate)
}

func (m *MockService) Nearby(ctx context.Context, lat, lng float64, limit int, radiusKm float64) ([]types.Candidate, error) {
	args := m.Called(ctx, lat, lng, limit, radiusKm)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Candidate), args.Error(1)
}

func (m *MockService) ItineraryFanout(ctx context.Context, segments []types.ItinerarySegment, imageRef string, caption *string) []types.Candidate {
	args := m.Called(ctx, segments, imageRef, caption)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]types.Candidate)
}

func (m *MockService) Retrieve(ctx context.Context, state *types.TurnState) types.StateDelta {
	args := m.Called(ctx, state)
	return args.Get(0).(types.StateDelta)
}

func setupHandlerTest() (*Handler, *MockService) {
	service := new(MockService)
	return NewHandler(service, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), service
}

type MockAddressResolver struct {
	mock.Mock
}

func (m *MockAddressResolver) Forward(ctx context.Context, address string) (*types.Address, error) {
	args := m.Called(ctx, address)
	addr, _ := args.Get(0).(*types.Address)
	return addr, args.Error(1)
}

func setupAddressHandlerTest() (*Handler, *MockService, *MockAddressResolver) {
	service := new(MockService)
	geocoder := new(MockAddressResolver)
	return NewHandler(service, geocoder, slog.New(slog.NewTextHandler(io.Discard, nil))), service, geocoder
}

func decodeSearchResponse(t *testing.T, rr *httptest.ResponseRecorder) SearchResponse {
	t.Helper()
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestHandler_Nearby(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		h, service := setupHandlerTest()
		dist := 0.4
		service.On("Nearby", mock.Anything, 37.5, 127.03, 3, 5.0).
			Return([]types.Candidate{{Place: types.Place{ID: "p1"}, DistanceKm: &dist}}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/places/nearby?lat=37.5&lng=127.03", nil)
		rr := httptest.NewRecorder()
		h.Nearby(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decodeSearchResponse(t, rr)
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, "p1", resp.Results[0].ID)
		service.AssertExpectations(t)
	})

	t.Run("explicit limit and radius", func(t *testing.T) {
		h, service := setupHandlerTest()
		service.On("Nearby", mock.Anything, 35.1, 129.0, 10, 2.5).Return(nil, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/places/nearby?lat=35.1&lng=129.0&limit=10&radius_km=2.5", nil)
		rr := httptest.NewRecorder()
		h.Nearby(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"results":[],"count":0}`, rr.Body.String())
	})

	for name, query := range map[string]string{
		"missing lng":      "lat=37.5",
		"bad lat":          "lat=abc&lng=127",
		"lat out of range": "lat=91&lng=127",
		"bad limit":        "lat=37.5&lng=127&limit=0",
		"bad radius":       "lat=37.5&lng=127&radius_km=-1",
	} {
		t.Run(name, func(t *testing.T) {
			h, service := setupHandlerTest()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/places/nearby?"+query, nil)
			rr := httptest.NewRecorder()
			h.Nearby(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			service.AssertNotCalled(t, "Nearby", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("service error", func(t *testing.T) {
		h, service := setupHandlerTest()
		service.On("Nearby", mock.Anything, 37.5, 127.0, 3, 5.0).Return(nil, errors.New("db down")).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/places/nearby?lat=37.5&lng=127", nil)
		rr := httptest.NewRecorder()
		h.Nearby(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestHandler_Search(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		h, service := setupHandlerTest()
		expected := SearchRequest{Query: "전주 한옥마을", Category: "관광지", Limit: 3}
		service.On("HybridSearch", mock.Anything, expected).
			Return([]types.Candidate{{Place: types.Place{ID: "h1"}, Score: 0.8}}).Once()

		body := `{"query":"전주 한옥마을","category":"관광지","limit":3}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/places/search", strings.NewReader(body))
		rr := httptest.NewRecorder()
		h.Search(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decodeSearchResponse(t, rr)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "h1", resp.Results[0].ID)
		service.AssertExpectations(t)
	})

	for name, body := range map[string]string{
		"empty":         `{}`,
		"unknown field": `{"query":"x","radius":3}`,
		"bad limit":     `{"query":"x","limit":100}`,
		"not json":      `query=x`,
	} {
		t.Run(name, func(t *testing.T) {
			h, service := setupHandlerTest()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/places/search", strings.NewReader(body))
			rr := httptest.NewRecorder()
			h.Search(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			service.AssertNotCalled(t, "HybridSearch", mock.Anything, mock.Anything)
		})
	}
}

func TestHandler_NearbyByAddress(t *testing.T) {
	t.Run("geocoded origin", func(t *testing.T) {
		h, service, geocoder := setupAddressHandlerTest()
		origin := &types.Address{Latitude: 37.4979, Longitude: 127.0276, RoadAddress: "강남대로 396"}
		geocoder.On("Forward", mock.Anything, "강남역").Return(origin, nil).Once()
		service.On("Nearby", mock.Anything, 37.4979, 127.0276, 3, 5.0).
			Return([]types.Candidate{{Place: types.Place{ID: "p1"}}}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/places/nearby?address="+url.QueryEscape(" 강남역 "), nil)
		rr := httptest.NewRecorder()
		h.Nearby(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decodeSearchResponse(t, rr)
		assert.Equal(t, 1, resp.Count)
		require.NotNil(t, resp.Origin)
		assert.Equal(t, "강남대로 396", resp.Origin.RoadAddress)
		service.AssertExpectations(t)
		geocoder.AssertExpectations(t)
	})

	t.Run("coordinates win over address", func(t *testing.T) {
		h, service, geocoder := setupAddressHandlerTest()
		service.On("Nearby", mock.Anything, 35.1, 129.0, 3, 5.0).Return(nil, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/places/nearby?lat=35.1&lng=129.0&address=x", nil)
		rr := httptest.NewRecorder()
		h.Nearby(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		geocoder.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything)
	})

	t.Run("unknown address", func(t *testing.T) {
		h, service, geocoder := setupAddressHandlerTest()
		geocoder.On("Forward", mock.Anything, "없는주소").Return(nil, geocoding.ErrNoResult).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/places/nearby?address="+url.QueryEscape("없는주소"), nil)
		rr := httptest.NewRecorder()
		h.Nearby(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		service.AssertNotCalled(t, "Nearby", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("geocoder down", func(t *testing.T) {
		h, _, geocoder := setupAddressHandlerTest()
		geocoder.On("Forward", mock.Anything, "부산역").Return(nil, errors.New("naver 500")).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/places/nearby?address="+url.QueryEscape("부산역"), nil)
		rr := httptest.NewRecorder()
		h.Nearby(rr, req)

		assert.Equal(t, http.StatusBadGateway, rr.Code)
	})

	t.Run("address without geocoder", func(t *testing.T) {
		h, service := setupHandlerTest()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/places/nearby?address="+url.QueryEscape("부산역"), nil)
		rr := httptest.NewRecorder()
		h.Nearby(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		service.AssertNotCalled(t, "Nearby", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
