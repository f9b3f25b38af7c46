package intent

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	generativeAI "github.com/FACorreiaa/go-poi-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

const systemPrompt = `당신은 여행 상담 서비스의 의도 분석가입니다.
사용자의 마지막 메시지와 이전 대화를 보고 의도와 슬롯을 JSON으로만 답하세요.

의도 목록:
- PLACE_INQUIRY: 특정 조건의 장소 추천이나 검색
- TRIP_PLANNING: 하루 이상의 여행 일정 계획
- BOOKING: 숙소, 식당 등의 예약 문의
- REVIEWS: 장소의 후기나 평판 문의
- BUDGET: 여행 비용, 예산 문의
- ITINERARY_SAVE: 만든 일정의 저장 요청
- INFO_QA: 운영 시간, 교통 등 일반 정보 질문
- IMAGE_SIMILAR: 사진과 비슷한 장소 찾기

규칙:
- intents에는 해당하는 모든 의도를, primary_intent에는 가장 중요한 하나를 넣으세요.
- category는 관광지, 문화시설, 축제공연행사, 레포츠, 숙박, 쇼핑, 음식점 중 하나만 사용하세요.
- 언급되지 않은 슬롯은 null로 두고 추측하지 마세요.
- themes는 분위기나 취향을 나타내는 짧은 키워드 목록입니다.

사용자 선호도:
%s`

func buildPrompt(state *types.TurnState) generativeAI.Prompt {
	prefs := strings.TrimSpace(state.Preferences)
	if prefs == "" {
		prefs = "특별한 선호도 정보 없음"
	}
	return generativeAI.Prompt{
		System:      fmt.Sprintf(systemPrompt, prefs),
		History:     state.History,
		User:        state.Text,
		Temperature: generativeAI.Temperature(0),
	}
}

func intentNames() []string {
	names := make([]string, len(types.AllIntents))
	for i, in := range types.AllIntents {
		names[i] = in.String()
	}
	return names
}

func nullableString(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Nullable: genai.Ptr(true), Description: description}
}

func responseSchema() *genai.Schema {
	names := intentNames()
	return &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{"intents", "primary_intent", "slots"},
		Properties: map[string]*genai.Schema{
			"intents": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString, Enum: names},
			},
			"primary_intent": {Type: genai.TypeString, Enum: names},
			"slots": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"location":     nullableString("지역이나 장소 이름"),
					"category":     nullableString("장소 분류"),
					"dates":        nullableString("여행 날짜"),
					"duration":     nullableString("여행 기간, 예: 1박2일"),
					"party_size":   {Type: genai.TypeInteger, Nullable: genai.Ptr(true)},
					"budget_level": nullableString("low, medium, high"),
					"themes":       {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					"must_have":    nullableString("반드시 필요한 조건"),
					"nice_to_have": nullableString("있으면 좋은 조건"),
				},
			},
		},
	}
}

// validationDocument mirrors responseSchema as a JSON Schema for gojsonschema.
func validationDocument() string {
	nullable := map[string]any{"type": []string{"string", "null"}}
	doc := map[string]any{
		"type":     "object",
		"required": []string{"intents", "primary_intent", "slots"},
		"properties": map[string]any{
			"intents": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "enum": intentNames()},
			},
			"primary_intent": map[string]any{"type": "string", "enum": intentNames()},
			"slots": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location":     nullable,
					"category":     nullable,
					"dates":        nullable,
					"duration":     nullable,
					"party_size":   map[string]any{"type": []string{"integer", "null"}},
					"budget_level": nullable,
					"themes": map[string]any{
						"type":  []string{"array", "null"},
						"items": map[string]any{"type": "string"},
					},
					"must_have":    nullable,
					"nice_to_have": nullable,
				},
			},
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return string(b)
}

var classificationSchema = generativeAI.MustSchema("intent", responseSchema(), validationDocument())
