package planner

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	generativeAI "github.com/FACorreiaa/go-poi-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

const systemPrompt = `당신은 국내 여행 일정 플래너입니다.
대화 흐름과 사용자 입력을 보고 장소 검색에 쓸 일정 초안을 JSON으로만 만드세요.

규칙:
- itinerary는 일차, 시간대 순서로 정렬하세요. 당일치기는 day를 1로 둡니다.
- time_slot은 morning, afternoon, evening 중 하나입니다.
- search_query는 장소 검색에 바로 쓸 수 있는 짧은 키워드입니다. 예: "해운대 해변 산책"
- category는 관광지, 음식점, 카페, 숙소, 체험, 쇼핑, 기타 중 하나입니다.
- 여행지나 기간처럼 일정을 짜는 데 꼭 필요한 정보가 없으면 missing_slots에 슬롯 이름을 넣고,
  사용자의 맥락과 취향을 고려한 친근한 후속 질문을 followup_question에 넣으세요.
- 부족한 정보가 없으면 missing_slots는 빈 배열, followup_question은 null입니다.`

const userTemplate = `사용자 입력: %s

슬롯 정보:
%s

사용자 선호도:
%s`

func buildPrompt(state *types.TurnState) generativeAI.Prompt {
	slots := strings.Join(state.Slots.Lines(), "\n")
	if slots == "" {
		slots = "없음"
	}
	prefs := strings.TrimSpace(state.Preferences)
	if prefs == "" {
		prefs = "없음"
	}
	return generativeAI.Prompt{
		System:      systemPrompt,
		History:     state.History,
		User:        fmt.Sprintf(userTemplate, state.Text, slots, prefs),
		Temperature: generativeAI.Temperature(0.3),
	}
}

var planSchema = generativeAI.MustSchema("planner", &genai.Schema{
	Type:     genai.TypeObject,
	Required: []string{"itinerary", "missing_slots"},
	Properties: map[string]*genai.Schema{
		"itinerary": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type:     genai.TypeObject,
				Required: []string{"day", "time_slot", "activity", "search_query", "category"},
				Properties: map[string]*genai.Schema{
					"day":          {Type: genai.TypeInteger, Description: "일차 (당일치기면 1)"},
					"time_slot":    {Type: genai.TypeString, Description: "morning | afternoon | evening"},
					"activity":     {Type: genai.TypeString, Description: "활동 설명"},
					"search_query": {Type: genai.TypeString, Description: "장소 검색용 키워드"},
					"category":     {Type: genai.TypeString, Description: "관광지 | 음식점 | 카페 | 숙소 | 체험 | 쇼핑 | 기타"},
				},
			},
		},
		"missing_slots": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"followup_question": {
			Type:        genai.TypeString,
			Nullable:    genai.Ptr(true),
			Description: "부족한 정보가 있을 때 사용자에게 건넬 자연스러운 후속 질문",
		},
	},
}, `{
  "type": "object",
  "required": ["itinerary", "missing_slots"],
  "properties": {
    "itinerary": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["day", "time_slot", "activity", "search_query", "category"],
        "properties": {
          "day": {"type": "integer"},
          "time_slot": {"type": "string"},
          "activity": {"type": "string"},
          "search_query": {"type": "string"},
          "category": {"type": "string"}
        }
      }
    },
    "missing_slots": {"type": "array", "items": {"type": "string"}},
    "followup_question": {"type": ["string", "null"]}
  }
}`)
