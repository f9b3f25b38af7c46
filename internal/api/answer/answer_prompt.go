package answer

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	generativeAI "github.com/FACorreiaa/go-poi-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-poi-concierge/internal/api/retrieval"
	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

const systemPrompt = `당신은 한국 국내 여행을 돕는 친절한 여행 컨시어지입니다.
아래 검색 결과와 대화 맥락을 바탕으로 사용자에게 장소를 추천하고 답변하세요.

규칙:
- 검색된 장소 정보에 있는 장소를 우선 추천하고, 없는 사실을 지어내지 마세요.
- 장소를 언급할 때는 지도 링크를 마크다운 링크로 함께 제공하세요.
- 일정별 검색 결과가 있으면 일차와 시간대 순서로 정리해 주세요.
- 사용자 선호도를 반영해 추천 이유를 한두 문장으로 설명하세요.
- 답변은 한국어로, 읽기 쉽게 작성하세요.

슬롯 정보:
%s

사용자 선호도:
%s

%s
%s`

const missingInfoPrompt = `당신은 한국 국내 여행을 돕는 친절한 여행 컨시어지입니다.
여행 계획을 세우기 위해 아래 정보가 더 필요합니다.
사용자의 대화 맥락과 선호도를 고려해서, 부족한 정보를 자연스럽게 물어보는 짧은 질문을 한국어로 작성하세요.

슬롯 정보:
%s

사용자 선호도:
%s

%s`

const (
	missingInfoUser = "여행 계획을 위한 추가 정보가 필요합니다. 아래 정보를 참고하여 질문해주세요."
	imageOnlyUser   = "사용자가 이미지를 보냈습니다. 이 이미지를 분석해서 어울리는 장소를 추천해주세요."
	noInputUser     = "사용자 입력이 없습니다."

	hardNotice = "⚠️ 참고: 검색 결과가 없어 일반 지식을 기반으로 답변합니다. 정보의 정확도가 다소 낮을 수 있으니 확인 부탁드려요."
	softNotice = "※ 검색 결과가 제한적이어서 추가 장소가 필요하시면 더 구체적으로 말씀해 주세요."

	// softNoticeBelow is the candidate count under which results count as limited.
	softNoticeBelow = 3
)

func buildPrompt(state *types.TurnState, web []types.WebResult) generativeAI.Prompt {
	blocks := []string{buildPlaceContext(state.Candidates)}
	if state.PrimaryIntent == types.IntentTripPlanning {
		blocks = append(blocks, buildItineraryContext(state.Candidates))
	}
	blocks = append(blocks, buildWebContext(web))
	contextBlock := strings.Join(lo.Compact(blocks), "\n\n")

	return generativeAI.Prompt{
		System:      fmt.Sprintf(systemPrompt, slotInfo(state.Slots), prefsInfo(state.Preferences), contextBlock, dataNotice(len(state.Candidates), len(web))),
		History:     state.History,
		User:        userMessage(state),
		ImageRef:    state.ImageRef,
		Temperature: generativeAI.Temperature(0.5),
	}
}

func buildMissingInfoPrompt(state *types.TurnState) generativeAI.Prompt {
	return generativeAI.Prompt{
		System:      fmt.Sprintf(missingInfoPrompt, slotInfo(state.Slots), prefsInfo(state.Preferences), buildMissingContext(state.MissingSlots)),
		History:     state.History,
		User:        missingInfoUser,
		Temperature: generativeAI.Temperature(0.3),
	}
}

func userMessage(state *types.TurnState) string {
	switch {
	case state.HasText():
		return "사용자 입력: " + state.Text
	case state.HasImage():
		return imageOnlyUser
	default:
		return noInputUser
	}
}

// dataNotice warns the model about thin evidence. Web results only count when
// the place index came back empty.
func dataNotice(candidates, webResults int) string {
	switch {
	case candidates == 0 && webResults == 0:
		return hardNotice
	case candidates < softNoticeBelow:
		return softNotice
	default:
		return ""
	}
}

func buildPlaceContext(candidates []types.Candidate) string {
	if len(candidates) == 0 {
		return ""
	}
	lines := []string{"## 검색된 장소 정보"}
	for i, c := range candidates {
		lines = append(lines, fmt.Sprintf("%d. **%s** (%s)", i+1, c.Title, c.Category))
		if c.Address != "" {
			lines = append(lines, "   - 주소: "+c.Address)
		}
		if desc := cmp.Or(c.EmotionalDescription, c.Description); desc != "" {
			lines = append(lines, "   - 소개: "+desc)
		}
		if c.DistanceKm != nil {
			lines = append(lines, fmt.Sprintf("   - 거리: %.1fkm", *c.DistanceKm))
		}
		if u := retrieval.MapURL(c.Place); u != "" {
			lines = append(lines, "   - 지도: "+u)
		}
		photos := c.PhotoURLs
		if len(photos) == 0 && c.ImageURL != "" {
			photos = []string{c.ImageURL}
		}
		if len(photos) > 0 {
			lines = append(lines, "   - 사진: "+strings.Join(photos, ", "))
		}
	}
	return strings.Join(lines, "\n")
}

type scheduleKey struct {
	day      int
	timeSlot string
}

// buildItineraryContext groups fan-out candidates by (day, time slot). Candidates
// without an itinerary link are left to the place context.
func buildItineraryContext(candidates []types.Candidate) string {
	groups := map[scheduleKey][]types.Candidate{}
	activities := map[scheduleKey]string{}
	var keys []scheduleKey
	for _, c := range candidates {
		if c.Itinerary == nil {
			continue
		}
		key := scheduleKey{day: c.Itinerary.Day, timeSlot: c.Itinerary.TimeSlot}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
			activities[key] = c.Itinerary.Activity
		}
		groups[key] = append(groups[key], c)
	}
	if len(keys) == 0 {
		return ""
	}
	slices.SortFunc(keys, func(a, b scheduleKey) int {
		return cmp.Or(cmp.Compare(a.day, b.day), cmp.Compare(a.timeSlot, b.timeSlot))
	})

	lines := []string{"## 일정별 검색 결과"}
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("\n### %d일차 - %s", key.day, key.timeSlot))
		lines = append(lines, "활동: "+activities[key])
		for _, c := range groups[key] {
			if u := retrieval.MapURL(c.Place); u != "" {
				lines = append(lines, fmt.Sprintf("- [%s](%s)", c.Title, u))
			} else {
				lines = append(lines, "- "+c.Title)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func buildWebContext(results []types.WebResult) string {
	if len(results) == 0 {
		return ""
	}
	lines := []string{"## 웹 검색 결과 (참고 정보)"}
	for _, r := range results {
		lines = append(lines, "- "+r.Content)
	}
	return strings.Join(lines, "\n")
}

func buildMissingContext(missing []string) string {
	if len(missing) == 0 {
		return ""
	}
	lines := []string{"## 추가 정보 필요"}
	for _, slot := range missing {
		lines = append(lines, "- "+slot)
	}
	return strings.Join(lines, "\n")
}

func slotInfo(s types.Slots) string {
	return strings.Join(s.Lines(), "\n")
}

func prefsInfo(prefs string) string {
	if prefs = strings.TrimSpace(prefs); prefs == "" {
		return "없음"
	}
	return prefs
}
