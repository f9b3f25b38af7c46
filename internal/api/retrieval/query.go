package retrieval

import (
	"strings"

	"github.com/samber/lo"

	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

// Categories stored on places.
var knownCategories = []string{"관광지", "문화시설", "축제공연행사", "레포츠", "숙박", "쇼핑", "음식점"}

// categoryAliases folds the labels the classifier and planner use onto stored categories.
var categoryAliases = map[string]string{
	"카페":  "음식점",
	"맛집":  "음식점",
	"식당":  "음식점",
	"숙소":  "숙박",
	"호텔":  "숙박",
	"체험":  "레포츠",
	"축제":  "축제공연행사",
	"공연":  "축제공연행사",
	"박물관": "문화시설",
	"미술관": "문화시설",
	"명소":  "관광지",
	"여행지": "관광지",
	"쇼핑몰": "쇼핑",
	"시장":  "쇼핑",
	"기타":  "",
}

// NormalizeCategory maps a free-form category onto a stored one. Anything it
// cannot map becomes empty, which disables the category filter.
func NormalizeCategory(category string) string {
	c := strings.TrimSpace(category)
	if c == "" {
		return ""
	}
	if lo.Contains(knownCategories, c) {
		return c
	}
	if alias, ok := categoryAliases[c]; ok {
		return alias
	}
	return ""
}

// EnrichQuery builds the general search query from the user text, the
// reverse-geocoded address and the slots that sharpen retrieval.
func EnrichQuery(text string, slots types.Slots, address string) string {
	query := text
	if address != "" {
		query += "\n위치: " + address
	}
	if slots.Location != "" && !strings.Contains(query, slots.Location) {
		query += " " + slots.Location
	}
	if len(slots.Themes) > 0 {
		query += " " + strings.Join(slots.Themes, " ")
	}
	if slots.MustHave != "" {
		query += " " + slots.MustHave
	}
	return strings.TrimSpace(query)
}
