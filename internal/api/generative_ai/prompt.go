package generativeAI

import (
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

// Prompt is one generation request. History is sent as prior turns, User and
// ImageRef form the final user message.
type Prompt struct {
	System      string
	History     []types.Message
	User        string
	ImageRef    string
	Temperature *float32
}

func (p Prompt) config() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{Temperature: p.Temperature}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	return cfg
}

// Temperature is a small helper for the Prompt field.
func Temperature(t float32) *float32 { return genai.Ptr(t) }
