package generativeAI

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-poi-concierge/internal/types"
)

// Schema pairs the response schema handed to the model with the JSON Schema the
// decoded output is validated against. The model is not trusted to honour the former.
type Schema struct {
	Name     string
	Response *genai.Schema
	compiled *gojsonschema.Schema
}

func NewSchema(name string, response *genai.Schema, document string) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(document))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return &Schema{Name: name, Response: response, compiled: compiled}, nil
}

// MustSchema is NewSchema for package-level schema definitions.
func MustSchema(name string, response *genai.Schema, document string) *Schema {
	s, err := NewSchema(name, response, document)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Validate(raw []byte) error {
	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrInvalidSchema, s.Name, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("%w: %s: %s", types.ErrInvalidSchema, s.Name, strings.Join(errs, "; "))
	}
	return nil
}

// cleanJSONResponse strips markdown fences and any prose around the JSON object.
func cleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
	}
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	firstBrace := strings.Index(response, "{")
	if firstBrace == -1 {
		return response
	}
	lastBrace := strings.LastIndex(response, "}")
	if lastBrace == -1 || lastBrace <= firstBrace {
		return response
	}
	return response[firstBrace : lastBrace+1]
}
