package tool

import (
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"
)

// JSONSchema converts a Gemini schema to JSON Schema for OpenAI-compatible
// planners and MCP clients
func JSONSchema(s *genai.Schema) *jsonschema.Schema {
	if s == nil {
		return &jsonschema.Schema{Type: "object"}
	}

	out := &jsonschema.Schema{
		Type:        strings.ToLower(string(s.Type)),
		Description: s.Description,
		Required:    s.Required,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
	}

	if s.Default != nil {
		if raw, err := json.Marshal(s.Default); err == nil {
			out.Default = raw
		}
	}
	for _, e := range s.Enum {
		out.Enum = append(out.Enum, e)
	}
	if s.Items != nil {
		out.Items = JSONSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*jsonschema.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = JSONSchema(prop)
		}
	}

	return out
}
