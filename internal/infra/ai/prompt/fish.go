package prompt

import (
	"github.com/sashabaranov/go-openai/jsonschema"
)

// SchemaName is the response_format name sent with structured requests.
const SchemaName = "fish_analysis"

// GetSystemPrompt provides strict directions and the exact JSON shape for the reply.
func GetSystemPrompt() string {
	return `You are a marine biology expert. Analyze the fish image and return the result STRICTLY in this EXACT JSON format:

{
  "commonName": "",
  "species": "",
  "confidence": 0,
  "family": "",
  "habitat": "",
  "characteristics": [],
  "measurements": {
    "estimatedLength": "",
    "estimatedWeight": "",
    "bodyDepth": ""
  },
  "distribution": "",
  "conservationStatus": "",
  "commercialValue": "",
  "similarSpecies": [
    { "name": "", "confidence": 0 }
  ]
}

RULES:
- Confidence MUST be a number between 0-100
- Measurements MUST be approximate real-world values based on fish morphology
- Characteristics MUST be short descriptions
- species is the scientific (binomial) name
- Do NOT add markdown
- Do NOT add explanation text
- Reply ONLY with valid JSON`
}

// GetUserPrompt is the text part sent next to the inlined image.
func GetUserPrompt() string {
	return "Identify the fish in this image and respond with the JSON object described above."
}

// Schema mirrors the system prompt for endpoints that support schema-constrained output.
func Schema() *jsonschema.Definition {
	str := jsonschema.Definition{Type: jsonschema.String}
	num := jsonschema.Definition{Type: jsonschema.Number}
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"commonName": str,
			"species":    str,
			"confidence": num,
			"family":     str,
			"habitat":    str,
			"characteristics": {
				Type:  jsonschema.Array,
				Items: &jsonschema.Definition{Type: jsonschema.String},
			},
			"measurements": {
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"estimatedLength": str,
					"estimatedWeight": str,
					"bodyDepth":       str,
				},
				Required:             []string{"estimatedLength", "estimatedWeight", "bodyDepth"},
				AdditionalProperties: false,
			},
			"distribution":       str,
			"conservationStatus": str,
			"commercialValue":    str,
			"similarSpecies": {
				Type: jsonschema.Array,
				Items: &jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"name":       str,
						"confidence": num,
					},
					Required:             []string{"name", "confidence"},
					AdditionalProperties: false,
				},
			},
		},
		Required: []string{
			"commonName", "species", "confidence", "family", "habitat", "characteristics",
			"measurements", "distribution", "conservationStatus", "commercialValue", "similarSpecies",
		},
		AdditionalProperties: false,
	}
}
