package fish

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var recordFields = map[string]bool{
	"commonName":         true,
	"species":            true,
	"confidence":         true,
	"family":             true,
	"habitat":            true,
	"characteristics":    true,
	"measurements":       true,
	"distribution":       true,
	"conservationStatus": true,
	"commercialValue":    true,
	"similarSpecies":     true,
}

var measurementFields = map[string]bool{
	"estimatedLength": true,
	"estimatedWeight": true,
	"bodyDepth":       true,
}

// DecodeRecord parses one JSON object into an AnalysisRecord, defaulting
// missing or wrongly typed fields. Values are not range checked.
func DecodeRecord(raw []byte) (AnalysisRecord, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return AnalysisRecord{}, err
	}
	return fromObject(obj), nil
}

// DecodeStrict is DecodeRecord for client supplied payloads: the object must
// not carry unknown fields, present fields must have the schema's types and
// the record must name a species.
func DecodeStrict(raw []byte) (AnalysisRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return AnalysisRecord{}, fmt.Errorf("%w: analysis data missing", ErrMissingInput)
	}
	obj, err := decodeObject(trimmed)
	if err != nil {
		return AnalysisRecord{}, fmt.Errorf("%w: analysis must be a JSON object", ErrInvalidInput)
	}
	if problems := validate(obj); len(problems) > 0 {
		return AnalysisRecord{}, fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	rec := fromObject(obj)
	if strings.TrimSpace(rec.CommonName) == "" && strings.TrimSpace(rec.Species) == "" {
		return AnalysisRecord{}, fmt.Errorf("%w: commonName or species is required", ErrInvalidInput)
	}
	return rec, nil
}

// Normalize fills nil sequences so the record always serializes every field.
func Normalize(rec AnalysisRecord) AnalysisRecord {
	if rec.Characteristics == nil {
		rec.Characteristics = []string{}
	}
	if rec.SimilarSpecies == nil {
		rec.SimilarSpecies = []SimilarSpecies{}
	}
	return rec
}

func decodeObject(raw []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedResponse)
	}
	return obj, nil
}

func fromObject(obj map[string]any) AnalysisRecord {
	rec := AnalysisRecord{
		CommonName:         asString(obj["commonName"]),
		Species:            asString(obj["species"]),
		Confidence:         asNumber(obj["confidence"]),
		Family:             asString(obj["family"]),
		Habitat:            asString(obj["habitat"]),
		Characteristics:    asStrings(obj["characteristics"]),
		Distribution:       asString(obj["distribution"]),
		ConservationStatus: asString(obj["conservationStatus"]),
		CommercialValue:    asString(obj["commercialValue"]),
		SimilarSpecies:     asSimilar(obj["similarSpecies"]),
	}
	if m, ok := obj["measurements"].(map[string]any); ok {
		rec.Measurements = Measurements{
			EstimatedLength: asString(m["estimatedLength"]),
			EstimatedWeight: asString(m["estimatedWeight"]),
			BodyDepth:       asString(m["bodyDepth"]),
		}
	}
	return Normalize(rec)
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// asNumber accepts numbers and numeric strings such as "87" or "87%".
func asNumber(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func asStrings(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}

func asSimilar(v any) []SimilarSpecies {
	out := []SimilarSpecies{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		switch t := item.(type) {
		case map[string]any:
			out = append(out, SimilarSpecies{Name: asString(t["name"]), Confidence: asNumber(t["confidence"])})
		case string:
			out = append(out, SimilarSpecies{Name: t})
		}
	}
	return out
}

func validate(obj map[string]any) []string {
	var problems []string
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := obj[k]
		if !recordFields[k] {
			problems = append(problems, fmt.Sprintf("unknown field %q", k))
			continue
		}
		if v == nil {
			continue
		}
		switch k {
		case "confidence":
			if _, ok := v.(float64); !ok {
				problems = append(problems, "confidence must be a number")
			}
		case "characteristics":
			arr, ok := v.([]any)
			if !ok {
				problems = append(problems, "characteristics must be an array of strings")
				break
			}
			for i, item := range arr {
				if _, ok := item.(string); !ok {
					problems = append(problems, fmt.Sprintf("characteristics[%d] must be a string", i))
				}
			}
		case "measurements":
			m, ok := v.(map[string]any)
			if !ok {
				problems = append(problems, "measurements must be an object")
				break
			}
			for mk, mv := range m {
				if !measurementFields[mk] {
					problems = append(problems, fmt.Sprintf("unknown field %q in measurements", mk))
					continue
				}
				if _, ok := mv.(string); mv != nil && !ok {
					problems = append(problems, fmt.Sprintf("measurements.%s must be a string", mk))
				}
			}
		case "similarSpecies":
			arr, ok := v.([]any)
			if !ok {
				problems = append(problems, "similarSpecies must be an array")
				break
			}
			for i, item := range arr {
				m, ok := item.(map[string]any)
				if !ok {
					problems = append(problems, fmt.Sprintf("similarSpecies[%d] must be an object", i))
					continue
				}
				for sk, sv := range m {
					switch sk {
					case "name":
						if _, ok := sv.(string); !ok {
							problems = append(problems, fmt.Sprintf("similarSpecies[%d].name must be a string", i))
						}
					case "confidence":
						if _, ok := sv.(float64); !ok {
							problems = append(problems, fmt.Sprintf("similarSpecies[%d].confidence must be a number", i))
						}
					default:
						problems = append(problems, fmt.Sprintf("unknown field %q in similarSpecies[%d]", sk, i))
					}
				}
			}
		default:
			if _, ok := v.(string); !ok {
				problems = append(problems, fmt.Sprintf("%s must be a string", k))
			}
		}
	}
	return problems
}
