package claude

import "encoding/json"

// StripFields removes the named keys from nested JSON structures. The input
// is never mutated; maps and slices are rebuilt.
func StripFields(data any, fields []string) any {
	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))

		for key, value := range v {
			drop := false

			for _, field := range fields {
				if key == field {
					drop = true
					break
				}
			}

			if !drop {
				result[key] = StripFields(value, fields)
			}
		}

		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = StripFields(item, fields)
		}

		return result
	default:
		return v
	}
}

// CleanSchema strips the listed JSON-schema keywords from a tool's input
// schema, recursively. Each backend rejects a different set of keywords, so
// the caller parameterizes the drop list. A schema that does not decode is
// returned untouched; the backend's own validation reports it.
func CleanSchema(schema json.RawMessage, dropKeys []string) json.RawMessage {
	if len(schema) == 0 || len(dropKeys) == 0 {
		return schema
	}

	var decoded any
	if err := json.Unmarshal(schema, &decoded); err != nil {
		return schema
	}

	cleaned, err := json.Marshal(StripFields(decoded, dropKeys))
	if err != nil {
		return schema
	}

	return cleaned
}
