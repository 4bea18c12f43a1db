package tool

import "encoding/json"

// canonicalJSON renders a value with deterministic key order. encoding/json
// sorts map keys, so a marshal round-trip through map types is canonical for
// the argument shapes tools accept.
func canonicalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// normalizeForSchema round-trips a value through JSON so the schema
// validator sees json.Number-free plain types (map[string]any, []any,
// float64, string, bool, nil) regardless of how the args were built.
func normalizeForSchema(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
