package voice

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Fields is a loosely typed JSON object as delivered by the provider.
// Every accessor is total: missing keys, nil maps and unexpected shapes
// yield zero values instead of errors.
type Fields map[string]any

// Get returns the value under key coerced to a trimmed string.
// A {"value": ...} wrapper is unwrapped; other objects and arrays are
// returned in their JSON form.
func (f Fields) Get(key string) string {
	if f == nil {
		return ""
	}
	return coerceString(f[key])
}

// First returns the first non-empty value among keys.
func (f Fields) First(keys ...string) string {
	for _, key := range keys {
		if v := f.Get(key); v != "" {
			return v
		}
	}
	return ""
}

// Object returns the nested object under key, or nil.
func (f Fields) Object(key string) Fields {
	if f == nil {
		return nil
	}
	return asFields(f[key])
}

// Path walks nested objects, e.g. Path("metadata", "phone_call").
func (f Fields) Path(keys ...string) Fields {
	cur := f
	for _, key := range keys {
		cur = cur.Object(key)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// List returns the array under key, or nil.
func (f Fields) List(key string) []any {
	if f == nil {
		return nil
	}
	list, _ := f[key].([]any)
	return list
}

// Number returns the value under key as a float, reporting whether it was numeric.
func (f Fields) Number(key string) (float64, bool) {
	raw := f.Get(key)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func asFields(v any) Fields {
	switch typed := v.(type) {
	case map[string]any:
		return Fields(typed)
	case Fields:
		return typed
	}
	return nil
}

func coerceString(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	case map[string]any:
		if inner, ok := typed["value"]; ok {
			return coerceString(inner)
		}
		return marshalString(typed)
	case Fields:
		return coerceString(map[string]any(typed))
	default:
		return marshalString(typed)
	}
}

func marshalString(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

// DecodeFields parses a JSON object, keeping numbers exact.
func DecodeFields(body []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return Fields(out), nil
}
