package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type serverTimestamp struct{}

type deleteField struct{}

var (
	// ServerTimestamp is replaced by the store's current time, in unix
	// milliseconds, when written.
	ServerTimestamp = serverTimestamp{}
	// DeleteField removes the key when used as a value in Update.
	DeleteField = deleteField{}
)

// Resolve returns a copy of data with sentinels resolved against now. Keys
// carrying DeleteField are dropped.
func Resolve(data map[string]any, now time.Time) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(data))
	for key, value := range data {
		switch v := value.(type) {
		case serverTimestamp:
			out[key] = now.UnixMilli()
		case deleteField:
			continue
		case map[string]any:
			out[key] = Resolve(v, now)
		default:
			out[key] = value
		}
	}
	return out
}

// Encode serialises resolved document data.
func Encode(data map[string]any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode document: %w", err)
	}
	return payload, nil
}

// Decode parses stored document data. Numbers decode as json.Number so that
// integer millisecond timestamps survive untouched.
func Decode(payload []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var data map[string]any
	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("docstore: decode document: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// Normalize round-trips data through the storage encoding so that every store
// hands back the same value types.
func Normalize(data map[string]any) (map[string]any, error) {
	payload, err := Encode(data)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}

// Merge applies a partial update on top of current. DeleteField removes keys.
func Merge(current, partial map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(current)+len(partial))
	for key, value := range current {
		out[key] = value
	}
	for key, value := range partial {
		switch value.(type) {
		case deleteField:
			delete(out, key)
		case serverTimestamp:
			out[key] = now.UnixMilli()
		default:
			if nested, ok := value.(map[string]any); ok {
				out[key] = Resolve(nested, now)
				continue
			}
			out[key] = value
		}
	}
	return out
}

// String reads a string field, returning "" when absent or of another type.
func String(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Int64 reads an integer field written as any numeric type.
func Int64(data map[string]any, key string) int64 {
	if data == nil {
		return 0
	}
	n, _ := toInt64(data[key])
	return n
}

// Bool reads a boolean field.
func Bool(data map[string]any, key string) bool {
	if data == nil {
		return false
	}
	v, _ := data[key].(bool)
	return v
}

// Map reads a nested object field.
func Map(data map[string]any, key string) map[string]any {
	if data == nil {
		return nil
	}
	v, _ := data[key].(map[string]any)
	return v
}

// Strings reads a list of strings.
func Strings(data map[string]any, key string) []string {
	if data == nil {
		return nil
	}
	switch v := data[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
		return 0, false
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
