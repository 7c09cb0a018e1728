// Package tomlkeys flattens a TOML document into normalized dotted keys so
// that `[capture] on_demand_lines` and `capture.on-demand-lines` resolve to
// the same setting.
package tomlkeys

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Store struct {
	flat map[string]any
}

func Decode(data []byte) (Store, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return Store{}, err
	}
	return FromRaw(raw), nil
}

func FromRaw(raw map[string]any) Store {
	flat := make(map[string]any)
	flattenMap("", raw, flat)

	normalized := make(map[string]any, len(flat))
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		normalizedKey := NormalizeKey(key)
		if _, exists := normalized[normalizedKey]; exists {
			continue
		}
		normalized[normalizedKey] = flat[key]
	}
	return Store{flat: normalized}
}

// Keys lists every normalized key in the document, sorted.
func (s Store) Keys() []string {
	keys := make([]string, 0, len(s.flat))
	for key := range s.flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s Store) Has(key string) bool {
	_, ok := s.flat[NormalizeKey(key)]
	return ok
}

func (s Store) GetBool(key string) (bool, error) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return false, nil
	}
	typed, ok := value.(bool)
	if !ok {
		return false, typeError(key, "a boolean", value)
	}
	return typed, nil
}

func (s Store) GetInt(key string) (int64, error) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return 0, nil
	}
	typed, ok := value.(int64)
	if !ok {
		return 0, typeError(key, "an integer", value)
	}
	return typed, nil
}

func (s Store) GetString(key string) (string, error) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return "", nil
	}
	typed, ok := value.(string)
	if !ok {
		return "", typeError(key, "a string", value)
	}
	return typed, nil
}

// GetDuration accepts a Go duration string ("250ms") or an integer number of
// milliseconds.
func (s Store) GetDuration(key string) (time.Duration, error) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return 0, nil
	}
	switch typed := value.(type) {
	case int64:
		return time.Duration(typed) * time.Millisecond, nil
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(typed))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return parsed, nil
	default:
		return 0, typeError(key, "a duration", value)
	}
}

func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		lowered := strings.ToLower(part)
		parts[i] = strings.ReplaceAll(lowered, "_", "-")
	}
	return strings.Join(parts, ".")
}

func typeError(key, want string, value any) error {
	return fmt.Errorf("%s: expected %s, got %T", key, want, value)
}

func flattenMap(prefix string, raw map[string]any, out map[string]any) {
	for key, value := range raw {
		flattenValue(joinKey(prefix, key), value, out)
	}
}

func flattenValue(key string, value any, out map[string]any) {
	switch typed := value.(type) {
	case map[string]any:
		flattenMap(key, typed, out)
	default:
		out[key] = value
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
