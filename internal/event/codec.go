package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var (
	codec  = jsoniter.ConfigCompatibleWithStandardLibrary
	strict = jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
		DisallowUnknownFields:  true,
	}.Froze()
	loose = jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
		UseNumber:              true,
	}.Froze()
)

var ErrMissingType = errors.New("event type is required")

const (
	fieldType      = "type"
	fieldPayload   = "payload"
	fieldTimestamp = "timestamp"
)

// Decode parses one event object. Unknown top-level fields are kept in
// Extra; payloads that do not fit a typed variant exactly become Generic.
// The payload and any non-empty timestamp are re-encoded exactly as sent.
func Decode(data []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := codec.Unmarshal(data, &fields); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	var kind string
	if raw, ok := fields[fieldType]; ok {
		if err := codec.Unmarshal(raw, &kind); err != nil {
			return Event{}, fmt.Errorf("decode event type: %w", err)
		}
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return Event{}, ErrMissingType
	}
	delete(fields, fieldType)

	ev := Event{Kind: Type(kind)}
	if raw, ok := fields[fieldTimestamp]; ok {
		if !absentTimestamp(raw) {
			ev.stamp = cloneRaw(raw)
			ev.At = decodeTimestamp(raw)
		}
		delete(fields, fieldTimestamp)
	}
	if raw, ok := fields[fieldPayload]; ok {
		payload, err := decodePayload(ev.Kind, raw)
		if err != nil {
			return Event{}, err
		}
		ev.Payload = payload
		ev.payload = cloneRaw(raw)
		delete(fields, fieldPayload)
	}
	if len(fields) > 0 {
		ev.Extra = fields
	}
	return ev, nil
}

// Encode serializes an event to its wire form.
func Encode(ev Event) ([]byte, error) {
	return codec.Marshal(ev)
}

func (e Event) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(e.Extra)+3)
	for key, value := range e.Extra {
		fields[key] = value
	}
	fields[fieldType] = string(e.Kind)
	switch {
	case e.payload != nil:
		fields[fieldPayload] = e.payload
	case e.Payload != nil:
		fields[fieldPayload] = e.Payload
	}
	switch {
	case e.stamp != nil:
		fields[fieldTimestamp] = e.stamp
	case e.At != 0:
		fields[fieldTimestamp] = e.At
	}
	return codec.Marshal(fields)
}

// PayloadJSON returns the payload as it is relayed: the producer's bytes for
// decoded events, the encoded typed payload otherwise. It is nil when the
// event has no payload.
func (e Event) PayloadJSON() (json.RawMessage, error) {
	if e.payload != nil {
		return e.payload, nil
	}
	if e.Payload == nil {
		return nil, nil
	}
	return codec.Marshal(e.Payload)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// absentTimestamp reports the values a producer uses for "not set": null,
// false, an empty string or zero.
func absentTimestamp(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "false", `""`:
		return true
	}
	if trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9') {
		value, err := strconv.ParseFloat(string(trimmed), 64)
		return err == nil && value == 0
	}
	return false
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), bytes.TrimSpace(raw)...)
}

// decodeTimestamp accepts Unix milliseconds or an RFC 3339 string. Anything
// else is treated as absent so the hub stamps it.
func decodeTimestamp(raw json.RawMessage) int64 {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0
	}
	if trimmed[0] == '"' {
		var text string
		if err := codec.Unmarshal(trimmed, &text); err != nil {
			return 0
		}
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(text))
		if err != nil {
			return 0
		}
		return parsed.UnixMilli()
	}
	var number json.Number
	if err := loose.Unmarshal(trimmed, &number); err != nil {
		return 0
	}
	if value, err := number.Int64(); err == nil && value > 0 {
		return value
	}
	if value, err := number.Float64(); err == nil && value > 0 {
		return int64(value)
	}
	return 0
}

func decodePayload(kind Type, raw json.RawMessage) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		if !codec.Valid(trimmed) {
			return nil, fmt.Errorf("decode event payload: invalid json")
		}
		return Opaque(append([]byte(nil), trimmed...)), nil
	}

	if typed, ok := decodeTyped(kind, trimmed); ok {
		return typed, nil
	}

	generic := Generic{}
	if err := loose.Unmarshal(trimmed, &generic); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	return generic, nil
}

func decodeTyped(kind Type, data []byte) (Payload, bool) {
	switch kind {
	case TypeToolUse:
		var payload ToolUse
		if strict.Unmarshal(data, &payload) != nil || strings.TrimSpace(payload.Tool) == "" {
			return nil, false
		}
		return payload, true
	case TypeSkillStart, TypeSkillEnd:
		var payload Skill
		if strict.Unmarshal(data, &payload) != nil || strings.TrimSpace(payload.Skill) == "" {
			return nil, false
		}
		return payload, true
	case TypePrompt:
		var payload Prompt
		if strict.Unmarshal(data, &payload) != nil || payload.Prompt == "" {
			return nil, false
		}
		return payload, true
	case TypeTerminalOutput:
		var payload TerminalOutput
		if strict.Unmarshal(data, &payload) != nil {
			return nil, false
		}
		return payload, true
	case TypeRegistryUpdate:
		var payload RegistryUpdate
		if strict.Unmarshal(data, &payload) != nil {
			return nil, false
		}
		return payload, true
	default:
		return nil, false
	}
}

// Describe returns a short human summary for logs.
func (e Event) Describe() string {
	switch payload := e.Payload.(type) {
	case ToolUse:
		return payload.Tool
	case Skill:
		return payload.Skill
	case Prompt:
		return truncate(payload.Prompt, 50)
	case TerminalOutput:
		return truncate(payload.Response, 30)
	case Generic:
		for _, key := range []string{"tool", "skill", "response", "message"} {
			if text, ok := payload[key].(string); ok && text != "" {
				return truncate(text, 30)
			}
		}
	}
	return ""
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
