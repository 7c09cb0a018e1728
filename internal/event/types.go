package event

import (
	"encoding/json"
	"time"
)

// Type names an event kind on the wire.
type Type string

const (
	TypeToolUse        Type = "tool_use"
	TypeSkillStart     Type = "skill_start"
	TypeSkillEnd       Type = "skill_end"
	TypeCommit         Type = "commit"
	TypeError          Type = "error"
	TypeTaskStart      Type = "task_start"
	TypeTaskEnd        Type = "task_end"
	TypeTaskComplete   Type = "task_complete"
	TypeXPGain         Type = "xp_gain"
	TypeLevelUp        Type = "level_up"
	TypeThinking       Type = "thinking"
	TypeChatResponse   Type = "chat_response"
	TypePrompt         Type = "prompt"
	TypeRegistryUpdate Type = "registry_update"
	TypeTerminalOutput Type = "claude_output"
	TypeConnected      Type = "connected"
	TypeHeartbeatAck   Type = "heartbeat_ack"
)

var knownTypes = map[Type]struct{}{
	TypeToolUse: {}, TypeSkillStart: {}, TypeSkillEnd: {}, TypeCommit: {}, TypeError: {},
	TypeTaskStart: {}, TypeTaskEnd: {}, TypeTaskComplete: {}, TypeXPGain: {}, TypeLevelUp: {},
	TypeThinking: {}, TypeChatResponse: {}, TypePrompt: {}, TypeRegistryUpdate: {},
	TypeTerminalOutput: {}, TypeConnected: {}, TypeHeartbeatAck: {},
}

// Known reports whether t is one of the kinds the bridge understands.
// Unknown kinds are still relayed.
func Known(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

// Payload is the tagged-union member carried by an Event. The concrete
// types below cover kinds the bridge produces or inspects; Generic holds
// everything else.
type Payload interface {
	payloadKind() Type
}

type ToolUse struct {
	Tool     string `json:"tool"`
	Duration *int64 `json:"duration,omitempty"`
	XP       *int64 `json:"xp,omitempty"`
}

type Skill struct {
	Skill    string `json:"skill"`
	Duration *int64 `json:"duration,omitempty"`
	XP       *int64 `json:"xp,omitempty"`
}

type Prompt struct {
	Prompt  string `json:"prompt"`
	Session string `json:"session"`
}

type TerminalOutput struct {
	Response string `json:"response"`
	Source   string `json:"source,omitempty"`
}

// Descriptor describes a registered tool or skill.
type Descriptor struct {
	Name  string `json:"name" yaml:"name"`
	Icon  string `json:"icon,omitempty" yaml:"icon"`
	Color string `json:"color,omitempty" yaml:"color"`
}

type RegistryUpdate struct {
	Tools  []Descriptor `json:"tools"`
	Skills []Descriptor `json:"skills"`
}

type Connected struct {
	Message string `json:"message,omitempty"`
	Version string `json:"version,omitempty"`
}

type HeartbeatAck struct {
	ServerTime int64 `json:"timestamp"`
}

// Generic is the catch-all payload: an opaque key-value map relayed untouched.
type Generic map[string]any

// Opaque holds a payload that is valid JSON but not an object.
type Opaque json.RawMessage

func (o Opaque) MarshalJSON() ([]byte, error) {
	if len(o) == 0 {
		return []byte("null"), nil
	}
	return []byte(o), nil
}

func (ToolUse) payloadKind() Type { return TypeToolUse }
func (Skill) payloadKind() Type { return TypeSkillStart }
func (Prompt) payloadKind() Type { return TypePrompt }
func (TerminalOutput) payloadKind() Type { return TypeTerminalOutput }
func (RegistryUpdate) payloadKind() Type { return TypeRegistryUpdate }
func (Connected) payloadKind() Type { return TypeConnected }
func (HeartbeatAck) payloadKind() Type { return TypeHeartbeatAck }
func (Generic) payloadKind() Type { return "" }
func (Opaque) payloadKind() Type { return "" }

// Event is the unit of fan-out. At is Unix milliseconds; zero means the
// producer did not set one and the hub stamps it at broadcast time.
//
// Decoded events also keep the producer's payload and timestamp bytes and
// encode those verbatim. Payload is then only a read-only view of them.
type Event struct {
	Kind    Type
	Payload Payload
	At      int64
	// Extra keeps unrecognised top-level fields so they survive relay.
	Extra map[string]json.RawMessage

	payload json.RawMessage
	stamp   json.RawMessage
}

func (e Event) Type() string {
	return string(e.Kind)
}

func (e Event) Timestamp() time.Time {
	if e.At == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.At).UTC()
}

// HasTimestamp reports whether the producer or a previous stamp set one.
// A timestamp sent in a form the bridge cannot parse still counts.
func (e Event) HasTimestamp() bool {
	return e.At != 0 || e.stamp != nil
}

// Stamped returns a copy carrying now when the event has no timestamp.
func (e Event) Stamped(now time.Time) Event {
	if e.HasTimestamp() {
		return e
	}
	e.At = now.UnixMilli()
	return e
}

func NewPromptEvent(prompt, session string) Event {
	return Event{Kind: TypePrompt, Payload: Prompt{Prompt: prompt, Session: session}}
}

func NewTerminalOutputEvent(text string) Event {
	return Event{Kind: TypeTerminalOutput, Payload: TerminalOutput{Response: text, Source: "terminal"}}
}

func NewRegistryUpdateEvent(tools, skills []Descriptor) Event {
	if tools == nil {
		tools = []Descriptor{}
	}
	if skills == nil {
		skills = []Descriptor{}
	}
	return Event{Kind: TypeRegistryUpdate, Payload: RegistryUpdate{Tools: tools, Skills: skills}}
}

func NewConnectedEvent(version string, now time.Time) Event {
	return Event{
		Kind:    TypeConnected,
		Payload: Connected{Message: "bridge connected", Version: version},
		At:      now.UnixMilli(),
	}
}

func NewHeartbeatAckEvent(now time.Time) Event {
	return Event{
		Kind:    TypeHeartbeatAck,
		Payload: HeartbeatAck{ServerTime: now.UnixMilli()},
		At:      now.UnixMilli(),
	}
}
