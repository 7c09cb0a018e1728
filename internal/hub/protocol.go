package hub

import (
	"encoding/json"

	"worldbridge/internal/event"

	jsoniter "github.com/json-iterator/go"
)

// Envelope names used on the visualization socket.
const (
	EventClientReady     = "client:ready"
	EventHeartbeat       = "heartbeat"
	EventHeartbeatAck    = "heartbeat:ack"
	EventTerminalCapture = "terminal:capture"
	EventClaude          = "claude:event"
	EventRegistryUpdate  = "registry:update"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is a named visualization message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type clientReady struct {
	Version string `json:"version,omitempty"`
}

type captureRequest struct {
	Lines int `json:"lines,omitempty"`
}

type captureReply struct {
	Content string `json:"content,omitempty"`
	Lines   int    `json:"lines,omitempty"`
	Session string `json:"session,omitempty"`
	Error   string `json:"error,omitempty"`
}

type heartbeatAck struct {
	Timestamp int64 `json:"timestamp"`
}

// Frame is one broadcast, serialized once for each transport.
type Frame struct {
	Kind event.Type
	Seq  uint64
	// Raw is the event JSON sent to automation clients.
	Raw []byte
	// Envelopes are sent in order to visualization clients.
	Envelopes [][]byte
}

func (f Frame) Type() string {
	return string(f.Kind)
}

func encodeEnvelope(name string, data any) ([]byte, error) {
	var raw json.RawMessage
	switch value := data.(type) {
	case nil:
	case []byte:
		raw = value
	case json.RawMessage:
		raw = value
	default:
		encoded, err := codec.Marshal(value)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return codec.Marshal(Envelope{Event: name, Data: raw})
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var envelope Envelope
	err := codec.Unmarshal(data, &envelope)
	return envelope, err
}

// buildFrame serializes ev for both pools. registry_update events carry a
// second visualization envelope with the payload as sent.
func buildFrame(ev event.Event, seq uint64) (Frame, error) {
	raw, err := event.Encode(ev)
	if err != nil {
		return Frame{}, err
	}
	claude, err := encodeEnvelope(EventClaude, raw)
	if err != nil {
		return Frame{}, err
	}
	frame := Frame{Kind: ev.Kind, Seq: seq, Raw: raw, Envelopes: [][]byte{claude}}
	if ev.Kind == event.TypeRegistryUpdate && ev.Payload != nil {
		data, err := ev.PayloadJSON()
		if err != nil {
			return Frame{}, err
		}
		update, err := encodeEnvelope(EventRegistryUpdate, data)
		if err != nil {
			return Frame{}, err
		}
		frame.Envelopes = append(frame.Envelopes, update)
	}
	return frame, nil
}
