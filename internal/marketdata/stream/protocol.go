package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"signalbot/internal/model"
)

// Stream prefixes and control streams of the minute-aggregate protocol.
const (
	MinuteAggPrefix     = "AM."
	streamAuthorization = "authorization"
	streamListening     = "listening"
)

// ErrUnauthorized is returned when the server rejects the credentials.
var ErrUnauthorized = errors.New("stream: unauthorized")

// ClientMessage is a message sent by the client.
type ClientMessage struct {
	Action string      `json:"action"` // "authenticate" or "listen"
	Data   interface{} `json:"data"`
}

// AuthData is the payload of an authenticate action.
type AuthData struct {
	KeyID     string `json:"key_id"`
	SecretKey string `json:"secret_key"`
}

// ListenData is the payload of a listen action.
type ListenData struct {
	Streams []string `json:"streams"`
}

// ServerMessage is a message sent by the server.
type ServerMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// MinuteAgg is the data of an AM.<SYM> message. Only t and c are consumed.
type MinuteAgg struct {
	T int64   `json:"t"` // bar time, epoch ms
	C float64 `json:"c"` // close
	O float64 `json:"o,omitempty"`
	H float64 `json:"h,omitempty"`
	L float64 `json:"l,omitempty"`
	V float64 `json:"v,omitempty"`
}

type controlData struct {
	Status  string   `json:"status"`
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// AuthenticateMessage builds the authenticate action.
func AuthenticateMessage(keyID, secret string) ClientMessage {
	return ClientMessage{Action: "authenticate", Data: AuthData{KeyID: keyID, SecretKey: secret}}
}

// ListenMessage builds the listen action for minute aggregates of symbols.
func ListenMessage(symbols []string) ClientMessage {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = MinuteAggPrefix + strings.ToUpper(s)
	}
	return ClientMessage{Action: "listen", Data: ListenData{Streams: streams}}
}

// Control is a parsed non-bar message.
type Control struct {
	Stream  string
	Status  string
	Streams []string
}

// ParseMessage decodes one frame. A frame may hold a single message or an
// array of them. Bars are returned as events; control messages separately.
func ParseMessage(raw []byte) ([]model.BarEvent, []Control, error) {
	raw = bytes.TrimSpace(raw)
	var msgs []ServerMessage
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, nil, fmt.Errorf("stream: decode: %w", err)
		}
	} else {
		var m ServerMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, nil, fmt.Errorf("stream: decode: %w", err)
		}
		msgs = []ServerMessage{m}
	}

	var events []model.BarEvent
	var controls []Control
	for _, m := range msgs {
		if strings.HasPrefix(m.Stream, MinuteAggPrefix) {
			var agg MinuteAgg
			if err := json.Unmarshal(m.Data, &agg); err != nil {
				return events, controls, fmt.Errorf("stream: decode %s: %w", m.Stream, err)
			}
			if agg.T == 0 {
				return events, controls, fmt.Errorf("stream: %s: missing bar time", m.Stream)
			}
			events = append(events, model.BarEvent{
				Symbol: strings.TrimPrefix(m.Stream, MinuteAggPrefix),
				Bar:    model.BarFromMillis(agg.T, agg.C),
			})
			continue
		}

		var cd controlData
		if len(m.Data) > 0 {
			_ = json.Unmarshal(m.Data, &cd)
		}
		controls = append(controls, Control{Stream: m.Stream, Status: cd.Status, Streams: cd.Streams})
	}
	return events, controls, nil
}
