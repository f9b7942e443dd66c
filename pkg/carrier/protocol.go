// Package carrier speaks the telephony carrier's media-streaming protocol:
// a bidirectional websocket opened per call, JSON control messages, and
// base64 audio frames in ~20ms units.
package carrier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/frontdesk-ai/frontdesk/pkg/audio"
)

// DecodeError reports a frame the bridge could not interpret.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// Connected is the carrier's first message after the websocket opens.
type Connected struct {
	Event    string `json:"event"`
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`
}

// StartInfo carries per-call metadata on the start message.
type StartInfo struct {
	CallID   string       `json:"call_id"`
	StreamID string       `json:"stream_id"`
	Caller   string       `json:"caller"`
	Callee   string       `json:"callee,omitempty"`
	Format   audio.Format `json:"format"`
}

// Start signals the beginning of the media stream for one call.
type Start struct {
	Event string    `json:"event"`
	Start StartInfo `json:"start"`
}

// MediaPayload is one encoded audio frame.
type MediaPayload struct {
	Seq         int64  `json:"seq,omitempty"`
	TimestampMS int64  `json:"timestamp_ms,omitempty"`
	PayloadB64  string `json:"payload_b64"`
}

// Media carries audio in either direction.
type Media struct {
	Event string       `json:"event"`
	Media MediaPayload `json:"media"`
}

// MarkInfo names a playback marker.
type MarkInfo struct {
	Name string `json:"name"`
}

// Mark is echoed back by the carrier once all audio queued before the mark
// has been played to the caller. The bridge uses it to know how much of an
// utterance was actually heard.
type Mark struct {
	Event string   `json:"event"`
	Mark  MarkInfo `json:"mark"`
}

// Stop signals carrier-side call termination. There is no reconnect path:
// when the carrier hangs up, the call is physically over.
type Stop struct {
	Event  string `json:"event"`
	Reason string `json:"reason,omitempty"`
}

// Clear instructs the carrier to truncate any outbound audio already
// buffered downstream. Sent on barge-in.
type Clear struct {
	Event string `json:"event"`
}

// TransferInfo names the human-fallback destination.
type TransferInfo struct {
	Target string `json:"target"`
}

// Transfer asks the carrier to connect the caller to a configured human
// destination.
type Transfer struct {
	Event    string       `json:"event"`
	Transfer TransferInfo `json:"transfer"`
}

// Decode parses one inbound carrier frame into its typed message.
func Decode(data []byte) (any, error) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return nil, badFrame("missing event", "event")
	}

	switch event {
	case "connected":
		var msg Connected
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid connected frame", "")
		}
		return msg, nil
	case "start":
		var msg Start
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid start frame", "")
		}
		if strings.TrimSpace(msg.Start.CallID) == "" {
			return nil, badFrame("start.call_id is required", "start.call_id")
		}
		if strings.TrimSpace(msg.Start.Caller) == "" {
			return nil, badFrame("start.caller is required", "start.caller")
		}
		if !msg.Start.Format.Valid() {
			return nil, badFrame("start.format is not usable", "start.format")
		}
		return msg, nil
	case "media":
		var msg Media
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid media frame", "")
		}
		if strings.TrimSpace(msg.Media.PayloadB64) == "" {
			return nil, badFrame("media.payload_b64 is required", "media.payload_b64")
		}
		return msg, nil
	case "mark":
		var msg Mark
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid mark frame", "")
		}
		if strings.TrimSpace(msg.Mark.Name) == "" {
			return nil, badFrame("mark.name is required", "mark.name")
		}
		return msg, nil
	case "stop":
		var msg Stop
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid stop frame", "")
		}
		return msg, nil
	default:
		return nil, badFrame("unsupported event", "event")
	}
}

// EncodeMedia builds an outbound media frame.
func EncodeMedia(payloadB64 string) ([]byte, error) {
	return json.Marshal(Media{Event: "media", Media: MediaPayload{PayloadB64: payloadB64}})
}

// EncodeClear builds the flush control frame.
func EncodeClear() ([]byte, error) {
	return json.Marshal(Clear{Event: "clear"})
}

// EncodeMark builds an outbound playback marker.
func EncodeMark(name string) ([]byte, error) {
	return json.Marshal(Mark{Event: "mark", Mark: MarkInfo{Name: name}})
}

// EncodeTransfer builds the human-fallback transfer request.
func EncodeTransfer(target string) ([]byte, error) {
	return json.Marshal(Transfer{Event: "transfer", Transfer: TransferInfo{Target: target}})
}
