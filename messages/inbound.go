package messages

import (
	"github.com/bytedance/sonic"
)

// Kind tags an Inbound message
type Kind int

const (
	// KindAudio is a binary frame of PCM16 audio to play.
	KindAudio Kind = iota
	// KindControl is a text frame that decoded to a JSON object.
	KindControl
	// KindUnparsed is a text frame that is not a JSON object.
	KindUnparsed
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindControl:
		return "control"
	case KindUnparsed:
		return "unparsed"
	default:
		return "unknown"
	}
}

// Control is the structured content of a text frame. Either field may be
// absent; presence is what matters, so both are pointers.
type Control struct {
	Text  *string `json:"text,omitempty"`
	Error *string `json:"error,omitempty"`
}

// Decoded is the tagged result of decoding a text payload: exactly one of
// Parsed or PlainText carries the payload.
type Decoded struct {
	Parsed    *Control
	PlainText string
}

// DecodeText tries to read raw as a JSON object. Anything else (invalid
// JSON, arrays, strings, numbers, null) comes back as PlainText.
func DecodeText(raw string) Decoded {
	var obj map[string]any
	if err := sonic.UnmarshalString(raw, &obj); err != nil || obj == nil {
		return Decoded{PlainText: raw}
	}

	ctrl := &Control{}
	if v, ok := obj["text"]; ok {
		s := stringify(v)
		ctrl.Text = &s
	}
	if v, ok := obj["error"]; ok {
		s := stringify(v)
		ctrl.Error = &s
	}
	return Decoded{Parsed: ctrl}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	out, err := sonic.MarshalString(v)
	if err != nil {
		return ""
	}
	return out
}

// Inbound is one classified message from the server.
type Inbound struct {
	Kind    Kind
	Audio   []byte   // KindAudio
	Control *Control // KindControl
	Raw     string   // text payload, KindControl and KindUnparsed
}

// ClassifyBinary wraps a binary frame as audio, bytes untouched
func ClassifyBinary(data []byte) Inbound {
	return Inbound{Kind: KindAudio, Audio: data}
}

// ClassifyText decodes a text frame
func ClassifyText(data []byte) Inbound {
	raw := string(data)
	decoded := DecodeText(raw)
	if decoded.Parsed == nil {
		return Inbound{Kind: KindUnparsed, Raw: raw}
	}
	return Inbound{Kind: KindControl, Control: decoded.Parsed, Raw: raw}
}

// Utterance returns the agent text carried by a control message
func (m Inbound) Utterance() (string, bool) {
	if m.Kind != KindControl || m.Control.Text == nil {
		return "", false
	}
	return *m.Control.Text, true
}

// ServerError returns the error text carried by a control message that has
// no utterance. A message with both keys is an utterance.
func (m Inbound) ServerError() (string, bool) {
	if m.Kind != KindControl || m.Control.Text != nil || m.Control.Error == nil {
		return "", false
	}
	return *m.Control.Error, true
}
