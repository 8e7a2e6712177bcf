package signaling

import "time"

// MessageKind classifies an inbound message.
type MessageKind int

const (
	// MessageUnknown is a frame of a type the client does not understand.
	MessageUnknown MessageKind = iota

	// MessageText is a UTF-8 text frame.
	MessageText

	// MessageBinary is a binary frame.
	MessageBinary
)

// String returns the string representation of a MessageKind.
func (k MessageKind) String() string {
	switch k {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// InboundMessage is one classified frame received from the signaling
// server. Only the field matching Kind is set. Subscribers share Data with
// every other subscriber and must not modify it.
type InboundMessage struct {
	Kind      MessageKind
	Text      string
	Data      []byte
	Timestamp time.Time
}

// classify turns a raw frame into an InboundMessage captured at t.
func classify(f Frame, t time.Time) InboundMessage {
	msg := InboundMessage{Timestamp: t}

	switch f.Kind {
	case FrameText:
		msg.Kind = MessageText
		msg.Text = string(f.Data)
	case FrameBinary:
		msg.Kind = MessageBinary
		msg.Data = f.Data
	default:
		msg.Kind = MessageUnknown
	}

	return msg
}
