package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Role is the side of the pairing a connection registered as.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

func (r Role) valid() bool { return r == RoleSender || r == RoleReceiver }

type MessageType string

const (
	MessageTypeRegistered      MessageType = "registered"
	MessageTypeSenderAvailable MessageType = "sender_available"
	MessageTypeRequestOffer    MessageType = "request_offer"
	MessageTypeOffer           MessageType = "offer"
	MessageTypeAnswer          MessageType = "answer"
	MessageTypeSenderExit      MessageType = "sender_exit"

	// messageTypeSenderLegacy is the older spelling of sender_available.
	messageTypeSenderLegacy MessageType = "sender"
)

// SessionDescription is an SDP blob as carried on the wire. The relay never
// inspects SDP text.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SessionDescriptionFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
}

func (d SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(d.Type)
	if t == webrtc.SDPTypeUnknown || t == webrtc.SDPTypeRollback {
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

// Message is the decoded form of every control message. Which fields are set
// depends on Type.
type Message struct {
	Type       MessageType         `json:"type"`
	SenderID   string              `json:"sender_id,omitempty"`
	ReceiverID string              `json:"receiver_id,omitempty"`
	Offer      *SessionDescription `json:"offer,omitempty"`
	Answer     *SessionDescription `json:"answer,omitempty"`
}

func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// RegisteredMessage tells a peer the id the relay assigned to it.
func RegisteredMessage(role Role, id string) Message {
	if role == RoleSender {
		return Message{Type: MessageTypeRegistered, SenderID: id}
	}
	return Message{Type: MessageTypeRegistered, ReceiverID: id}
}

func SenderAvailableMessage(senderID string) Message {
	return Message{Type: MessageTypeSenderAvailable, SenderID: senderID}
}

func SenderExitMessage(senderID string) Message {
	return Message{Type: MessageTypeSenderExit, SenderID: senderID}
}

type wireMessage struct {
	Type       MessageType     `json:"type"`
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id"`
	Offer      json.RawMessage `json:"offer"`
	Answer     json.RawMessage `json:"answer"`
	SDP        json.RawMessage `json:"sdp"`
}

// ParseMessage decodes and validates a control message.
//
// Unknown fields are ignored. Answers are accepted as answer:{type,sdp},
// sdp:{type,sdp}, or a bare sdp string next to type "answer"; all three
// decode into Message.Answer. The legacy "sender" type decodes as
// sender_available.
//
// Errors wrap ErrMalformedMessage or ErrUnknownMessageType. For the latter the
// returned Message still carries Type.
func ParseMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if w.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	msg := Message{Type: w.Type, SenderID: w.SenderID, ReceiverID: w.ReceiverID}
	var err error
	switch w.Type {
	case MessageTypeRegistered:
		if (msg.SenderID == "") == (msg.ReceiverID == "") {
			return Message{}, fmt.Errorf("%w: registered needs exactly one of sender_id, receiver_id", ErrMalformedMessage)
		}
	case MessageTypeSenderAvailable, messageTypeSenderLegacy, MessageTypeSenderExit:
		msg.Type = canonicalType(w.Type)
		if msg.SenderID == "" {
			return Message{}, fmt.Errorf("%w: %s missing sender_id", ErrMalformedMessage, msg.Type)
		}
	case MessageTypeRequestOffer:
		err = requireIDs(msg)
	case MessageTypeOffer:
		if err = requireIDs(msg); err != nil {
			break
		}
		msg.Offer, err = decodeDescription(w.Offer, "offer", webrtc.SDPTypeOffer)
	case MessageTypeAnswer:
		if err = requireIDs(msg); err != nil {
			break
		}
		msg.Answer, err = decodeAnswer(w)
	default:
		return Message{Type: w.Type}, fmt.Errorf("%w %q", ErrUnknownMessageType, w.Type)
	}
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func canonicalType(t MessageType) MessageType {
	if t == messageTypeSenderLegacy {
		return MessageTypeSenderAvailable
	}
	return t
}

func requireIDs(m Message) error {
	switch {
	case m.SenderID == "" && m.ReceiverID == "":
		return fmt.Errorf("%w: %s missing sender_id and receiver_id", ErrMalformedMessage, m.Type)
	case m.SenderID == "":
		return fmt.Errorf("%w: %s missing sender_id", ErrMalformedMessage, m.Type)
	case m.ReceiverID == "":
		return fmt.Errorf("%w: %s missing receiver_id", ErrMalformedMessage, m.Type)
	}
	return nil
}

func decodeAnswer(w wireMessage) (*SessionDescription, error) {
	if len(w.Answer) > 0 && string(w.Answer) != "null" {
		return decodeDescription(w.Answer, "answer", webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer)
	}
	if len(w.SDP) > 0 && w.SDP[0] == '"' {
		var text string
		if err := json.Unmarshal(w.SDP, &text); err != nil {
			return nil, fmt.Errorf("%w: sdp: %v", ErrMalformedMessage, err)
		}
		if text == "" {
			return nil, fmt.Errorf("%w: answer has empty sdp", ErrMalformedMessage)
		}
		return &SessionDescription{Type: string(MessageTypeAnswer), SDP: text}, nil
	}
	return decodeDescription(w.SDP, "answer", webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer)
}

func decodeDescription(raw json.RawMessage, field string, allowed ...webrtc.SDPType) (*SessionDescription, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: %s missing session description", ErrMalformedMessage, field)
	}
	var desc SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, field, err)
	}
	if desc.SDP == "" {
		return nil, fmt.Errorf("%w: %s has empty sdp", ErrMalformedMessage, field)
	}
	t := webrtc.NewSDPType(desc.Type)
	for _, a := range allowed {
		if t == a {
			return &desc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has sdp type %q", ErrMalformedMessage, field, desc.Type)
}
