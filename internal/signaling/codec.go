package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrUnknownType is returned for messages whose type is not one of the
	// three signaling kinds.
	ErrUnknownType = errors.New("unknown signaling message type")
	// ErrMissingPayload is returned when the payload matching the type is absent.
	ErrMissingPayload = errors.New("signaling message payload missing")
)

// Encode validates m and serializes it for the relay.
func Encode(m Message) ([]byte, error) {
	if err := validate(&m); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses one relayed message. A description without an explicit
// "type" takes the type implied by the message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("malformed signaling message: %w", err)
	}
	if err := validate(&m); err != nil {
		return Message{}, err
	}
	return m, nil
}

func validate(m *Message) error {
	switch m.Type {
	case MsgTypeOffer:
		return checkDescription(m.Offer, webrtc.SDPTypeOffer)
	case MsgTypeAnswer:
		return checkDescription(m.Answer, webrtc.SDPTypeAnswer)
	case MsgTypeCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("%w: %s", ErrMissingPayload, m.Type)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

func checkDescription(sdp *webrtc.SessionDescription, want webrtc.SDPType) error {
	if sdp == nil || sdp.SDP == "" {
		return fmt.Errorf("%w: %s", ErrMissingPayload, want)
	}
	if sdp.Type == webrtc.SDPTypeUnknown {
		sdp.Type = want
	}
	if sdp.Type != want {
		return fmt.Errorf("%w: %s payload carries %s", ErrMissingPayload, want, sdp.Type)
	}
	return nil
}
