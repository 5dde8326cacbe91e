// Package signaling carries offers, answers and ICE candidates between the
// two participants of a room through a relay.
package signaling

import "github.com/pion/webrtc/v4"

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "ice-candidate"
)

// Message is the JSON object relayed between peers. Exactly one payload
// field is set, matching Type.
type Message struct {
	Type      MessageType                `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// NewOffer wraps a local offer.
func NewOffer(sdp webrtc.SessionDescription) Message {
	return Message{Type: MsgTypeOffer, Offer: &sdp}
}

// NewAnswer wraps a local answer.
func NewAnswer(sdp webrtc.SessionDescription) Message {
	return Message{Type: MsgTypeAnswer, Answer: &sdp}
}

// NewCandidate wraps a local ICE candidate.
func NewCandidate(c webrtc.ICECandidateInit) Message {
	return Message{Type: MsgTypeCandidate, Candidate: &c}
}
