package signaling

import (
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestEncode_WireShape(t *testing.T) {
	idx := uint16(0)
	mid := "0"
	tests := []struct {
		name string
		msg  Message
		want []string
	}{
		{
			name: "offer",
			msg:  NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}),
			want: []string{`"type":"offer"`, `"offer":{"type":"offer","sdp":"v=0"}`},
		},
		{
			name: "answer",
			msg:  NewAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}),
			want: []string{`"type":"answer"`, `"answer":{"type":"answer","sdp":"v=0"}`},
		},
		{
			name: "candidate",
			msg:  NewCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1", SDPMid: &mid, SDPMLineIndex: &idx}),
			want: []string{`"type":"ice-candidate"`, `"candidate":"candidate:1"`, `"sdpMid":"0"`, `"sdpMLineIndex":0`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(string(data), w) {
					t.Errorf("%s missing %s", data, w)
				}
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr error
		check   func(t *testing.T, m Message)
	}{
		{
			name: "offer",
			in:   `{"type":"offer","offer":{"type":"offer","sdp":"v=0"}}`,
			check: func(t *testing.T, m Message) {
				if m.Offer.Type != webrtc.SDPTypeOffer || m.Offer.SDP != "v=0" {
					t.Errorf("offer = %+v", m.Offer)
				}
			},
		},
		{
			name: "answer without inner type",
			in:   `{"type":"answer","answer":{"sdp":"v=0"}}`,
			check: func(t *testing.T, m Message) {
				if m.Answer.Type != webrtc.SDPTypeAnswer {
					t.Errorf("answer type = %s", m.Answer.Type)
				}
			},
		},
		{
			name: "candidate",
			in:   `{"type":"ice-candidate","candidate":{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}}`,
			check: func(t *testing.T, m Message) {
				if m.Candidate.Candidate != "candidate:1" || *m.Candidate.SDPMid != "0" {
					t.Errorf("candidate = %+v", m.Candidate)
				}
			},
		},
		{name: "unknown type", in: `{"type":"bye"}`, wantErr: ErrUnknownType},
		{name: "missing offer", in: `{"type":"offer"}`, wantErr: ErrMissingPayload},
		{name: "empty sdp", in: `{"type":"answer","answer":{"type":"answer","sdp":""}}`, wantErr: ErrMissingPayload},
		{name: "mismatched sdp type", in: `{"type":"offer","offer":{"type":"answer","sdp":"v=0"}}`, wantErr: ErrMissingPayload},
		{name: "missing candidate", in: `{"type":"ice-candidate"}`, wantErr: ErrMissingPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.in))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			tt.check(t, m)
		})
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatal("expected error")
	}
}

func TestEncode_RejectsEmptyPayload(t *testing.T) {
	if _, err := Encode(Message{Type: MsgTypeCandidate}); !errors.Is(err, ErrMissingPayload) {
		t.Fatalf("err = %v", err)
	}
}
