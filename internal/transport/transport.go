// Package transport adapts pion's PeerConnection to the handle the
// negotiation engine drives.
package transport

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/negotiation"
)

// Peer wraps a single pion PeerConnection.
//
// Its lifecycle ends with Close; the PeerConnection state is recorded for
// diagnostics but does not drive close decisions.
type Peer struct {
	pc *webrtc.PeerConnection

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	onState func(webrtc.PeerConnectionState)
}

var _ negotiation.PeerConnection = (*Peer)(nil)

func newPeer(pc *webrtc.PeerConnection) *Peer {
	p := &Peer{pc: pc, pcState: webrtc.PeerConnectionStateNew}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.mu.Lock()
		p.pcState = state
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(state)
		}
	})
	return p
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close shuts down the PeerConnection.
func (p *Peer) Close() error {
	return p.pc.Close()
}

// connectionState returns the last observed PeerConnection state.
func (p *Peer) connectionState() webrtc.PeerConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pcState
}

// OnConnectionStateChange registers the callback for state changes.
func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddTrack attaches a local track. The RTCP of its sender is drained so the
// interceptors keep running.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// AddReceiver adds a recvonly transceiver so the SDP carries an m-line for
// kind even without a local track.
func (p *Peer) AddReceiver(kind webrtc.RTPCodecType) error {
	_, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

// OnTrack registers a callback invoked for every remote track.
func (p *Peer) OnTrack(fn func(negotiation.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. The nil end-of-gathering marker is swallowed.
func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}
