package negotiation

import "github.com/pion/webrtc/v4"

// PeerConnection is the handle the Engine drives. transport.Peer implements
// it over pion; tests substitute fakes.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	// AddReceiver adds a receive-only transceiver of the given kind.
	AddReceiver(kind webrtc.RTPCodecType) error

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// OnICECandidate is invoked for every gathered local candidate; the end
	// of gathering is not reported.
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(RemoteTrack))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))

	Close() error
}

// Factory creates fresh PeerConnections.
type Factory interface {
	NewPeerConnection(iceServers []webrtc.ICEServer) (PeerConnection, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(iceServers []webrtc.ICEServer) (PeerConnection, error)

func (f FactoryFunc) NewPeerConnection(iceServers []webrtc.ICEServer) (PeerConnection, error) {
	return f(iceServers)
}

// RemoteTrack is the subset of *webrtc.TrackRemote the engine needs.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// TrackSource supplies the local tracks bound to a connection.
type TrackSource interface {
	LocalTracks() []webrtc.TrackLocal
}
