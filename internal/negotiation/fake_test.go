package negotiation

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface check.
var _ PeerConnection = (*fakePeer)(nil)

// fakePeer records every call the engine makes and lets tests fire the
// callbacks pion would normally invoke.
type fakePeer struct {
	mu sync.Mutex

	tracks     []webrtc.TrackLocal
	receivers  []webrtc.RTPCodecType
	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool

	failRemote    error
	failCandidate error

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(RemoteTrack)
	onState     func(webrtc.PeerConnectionState)
}

func (p *fakePeer) AddTrack(t webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
	return nil
}

func (p *fakePeer) AddReceiver(kind webrtc.RTPCodecType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receivers = append(p.receivers, kind)
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = append(p.local, sdp)
	return nil
}

func (p *fakePeer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRemote != nil {
		return p.failRemote
	}
	p.remote = append(p.remote, sdp)
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCandidate != nil {
		return p.failCandidate
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit))          { p.onCandidate = fn }
func (p *fakePeer) OnTrack(fn func(RemoteTrack))                             { p.onTrack = fn }
func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { p.onState = fn }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) appliedCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

// fakeFactory hands out fakePeers and remembers them in creation order.
type fakeFactory struct {
	mu      sync.Mutex
	peers   []*fakePeer
	fail    error
	prepare func(*fakePeer)
}

func (f *fakeFactory) NewPeerConnection([]webrtc.ICEServer) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	p := &fakePeer{}
	if f.prepare != nil {
		f.prepare(p)
	}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

func (f *fakeFactory) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.peers {
		if !p.isClosed() {
			n++
		}
	}
	return n
}

// fakeRemoteTrack satisfies RemoteTrack.
type fakeRemoteTrack struct {
	id, stream string
	kind       webrtc.RTPCodecType
}

func (t fakeRemoteTrack) ID() string                { return t.id }
func (t fakeRemoteTrack) StreamID() string          { return t.stream }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

// trackList is a TrackSource over fixed tracks.
type trackList []webrtc.TrackLocal

func (l trackList) LocalTracks() []webrtc.TrackLocal { return l }

func newLocalTracks(kinds ...webrtc.RTPCodecType) trackList {
	var out trackList
	for i, kind := range kinds {
		mime := webrtc.MimeTypeVP8
		if kind == webrtc.RTPCodecTypeAudio {
			mime = webrtc.MimeTypeOpus
		}
		t, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, kind.String()+string(rune('0'+i)), "local")
		if err != nil {
			panic(err)
		}
		out = append(out, t)
	}
	return out
}

var errBoom = errors.New("boom")
