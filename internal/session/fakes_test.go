package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/media"
	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/signaling"
)

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

type fakeTrack struct {
	*webrtc.TrackLocalStaticRTP
	closes atomic.Int32
}

func (t *fakeTrack) Close() error {
	t.closes.Add(1)
	return nil
}

func newFakeTrack(t *testing.T, kind string) *fakeTrack {
	t.Helper()
	mime := webrtc.MimeTypeVP8
	if kind == "audio" {
		mime = webrtc.MimeTypeOpus
	}
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, kind, "local")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticRTP: %v", err)
	}
	return &fakeTrack{TrackLocalStaticRTP: track}
}

// fakeProvider yields one video and one audio track per request. With
// ignoreCancel set it keeps waiting on gate after ctx ends, like a device
// prompt that cannot be withdrawn.
type fakeProvider struct {
	t *testing.T

	mu           sync.Mutex
	err          error
	gate         chan struct{}
	ignoreCancel bool
	calls        int
	tracks       []*fakeTrack
}

func (p *fakeProvider) Request(ctx context.Context, c media.Constraints) ([]media.Track, error) {
	p.mu.Lock()
	p.calls++
	gate, err, stubborn := p.gate, p.err, p.ignoreCancel
	p.mu.Unlock()

	if gate != nil && stubborn {
		<-gate
	} else if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	v, a := newFakeTrack(p.t, "video"), newFakeTrack(p.t, "audio")
	p.mu.Lock()
	p.tracks = append(p.tracks, v, a)
	p.mu.Unlock()
	return []media.Track{v, a}, nil
}

func (p *fakeProvider) delivered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracks)
}

func (p *fakeProvider) requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// allReleased reports whether every track handed out has been stopped.
func (p *fakeProvider) allReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tracks {
		if t.closes.Load() == 0 {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Peer connections
// ---------------------------------------------------------------------------

type fakePeer struct {
	name string

	mu         sync.Mutex
	tracks     int
	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool
	failRemote error

	offerEntered chan struct{}
	offerGate    chan struct{}

	failAnswer    error
	answerEntered chan struct{}
	answerGate    chan struct{}

	candidateEntered chan struct{}
	candidateGate    chan struct{}

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(negotiation.RemoteTrack)
	onState     func(webrtc.PeerConnectionState)
}

func (p *fakePeer) AddTrack(webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return nil
}

func (p *fakePeer) AddReceiver(webrtc.RTPCodecType) error { return nil }

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	if p.offerEntered != nil {
		p.offerEntered <- struct{}{}
	}
	if p.offerGate != nil {
		<-p.offerGate
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer " + p.name}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	if p.answerEntered != nil {
		p.answerEntered <- struct{}{}
	}
	if p.answerGate != nil {
		<-p.answerGate
	}
	if p.failAnswer != nil {
		return webrtc.SessionDescription{}, p.failAnswer
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer " + p.name}, nil
}

// SetLocalDescription starts "gathering": one candidate is emitted
// asynchronously, as pion does.
func (p *fakePeer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	p.mu.Lock()
	p.local = append(p.local, sdp)
	cb := p.onCandidate
	p.mu.Unlock()

	if cb != nil {
		go cb(webrtc.ICECandidateInit{Candidate: "candidate:" + p.name})
	}
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
	if p.candidateEntered != nil {
		p.candidateEntered <- struct{}{}
	}
	if p.candidateGate != nil {
		<-p.candidateGate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *fakePeer) OnTrack(fn func(negotiation.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

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

func (p *fakePeer) remoteCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

type fakeFactory struct {
	name    string
	prepare func(*fakePeer)

	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeerConnection([]webrtc.ICEServer) (negotiation.PeerConnection, error) {
	p := &fakePeer{name: f.name}
	if f.prepare != nil {
		f.prepare(p)
	}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeFactory) all() []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeer(nil), f.peers...)
}

func (f *fakeFactory) last() *fakePeer {
	peers := f.all()
	if len(peers) == 0 {
		return nil
	}
	return peers[len(peers)-1]
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// memHub is an in-memory relay: messages go through the wire codec and are
// delivered to every other open channel of the room.
type memHub struct {
	mu      sync.Mutex
	fail    error
	gate    chan struct{}
	opened  []*memChannel
}

func (h *memHub) Open(ctx context.Context, room string) (Channel, error) {
	h.mu.Lock()
	fail, gate := h.fail, h.gate
	h.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	return h.open(room), nil
}

func (h *memHub) open(room string) *memChannel {
	ch := &memChannel{
		hub:   h,
		room:  room,
		inbox: make(chan signaling.Message, 64),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.opened = append(h.opened, ch)
	h.mu.Unlock()
	return ch
}

func (h *memHub) channels() []*memChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*memChannel(nil), h.opened...)
}

func (h *memHub) openCount() int {
	n := 0
	for _, ch := range h.channels() {
		if !ch.isClosed() {
			n++
		}
	}
	return n
}

type memChannel struct {
	hub   *memHub
	room  string
	inbox chan signaling.Message
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	err       error
	sent      []signaling.Message
}

func (c *memChannel) Send(m signaling.Message) {
	if c.isClosed() {
		return
	}
	data, err := signaling.Encode(m)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.sent = append(c.sent, m)
	c.mu.Unlock()

	for _, other := range c.hub.channels() {
		if other == c || other.room != c.room || other.isClosed() {
			continue
		}
		decoded, err := signaling.Decode(data)
		if err != nil {
			continue
		}
		select {
		case other.inbox <- decoded:
		default:
		}
	}
}

func (c *memChannel) Messages() <-chan signaling.Message { return c.inbox }
func (c *memChannel) Done() <-chan struct{}             { return c.done }

func (c *memChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *memChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// drop simulates the relay connection going away.
func (c *memChannel) drop() {
	c.mu.Lock()
	c.err = signaling.ErrTransport
	c.mu.Unlock()
	c.Close()
}

func (c *memChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *memChannel) sentOf(t signaling.MessageType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.sent {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (c *memChannel) next(t *testing.T) signaling.Message {
	t.Helper()
	select {
	case m := <-c.inbox:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed message")
	}
	return signaling.Message{}
}

// nextOf skips messages until one of type typ arrives.
func (c *memChannel) nextOf(t *testing.T, typ signaling.MessageType) signaling.Message {
	t.Helper()
	for {
		if m := c.next(t); m.Type == typ {
			return m
		}
	}
}

// ---------------------------------------------------------------------------
// Controller harness
// ---------------------------------------------------------------------------

type recorder struct {
	mu     sync.Mutex
	states []State
	errs   []error
	local  *media.LocalStream
	seen   []*media.LocalStream
	remote *negotiation.RemoteStream
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnState: func(s Snapshot) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s.State)
		},
		OnLocalStream: func(s *media.LocalStream) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.local = s
			if s != nil {
				r.seen = append(r.seen, s)
			}
		},
		OnRemoteStream: func(s *negotiation.RemoteStream) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.remote = s
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) reported() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) hasError(target error) bool {
	for _, err := range r.reported() {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *recorder) localStream() *media.LocalStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local
}

// localSeen counts the non-nil local streams ever published.
func (r *recorder) localSeen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

type peerHarness struct {
	ctrl     *Controller
	provider *fakeProvider
	peers    *fakeFactory
	rec      *recorder
}

func newPeer(t *testing.T, name string, hub *memHub) *peerHarness {
	t.Helper()
	h := &peerHarness{
		provider: &fakeProvider{t: t},
		peers:    &fakeFactory{name: name},
		rec:      &recorder{},
	}
	h.ctrl = New(context.Background(), Deps{
		Capture:     media.NewBinding(h.provider),
		Signaling:   hub,
		Peers:       h.peers,
		ICE:         negotiation.NewConfig([]string{"stun:stun.example:3478"}, nil),
		Constraints: media.Constraints{Video: true, Audio: true},
		Hooks:       h.rec.hooks(),
	})
	t.Cleanup(h.ctrl.Stop)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return c.Snapshot().State == want })
}

type fakeRemoteTrack struct {
	id, stream string
	kind       webrtc.RTPCodecType
}

func (t fakeRemoteTrack) ID() string                { return t.id }
func (t fakeRemoteTrack) StreamID() string          { return t.stream }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (p *fakePeer) fireTrack(t negotiation.RemoteTrack) {
	p.mu.Lock()
	cb := p.onTrack
	p.mu.Unlock()
	cb(t)
}

func (p *fakePeer) fireState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	cb := p.onState
	p.mu.Unlock()
	cb(s)
}
