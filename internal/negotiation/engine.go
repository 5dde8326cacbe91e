// Package negotiation owns the lifecycle of one peer connection: it builds
// offers and answers, applies remote descriptions and candidates, and turns
// arriving remote tracks into RemoteStreams.
package negotiation

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/util"
)

var (
	// ErrNegotiation wraps every failure to create or apply a description.
	ErrNegotiation = errors.New("negotiation failed")
	// ErrNoConnection is returned by operations that need a live handle.
	ErrNoConnection = errors.New("no peer connection")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("negotiation engine closed")
)

// State is the negotiation state of the current handle.
type State int

const (
	StateNoConnection State = iota
	StateNew                // handle exists, no description applied
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateStable    // offer and answer applied
	StateConnected // stable and the transport reported connected
	StateFailed    // stable and the transport reported failed
)

func (s State) String() string {
	switch s {
	case StateNoConnection:
		return "no-connection"
	case StateNew:
		return "new"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateStable:
		return "stable"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handlers receive the engine's asynchronous outputs. They may be invoked
// from pion's goroutines and must not call back into the Engine.
type Handlers struct {
	// OnCandidate receives every locally gathered candidate for immediate
	// (trickle) forwarding.
	OnCandidate func(webrtc.ICECandidateInit)
	// OnRemoteStream receives the current remote stream whenever a track
	// arrives.
	OnRemoteStream func(*RemoteStream)
	// OnConnectionState receives peer connection state changes.
	OnConnectionState func(webrtc.PeerConnectionState)
}

// Engine drives at most one PeerConnection at a time. All methods are safe
// for concurrent use.
type Engine struct {
	cfg      Config
	factory  Factory
	handlers Handlers
	log      util.Logger

	mu        sync.Mutex
	pc        PeerConnection
	state     State
	remoteSet bool
	pending   candidateQueue
	closed    bool

	// epoch identifies the live handle; callbacks of discarded handles
	// compare against it and go quiet.
	epoch atomic.Uint64
	// conn is the last webrtc.PeerConnectionState of the live handle.
	conn atomic.Int32

	streamMu sync.Mutex
	remote   *RemoteStream
}

// New returns an Engine with no connection.
func New(cfg Config, factory Factory, handlers Handlers) *Engine {
	return &Engine{
		cfg:      cfg,
		factory:  factory,
		handlers: handlers,
		log:      util.NewLogger("negotiation"),
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// CreateConnection closes any existing handle and creates a fresh one.
func (e *Engine) CreateConnection() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createLocked()
}

func (e *Engine) createLocked() error {
	if e.closed {
		return ErrClosed
	}
	e.discardLocked()

	pc, err := e.factory.NewPeerConnection(e.cfg.ICEServers())
	if err != nil {
		return fmt.Errorf("%w: create peer connection: %w", ErrNegotiation, err)
	}
	epoch := e.epoch.Add(1)

	pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if e.epoch.Load() != epoch {
			return
		}
		util.Stats.AddCandidateSent()
		if e.handlers.OnCandidate != nil {
			e.handlers.OnCandidate(c)
		}
	})
	pc.OnTrack(func(t RemoteTrack) { e.handleTrack(epoch, t) })
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) { e.handleConnectionState(epoch, s) })

	e.pc = pc
	e.state = StateNew
	e.remoteSet = false
	e.conn.Store(int32(webrtc.PeerConnectionStateNew))
	e.log.Debug("peer connection created (epoch %d)", epoch)
	return nil
}

// discardLocked closes the current handle, if any. Pending candidates are
// kept: they may belong to the offer about to be applied.
func (e *Engine) discardLocked() {
	if e.pc == nil {
		return
	}
	e.epoch.Add(1)
	if err := e.pc.Close(); err != nil {
		e.log.Warn("closing peer connection: %v", err)
	}
	e.pc = nil
	e.state = StateNoConnection
	e.remoteSet = false

	e.streamMu.Lock()
	e.remote = nil
	e.streamMu.Unlock()
}

// Teardown closes and discards the handle and any pending candidates.
// Idempotent.
func (e *Engine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discardLocked()
	e.pending.clear()
}

// Close tears down the handle and refuses further connections. Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discardLocked()
	e.pending.clear()
	e.closed = true
}

// State returns the negotiation state of the current handle. A stable
// handle reports Connected or Failed once the transport says so.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStable {
		return e.state
	}
	switch webrtc.PeerConnectionState(e.conn.Load()) {
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	}
	return e.state
}

// HasConnection reports whether a handle is alive.
func (e *Engine) HasConnection() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pc != nil
}

// PendingCandidates returns the number of queued remote candidates.
func (e *Engine) PendingCandidates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending.len()
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// AttachLocalTracks binds every track of src to the current handle.
func (e *Engine) AttachLocalTracks(src TrackSource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attachLocked(src)
}

func (e *Engine) attachLocked(src TrackSource) error {
	if e.pc == nil {
		return fmt.Errorf("%w: %w", ErrNegotiation, ErrNoConnection)
	}
	if src == nil {
		return nil
	}
	for _, t := range src.LocalTracks() {
		if err := e.pc.AddTrack(t); err != nil {
			return fmt.Errorf("%w: add %s track %s: %w", ErrNegotiation, t.Kind(), t.ID(), err)
		}
	}
	return nil
}

// MakeOffer creates an offer, commits it as the local description and
// returns it. Media kinds without a local track get a receive-only
// transceiver so the far side can still send them.
func (e *Engine) MakeOffer(src TrackSource) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if e.pc == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %w", ErrNegotiation, ErrNoConnection)
	}
	if err := e.ensureReceiversLocked(src); err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := e.pc.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create offer: %w", ErrNegotiation, err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local offer: %w", ErrNegotiation, err)
	}
	e.state = StateHaveLocalOffer
	return offer, nil
}

func (e *Engine) ensureReceiversLocked(src TrackSource) error {
	have := map[webrtc.RTPCodecType]bool{}
	if src != nil {
		for _, t := range src.LocalTracks() {
			have[t.Kind()] = true
		}
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if have[kind] {
			continue
		}
		if err := e.pc.AddReceiver(kind); err != nil {
			return fmt.Errorf("%w: add %s receiver: %w", ErrNegotiation, kind, err)
		}
	}
	return nil
}

// AcceptOffer answers a remote offer. Unless the current handle is fresh,
// a new handle is created with src's tracks attached; an outstanding local
// offer is abandoned in favour of the remote one.
func (e *Engine) AcceptOffer(offer webrtc.SessionDescription, src TrackSource) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: expected offer, got %s", ErrNegotiation, offer.Type)
	}

	if e.pc == nil || e.state != StateNew {
		if e.state == StateHaveLocalOffer {
			e.log.Warn("remote offer while local offer outstanding, answering remote offer")
		}
		if err := e.createLocked(); err != nil {
			return webrtc.SessionDescription{}, err
		}
		if err := e.attachLocked(src); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}

	if err := e.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set remote offer: %w", ErrNegotiation, err)
	}
	e.state = StateHaveRemoteOffer
	e.remoteSet = true
	e.flushLocked()

	answer, err := e.pc.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create answer: %w", ErrNegotiation, err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local answer: %w", ErrNegotiation, err)
	}
	e.state = StateStable
	return answer, nil
}

// AcceptAnswer applies a remote answer to the outstanding local offer. An
// answer with no outstanding offer is stale: it is logged and ignored.
func (e *Engine) AcceptAnswer(answer webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc == nil || e.state != StateHaveLocalOffer {
		e.log.Warn("ignoring stale answer (state %s)", e.state)
		return nil
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: expected answer, got %s", ErrNegotiation, answer.Type)
	}
	if err := e.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: set remote answer: %w", ErrNegotiation, err)
	}
	e.state = StateStable
	e.remoteSet = true
	e.flushLocked()
	return nil
}

// AddRemoteCandidate applies c to the current handle, or queues it until a
// remote description is applied. Failures are logged, never returned.
func (e *Engine) AddRemoteCandidate(c webrtc.ICECandidateInit) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		util.Stats.AddCandidateLost()
		e.log.Debug("dropping remote candidate after close")
		return
	}
	if e.pc == nil || !e.remoteSet {
		if e.pending.push(c) {
			util.Stats.AddCandidateLost()
			e.log.Warn("pending candidate queue full, dropped oldest")
		}
		util.Stats.AddCandidateQueued()
		return
	}
	e.applyLocked(c)
}

func (e *Engine) applyLocked(c webrtc.ICECandidateInit) {
	if err := e.pc.AddICECandidate(c); err != nil {
		util.Stats.AddCandidateLost()
		e.log.Warn("AddICECandidate failed: %v", err)
		return
	}
	util.Stats.AddCandidateAdded()
}

func (e *Engine) flushLocked() {
	items := e.pending.drain()
	if len(items) == 0 {
		return
	}
	e.log.Debug("flushing %d queued remote candidates", len(items))
	for _, c := range items {
		e.applyLocked(c)
	}
}

// ---------------------------------------------------------------------------
// Callbacks
// ---------------------------------------------------------------------------

func (e *Engine) handleTrack(epoch uint64, t RemoteTrack) {
	if e.epoch.Load() != epoch {
		return
	}
	if t.StreamID() == "" {
		e.log.Warn("remote %s track %s has no stream, ignored", t.Kind(), t.ID())
		return
	}

	e.streamMu.Lock()
	e.remote = e.remote.with(t)
	stream := e.remote
	e.streamMu.Unlock()

	e.log.Info("remote %s track %s (stream %s)", t.Kind(), t.ID(), t.StreamID())
	if e.handlers.OnRemoteStream != nil {
		e.handlers.OnRemoteStream(stream)
	}
}

func (e *Engine) handleConnectionState(epoch uint64, s webrtc.PeerConnectionState) {
	if e.epoch.Load() != epoch {
		return
	}
	e.log.Info("connection state: %s", s)
	e.conn.Store(int32(s))

	if e.handlers.OnConnectionState != nil {
		e.handlers.OnConnectionState(s)
	}
}
