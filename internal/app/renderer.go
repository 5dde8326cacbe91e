package app

import (
	"context"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/media"
	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/session"
	"github.com/1ureka/roomcall/internal/util"
)

const readBufferSize = 1500 // one MTU-sized RTP packet

// rtpReader is the read side of *webrtc.TrackRemote.
type rtpReader interface {
	Read(b []byte) (int, interceptor.Attributes, error)
}

// Renderer is the headless display surface: it reports stream presence and
// drains remote tracks so their receive buffers never fill.
type Renderer struct {
	ctx context.Context
	log util.Logger

	mu       sync.Mutex
	remote   *negotiation.RemoteStream
	draining map[string]struct{}
	wg       sync.WaitGroup

	// OnError, when set, receives errors surfaced by the controller.
	OnError func(error)
}

// NewRenderer returns a Renderer whose drain loops stop with ctx.
func NewRenderer(ctx context.Context) *Renderer {
	return &Renderer{
		ctx:      ctx,
		log:      util.NewLogger("renderer"),
		draining: make(map[string]struct{}),
	}
}

// Hooks returns the controller hooks that feed this renderer.
func (r *Renderer) Hooks() session.Hooks {
	return session.Hooks{
		OnState:           r.showState,
		OnLocalStream:     r.attachLocal,
		OnRemoteStream:    r.attachRemote,
		OnConnectionState: r.showConnection,
		OnError: func(err error) {
			if r.OnError != nil {
				r.OnError(err)
			}
		},
	}
}

// Remote returns the stream on the remote surface.
func (r *Renderer) Remote() *negotiation.RemoteStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remote
}

// Wait blocks until every drain loop has ended.
func (r *Renderer) Wait() { r.wg.Wait() }

func (r *Renderer) showState(s session.Snapshot) {
	switch s.State {
	case session.StateJoined:
		util.LogSuccess("joined room %q, waiting for peer", s.Room)
	case session.StateNegotiating:
		util.LogInfo("negotiating (%s offer)", s.Role)
	case session.StateInCall:
		util.LogSuccess("in call")
	case session.StateIdle:
		util.LogInfo("idle")
	}
}

func (r *Renderer) showConnection(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		util.LogSuccess("peer connected")
	case webrtc.PeerConnectionStateFailed:
		util.LogWarning("peer connection failed")
	default:
		r.log.Debug("peer connection %s", s)
	}
}

func (r *Renderer) attachLocal(s *media.LocalStream) {
	if s == nil {
		util.LogInfo("local preview cleared")
		return
	}
	video, audio := s.Counts()
	if video == 0 {
		util.LogWarning("no camera: sending audio only")
	}
	r.log.Info("local preview %s (%d video, %d audio)", s.ID(), video, audio)
}

func (r *Renderer) attachRemote(s *negotiation.RemoteStream) {
	r.mu.Lock()
	r.remote = s
	if s == nil {
		r.draining = make(map[string]struct{})
		r.mu.Unlock()
		util.LogInfo("waiting for peer")
		return
	}

	var start []rtpReader
	for _, t := range s.Tracks() {
		if _, ok := r.draining[t.ID()]; ok {
			continue
		}
		reader, ok := t.(rtpReader)
		if !ok {
			continue
		}
		r.draining[t.ID()] = struct{}{}
		start = append(start, reader)
		r.log.Info("rendering remote %s track %s", t.Kind(), t.ID())
	}
	r.mu.Unlock()

	for _, reader := range start {
		r.wg.Add(1)
		go r.drain(reader)
	}
}

// drain reads RTP until the track ends, counting received bytes.
func (r *Renderer) drain(t rtpReader) {
	defer r.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		if r.ctx.Err() != nil {
			return
		}
		n, _, err := t.Read(buf)
		if err != nil {
			return
		}
		util.Stats.AddMedia(n)
	}
}
