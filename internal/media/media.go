// Package media acquires and releases the local audio/video capture.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/util"
)

var (
	// ErrCaptureDenied means the user or OS refused access to a device.
	ErrCaptureDenied = errors.New("media capture denied")
	// ErrCaptureUnavailable means no suitable device or encoder exists.
	ErrCaptureUnavailable = errors.New("media capture unavailable")
	// ErrAlreadyAcquired is returned by Acquire while a previous stream is live.
	ErrAlreadyAcquired = errors.New("media already acquired")
)

// Constraints select which kinds to capture.
type Constraints struct {
	Video bool
	Audio bool
}

// Track is one live local source. mediadevices.Track satisfies it.
type Track interface {
	webrtc.TrackLocal
	// Close stops the source and releases the device.
	Close() error
}

// Provider is the platform capture capability.
type Provider interface {
	// Request asynchronously yields live tracks matching c, or an error
	// wrapping ErrCaptureDenied or ErrCaptureUnavailable.
	Request(ctx context.Context, c Constraints) ([]Track, error)
}

// LocalStream owns a set of live tracks until Release stops them.
type LocalStream struct {
	id     string
	tracks []Track

	once    sync.Once
	stopped atomic.Bool
	err     error
}

// streamTrack pins a track to its LocalStream. mediadevices hands out a
// fresh stream id on every StreamID call, which would split audio and video
// into separate remote streams.
type streamTrack struct {
	Track
	streamID string
}

func (t streamTrack) StreamID() string { return t.streamID }

func newLocalStream(tracks []Track) *LocalStream {
	id := uuid.NewString()
	pinned := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		pinned = append(pinned, streamTrack{Track: t, streamID: id})
	}
	return &LocalStream{id: id, tracks: pinned}
}

func (s *LocalStream) ID() string { return s.id }

// Tracks returns a copy of the stream's tracks.
func (s *LocalStream) Tracks() []Track {
	return append([]Track(nil), s.tracks...)
}

// LocalTracks exposes the tracks for attaching to a peer connection.
func (s *LocalStream) LocalTracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

// Live reports whether the tracks are still running.
func (s *LocalStream) Live() bool { return !s.stopped.Load() }

// Counts returns the number of video and audio tracks.
func (s *LocalStream) Counts() (video, audio int) {
	for _, t := range s.tracks {
		switch t.Kind() {
		case webrtc.RTPCodecTypeVideo:
			video++
		case webrtc.RTPCodecTypeAudio:
			audio++
		}
	}
	return video, audio
}

// stop closes every track once; later calls return the first result.
func (s *LocalStream) stop() error {
	s.once.Do(func() {
		var errs []error
		for _, t := range s.tracks {
			if err := t.Close(); err != nil {
				errs = append(errs, fmt.Errorf("stop %s track %s: %w", t.Kind(), t.ID(), err))
			}
		}
		s.err = errors.Join(errs...)
		s.stopped.Store(true)
	})
	return s.err
}

// Binding mediates between callers and the Provider: one live stream at a
// time, classified errors, idempotent release.
type Binding struct {
	provider Provider
	log      util.Logger

	mu      sync.Mutex
	active  *LocalStream
	pending bool
}

// NewBinding returns a Binding over p.
func NewBinding(p Provider) *Binding {
	return &Binding{provider: p, log: util.NewLogger("media")}
}

// Acquire requests a new stream. Calling it again before releasing the
// previous stream fails with ErrAlreadyAcquired.
func (b *Binding) Acquire(ctx context.Context, c Constraints) (*LocalStream, error) {
	b.mu.Lock()
	if b.pending || (b.active != nil && b.active.Live()) {
		b.mu.Unlock()
		return nil, ErrAlreadyAcquired
	}
	b.pending = true
	b.mu.Unlock()

	tracks, err := b.provider.Request(ctx, c)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = false

	if err != nil {
		if !errors.Is(err, ErrCaptureDenied) && !errors.Is(err, ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
		}
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: provider returned no tracks", ErrCaptureUnavailable)
	}

	stream := newLocalStream(tracks)
	b.active = stream
	video, audio := stream.Counts()
	b.log.Info("local stream %s acquired (%d video, %d audio)", stream.ID(), video, audio)
	return stream, nil
}

// Release stops every track of s. Safe on nil and on stopped streams.
func (b *Binding) Release(s *LocalStream) error {
	if s == nil {
		return nil
	}
	wasLive := s.Live()
	err := s.stop()

	b.mu.Lock()
	if b.active == s {
		b.active = nil
	}
	b.mu.Unlock()

	if wasLive {
		b.log.Info("local stream %s released", s.ID())
	}
	return err
}

// Active returns the live stream, if any.
func (b *Binding) Active() *LocalStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}
