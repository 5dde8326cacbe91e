package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/util"
)

// DeviceProvider captures from real devices through pion/mediadevices.
// Encoders come from the codec selector; without one nothing can be sent.
type DeviceProvider struct {
	codecs *mediadevices.CodecSelector
	video  mediadevices.MediaOption
	log    util.Logger
}

var _ Provider = (*DeviceProvider)(nil)

// NewDeviceProvider returns a provider encoding with codecs (may be nil on
// platforms without encoders, in which case every request is unavailable).
func NewDeviceProvider(codecs *mediadevices.CodecSelector) *DeviceProvider {
	return &DeviceProvider{
		codecs: codecs,
		video:  videoConstraints,
		log:    util.NewLogger("media"),
	}
}

// PopulateMediaEngine registers the selector's codecs so offers carry what
// the encoders produce. Intended for transport.WithMediaEngine.
func (p *DeviceProvider) PopulateMediaEngine(m *webrtc.MediaEngine) error {
	if p.codecs == nil {
		return m.RegisterDefaultCodecs()
	}
	p.codecs.Populate(m)
	return nil
}

// Request opens the devices. GetUserMedia cannot be interrupted, so a
// cancelled request closes the tracks once they arrive.
func (p *DeviceProvider) Request(ctx context.Context, c Constraints) ([]Track, error) {
	if p.codecs == nil {
		return nil, fmt.Errorf("%w: no encoders on this platform", ErrCaptureUnavailable)
	}
	if !c.Video && !c.Audio {
		return nil, fmt.Errorf("%w: nothing requested", ErrCaptureUnavailable)
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no media devices found", ErrCaptureUnavailable)
	}
	for _, d := range devices {
		p.log.Debug("media device: kind=%v label=%q", d.Kind, d.Label)
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: p.codecs}
	if c.Video {
		constraints.Video = p.video
	}
	if c.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := mediadevices.GetUserMedia(constraints)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, classify(r.err)
		}
		return toTracks(r.stream), nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				for _, t := range r.stream.GetTracks() {
					_ = t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	}
}

func toTracks(s mediadevices.MediaStream) []Track {
	var out []Track
	for _, t := range s.GetTracks() {
		out = append(out, t)
	}
	return out
}

func classify(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", ErrCaptureDenied, err)
	}
	return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
}
