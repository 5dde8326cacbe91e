package transport

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/util"
)

// Option customises the pion API built by NewFactory.
type Option func(*factoryOptions)

type factoryOptions struct {
	setupMedia func(*webrtc.MediaEngine) error
}

// WithMediaEngine replaces the default codec registration, e.g. with a
// mediadevices codec selector's Populate so the engine offers exactly the
// codecs the local encoders produce.
func WithMediaEngine(setup func(*webrtc.MediaEngine) error) Option {
	return func(o *factoryOptions) { o.setupMedia = setup }
}

// Factory creates pion PeerConnections sharing one API (media engine,
// interceptors, settings). It implements negotiation.Factory.
type Factory struct {
	api *webrtc.API
}

var _ negotiation.Factory = (*Factory)(nil)

// NewFactory builds the pion API: codecs, the default interceptors (NACK,
// RTCP reports, TWCC) and a setting engine logging through util.
func NewFactory(opts ...Option) (*Factory, error) {
	o := factoryOptions{
		setupMedia: func(m *webrtc.MediaEngine) error { return m.RegisterDefaultCodecs() },
	}
	for _, opt := range opts {
		opt(&o)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := o.setupMedia(mediaEngine); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api}, nil
}

// NewPeerConnection creates a Peer using the given ICE servers.
func (f *Factory) NewPeerConnection(iceServers []webrtc.ICEServer) (negotiation.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}
	return newPeer(pc), nil
}
