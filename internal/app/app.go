// Package app wires the real collaborators (camera and microphone capture,
// pion peer connections, the WebSocket relay client) into a call session.
package app

import (
	"context"
	"fmt"

	"github.com/1ureka/roomcall/internal/config"
	"github.com/1ureka/roomcall/internal/media"
	"github.com/1ureka/roomcall/internal/session"
	"github.com/1ureka/roomcall/internal/signaling"
	"github.com/1ureka/roomcall/internal/transport"
	"github.com/1ureka/roomcall/internal/util"
)

// NewController builds a session controller backed by local devices and the
// relay named in cfg. The renderer receives the controller's stream outputs.
func NewController(ctx context.Context, cfg *config.Config, r *Renderer) (*session.Controller, error) {
	codecs, err := media.NewCodecSelector()
	if err != nil {
		return nil, fmt.Errorf("failed to set up codecs: %w", err)
	}
	provider := media.NewDeviceProvider(codecs)

	peers, err := transport.NewFactory(transport.WithMediaEngine(provider.PopulateMediaEngine))
	if err != nil {
		return nil, fmt.Errorf("failed to set up peer connections: %w", err)
	}

	ice := cfg.Negotiation()
	if len(ice.TURNServers()) == 0 {
		util.LogDebug("no TURN servers configured, peers behind symmetric NATs may not connect")
	}

	return session.New(ctx, session.Deps{
		Capture:     media.NewBinding(provider),
		Signaling:   RelayOpener(signaling.NewClient(cfg.RelayURL)),
		Peers:       peers,
		ICE:         ice,
		Constraints: media.Constraints{Video: cfg.Video, Audio: cfg.Audio},
		Hooks:       r.Hooks(),
	}), nil
}

// RelayOpener adapts a signaling client to the controller's Opener.
func RelayOpener(c *signaling.Client) session.Opener {
	return session.OpenerFunc(func(ctx context.Context, room string) (session.Channel, error) {
		ch, err := c.Open(ctx, room)
		if err != nil {
			return nil, err
		}
		return ch, nil
	})
}
