package negotiation

import "github.com/pion/webrtc/v4"

// TURNServer is an optional relay entry. The default configuration has none,
// so peers behind symmetric NATs may fail to connect.
type TURNServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Config is the immutable ICE configuration of an Engine. Build it with
// NewConfig; accessors return copies.
type Config struct {
	stun []string
	turn []TURNServer
}

// NewConfig copies its arguments into a Config.
func NewConfig(stunServers []string, turnServers []TURNServer) Config {
	cfg := Config{stun: append([]string(nil), stunServers...)}
	for _, t := range turnServers {
		cfg.turn = append(cfg.turn, TURNServer{
			URLs:       append([]string(nil), t.URLs...),
			Username:   t.Username,
			Credential: t.Credential,
		})
	}
	return cfg
}

// STUNServers returns a copy of the STUN endpoints.
func (c Config) STUNServers() []string {
	return append([]string(nil), c.stun...)
}

// TURNServers returns a copy of the TURN entries.
func (c Config) TURNServers() []TURNServer {
	out := make([]TURNServer, 0, len(c.turn))
	for _, t := range c.turn {
		out = append(out, TURNServer{
			URLs:       append([]string(nil), t.URLs...),
			Username:   t.Username,
			Credential: t.Credential,
		})
	}
	return out
}

// ICEServers converts the configuration into pion's representation: one entry
// holding every STUN URL followed by one entry per TURN server.
func (c Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(c.stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNServers()})
	}
	for _, t := range c.turn {
		servers = append(servers, webrtc.ICEServer{
			URLs:       append([]string(nil), t.URLs...),
			Username:   t.Username,
			Credential: t.Credential,
		})
	}
	return servers
}
