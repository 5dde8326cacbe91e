package negotiation

// RemoteStream groups the remote tracks sharing one stream id. Values are
// immutable: a track arriving for the same stream yields a new RemoteStream
// with the same ID.
type RemoteStream struct {
	id     string
	tracks []RemoteTrack
}

// NewRemoteStream assembles tracks the way they would arrive on a
// connection, in order. Returns nil for no tracks.
func NewRemoteStream(tracks ...RemoteTrack) *RemoteStream {
	var s *RemoteStream
	for _, t := range tracks {
		s = s.with(t)
	}
	return s
}

func (s *RemoteStream) ID() string { return s.id }

// Tracks returns a copy of the stream's tracks.
func (s *RemoteStream) Tracks() []RemoteTrack {
	return append([]RemoteTrack(nil), s.tracks...)
}

// with returns a copy of s extended by t, or a fresh stream when t belongs
// to a different stream id.
func (s *RemoteStream) with(t RemoteTrack) *RemoteStream {
	if s == nil || s.id != t.StreamID() {
		return &RemoteStream{id: t.StreamID(), tracks: []RemoteTrack{t}}
	}
	for _, existing := range s.tracks {
		if existing.ID() == t.ID() {
			return s
		}
	}
	tracks := make([]RemoteTrack, 0, len(s.tracks)+1)
	tracks = append(tracks, s.tracks...)
	tracks = append(tracks, t)
	return &RemoteStream{id: s.id, tracks: tracks}
}
