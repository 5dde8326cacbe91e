//go:build !linux

package media

import "github.com/pion/mediadevices"

// NewCodecSelector returns nil: capture drivers and encoders are only wired
// on Linux, so a DeviceProvider reports ErrCaptureUnavailable elsewhere.
func NewCodecSelector() (*mediadevices.CodecSelector, error) {
	return nil, nil
}

func videoConstraints(*mediadevices.MediaTrackConstraints) {}
