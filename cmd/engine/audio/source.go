// Package audio implements the two capture sources feeding a live session:
// the default microphone and the system loopback device. Both deliver mono
// 16kHz PCM16 frames at the device's natural buffer cadence.
package audio

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrPermissionDenied is returned when the OS denies capture access.
	// Callers use it to apply the microphone fallback policy.
	ErrPermissionDenied = errors.New("audio capture permission denied")
	// ErrDeviceUnavailable is returned when no usable device is found.
	ErrDeviceUnavailable = errors.New("audio capture device unavailable")
	// ErrFormatUnsupported is returned when the device's native format
	// cannot be converted to the wire format.
	ErrFormatUnsupported = errors.New("audio capture format unsupported")
)

// FrameFunc receives converted PCM frames. Ownership of the slice transfers
// to the callee; it is never reused by the source.
type FrameFunc func(samples []int16)

// Source is an async capture capability. Start is not reentrant (a second
// call while started is a no-op). Stop is idempotent and guarantees no
// frames are delivered after it returns.
type Source interface {
	Start(ctx context.Context) error
	Stop()
}

// classifyInitError maps backend init failures onto the capture error
// taxonomy. The backend reports plain result-description strings, so this
// matches on them.
func classifyInitError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied") || strings.Contains(msg, "permission"):
		return ErrPermissionDenied
	case strings.Contains(msg, "format not supported") || strings.Contains(msg, "invalid data"):
		return ErrFormatUnsupported
	default:
		return ErrDeviceUnavailable
	}
}
