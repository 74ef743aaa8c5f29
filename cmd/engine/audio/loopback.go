package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// LoopbackSource captures system output audio (other participants' voices).
// The OS gates loopback capture behind a screen/audio recording permission;
// a denial surfaces as ErrPermissionDenied so the session engine can fall
// back to microphone-only capture.
type LoopbackSource struct {
	onFrame FrameFunc

	mut     sync.Mutex
	started bool
	backend *malgo.AllocatedContext
	device  *malgo.Device
}

func NewLoopbackSource(onFrame FrameFunc) *LoopbackSource {
	return &LoopbackSource{
		onFrame: onFrame,
	}
}

func (s *LoopbackSource) Start(_ context.Context) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.started {
		return nil
	}

	backend, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize audio backend: %w", classifyInitError(err))
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Loopback)
	deviceConfig.Capture.Format = malgo.FormatUnknown
	deviceConfig.Capture.Channels = 0
	deviceConfig.SampleRate = 0
	deviceConfig.Alsa.NoMMap = 1

	var device *malgo.Device
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.handleFrames(device, input)
		},
	}

	device, err = malgo.InitDevice(backend.Context, deviceConfig, callbacks)
	if err != nil {
		_ = backend.Uninit()
		backend.Free()
		return fmt.Errorf("failed to open loopback device: %w", classifyInitError(err))
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = backend.Uninit()
		backend.Free()
		return fmt.Errorf("failed to start loopback stream: %w", classifyInitError(err))
	}

	slog.Debug("loopback capture started",
		slog.Int("sampleRate", int(device.SampleRate())),
		slog.Int("channels", int(device.CaptureChannels())))

	s.backend = backend
	s.device = device
	s.started = true

	return nil
}

func (s *LoopbackSource) Stop() {
	s.mut.Lock()
	defer s.mut.Unlock()

	if !s.started {
		return
	}

	s.device.Uninit()
	_ = s.backend.Uninit()
	s.backend.Free()
	s.device = nil
	s.backend = nil
	s.started = false
}

func (s *LoopbackSource) handleFrames(device *malgo.Device, input []byte) {
	if device == nil || len(input) == 0 {
		return
	}

	samples := toWireFormat(input, device.CaptureFormat(), int(device.CaptureChannels()), int(device.SampleRate()))
	if len(samples) == 0 {
		return
	}

	s.onFrame(samples)
}
