package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/meetscribe/session-engine/cmd/engine/pcm"
)

// MicDevice describes one enumerable input device.
type MicDevice struct {
	ID        string
	Name      string
	IsDefault bool
}

// MicConfig configures a microphone capture source.
type MicConfig struct {
	// DeviceID selects a specific device from ListMicrophones; empty picks
	// the system default input.
	DeviceID string
	// RMSThreshold drops frames quieter than this normalized RMS level.
	// Zero disables the gate.
	RMSThreshold float64
}

// MicSource captures the default (or selected) input device and converts its
// native format to mono 16kHz PCM16.
type MicSource struct {
	cfg     MicConfig
	onFrame FrameFunc

	mut     sync.Mutex
	started bool
	backend *malgo.AllocatedContext
	device  *malgo.Device
}

func NewMicSource(cfg MicConfig, onFrame FrameFunc) *MicSource {
	return &MicSource{
		cfg:     cfg,
		onFrame: onFrame,
	}
}

// ListMicrophones enumerates input devices the way the selection UI expects.
func ListMicrophones() ([]MicDevice, error) {
	backend, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio backend: %w", err)
	}
	defer func() {
		_ = backend.Uninit()
		backend.Free()
	}()

	infos, err := backend.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate input devices: %w", err)
	}

	devices := make([]MicDevice, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, MicDevice{
			ID:        fmt.Sprintf("mic-%d", i),
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}

	return devices, nil
}

func (s *MicSource) Start(_ context.Context) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.started {
		return nil
	}

	backend, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize audio backend: %w", classifyInitError(err))
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatUnknown
	deviceConfig.Capture.Channels = 0
	deviceConfig.SampleRate = 0
	deviceConfig.Alsa.NoMMap = 1

	if s.cfg.DeviceID != "" {
		id, err := resolveDeviceID(backend, s.cfg.DeviceID)
		if err != nil {
			_ = backend.Uninit()
			backend.Free()
			return err
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

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
		return fmt.Errorf("failed to open microphone device: %w", classifyInitError(err))
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = backend.Uninit()
		backend.Free()
		return fmt.Errorf("failed to start microphone stream: %w", classifyInitError(err))
	}

	slog.Debug("microphone capture started",
		slog.Int("sampleRate", int(device.SampleRate())),
		slog.Int("channels", int(device.CaptureChannels())))

	s.backend = backend
	s.device = device
	s.started = true

	return nil
}

func (s *MicSource) Stop() {
	s.mut.Lock()
	defer s.mut.Unlock()

	if !s.started {
		return
	}

	// Uninit blocks until the data callback has drained, which upholds the
	// no-frames-after-Stop guarantee.
	s.device.Uninit()
	_ = s.backend.Uninit()
	s.backend.Free()
	s.device = nil
	s.backend = nil
	s.started = false
}

func (s *MicSource) handleFrames(device *malgo.Device, input []byte) {
	if device == nil || len(input) == 0 {
		return
	}

	samples := toWireFormat(input, device.CaptureFormat(), int(device.CaptureChannels()), int(device.SampleRate()))
	if len(samples) == 0 {
		return
	}

	if s.cfg.RMSThreshold > 0 && pcm.RMS(samples) < s.cfg.RMSThreshold {
		return
	}

	s.onFrame(samples)
}

func resolveDeviceID(backend *malgo.AllocatedContext, deviceID string) (malgo.DeviceID, error) {
	infos, err := backend.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("failed to enumerate input devices: %w", err)
	}

	for i, info := range infos {
		if fmt.Sprintf("mic-%d", i) == deviceID {
			return info.ID, nil
		}
	}

	return malgo.DeviceID{}, fmt.Errorf("microphone %q not found: %w", deviceID, ErrDeviceUnavailable)
}
