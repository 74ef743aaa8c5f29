// Package pcm implements the sample-level plumbing shared by the capture
// sources and the realtime clients: mixing two mono streams, downmixing
// multi-channel buffers, resampling to the 16kHz wire rate and converting
// between sample encodings.
package pcm

import (
	"encoding/binary"
	"math"
)

const (
	// WireSampleRate is the sample rate both realtime providers expect.
	WireSampleRate = 16000
	// WireChannels is the channel count both realtime providers expect.
	WireChannels = 1
)

// Mix averages two mono PCM16 streams sample by sample. If either input is
// empty the other is returned unchanged, which lets call sites handle
// single-source operation without branching. Otherwise the output is
// truncated to the shorter input.
func Mix(a, b []int16) []int16 {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}

	n := min(len(a), len(b))
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = clampInt16((int32(a[i]) + int32(b[i])) / 2)
	}

	return out
}

// Downmix averages interleaved multi-channel samples into a mono stream.
// Trailing samples that don't fill a full frame are dropped.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		out[i] = clampInt16(sum / int32(channels))
	}

	return out
}

// Resample converts a mono PCM16 stream between sample rates using linear
// interpolation. Quality is sufficient for speech recognition input; both
// realtime providers do their own conditioning server side.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	outLen := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	if outLen == 0 {
		return nil
	}

	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = clampInt16(int32(math.Round(a + (b-a)*frac)))
	}

	return out
}

// FloatToPCM16 converts float samples in [-1, 1] to PCM16, clamping out of
// range values.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * math.MaxInt16)
	}
	return out
}

// ToLittleEndian serializes PCM16 samples into the little-endian byte layout
// both providers expect on their binary websocket frames.
func ToLittleEndian(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RMS returns the root mean square level of the buffer normalized to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, s := range samples {
		n := float64(s) / math.MaxInt16
		energy += n * n
	}

	return math.Sqrt(energy / float64(len(samples)))
}

func clampInt16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
