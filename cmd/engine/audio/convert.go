package audio

import (
	"encoding/binary"
	"math"

	"github.com/gen2brain/malgo"

	"github.com/meetscribe/session-engine/cmd/engine/pcm"
)

// decodeSamples converts a raw interleaved capture buffer in the device's
// native sample format to PCM16, still interleaved.
func decodeSamples(data []byte, format malgo.FormatType) []int16 {
	switch format {
	case malgo.FormatS16:
		out := make([]int16, len(data)/2)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		}
		return out
	case malgo.FormatF32:
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return pcm.FloatToPCM16(out)
	case malgo.FormatS32:
		out := make([]int16, len(data)/4)
		for i := range out {
			out[i] = int16(int32(binary.LittleEndian.Uint32(data[i*4:])) >> 16)
		}
		return out
	case malgo.FormatS24:
		out := make([]int16, len(data)/3)
		for i := range out {
			// Keep the two most significant bytes of the 24-bit sample.
			out[i] = int16(uint16(data[i*3+1]) | uint16(data[i*3+2])<<8)
		}
		return out
	case malgo.FormatU8:
		out := make([]int16, len(data))
		for i, b := range data {
			out[i] = int16(int(b)-128) << 8
		}
		return out
	default:
		return nil
	}
}

// toWireFormat converts a native interleaved buffer to the mono 16kHz PCM16
// contract shared by both realtime providers.
func toWireFormat(data []byte, format malgo.FormatType, channels, sampleRate int) []int16 {
	samples := decodeSamples(data, format)
	if samples == nil {
		return nil
	}

	samples = pcm.Downmix(samples, channels)
	return pcm.Resample(samples, sampleRate, pcm.WireSampleRate)
}
