// Package audio converts between 8 kHz G.711 mulaw telephony audio and
// 16-bit linear PCM, and frames and paces outbound playback.
package audio

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/harunnryd/telvox/pkg/errorsx"
)

const (
	// SampleRate is the telephony sample rate in Hz.
	SampleRate = 8000
	// FrameBytes is one 20 ms mulaw frame at 8 kHz.
	FrameBytes = 160

	mulawBias = 33
	mulawClip = 0x1FFF
	// MulawSilence is the encoding of a zero sample.
	MulawSilence byte = 0xFF
)

// DecodeMulaw expands one mulaw byte to a 16-bit linear sample.
func DecodeMulaw(b byte) int16 {
	v := ^b
	exp := (v >> 4) & 0x07
	mant := int32(v & 0x0F)
	mag := (((mant << 1) + mulawBias) << exp) - mulawBias
	mag <<= 2
	if v&0x80 != 0 {
		return int16(-mag)
	}
	return int16(mag)
}

// EncodeMulaw compresses a 16-bit linear sample to one mulaw byte.
func EncodeMulaw(s int16) byte {
	var sign byte
	m := int32(s)
	if m < 0 {
		sign = 0x80
		m = -m
	}
	biased := (m >> 2) + mulawBias
	if biased > mulawClip {
		biased = mulawClip
	}
	// floor(log2(biased)) - 5, biased is at least 33 so the result is >= 0.
	exp := bits.Len32(uint32(biased)) - 6
	if exp < 0 {
		exp = 0
	}
	if exp > 7 {
		exp = 7
	}
	mant := byte(biased>>(exp+1)) & 0x0F
	return ^(sign | byte(exp)<<4 | mant)
}

// QuantizationStep returns the width of the mulaw segment containing s, in
// 16-bit units. Round trip error never exceeds it.
func QuantizationStep(s int16) int {
	v := ^EncodeMulaw(s)
	exp := (v >> 4) & 0x07
	return 8 << exp
}

// MulawToPCM decodes a mulaw buffer into little-endian 16-bit PCM.
func MulawToPCM(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, b := range in {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(DecodeMulaw(b)))
	}
	return out
}

// PCMToMulaw encodes little-endian 16-bit PCM into mulaw.
func PCMToMulaw(in []byte) ([]byte, error) {
	if len(in)%2 != 0 {
		return nil, oddLength("encode", len(in))
	}
	out := make([]byte, len(in)/2)
	for i := range out {
		out[i] = EncodeMulaw(int16(binary.LittleEndian.Uint16(in[i*2:])))
	}
	return out, nil
}

// PCMSamples interprets a little-endian byte buffer as 16-bit samples.
func PCMSamples(in []byte) ([]int16, error) {
	if len(in)%2 != 0 {
		return nil, oddLength("samples", len(in))
	}
	out := make([]int16, len(in)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(in[i*2:]))
	}
	return out, nil
}

// PCMBytes serializes samples as little-endian 16-bit PCM.
func PCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Amplitude returns the mean absolute sample normalized to [0,1].
// An empty buffer has amplitude 0.
func Amplitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range samples {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return float64(sum) / float64(len(samples)) / 32768
}

// NoiseGate returns an all-zero buffer of the same length when the buffer's
// amplitude is below threshold, otherwise the input unchanged.
func NoiseGate(samples []int16, threshold float64) []int16 {
	if Amplitude(samples) < threshold {
		return make([]int16, len(samples))
	}
	return samples
}

func oddLength(op string, n int) error {
	return errorsx.Wrap(errorsx.FormatError{
		Op:     op,
		Detail: fmt.Sprintf("pcm buffer has odd length %d", n),
	}, errorsx.ReasonAudioFormat)
}
