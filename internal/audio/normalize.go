// Package audio converts decoded audio into the mono sample sequence workers consume.
package audio

import (
	"errors"
	"fmt"
	"math"

	"whisper-relay/internal/domain"
)

var (
	// ErrNoChannels is returned for a buffer without any channel data.
	ErrNoChannels = errors.New("audio buffer has no channels")
	// ErrChannelMismatch is returned when stereo channels differ in length.
	ErrChannelMismatch = errors.New("audio channels differ in length")
	// ErrSampleRate is returned when a buffer was not decoded at domain.SampleRate.
	ErrSampleRate = errors.New("audio buffer sample rate mismatch")
)

// stereoScale keeps a mono render of a stereo signal at the expected loudness.
var stereoScale = float32(math.Sqrt2)

// Buffer is decoded, de-interleaved audio: one sample slice per channel.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Mono wraps a single channel at the fixed sample rate.
func Mono(samples []float32) Buffer {
	return Buffer{SampleRate: domain.SampleRate, Channels: [][]float32{samples}}
}

// Stereo wraps two channels at the fixed sample rate.
func Stereo(left, right []float32) Buffer {
	return Buffer{SampleRate: domain.SampleRate, Channels: [][]float32{left, right}}
}

// Len returns the number of sample frames (length of the first channel).
func (b Buffer) Len() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Validate reports whether Normalize would accept the buffer.
func (b Buffer) Validate() error {
	if len(b.Channels) == 0 {
		return ErrNoChannels
	}
	if b.SampleRate != 0 && b.SampleRate != domain.SampleRate {
		return fmt.Errorf("%w: got %d Hz, want %d Hz", ErrSampleRate, b.SampleRate, domain.SampleRate)
	}
	if len(b.Channels) == 2 && len(b.Channels[0]) != len(b.Channels[1]) {
		return fmt.Errorf("%w: left=%d right=%d", ErrChannelMismatch, len(b.Channels[0]), len(b.Channels[1]))
	}
	return nil
}

// Normalize converts a buffer into mono samples without resampling.
//
// Stereo input is downmixed as sqrt(2) * (left + right) / 2. Mono input is returned
// as is. Layouts with more than two channels use channel 0 only. A zero SampleRate
// is treated as already at domain.SampleRate.
func Normalize(b Buffer) ([]float32, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	if len(b.Channels) != 2 {
		return b.Channels[0], nil
	}

	left, right := b.Channels[0], b.Channels[1]
	out := make([]float32, len(left))
	for i := range left {
		out[i] = stereoScale * (left[i] + right[i]) / 2
	}
	return out, nil
}

// Deinterleave splits interleaved frames into per-channel slices. Trailing samples
// that do not fill a whole frame are dropped.
func Deinterleave(samples []float32, channels int) [][]float32 {
	if channels <= 0 {
		return nil
	}
	frames := len(samples) / channels
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			out[c][i] = samples[i*channels+c]
		}
	}
	return out
}
