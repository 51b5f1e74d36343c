package audio

import (
	"errors"
	"math"
	"testing"
)

// TestNormalizeStereoDownmix verifies the sqrt(2) scaled downmix.
func TestNormalizeStereoDownmix(t *testing.T) {
	got, err := Normalize(Stereo([]float32{1, 1}, []float32{1, 1}))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for i, v := range got {
		if math.Abs(float64(v)-math.Sqrt2) > 1e-6 {
			t.Fatalf("out[%d] = %v, want %v", i, v, math.Sqrt2)
		}
	}
}

// TestNormalizeStereoIsNotAnAverage checks asymmetric channels against the formula.
func TestNormalizeStereoIsNotAnAverage(t *testing.T) {
	left := []float32{0.5, -0.25, 0}
	right := []float32{0.1, -0.25, 0.3}

	got, err := Normalize(Stereo(left, right))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	for i := range left {
		want := math.Sqrt2 * float64(left[i]+right[i]) / 2
		if math.Abs(float64(got[i])-want) > 1e-6 {
			t.Fatalf("out[%d] = %v, want %v", i, got[i], want)
		}
	}
}

// TestNormalizeMonoPassThrough verifies single-channel input is returned unchanged.
func TestNormalizeMonoPassThrough(t *testing.T) {
	in := []float32{0.1, 0.2, -0.3}
	got, err := Normalize(Mono(in))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if &got[0] != &in[0] {
		t.Fatal("expected mono samples to be passed through without copying")
	}
}

// TestNormalizeMultichannelUsesFirstChannel checks the >2 channel policy.
func TestNormalizeMultichannelUsesFirstChannel(t *testing.T) {
	b := Buffer{Channels: [][]float32{{1, 2}, {3, 4}, {5, 6}}}
	got, err := Normalize(b)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v, want channel 0", got)
	}
}

// TestNormalizeRejectsInvalidBuffers covers the error cases.
func TestNormalizeRejectsInvalidBuffers(t *testing.T) {
	tests := []struct {
		name string
		buf  Buffer
		want error
	}{
		{name: "no channels", buf: Buffer{}, want: ErrNoChannels},
		{name: "stereo mismatch", buf: Stereo([]float32{1, 2}, []float32{1}), want: ErrChannelMismatch},
		{name: "wrong rate", buf: Buffer{SampleRate: 44100, Channels: [][]float32{{1}}}, want: ErrSampleRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Normalize(tt.buf); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDeinterleave(t *testing.T) {
	got := Deinterleave([]float32{1, 2, 3, 4, 5, 6, 7}, 2)
	if len(got) != 2 || len(got[0]) != 3 {
		t.Fatalf("unexpected shape: %v", got)
	}
	if got[0][2] != 5 || got[1][2] != 6 {
		t.Fatalf("unexpected frames: %v", got)
	}
}
