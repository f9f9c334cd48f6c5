package audio

import (
	"bytes"
	"math"
	"testing"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestMonoToChannels(t *testing.T) {
	t.Parallel()

	in := pcm16(100, -200)
	got := MonoToChannels(in, 2)
	want := pcm16(100, 100, -200, -200)
	if !bytes.Equal(got, want) {
		t.Errorf("MonoToChannels: got %v, want %v", got, want)
	}

	// n=1 must return the input unchanged.
	if !bytes.Equal(MonoToChannels(in, 1), in) {
		t.Error("MonoToChannels(n=1) should be identity")
	}
}

func TestStereoToMono_Averages(t *testing.T) {
	t.Parallel()

	in := pcm16(100, 300, -100, -300)
	got := StereoToMono(in)
	want := pcm16(200, -200)
	if !bytes.Equal(got, want) {
		t.Errorf("StereoToMono: got %v, want %v", got, want)
	}
}

func TestResampleNearestMono16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		in               []int16
		srcRate, dstRate int
		wantSamples      int
	}{
		{"upsample 2x", []int16{1, 2, 3, 4}, 8000, 16000, 8},
		{"downsample 2x", []int16{1, 2, 3, 4}, 16000, 8000, 2},
		{"equal rates", []int16{1, 2}, 16000, 16000, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ResampleNearestMono16(pcm16(tt.in...), tt.srcRate, tt.dstRate)
			if len(got)/2 != tt.wantSamples {
				t.Errorf("sample count: got %d, want %d", len(got)/2, tt.wantSamples)
			}
		})
	}
}

func TestResampleNearestMono16_UpsamplePicksNearest(t *testing.T) {
	t.Parallel()

	got := ResampleNearestMono16(pcm16(10, 20), 8000, 16000)
	want := pcm16(10, 10, 20, 20)
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFloat32ToInt16_Clamps(t *testing.T) {
	t.Parallel()

	// 1.5 must clamp to 32767, -1.5 to -32768.
	in := make([]byte, 8)
	putFloat32(in[0:], 1.5)
	putFloat32(in[4:], -1.5)
	got := Float32ToInt16(in)
	want := pcm16(32767, -32768)
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestChunkSampleCount(t *testing.T) {
	t.Parallel()

	c := Chunk{DType: DTypeInt16, Shape: []int{960}}
	if got := c.SampleCount(); got != 960 {
		t.Errorf("SampleCount: got %d, want 960", got)
	}
	if got := (Chunk{}).SampleCount(); got != 0 {
		t.Errorf("empty chunk SampleCount: got %d, want 0", got)
	}
}

func putFloat32(buf []byte, f float32) {
	bits := math.Float32bits(f)
	buf[0] = byte(bits)
	buf[1] = byte(bits >> 8)
	buf[2] = byte(bits >> 16)
	buf[3] = byte(bits >> 24)
}
