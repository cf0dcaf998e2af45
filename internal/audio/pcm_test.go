package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestEncodePCM16_KnownValues(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1, 1.5, -1.5, 0.00002}
	want := []int16{0, 16384, -16384, 32767, -32768, 32767, -32768, 0}

	got := bytesToSamples(EncodePCM16(in))
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEncodeDecode_WithinOneStep(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	in := make([]float32, 10000)
	for i := range in {
		in[i] = rng.Float32()*2 - 1
	}
	in[0], in[1], in[2] = 1, -1, 0

	buf, err := DecodePCM16(EncodePCM16(in), InputSampleRate, 1)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if buf.Frames() != len(in) {
		t.Fatalf("frames: got %d, want %d", buf.Frames(), len(in))
	}

	step := 1.0 / pcmScale
	for i, s := range in {
		diff := math.Abs(float64(buf.Channels[0][i]) - float64(s))
		if diff > step+1e-9 {
			t.Fatalf("sample %d: %f decoded as %f (diff %g)", i, s, buf.Channels[0][i], diff)
		}
	}
}

func TestDecodePCM16_Stereo(t *testing.T) {
	// Interleaved L/R frames: (0.5, -0.5), (0, 0.25)
	samples := []int16{16384, -16384, 0, 8192}
	data := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}

	buf, err := DecodePCM16(data, OutputSampleRate, 2)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if len(buf.Channels) != 2 || buf.Frames() != 2 {
		t.Fatalf("unexpected shape: %d channels, %d frames", len(buf.Channels), buf.Frames())
	}
	if buf.Channels[0][0] != 0.5 || buf.Channels[1][0] != -0.5 {
		t.Errorf("frame 0: got %v/%v", buf.Channels[0][0], buf.Channels[1][0])
	}
	if buf.Channels[0][1] != 0 || buf.Channels[1][1] != 0.25 {
		t.Errorf("frame 1: got %v/%v", buf.Channels[0][1], buf.Channels[1][1])
	}
}

func TestDecodePCM16_Errors(t *testing.T) {
	if _, err := DecodePCM16([]byte{1, 2, 3}, OutputSampleRate, 1); !errors.Is(err, ErrOddLength) {
		t.Errorf("odd length: got %v, want ErrOddLength", err)
	}
	if _, err := DecodePCM16([]byte{1, 2}, OutputSampleRate, 0); err == nil {
		t.Error("expected error for zero channels")
	}
	if _, err := DecodePCM16([]byte{1, 2}, 0, 1); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := DecodeBase64("not base64!!", OutputSampleRate, 1); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestFrame_Base64AndMIME(t *testing.T) {
	frame := NewFrame([]float32{0.5, -0.5}, InputSampleRate)
	if got := frame.MIMEType(); got != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType: got %q", got)
	}
	if frame.Samples() != 2 {
		t.Errorf("Samples: got %d, want 2", frame.Samples())
	}

	buf, err := DecodeBase64(frame.Base64(), InputSampleRate, 1)
	if err != nil {
		t.Fatalf("DecodeBase64: %v", err)
	}
	if buf.Channels[0][0] != 0.5 || buf.Channels[0][1] != -0.5 {
		t.Errorf("decoded samples: got %v", buf.Channels[0])
	}
}

func TestBuffer_Duration(t *testing.T) {
	buf := &Buffer{SampleRate: OutputSampleRate, Channels: [][]float32{make([]float32, 12000)}}
	if got := buf.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration: got %v, want 500ms", got)
	}

	var empty *Buffer
	if empty.Duration() != 0 {
		t.Error("nil buffer should have zero duration")
	}
}

func TestParseSampleRate(t *testing.T) {
	cases := []struct {
		mime string
		want int
	}{
		{"audio/pcm;rate=24000", 24000},
		{"audio/pcm; rate=16000", 16000},
		{"audio/pcm", 24000},
		{"audio/pcm;rate=abc", 24000},
		{"", 24000},
	}
	for _, tc := range cases {
		if got := ParseSampleRate(tc.mime, OutputSampleRate); got != tc.want {
			t.Errorf("ParseSampleRate(%q): got %d, want %d", tc.mime, got, tc.want)
		}
	}
}

func TestResample(t *testing.T) {
	in := []float32{0, 1, 0, -1}
	if out := Resample(in, 16000, 16000); len(out) != len(in) {
		t.Fatalf("same rate: got %d samples, want %d", len(out), len(in))
	}

	down := Resample(make([]float32, 4800), 48000, 16000)
	if len(down) != 1600 {
		t.Errorf("48k->16k: got %d samples, want 1600", len(down))
	}

	up := Resample([]float32{0, 1}, 8000, 16000)
	if len(up) != 4 {
		t.Fatalf("8k->16k: got %d samples, want 4", len(up))
	}
	if up[0] != 0 || up[1] != 0.5 || up[2] != 1 {
		t.Errorf("interpolation: got %v", up)
	}
}

func TestFloat32Bytes(t *testing.T) {
	in := []float32{0.25, -1, 0.999}
	out, err := Float32FromBytes(Float32ToBytes(in))
	if err != nil {
		t.Fatalf("Float32FromBytes: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := Float32FromBytes([]byte{1, 2, 3}); !errors.Is(err, ErrOddLength) {
		t.Errorf("expected ErrOddLength, got %v", err)
	}
}
