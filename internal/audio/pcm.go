package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// InputSampleRate is the rate the live model expects for microphone audio.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of synthesized speech returned by the live model.
	OutputSampleRate = 24000

	// BlockSize is the number of samples per capture callback.
	BlockSize = 4096

	bytesPerSample = 2
	pcmScale       = 32768.0
)

// ErrOddLength is returned when a PCM payload does not hold whole 16-bit samples.
var ErrOddLength = errors.New("audio: pcm payload length is not a multiple of the frame size")

// AudioFrame is a block of 16-bit signed little-endian PCM samples ready for transport.
type AudioFrame struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// NewFrame converts mono float samples into a PCM frame at the given rate.
func NewFrame(samples []float32, sampleRate int) AudioFrame {
	return AudioFrame{
		Data:       EncodePCM16(samples),
		SampleRate: sampleRate,
		Channels:   1,
	}
}

// MIMEType describes the frame so the receiver needs no handshake.
func (f AudioFrame) MIMEType() string {
	return PCMMIMEType(f.SampleRate)
}

// Base64 returns the frame payload encoded for JSON transport.
func (f AudioFrame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.Data)
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	return len(f.Data) / (bytesPerSample * channels)
}

// PCMMIMEType formats the MIME descriptor used by the live endpoint.
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// ParseSampleRate extracts the rate parameter from a PCM MIME type. The
// fallback is returned when the parameter is missing or malformed.
func ParseSampleRate(mimeType string, fallback int) int {
	for _, param := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		rate, err := strconv.Atoi(value)
		if err != nil || rate <= 0 {
			return fallback
		}
		return rate
	}
	return fallback
}

// EncodePCM16 scales samples in [-1, 1] by 32768, truncates toward zero and
// clamps to the int16 range.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		v := float64(s) * pcmScale
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(v)))
	}
	return out
}

// Buffer is decoded audio ready for playback, one float slice per channel.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration is the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// PCM16 re-encodes the buffer as interleaved little-endian int16.
func (b *Buffer) PCM16() []byte {
	frames := b.Frames()
	channels := len(b.Channels)
	interleaved := make([]float32, frames*channels)
	for ch, data := range b.Channels {
		for i, s := range data {
			interleaved[i*channels+ch] = s
		}
	}
	return EncodePCM16(interleaved)
}

// DecodePCM16 turns interleaved little-endian int16 samples into a playable
// buffer, scaling each sample by 1/32768.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	if len(data)%(bytesPerSample*channels) != 0 {
		return nil, ErrOddLength
	}

	frameCount := len(data) / (bytesPerSample * channels)
	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frameCount)
	}
	for i := 0; i < frameCount; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * bytesPerSample
			sample := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Channels[ch][i] = float32(sample) / pcmScale
		}
	}
	return buf, nil
}

// DecodeBase64 decodes a base64 PCM payload as received from the live endpoint.
func DecodeBase64(payload string, sampleRate, channels int) (*Buffer, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64 payload: %w", err)
	}
	return DecodePCM16(data, sampleRate, channels)
}

// Resample converts mono float samples between rates using linear
// interpolation. The input is returned unchanged when the rates match.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(toRate) / float64(fromRate)
	outLen := len(samples) * toRate / fromRate
	out := make([]float32, outLen)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) / ratio
		idx0 := int(pos)
		if idx0 > last {
			idx0 = last
		}
		idx1 := idx0 + 1
		if idx1 > last {
			idx1 = last
		}
		frac := float32(pos - float64(idx0))
		out[i] = samples[idx0]*(1-frac) + samples[idx1]*frac
	}
	return out
}

// Float32FromBytes reads little-endian IEEE-754 float32 samples, the format
// clients use for raw microphone blocks.
func Float32FromBytes(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// Float32ToBytes is the inverse of Float32FromBytes.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
