// Package pcm converts between float audio samples and the base64 PCM16
// blobs exchanged with the Live API.
package pcm

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

// Scale maps a float sample in [-1,1] onto the int16 range.
const Scale = 32768

// ErrMalformed marks an inbound blob that could not be decoded.
var ErrMalformed = errors.New("pcm: malformed blob")

// Blob is the wire representation of one audio chunk.
type Blob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Frame holds de-interleaved samples, one slice per channel.
type Frame struct {
	SampleRate int
	Channels   int
	Data       [][]float32
}

// Len returns the number of samples per channel.
func (f Frame) Len() int {
	if len(f.Data) == 0 {
		return 0
	}
	return len(f.Data[0])
}

// Duration is the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Len()) * time.Second / time.Duration(f.SampleRate)
}

// MIMEType returns the content type for raw PCM16 at the given rate.
func MIMEType(sampleRate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(sampleRate)
}

// ParseRate extracts the rate parameter from a MIME type such as
// "audio/pcm;rate=24000".
func ParseRate(mime string) (int, bool) {
	for _, p := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// toInt16 saturates instead of wrapping so that 1.0 stays positive.
func toInt16(s float32) int16 {
	v := float64(s) * Scale
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// EncodePCM16 packs samples as little-endian int16.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out
}

// DecodePCM16 unpacks little-endian int16 samples. The byte count must be even.
func DecodePCM16(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformed, len(b))
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

// EncodeFrame turns mono capture samples into a wire blob.
func EncodeFrame(samples []float32, sampleRate int) Blob {
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(EncodePCM16(samples)),
		MIMEType: MIMEType(sampleRate),
	}
}

// DecodeFrame reverses EncodeFrame for interleaved multi-channel audio.
// Sample i of channel c is read from wire index i*channels+c; a trailing
// incomplete group is ignored.
func DecodeFrame(b Blob, sampleRate, channels int) (Frame, error) {
	if channels <= 0 {
		channels = 1
	}
	raw, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ints, err := DecodePCM16(raw)
	if err != nil {
		return Frame{}, err
	}
	n := len(ints) / channels
	f := Frame{SampleRate: sampleRate, Channels: channels, Data: make([][]float32, channels)}
	for c := 0; c < channels; c++ {
		ch := make([]float32, n)
		for i := 0; i < n; i++ {
			ch[i] = float32(ints[i*channels+c]) / Scale
		}
		f.Data[c] = ch
	}
	return f, nil
}
