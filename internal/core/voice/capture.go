package voice

import (
	"context"
	"log/slog"

	"github.com/steveyiyo/adsflex-assistant/internal/core/pcm"
)

// Capture re-blocks microphone chunks into fixed-size frames and hands each
// encoded frame to Submit in capture order.
type Capture struct {
	FrameSize  int
	SampleRate int
	// Submit must not block on the network.
	Submit func(pcm.Blob)
	Log    *slog.Logger

	buf []float32
}

// Run consumes in until it is closed or ctx ends. Samples that do not fill a
// whole frame when the input stops are discarded.
func (c *Capture) Run(ctx context.Context, in <-chan []float32) {
	size := c.FrameSize
	if size <= 0 {
		size = DefaultFrameSize
	}
	rate := c.SampleRate
	if rate <= 0 {
		rate = DefaultCaptureRate
	}
	if c.buf == nil {
		c.buf = make([]float32, 0, size)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-in:
			if !ok {
				if len(c.buf) > 0 && c.Log != nil {
					c.Log.Debug("capture stopped with partial frame", "samples", len(c.buf))
				}
				c.buf = c.buf[:0]
				return
			}
			c.push(chunk, size, rate)
		}
	}
}

func (c *Capture) push(chunk []float32, size, rate int) {
	for len(chunk) > 0 {
		n := min(size-len(c.buf), len(chunk))
		c.buf = append(c.buf, chunk[:n]...)
		chunk = chunk[n:]
		if len(c.buf) == size {
			c.Submit(pcm.EncodeFrame(c.buf, rate))
			c.buf = c.buf[:0]
		}
	}
}
