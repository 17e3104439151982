package ws

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyiyo/adsflex-assistant/internal/core/pcm"
	"github.com/steveyiyo/adsflex-assistant/internal/core/voice"
	"github.com/steveyiyo/adsflex-assistant/pkg/types"
)

// ErrMicBusy is returned when the microphone is started twice.
var ErrMicBusy = voice.ErrMicrophoneBusy

// Sender is the write side of a widget connection.
type Sender interface {
	Send(v any) error
}

// Bridge exposes the browser on the other end of a widget connection as a
// voice.Microphone and a voice.Speaker. The connection's read loop feeds it
// with HandlePermission and HandleSamples.
type Bridge struct {
	out   Sender
	start time.Time
	seq   atomic.Uint64

	mu      sync.Mutex
	pending chan bool
	mic     *micStream
	closed  bool
}

type micStream struct {
	ch   chan []float32
	done chan struct{}
	once sync.Once
	// senders counts HandleSamples calls that may still write to ch.
	senders sync.WaitGroup
}

func (m *micStream) stop() { m.once.Do(func() { close(m.done) }) }

func NewBridge(out Sender) *Bridge {
	return &Bridge{out: out, start: time.Now()}
}

func (b *Bridge) Microphone() voice.Microphone { return (*browserMic)(b) }
func (b *Bridge) Speaker() voice.Speaker       { return (*browserSpeaker)(b) }

// HandlePermission delivers the widget's answer to a mic_request.
func (b *Bridge) HandlePermission(granted bool) {
	b.mu.Lock()
	p := b.pending
	b.pending = nil
	b.mu.Unlock()
	if p != nil {
		p <- granted
	}
}

// HandleSamples decodes a binary frame of little-endian float32 samples and
// forwards it to the running microphone. Frames arriving while the
// microphone is stopped are discarded.
func (b *Bridge) HandleSamples(data []byte) error {
	if len(data)%4 != 0 {
		return fmt.Errorf("ws: sample frame of %d bytes: %w", len(data), pcm.ErrMalformed)
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}

	b.mu.Lock()
	m := b.mic
	if m == nil {
		b.mu.Unlock()
		return nil
	}
	m.senders.Add(1)
	b.mu.Unlock()
	defer m.senders.Done()

	select {
	case m.ch <- samples:
	case <-m.done:
	}
	return nil
}

// Close stops the microphone and fails any pending permission request.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	m := b.mic
	b.mu.Unlock()
	b.HandlePermission(false)
	b.releaseMic(m)
}

// releaseMic detaches m, waits for in-flight senders to observe done and
// closes the sample channel.
func (b *Bridge) releaseMic(m *micStream) {
	if m == nil {
		return
	}
	b.mu.Lock()
	if b.mic != m {
		b.mu.Unlock()
		return
	}
	b.mic = nil
	b.mu.Unlock()
	m.stop()
	m.senders.Wait()
	close(m.ch)
}

type browserMic Bridge

// Start asks the widget for microphone access and waits for the answer.
func (m *browserMic) Start(ctx context.Context) (<-chan []float32, error) {
	b := (*Bridge)(m)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, voice.ErrClosed
	}
	if b.mic != nil || b.pending != nil {
		b.mu.Unlock()
		return nil, ErrMicBusy
	}
	answer := make(chan bool, 1)
	b.pending = answer
	b.mu.Unlock()

	if err := b.out.Send(types.Msg{Type: types.MsgMicRequest}); err != nil {
		b.HandlePermission(false)
		return nil, err
	}

	var granted bool
	select {
	case granted = <-answer:
	case <-ctx.Done():
		b.mu.Lock()
		if b.pending == answer {
			b.pending = nil
		}
		b.mu.Unlock()
		return nil, ctx.Err()
	}
	if !granted {
		return nil, voice.ErrPermissionDenied
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, voice.ErrClosed
	}
	s := &micStream{ch: make(chan []float32, 16), done: make(chan struct{})}
	b.mic = s
	return s.ch, nil
}

// Stop releases the microphone. The sample channel is closed.
func (m *browserMic) Stop() error {
	b := (*Bridge)(m)
	b.mu.Lock()
	s := b.mic
	b.mu.Unlock()
	if s == nil {
		return nil
	}
	b.releaseMic(s)
	return b.out.Send(types.Msg{Type: types.MsgMicRelease})
}

type browserSpeaker Bridge

// Now is the time since the bridge was created.
func (sp *browserSpeaker) Now() time.Duration {
	return time.Since(sp.start)
}

// Play sends f to the widget for playback at the given offset on the bridge
// clock. ended runs once the buffer's end time passes, unless the voice is
// stopped first.
func (sp *browserSpeaker) Play(f pcm.Frame, at time.Duration, ended func()) (voice.Voice, error) {
	b := (*Bridge)(sp)
	id := b.seq.Add(1)
	dur := f.Duration()
	msg := types.AudioMsg{
		Type:       types.MsgAudio,
		ID:         id,
		AtMs:       at.Milliseconds(),
		DurationMs: dur.Milliseconds(),
		MIME:       pcm.MIMEType(f.SampleRate),
		Channels:   f.Channels,
		Data:       base64.StdEncoding.EncodeToString(pcm.EncodePCM16(interleave(f))),
	}
	if err := b.out.Send(msg); err != nil {
		return nil, err
	}
	v := &remoteVoice{id: id, out: b.out}
	wait := at + dur - sp.Now()
	v.timer = time.AfterFunc(max(wait, 0), func() {
		if v.stopped.CompareAndSwap(false, true) && ended != nil {
			ended()
		}
	})
	return v, nil
}

func interleave(f pcm.Frame) []float32 {
	n := f.Len()
	out := make([]float32, 0, n*len(f.Data))
	for i := 0; i < n; i++ {
		for _, ch := range f.Data {
			out = append(out, ch[i])
		}
	}
	return out
}

type remoteVoice struct {
	id      uint64
	out     Sender
	timer   *time.Timer
	stopped atomic.Bool
}

func (v *remoteVoice) Stop() {
	if !v.stopped.CompareAndSwap(false, true) {
		return
	}
	v.timer.Stop()
	v.out.Send(types.StopMsg{Type: types.MsgStop, ID: v.id})
}
