package voice

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyiyo/adsflex-assistant/internal/core/pcm"
)

// ── Microphone ────────────────────────────────────────────────────────────────

type fakeMic struct {
	startErr error
	starts   atomic.Int32
	stops    atomic.Int32

	mu     sync.Mutex
	frames chan []float32
}

func newFakeMic() *fakeMic { return &fakeMic{} }

func (m *fakeMic) Start(ctx context.Context) (<-chan []float32, error) {
	m.starts.Add(1)
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = make(chan []float32, 16)
	return m.frames, nil
}

func (m *fakeMic) Stop() error {
	m.stops.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frames != nil {
		close(m.frames)
		m.frames = nil
	}
	return nil
}

func (m *fakeMic) push(samples []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frames != nil {
		m.frames <- samples
	}
}

// ── Speaker ───────────────────────────────────────────────────────────────────

type playCall struct {
	frame pcm.Frame
	at    time.Duration
	ended func()
	voice *fakeVoice
}

type fakeVoice struct{ stopped atomic.Bool }

func (v *fakeVoice) Stop() { v.stopped.Store(true) }

type fakeSpeaker struct {
	mu    sync.Mutex
	now   time.Duration
	plays []playCall
}

func (s *fakeSpeaker) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeSpeaker) setNow(d time.Duration) {
	s.mu.Lock()
	s.now = d
	s.mu.Unlock()
}

func (s *fakeSpeaker) Play(f pcm.Frame, at time.Duration, ended func()) (Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &fakeVoice{}
	s.plays = append(s.plays, playCall{frame: f, at: at, ended: ended, voice: v})
	return v, nil
}

func (s *fakeSpeaker) calls() []playCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]playCall(nil), s.plays...)
}

// ── Transport ─────────────────────────────────────────────────────────────────

type fakeConn struct {
	in     chan ServerEvent
	errs   chan error
	sent   chan pcm.Blob
	closes atomic.Int32
	done   chan struct{}
	once   sync.Once

	// gate, when set, holds every Send until it is closed; Send then
	// returns sendErr.
	gate    chan struct{}
	sendErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan ServerEvent, 16),
		errs: make(chan error, 1),
		sent: make(chan pcm.Blob, 64),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, b pcm.Blob) error {
	if c.gate != nil {
		select {
		case <-c.gate:
			return c.sendErr
		case <-c.done:
			return io.ErrClosedPipe
		}
	}
	select {
	case c.sent <- b:
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	}
}

func (c *fakeConn) Recv(ctx context.Context) (ServerEvent, error) {
	select {
	case ev := <-c.in:
		return ev, nil
	case err := <-c.errs:
		return ServerEvent{}, err
	case <-c.done:
		return ServerEvent{}, io.EOF
	case <-ctx.Done():
		return ServerEvent{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.once.Do(func() { close(c.done) })
	return nil
}

type fakeTransport struct {
	mu        sync.Mutex
	conns     []*fakeConn
	err       error
	cfg       SessionConfig
	connected chan *fakeConn
	// ready, when true, queues a setup-complete event on every new conn.
	ready bool
	// sendGate and sendErr are copied onto every new conn.
	sendGate chan struct{}
	sendErr  error
}

func newFakeTransport(ready bool) *fakeTransport {
	return &fakeTransport{connected: make(chan *fakeConn, 4), ready: ready}
}

func (t *fakeTransport) Connect(ctx context.Context, cfg SessionConfig) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
	if t.err != nil {
		return nil, t.err
	}
	c := newFakeConn()
	c.gate, c.sendErr = t.sendGate, t.sendErr
	if t.ready {
		c.in <- ServerEvent{Kind: EventSetupComplete}
	}
	t.conns = append(t.conns, c)
	t.connected <- c
	return c, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func constFrame(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// blobOfDuration returns a mono 24 kHz blob lasting d.
func blobOfDuration(d time.Duration) pcm.Blob {
	n := int(d * 24000 / time.Second)
	return pcm.EncodeFrame(constFrame(n, 0.1), 24000)
}
