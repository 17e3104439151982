package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/steveyiyo/adsflex-assistant/internal/core/pcm"
	"github.com/steveyiyo/adsflex-assistant/internal/metrics"
)

type rig struct {
	mic       *fakeMic
	speaker   *fakeSpeaker
	transport *fakeTransport
	metrics   *metrics.Metrics
	ctrl      *Controller

	mu     sync.Mutex
	states []State
}

func newRig(t *testing.T, ready bool, opts ...Option) *rig {
	t.Helper()
	r := &rig{
		mic:       newFakeMic(),
		speaker:   &fakeSpeaker{},
		transport: newFakeTransport(ready),
		metrics:   metrics.Discard(),
	}
	sched := NewScheduler(r.speaker, 24000, 1, nil, r.metrics)
	opts = append([]Option{
		WithMetrics(r.metrics),
		OnStateChange(func(s State, _ error) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		}),
	}, opts...)
	r.ctrl = NewController(r.transport, r.mic, sched, SessionConfig{Instructions: "be brief", Voice: "Puck"}, opts...)
	t.Cleanup(func() { r.ctrl.Close() })
	return r
}

func (r *rig) seen() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *rig) state() State {
	s, _ := r.ctrl.State()
	return s
}

func (r *rig) openActive(t *testing.T) *fakeConn {
	t.Helper()
	if err := r.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return <-r.transport.connected
}

func TestControllerBuffersFramesUntilActive(t *testing.T) {
	r := newRig(t, false)

	opened := make(chan error, 1)
	go func() { opened <- r.ctrl.Open(context.Background()) }()
	conn := <-r.transport.connected

	if got := r.state(); got != StateConnecting {
		t.Fatalf("state = %v, want connecting", got)
	}
	for i := 1; i <= 3; i++ {
		r.mic.push(constFrame(4096, float32(i)/10))
	}
	waitFor(t, "3 buffered frames", func() bool { return testutil.ToFloat64(r.metrics.FramesBuffered) == 3 })
	select {
	case b := <-conn.sent:
		t.Fatalf("frame sent before handshake: %v", b.MIMEType)
	default:
	}

	conn.in <- ServerEvent{Kind: EventSetupComplete}
	if err := <-opened; err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := r.state(); got != StateActive {
		t.Fatalf("state = %v, want active", got)
	}

	for i := 1; i <= 3; i++ {
		select {
		case b := <-conn.sent:
			f, err := pcm.DecodeFrame(b, 16000, 1)
			if err != nil {
				t.Fatal(err)
			}
			if f.Len() != 4096 {
				t.Errorf("frame %d has %d samples", i, f.Len())
			}
			want := float32(i) / 10
			if d := f.Data[0][0] - want; d > 1.0/pcm.Scale || d < -1.0/pcm.Scale {
				t.Errorf("frame %d out of order: first sample %v, want %v", i, f.Data[0][0], want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("frame %d never sent", i)
		}
	}

	// Frames captured after the handshake go straight out.
	r.mic.push(constFrame(4096, 0.9))
	select {
	case <-conn.sent:
	case <-time.After(3 * time.Second):
		t.Fatal("post-handshake frame never sent")
	}

	want := []State{StateConnecting, StateActive}
	if got := r.seen(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestControllerSendsSessionConfig(t *testing.T) {
	r := newRig(t, true)
	r.openActive(t)
	if r.transport.cfg.Instructions != "be brief" || r.transport.cfg.Voice != "Puck" {
		t.Errorf("cfg = %+v", r.transport.cfg)
	}
	if len(r.transport.cfg.Modalities) != 1 || r.transport.cfg.Modalities[0] != "AUDIO" {
		t.Errorf("modalities = %v", r.transport.cfg.Modalities)
	}
}

func TestControllerCloseIsIdempotent(t *testing.T) {
	r := newRig(t, true)
	conn := r.openActive(t)

	r.ctrl.Close()
	r.ctrl.Close()

	if got := r.state(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if n := r.mic.stops.Load(); n != 1 {
		t.Errorf("microphone released %d times, want 1", n)
	}
	if n := conn.closes.Load(); n != 1 {
		t.Errorf("transport closed %d times, want 1", n)
	}
	if got := testutil.ToFloat64(r.metrics.ActiveSessions); got != 0 {
		t.Errorf("active sessions gauge = %v", got)
	}
}

func TestControllerReopenAfterClose(t *testing.T) {
	r := newRig(t, true)
	r.openActive(t)
	r.ctrl.Close()

	conn := r.openActive(t)
	if got := r.state(); got != StateActive {
		t.Fatalf("state after reopen = %v", got)
	}
	r.mic.push(constFrame(4096, 0.5))
	select {
	case <-conn.sent:
	case <-time.After(3 * time.Second):
		t.Fatal("reopened session does not transmit")
	}
}

func TestControllerOpenWhileLive(t *testing.T) {
	r := newRig(t, true)
	r.openActive(t)
	if err := r.ctrl.Open(context.Background()); !errors.Is(err, ErrSessionOpen) {
		t.Errorf("second Open err = %v, want ErrSessionOpen", err)
	}
}

func TestControllerTransportErrorMidSession(t *testing.T) {
	r := newRig(t, true)
	conn := r.openActive(t)

	conn.in <- ServerEvent{Kind: EventAudio, Audio: []pcm.Blob{
		blobOfDuration(time.Second),
		blobOfDuration(time.Second),
	}}
	waitFor(t, "scheduled playback", func() bool { return r.ctrl.Playback().Active() == 2 })

	conn.errs <- errors.New("connection reset by peer")
	waitFor(t, "errored state", func() bool { return r.state() == StateErrored })

	_, err := r.ctrl.State()
	if !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
	if n := r.mic.stops.Load(); n != 1 {
		t.Errorf("microphone released %d times, want 1", n)
	}
	if n := r.ctrl.Playback().Active(); n != 0 {
		t.Errorf("active playback = %d, want 0", n)
	}
	for i, c := range r.speaker.calls() {
		if !c.voice.stopped.Load() {
			t.Errorf("voice %d still playing", i)
		}
	}
	if conn.closes.Load() != 1 {
		t.Error("transport not released")
	}

	// Close after an error changes nothing.
	r.ctrl.Close()
	if got := r.state(); got != StateErrored {
		t.Errorf("state after Close = %v", got)
	}
	if n := r.mic.stops.Load(); n != 1 {
		t.Errorf("microphone released %d times after Close", n)
	}
}

func TestControllerRemoteCloseEndsSession(t *testing.T) {
	r := newRig(t, true)
	conn := r.openActive(t)
	conn.errs <- io.EOF
	waitFor(t, "closed state", func() bool { return r.state() == StateClosed })
	if n := r.mic.stops.Load(); n != 1 {
		t.Errorf("microphone released %d times", n)
	}
}

func TestControllerSendFailureWithFullQueues(t *testing.T) {
	r := newRig(t, true, WithFrameSize(8), WithOutboundQueue(2))
	gate := make(chan struct{})
	r.transport.sendGate = gate
	r.transport.sendErr = errors.New("broken pipe")
	conn := r.openActive(t)

	conn.in <- ServerEvent{Kind: EventAudio, Audio: []pcm.Blob{blobOfDuration(time.Second)}}
	waitFor(t, "scheduled playback", func() bool { return r.ctrl.Playback().Active() == 1 })

	// One frame in Send, two queued, one held by dispatch, the rest backed
	// up in the event queue.
	for range 22 {
		r.mic.push(constFrame(8, 0.2))
	}
	waitFor(t, "full event queue", func() bool {
		r.ctrl.mu.Lock()
		s := r.ctrl.sess
		r.ctrl.mu.Unlock()
		return len(s.events) == cap(s.events)
	})
	close(gate)

	waitFor(t, "errored state", func() bool { return r.state() == StateErrored })
	if _, err := r.ctrl.State(); !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
	waitFor(t, "microphone released", func() bool { return r.mic.stops.Load() == 1 })
	if n := r.ctrl.Playback().Active(); n != 0 {
		t.Errorf("active playback = %d, want 0", n)
	}
	if got := testutil.ToFloat64(r.metrics.SendErrors); got != 1 {
		t.Errorf("send errors = %v, want 1", got)
	}
}

func TestControllerPermissionDenied(t *testing.T) {
	r := newRig(t, true)
	r.mic.startErr = ErrPermissionDenied

	err := r.ctrl.Open(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if got := r.state(); got != StateErrored {
		t.Errorf("state = %v, want errored", got)
	}
	if len(r.transport.conns) != 0 {
		t.Error("transport dialled without a microphone")
	}
	if n := r.mic.stops.Load(); n != 0 {
		t.Errorf("unacquired microphone released %d times", n)
	}
}

func TestControllerWrapsMicrophoneFailure(t *testing.T) {
	r := newRig(t, true)
	r.mic.startErr = errors.New("no input device")
	if err := r.ctrl.Open(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestControllerKeepsMicrophoneBusy(t *testing.T) {
	r := newRig(t, true)
	r.mic.startErr = fmt.Errorf("bridge: %w", ErrMicrophoneBusy)
	err := r.ctrl.Open(context.Background())
	if !errors.Is(err, ErrMicrophoneBusy) || errors.Is(err, ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrMicrophoneBusy only", err)
	}
	if got := r.state(); got != StateErrored {
		t.Errorf("state = %v, want errored", got)
	}
}

func TestControllerConnectFailure(t *testing.T) {
	r := newRig(t, true)
	r.transport.err = errors.New("dial tcp: no route to host")

	err := r.ctrl.Open(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if got := r.state(); got != StateErrored {
		t.Errorf("state = %v, want errored", got)
	}
	if n := r.mic.stops.Load(); n != 1 {
		t.Errorf("microphone released %d times, want 1", n)
	}
	if got := testutil.ToFloat64(r.metrics.SessionsErrored.WithLabelValues("transport")); got != 1 {
		t.Errorf("errored counter = %v", got)
	}
}

func TestControllerCancelWhileConnecting(t *testing.T) {
	r := newRig(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	opened := make(chan error, 1)
	go func() { opened <- r.ctrl.Open(ctx) }()
	conn := <-r.transport.connected
	cancel()

	if err := <-opened; !errors.Is(err, context.Canceled) {
		t.Fatalf("Open err = %v, want context.Canceled", err)
	}
	if got := r.state(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if n := r.mic.stops.Load(); n != 1 {
		t.Errorf("microphone released %d times", n)
	}
	if conn.closes.Load() != 1 {
		t.Error("transport not released")
	}
}

func TestControllerCloseWhileConnecting(t *testing.T) {
	r := newRig(t, false)
	opened := make(chan error, 1)
	go func() { opened <- r.ctrl.Open(context.Background()) }()
	<-r.transport.connected

	r.ctrl.Close()
	if err := <-opened; !errors.Is(err, ErrClosed) {
		t.Errorf("Open err = %v, want ErrClosed", err)
	}
}

func TestControllerSkipsMalformedAudio(t *testing.T) {
	r := newRig(t, true)
	conn := r.openActive(t)

	conn.in <- ServerEvent{Kind: EventAudio, Audio: []pcm.Blob{
		{Data: "not base64!", MIMEType: "audio/pcm;rate=24000"},
		blobOfDuration(100 * time.Millisecond),
	}}
	waitFor(t, "good blob scheduled", func() bool { return r.ctrl.Playback().Active() == 1 })
	if got := r.state(); got != StateActive {
		t.Errorf("state = %v, want active", got)
	}
	if got := testutil.ToFloat64(r.metrics.DecodeErrors); got != 1 {
		t.Errorf("decode errors = %v", got)
	}
}

func TestControllerInterruptStopsPlayback(t *testing.T) {
	r := newRig(t, true)
	conn := r.openActive(t)

	conn.in <- ServerEvent{Kind: EventAudio, Audio: []pcm.Blob{blobOfDuration(time.Second)}}
	waitFor(t, "scheduled playback", func() bool { return r.ctrl.Playback().Active() == 1 })
	conn.in <- ServerEvent{Kind: EventInterrupted}
	waitFor(t, "playback stopped", func() bool { return r.ctrl.Playback().Active() == 0 })
	if got := r.state(); got != StateActive {
		t.Errorf("state = %v, want active", got)
	}
}

func TestControllerForwardsTranscripts(t *testing.T) {
	got := make(chan string, 1)
	r := newRig(t, true, OnTranscript(func(role, text string) { got <- role + ":" + text }))
	conn := r.openActive(t)

	conn.in <- ServerEvent{Kind: EventTranscript, Role: "assistant", Text: "hello"}
	select {
	case s := <-got:
		if s != "assistant:hello" {
			t.Errorf("transcript = %q", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no transcript")
	}
}
