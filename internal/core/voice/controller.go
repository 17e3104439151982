package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/steveyiyo/adsflex-assistant/internal/core/pcm"
	"github.com/steveyiyo/adsflex-assistant/internal/metrics"
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.log = l } }

// WithMetrics sets the collectors updated by the controller.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// WithFrameSize sets the capture block size in samples.
func WithFrameSize(n int) Option { return func(c *Controller) { c.frameSize = n } }

// WithCaptureRate sets the microphone sample rate.
func WithCaptureRate(hz int) Option { return func(c *Controller) { c.captureRate = hz } }

// WithOutboundQueue sets how many encoded frames may wait for the sender.
func WithOutboundQueue(n int) Option { return func(c *Controller) { c.queueSize = n } }

// OnStateChange registers a callback for every state transition. Callbacks are
// delivered in transition order and must not call Open or Close.
func OnStateChange(fn func(State, error)) Option { return func(c *Controller) { c.onState = fn } }

// OnTranscript registers a callback for transcript text from the session.
func OnTranscript(fn func(role, text string)) Option {
	return func(c *Controller) { c.onTranscript = fn }
}

// Controller owns the lifecycle of at most one live session and coordinates
// capture and playback against it.
type Controller struct {
	transport Transport
	mic       Microphone
	scheduler *Scheduler
	cfg       SessionConfig

	frameSize    int
	captureRate  int
	queueSize    int
	log          *slog.Logger
	metrics      *metrics.Metrics
	onState      func(State, error)
	onTranscript func(role, text string)

	mu       sync.Mutex
	notifyMu sync.Mutex
	state    State
	err      error
	sess     *session
}

// NewController wires a transport, microphone and playback scheduler.
func NewController(t Transport, mic Microphone, sched *Scheduler, cfg SessionConfig, opts ...Option) *Controller {
	c := &Controller{
		transport:   t,
		mic:         mic,
		scheduler:   sched,
		cfg:         cfg,
		frameSize:   DefaultFrameSize,
		captureRate: DefaultCaptureRate,
		queueSize:   64,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "voice")
	if c.metrics == nil {
		c.metrics = metrics.Discard()
	}
	if len(c.cfg.Modalities) == 0 {
		c.cfg.Modalities = []string{"AUDIO"}
	}
	return c
}

// State returns the current state and, when errored, its cause.
func (c *Controller) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.err
}

// Playback exposes the scheduler driven by this controller.
func (c *Controller) Playback() *Scheduler { return c.scheduler }

type eventKind int

const (
	evFrame eventKind = iota
	evServer
)

type event struct {
	kind eventKind
	blob pcm.Blob
	msg  ServerEvent
}

// session holds everything that belongs to one Open call. Goroutines keep a
// pointer to their own session, so late callbacks from an old session never
// touch a newer one.
type session struct {
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	events   chan event
	outbound chan pcm.Blob

	ready     chan struct{}
	readyOnce sync.Once
	openErr   error
	cleanup   sync.Once

	mu      sync.Mutex
	torn    bool
	micHeld bool
	conn    Conn

	// owned by the dispatch goroutine
	active  bool
	pending []pcm.Blob
}

func (s *session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) enqueue(b pcm.Blob) bool {
	select {
	case s.outbound <- b:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *session) markReady(err error) {
	s.readyOnce.Do(func() {
		s.openErr = err
		close(s.ready)
	})
}

// bound derives a context cancelled by either ctx or the session ending.
func (s *session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Open acquires the microphone, connects and blocks until the remote session
// confirms setup. Frames captured before that are buffered and flushed in
// order. Cancelling ctx while connecting closes the session.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Live() {
		c.mu.Unlock()
		return ErrSessionOpen
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:       "live_" + uuid.NewString(),
		ctx:      sctx,
		cancel:   cancel,
		events:   make(chan event, 16),
		outbound: make(chan pcm.Blob, c.queueSize),
		ready:    make(chan struct{}),
	}
	c.sess = s
	c.metrics.ActiveSessions.Inc()
	c.setLocked(StateConnecting, nil)

	log := c.log.With("session", s.id)
	log.Info("opening live session")

	micCtx, done := s.bound(ctx)
	frames, err := c.mic.Start(micCtx)
	done()
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrMicrophoneBusy) &&
			ctx.Err() == nil && s.ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return c.abort(ctx, s, err)
	}
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		c.stopMic(log)
		return ErrClosed
	}
	s.micHeld = true
	s.mu.Unlock()

	go c.dispatch(s)
	capture := &Capture{
		FrameSize:  c.frameSize,
		SampleRate: c.captureRate,
		Submit:     func(b pcm.Blob) { s.post(event{kind: evFrame, blob: b}) },
		Log:        log,
	}
	go capture.Run(s.ctx, frames)

	dialCtx, done := s.bound(ctx)
	conn, err := c.transport.Connect(dialCtx, c.cfg)
	done()
	if err != nil {
		return c.abort(ctx, s, fmt.Errorf("%w: connect: %w", ErrTransport, err))
	}
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()

	go c.recvLoop(s, conn)
	go c.sendLoop(s, conn)

	select {
	case <-s.ready:
		return s.openErr
	case <-ctx.Done():
		if c.cancelOpen(s) {
			return ctx.Err()
		}
		<-s.ready
		return s.openErr
	}
}

// abort ends a session that failed before becoming active.
func (c *Controller) abort(ctx context.Context, s *session, err error) error {
	switch {
	case s.ctx.Err() != nil:
		return ErrClosed
	case ctx.Err() != nil:
		c.cancelOpen(s)
		return ctx.Err()
	}
	c.fail(s, err)
	return err
}

// cancelOpen closes s only if it has not become active yet.
func (c *Controller) cancelOpen(s *session) bool {
	c.mu.Lock()
	if c.sess != s || c.state != StateConnecting {
		c.mu.Unlock()
		return false
	}
	c.setLocked(StateClosed, nil)
	c.log.Info("live session cancelled while connecting", "session", s.id)
	c.teardown(s, ErrClosed)
	return true
}

// Close stops capture, halts playback and releases the transport. Calling it
// again, or on a session that already failed, is a no-op.
func (c *Controller) Close() error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s != nil {
		c.closeSession(s)
	}
	return nil
}

func (c *Controller) dispatch(s *session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			c.handle(s, ev)
		}
	}
}

func (c *Controller) handle(s *session, ev event) {
	switch ev.kind {
	case evFrame:
		c.metrics.FramesCaptured.Inc()
		if !s.active {
			s.pending = append(s.pending, ev.blob)
			c.metrics.FramesBuffered.Inc()
			return
		}
		s.enqueue(ev.blob)
	case evServer:
		c.handleServer(s, ev.msg)
	}
}

func (c *Controller) handleServer(s *session, msg ServerEvent) {
	switch msg.Kind {
	case EventSetupComplete:
		if s.active || !c.transition(s, StateActive, nil) {
			return
		}
		s.active = true
		c.metrics.SessionsOpened.Inc()
		pending := s.pending
		s.pending = nil
		for _, b := range pending {
			if !s.enqueue(b) {
				return
			}
		}
		c.log.Info("live session active", "session", s.id, "flushed", len(pending))
		s.markReady(nil)
	case EventAudio:
		// Holding s.mu orders scheduling against teardown's StopAll.
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.torn {
			return
		}
		for _, b := range msg.Audio {
			// Malformed blobs are logged by the scheduler and skipped.
			_, _ = c.scheduler.Enqueue(b)
		}
	case EventInterrupted:
		c.scheduler.StopAll()
	case EventTranscript:
		if c.onTranscript != nil && msg.Text != "" {
			c.onTranscript(msg.Role, msg.Text)
		}
	case EventTurnComplete:
		c.log.Debug("model turn complete", "session", s.id)
	default:
		c.log.Debug("ignoring server message", "session", s.id)
	}
}

// recvLoop and sendLoop end the session themselves rather than posting to
// dispatch, which may be blocked on a full outbound queue.
func (c *Controller) recvLoop(s *session, conn Conn) {
	for {
		msg, err := conn.Recv(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				c.log.Info("live session closed by remote", "session", s.id)
				c.closeSession(s)
				return
			}
			c.fail(s, fmt.Errorf("%w: recv: %w", ErrTransport, err))
			return
		}
		s.post(event{kind: evServer, msg: msg})
	}
}

func (c *Controller) sendLoop(s *session, conn Conn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case b := <-s.outbound:
			if err := conn.Send(s.ctx, b); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				c.metrics.SendErrors.Inc()
				c.fail(s, fmt.Errorf("%w: send: %w", ErrTransport, err))
				return
			}
			c.metrics.FramesSent.Inc()
		}
	}
}

func (c *Controller) fail(s *session, err error) {
	if !c.transition(s, StateErrored, err) {
		return
	}
	kind := "transport"
	switch {
	case errors.Is(err, ErrPermissionDenied):
		kind = "permission_denied"
	case errors.Is(err, ErrMicrophoneBusy):
		kind = "microphone_busy"
	}
	c.metrics.SessionsErrored.WithLabelValues(kind).Inc()
	c.log.Error("live session failed", "session", s.id, "err", err)
	c.teardown(s, err)
}

func (c *Controller) closeSession(s *session) bool {
	if !c.transition(s, StateClosed, nil) {
		return false
	}
	c.log.Info("live session closed", "session", s.id)
	c.teardown(s, ErrClosed)
	return true
}

// teardown releases every resource of s exactly once.
func (c *Controller) teardown(s *session, reason error) {
	s.cleanup.Do(func() {
		s.cancel()
		s.mu.Lock()
		s.torn = true
		held := s.micHeld
		s.micHeld = false
		conn := s.conn
		s.mu.Unlock()

		if held {
			c.stopMic(c.log.With("session", s.id))
		}
		c.scheduler.StopAll()
		if conn != nil {
			if err := conn.Close(); err != nil {
				c.log.Debug("closing transport", "session", s.id, "err", err)
			}
		}
		c.metrics.ActiveSessions.Dec()
		s.markReady(reason)
	})
}

func (c *Controller) stopMic(log *slog.Logger) {
	if err := c.mic.Stop(); err != nil {
		log.Warn("releasing microphone", "err", err)
	}
}

// transition moves s's controller into to. It refuses stale sessions,
// transitions out of terminal states and Active from anything but Connecting.
func (c *Controller) transition(s *session, to State, err error) bool {
	c.mu.Lock()
	if c.sess != s || !c.state.Live() || (to == StateActive && c.state != StateConnecting) {
		c.mu.Unlock()
		return false
	}
	c.setLocked(to, err)
	return true
}

// setLocked must be called with c.mu held; it releases c.mu and delivers the
// state callback in transition order.
func (c *Controller) setLocked(to State, err error) {
	c.state, c.err = to, err
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	if c.onState != nil {
		c.onState(to, err)
	}
}
