package voice

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/steveyiyo/adsflex-assistant/internal/core/pcm"
	"github.com/steveyiyo/adsflex-assistant/internal/metrics"
)

// PlaybackHandle describes one buffer handed to the speaker.
type PlaybackHandle struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration
}

// End is the speaker-clock time at which the buffer finishes.
func (h PlaybackHandle) End() time.Duration { return h.Start + h.Duration }

// Scheduler queues inbound audio gaplessly on a Speaker. A buffer never starts
// before the previously scheduled one ends.
type Scheduler struct {
	speaker    Speaker
	sampleRate int
	channels   int
	log        *slog.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	next   time.Duration
	seq    uint64
	active map[uint64]Voice
}

// NewScheduler returns a Scheduler decoding at sampleRate/channels unless a
// blob's MIME type names its own rate.
func NewScheduler(sp Speaker, sampleRate, channels int, log *slog.Logger, m *metrics.Metrics) *Scheduler {
	if sampleRate <= 0 {
		sampleRate = DefaultPlaybackRate
	}
	if channels <= 0 {
		channels = DefaultPlaybackChannel
	}
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Scheduler{
		speaker:    sp,
		sampleRate: sampleRate,
		channels:   channels,
		log:        log.With("component", "playback"),
		metrics:    m,
		active:     map[uint64]Voice{},
	}
}

// Enqueue decodes b and schedules it at max(next, now). A malformed blob is
// dropped and reported; scheduling state is left untouched.
func (s *Scheduler) Enqueue(b pcm.Blob) (PlaybackHandle, error) {
	rate := s.sampleRate
	if r, ok := pcm.ParseRate(b.MIMEType); ok {
		rate = r
	}
	frame, err := pcm.DecodeFrame(b, rate, s.channels)
	if err != nil {
		s.metrics.DecodeErrors.Inc()
		s.log.Warn("dropping inbound audio", "mime", b.MIMEType, "err", err)
		return PlaybackHandle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(s.next, s.speaker.Now())
	s.seq++
	h := PlaybackHandle{ID: s.seq, Start: start, Duration: frame.Duration()}

	id := h.ID
	v, err := s.speaker.Play(frame, start, func() { s.remove(id) })
	if err != nil {
		return PlaybackHandle{}, fmt.Errorf("voice: play: %w", err)
	}
	s.active[id] = v
	s.next = h.End()
	s.metrics.BlobsScheduled.Inc()
	s.metrics.ActivePlayback.Inc()
	return h, nil
}

func (s *Scheduler) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; !ok {
		return
	}
	delete(s.active, id)
	s.metrics.ActivePlayback.Dec()
}

// StopAll halts everything scheduled or playing and resets the queue.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	voices := s.active
	s.active = map[uint64]Voice{}
	s.next = 0
	// The gauge is shared by every widget session's scheduler.
	s.metrics.ActivePlayback.Sub(float64(len(voices)))
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if len(voices) > 0 {
		s.log.Debug("playback stopped", "buffers", len(voices))
	}
}

// Active returns the number of buffers still scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
