// Package chat manages turn-based text conversations whose replies arrive as
// a stream of chunks.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/steveyiyo/adsflex-assistant/internal/metrics"
)

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("chat: empty message")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Streamer produces the reply to the last user turn of history, chunk by chunk.
type Streamer interface {
	Stream(ctx context.Context, history []Turn) iter.Seq2[string, error]
}

// Controller keeps the ordered transcript of one conversation. Sends are
// served one at a time in arrival order, so chunks of one reply never land
// after the next user turn.
type Controller struct {
	streamer Streamer
	log      *slog.Logger
	metrics  *metrics.Metrics
	onUpdate func(index int, t Turn)

	mu      sync.Mutex
	cond    *sync.Cond
	turns   []Turn
	ticket  uint64
	serving uint64
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// OnUpdate is called after a turn is appended or grows. Calls for one
// controller never overlap.
func OnUpdate(fn func(index int, t Turn)) Option { return func(c *Controller) { c.onUpdate = fn } }

func NewController(s Streamer, opts ...Option) *Controller {
	c := &Controller{streamer: s}
	c.cond = sync.NewCond(&c.mu)
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "chat")
	if c.metrics == nil {
		c.metrics = metrics.Discard()
	}
	return c
}

// Turns returns a copy of the transcript.
func (c *Controller) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Turn(nil), c.turns...)
}

// Send appends the user turn and an assistant turn, then grows the assistant
// turn with each streamed chunk. On a stream error the turn is left as is and
// the error is returned; earlier turns are never modified.
func (c *Controller) Send(ctx context.Context, text string) error {
	return c.SendFunc(ctx, text, nil)
}

// SendFunc is Send with fn called for each chunk of this reply only.
func (c *Controller) SendFunc(ctx context.Context, text string, fn func(chunk string)) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	my := c.ticket
	c.ticket++
	for c.serving != my {
		c.cond.Wait()
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.serving++
		c.cond.Broadcast()
		c.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	c.metrics.ChatTurns.Inc()
	c.append(Turn{Role: RoleUser, Text: text})
	history := c.history()
	idx := c.append(Turn{Role: RoleAssistant})

	for chunk, err := range c.streamer.Stream(ctx, history) {
		if err != nil {
			c.metrics.ChatFailures.Inc()
			c.log.Warn("reply stream failed", "turn", idx, "err", err)
			return fmt.Errorf("chat: stream: %w", err)
		}
		if chunk == "" {
			continue
		}
		c.metrics.ChatChunks.Inc()
		c.mu.Lock()
		c.turns[idx].Text += chunk
		t := c.turns[idx]
		c.mu.Unlock()
		c.notify(idx, t)
		if fn != nil {
			fn(chunk)
		}
	}
	return nil
}

func (c *Controller) append(t Turn) int {
	c.mu.Lock()
	c.turns = append(c.turns, t)
	idx := len(c.turns) - 1
	c.mu.Unlock()
	c.notify(idx, t)
	return idx
}

// history drops empty turns left by failed replies.
func (c *Controller) history() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, 0, len(c.turns))
	for _, t := range c.turns {
		if t.Text != "" {
			out = append(out, t)
		}
	}
	return out
}

func (c *Controller) notify(idx int, t Turn) {
	if c.onUpdate != nil {
		c.onUpdate(idx, t)
	}
}
