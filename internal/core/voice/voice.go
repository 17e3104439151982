// Package voice bridges a live microphone and speaker to a realtime
// conversational session.
//
// Audio flows in two independent directions. Captured samples are re-blocked,
// encoded by the pcm package and streamed to the remote session in capture
// order. Audio returned by the session is decoded and scheduled back to back
// on the speaker clock. A Controller owns one session at a time and funnels
// every event through a single dispatch goroutine.
package voice

import (
	"context"
	"errors"
	"time"

	"github.com/steveyiyo/adsflex-assistant/internal/core/pcm"
)

const (
	DefaultFrameSize       = 4096
	DefaultCaptureRate     = 16000
	DefaultPlaybackRate    = 24000
	DefaultPlaybackChannel = 1
)

var (
	// ErrPermissionDenied is returned when the microphone cannot be acquired.
	ErrPermissionDenied = errors.New("voice: microphone permission denied")
	// ErrMicrophoneBusy is returned by a Microphone that is already capturing
	// for another session.
	ErrMicrophoneBusy = errors.New("voice: microphone already started")
	// ErrTransport marks failures of the remote live session.
	ErrTransport = errors.New("voice: transport error")
	// ErrSessionOpen is returned by Open while a session is connecting or active.
	ErrSessionOpen = errors.New("voice: session already open")
	// ErrClosed is returned by Open when the session was closed before it
	// became active.
	ErrClosed = errors.New("voice: session closed")
)

// State is the lifecycle position of a live session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// Live reports whether the state holds a session.
func (s State) Live() bool { return s == StateConnecting || s == StateActive }

// Microphone is an exclusive capture device. Start yields chunks of mono
// float samples in [-1,1] until Stop is called.
type Microphone interface {
	Start(ctx context.Context) (<-chan []float32, error)
	Stop() error
}

// Voice is one buffer handed to a Speaker.
type Voice interface {
	Stop()
}

// Speaker plays frames against its own clock. ended is called once when the
// buffer finishes on its own; it is not called after Stop, nor from within
// Play itself.
type Speaker interface {
	Now() time.Duration
	Play(f pcm.Frame, at time.Duration, ended func()) (Voice, error)
}

// SessionConfig is sent when the live session is established.
type SessionConfig struct {
	Instructions string
	Voice        string
	// Modalities requested for responses; defaults to audio.
	Modalities []string
}

// EventKind classifies messages received from the remote session.
type EventKind int

const (
	EventOther EventKind = iota
	EventSetupComplete
	EventAudio
	EventTranscript
	EventInterrupted
	EventTurnComplete
)

// ServerEvent is one decoded message from the remote session.
type ServerEvent struct {
	Kind  EventKind
	Audio []pcm.Blob
	Role  string
	Text  string
}

// Conn is an established live session. Send may be called concurrently
// with Recv; Close unblocks both.
type Conn interface {
	Send(ctx context.Context, b pcm.Blob) error
	Recv(ctx context.Context) (ServerEvent, error)
	Close() error
}

// Transport opens live sessions on the remote service.
type Transport interface {
	Connect(ctx context.Context, cfg SessionConfig) (Conn, error)
}
