package memory

import (
	"sync"
	"time"

	"github.com/steveyiyo/adsflex-assistant/internal/core/chat"
	"github.com/steveyiyo/adsflex-assistant/internal/core/voice"
	"github.com/steveyiyo/adsflex-assistant/pkg/ws"
)

// Session is one widget page load. Chat lives as long as the session; Voice
// and Bridge are set while a stream connection has voice mode on.
type Session struct {
	ID        string
	CreatedAt time.Time
	Locale    string
	Chat      *chat.Controller

	mu     sync.Mutex
	voice  *voice.Controller
	bridge *ws.Bridge
}

// Voice returns the current voice controller and the bridge it runs on.
func (s *Session) Voice() (*voice.Controller, *ws.Bridge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice, s.bridge
}

// SetVoice replaces the voice controller and returns the previous one.
func (s *Session) SetVoice(c *voice.Controller, b *ws.Bridge) *voice.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.voice
	s.voice, s.bridge = c, b
	return prev
}

// VoiceFor returns the controller running on b, building one when there is
// none or it runs on another bridge. A replaced controller is returned as prev
// for the caller to close.
func (s *Session) VoiceFor(b *ws.Bridge, build func() *voice.Controller) (ctrl, prev *voice.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.voice != nil && s.bridge == b {
		return s.voice, nil
	}
	prev = s.voice
	s.voice, s.bridge = build(), b
	return s.voice, prev
}

// DetachVoice clears the controller if it still runs on b.
func (s *Session) DetachVoice(b *ws.Bridge) *voice.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bridge != b {
		return nil
	}
	prev := s.voice
	s.voice, s.bridge = nil, nil
	return prev
}

type SessionRepo struct {
	m sync.Map
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{}
}

func (r *SessionRepo) Save(s *Session) {
	r.m.Store(s.ID, s)
}

func (r *SessionRepo) Get(id string) (*Session, bool) {
	v, ok := r.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Delete removes id and returns the removed session.
func (r *SessionRepo) Delete(id string) (*Session, bool) {
	v, ok := r.m.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

func (r *SessionRepo) Range(fn func(*Session) bool) {
	r.m.Range(func(_, v any) bool { return fn(v.(*Session)) })
}
