package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/steveyiyo/adsflex-assistant/internal/core/chat"
	"github.com/steveyiyo/adsflex-assistant/internal/core/voice"
	"github.com/steveyiyo/adsflex-assistant/internal/metrics"
	"github.com/steveyiyo/adsflex-assistant/internal/repo/memory"
	"github.com/steveyiyo/adsflex-assistant/pkg/types"
	"github.com/steveyiyo/adsflex-assistant/pkg/ws"
)

var ErrNotFound = errors.New("session: not found")

// VoiceSettings shapes every live voice session.
type VoiceSettings struct {
	Instructions     string
	VoiceName        string
	FrameSize        int
	CaptureRate      int
	PlaybackRate     int
	PlaybackChannels int
}

type Service struct {
	Repo      *memory.SessionRepo
	Hub       *ws.Hub
	streamer  chat.Streamer
	transport voice.Transport
	voice     VoiceSettings
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewService(repo *memory.SessionRepo, hub *ws.Hub, streamer chat.Streamer, transport voice.Transport, vs VoiceSettings, m *metrics.Metrics, log *slog.Logger) *Service {
	if m == nil {
		m = metrics.Discard()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		Repo:      repo,
		Hub:       hub,
		streamer:  streamer,
		transport: transport,
		voice:     vs,
		metrics:   m,
		log:       log.With("component", "session"),
	}
}

func (s *Service) Create(locale string) *memory.Session {
	id := "sess_" + uuid.NewString()
	log := s.log.With("session", id)
	sess := &memory.Session{
		ID:        id,
		CreatedAt: time.Now(),
		Locale:    locale,
	}
	sess.Chat = chat.NewController(s.streamer,
		chat.WithLogger(log),
		chat.WithMetrics(s.metrics),
		chat.OnUpdate(func(i int, t chat.Turn) {
			s.emit(id, types.ChatUpdateMsg{Type: types.MsgChatUpdate, Index: i, Role: string(t.Role), Text: t.Text})
		}),
	)
	s.Repo.Save(sess)
	s.metrics.WidgetSessions.Inc()
	log.Info("session created", "locale", locale)
	return sess
}

func (s *Service) Get(id string) (*memory.Session, bool) {
	return s.Repo.Get(id)
}

func (s *Service) Transcript(id string) (types.TranscriptResp, bool) {
	sess, ok := s.Repo.Get(id)
	if !ok {
		return types.TranscriptResp{}, false
	}
	turns := sess.Chat.Turns()
	out := types.TranscriptResp{SessionID: id, Turns: make([]types.TurnResp, 0, len(turns))}
	for _, t := range turns {
		out.Turns = append(out.Turns, types.TurnResp{Role: string(t.Role), Text: t.Text})
	}
	return out, true
}

// Chat sends one user message. fn, if set, receives this reply's chunks.
func (s *Service) Chat(ctx context.Context, id, text string, fn func(string)) error {
	sess, ok := s.Repo.Get(id)
	if !ok {
		return ErrNotFound
	}
	return sess.Chat.SendFunc(ctx, text, fn)
}

// StartVoice opens a live voice session that captures from and plays to the
// widget behind b. It blocks until the session is active or fails. A session
// already running on another bridge is closed first; concurrent calls for the
// same bridge share one controller and all but one get voice.ErrSessionOpen.
func (s *Service) StartVoice(ctx context.Context, id string, b *ws.Bridge) error {
	sess, ok := s.Repo.Get(id)
	if !ok {
		return ErrNotFound
	}
	ctrl, prev := sess.VoiceFor(b, func() *voice.Controller { return s.newVoice(id, b) })
	if prev != nil {
		prev.Close()
	}
	return ctrl.Open(ctx)
}

func (s *Service) newVoice(id string, b *ws.Bridge) *voice.Controller {
	log := s.log.With("session", id)
	sched := voice.NewScheduler(b.Speaker(), s.voice.PlaybackRate, s.voice.PlaybackChannels, log, s.metrics)
	return voice.NewController(s.transport, b.Microphone(), sched,
		voice.SessionConfig{
			Instructions: s.voice.Instructions,
			Voice:        s.voice.VoiceName,
		},
		voice.WithLogger(log),
		voice.WithMetrics(s.metrics),
		voice.WithFrameSize(s.voice.FrameSize),
		voice.WithCaptureRate(s.voice.CaptureRate),
		voice.OnStateChange(func(st voice.State, err error) {
			msg := types.StateMsg{Type: types.MsgState, State: st.String()}
			if err != nil {
				msg.Error = err.Error()
			}
			s.emit(id, msg)
			if st == voice.StateClosed || st == voice.StateErrored {
				s.emit(id, types.Msg{Type: types.MsgStopAll})
			}
		}),
		voice.OnTranscript(func(role, text string) {
			s.emit(id, types.TranscriptMsg{Type: types.MsgTranscript, Role: role, Text: text})
		}),
	)
}

// StopVoice closes the live voice session, if any.
func (s *Service) StopVoice(id string) error {
	sess, ok := s.Repo.Get(id)
	if !ok {
		return ErrNotFound
	}
	if ctrl, _ := sess.Voice(); ctrl != nil {
		return ctrl.Close()
	}
	return nil
}

// Detach is called when the stream connection behind b goes away.
func (s *Service) Detach(id string, b *ws.Bridge) {
	if sess, ok := s.Repo.Get(id); ok {
		if ctrl := sess.DetachVoice(b); ctrl != nil {
			ctrl.Close()
		}
	}
	b.Close()
}

// Close ends voice and forgets the session.
func (s *Service) Close(id string) bool {
	sess, ok := s.Repo.Delete(id)
	if !ok {
		return false
	}
	if ctrl := sess.SetVoice(nil, nil); ctrl != nil {
		ctrl.Close()
	}
	s.metrics.WidgetSessions.Dec()
	s.log.Info("session closed", "session", id, "turns", len(sess.Chat.Turns()))
	return true
}

func (s *Service) CloseAll() {
	var ids []string
	s.Repo.Range(func(sess *memory.Session) bool {
		ids = append(ids, sess.ID)
		return true
	})
	for _, id := range ids {
		s.Close(id)
	}
}

func (s *Service) emit(id string, v any) {
	if err := s.Hub.Send(id, v); err != nil && !errors.Is(err, ws.ErrNotConnected) {
		s.log.Debug("emit failed", "session", id, "err", err)
	}
}
