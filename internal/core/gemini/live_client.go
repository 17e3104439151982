package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/steveyiyo/adsflex-assistant/internal/core/pcm"
	"github.com/steveyiyo/adsflex-assistant/internal/core/voice"
)

const (
	DefaultLiveModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultLiveURL   = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	writeTimeout = 5 * time.Second
	readLimit    = 8 << 20
)

var _ voice.Transport = (*LiveClient)(nil)

// JSON Structures for API Communication

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string           `json:"model"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string    `json:"text,omitempty"`
	InlineData *pcm.Blob `json:"inlineData,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput struct {
		MediaChunks []pcm.Blob `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type transcription struct {
	Text string `json:"text"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type receivedMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *struct{}      `json:"goAway,omitempty"`
	Error         *serverError   `json:"error,omitempty"`
}

// LiveOption configures a LiveClient.
type LiveOption func(*LiveClient)

// WithLiveModel sets the model used for live sessions.
func WithLiveModel(model string) LiveOption { return func(c *LiveClient) { c.model = model } }

// WithLiveURL overrides the WebSocket endpoint, mainly for tests.
func WithLiveURL(u string) LiveOption { return func(c *LiveClient) { c.baseURL = u } }

// WithLiveLogger sets the logger.
func WithLiveLogger(l *slog.Logger) LiveOption { return func(c *LiveClient) { c.log = l } }

// LiveClient dials Gemini Live sessions over a WebSocket.
type LiveClient struct {
	apiKey  string
	model   string
	baseURL string
	dialer  *websocket.Dialer
	log     *slog.Logger
}

// NewLiveClient creates a LiveClient for the given API key.
func NewLiveClient(apiKey string, opts ...LiveOption) *LiveClient {
	c := &LiveClient{
		apiKey:  apiKey,
		model:   DefaultLiveModel,
		baseURL: DefaultLiveURL,
		dialer:  websocket.DefaultDialer,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "gemini_live")
	return c
}

// Connect dials the endpoint and sends the setup message. The session is not
// usable until Recv reports voice.EventSetupComplete.
func (c *LiveClient) Connect(ctx context.Context, cfg voice.SessionConfig) (voice.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("gemini: live url: %w", err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Add("Content-Type", "application/json")

	conn, _, err := c.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	lc := &liveConn{conn: conn, log: c.log}
	if err := lc.writeJSON(ctx, c.setup(cfg)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	c.log.Debug("live setup sent", "model", c.model)
	return lc, nil
}

func (c *LiveClient) setup(cfg voice.SessionConfig) setupMessage {
	modalities := make([]string, 0, len(cfg.Modalities))
	for _, m := range cfg.Modalities {
		modalities = append(modalities, strings.ToUpper(m))
	}
	if len(modalities) == 0 {
		modalities = []string{"AUDIO"}
	}
	msg := setupMessage{Setup: setupConfig{
		Model:            "models/" + strings.TrimPrefix(c.model, "models/"),
		GenerationConfig: generationConfig{ResponseModalities: modalities},
	}}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		sc := &speechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		msg.Setup.GenerationConfig.SpeechConfig = sc
	}
	return msg
}

// liveConn is one established Live session. Writes are serialised; a single
// goroutine is expected to call Recv.
type liveConn struct {
	conn      *websocket.Conn
	log       *slog.Logger
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (l *liveConn) writeJSON(ctx context.Context, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.conn.SetWriteDeadline(deadline)
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// Send transmits one captured audio blob.
func (l *liveConn) Send(ctx context.Context, b pcm.Blob) error {
	var msg realtimeInputMessage
	msg.RealtimeInput.MediaChunks = []pcm.Blob{b}
	return l.writeJSON(ctx, msg)
}

// Recv blocks for the next server message. A normal close from the server is
// reported as io.EOF. Unparseable messages are logged and skipped.
func (l *liveConn) Recv(ctx context.Context) (voice.ServerEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return voice.ServerEvent{}, err
		}
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return voice.ServerEvent{}, io.EOF
			}
			return voice.ServerEvent{}, err
		}

		var received receivedMessage
		if err := sonic.Unmarshal(message, &received); err != nil {
			l.log.Warn("unmarshal live message", "err", err)
			continue
		}
		if received.Error != nil {
			return voice.ServerEvent{}, fmt.Errorf("gemini: server error %d: %s", received.Error.Code, received.Error.Message)
		}
		if ev, ok := translate(&received); ok {
			return ev, nil
		}
	}
}

// translate maps one server message onto a voice event. Messages carrying
// several payloads are reduced to the most significant one: setup, then
// interruption, then audio, then transcripts.
func translate(m *receivedMessage) (voice.ServerEvent, bool) {
	switch {
	case m.SetupComplete != nil:
		return voice.ServerEvent{Kind: voice.EventSetupComplete}, true
	case m.GoAway != nil:
		return voice.ServerEvent{Kind: voice.EventOther}, true
	case m.ServerContent == nil:
		return voice.ServerEvent{}, false
	}
	sc := m.ServerContent
	if sc.Interrupted {
		return voice.ServerEvent{Kind: voice.EventInterrupted}, true
	}
	if sc.ModelTurn != nil {
		var ev voice.ServerEvent
		var text strings.Builder
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				ev.Audio = append(ev.Audio, *p.InlineData)
			}
			text.WriteString(p.Text)
		}
		if len(ev.Audio) > 0 {
			ev.Kind = voice.EventAudio
			return ev, true
		}
		if text.Len() > 0 {
			return voice.ServerEvent{Kind: voice.EventTranscript, Role: "assistant", Text: text.String()}, true
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		return voice.ServerEvent{Kind: voice.EventTranscript, Role: "assistant", Text: sc.OutputTranscription.Text}, true
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		return voice.ServerEvent{Kind: voice.EventTranscript, Role: "user", Text: sc.InputTranscription.Text}, true
	}
	if sc.TurnComplete {
		return voice.ServerEvent{Kind: voice.EventTurnComplete}, true
	}
	return voice.ServerEvent{Kind: voice.EventOther}, true
}

// Close sends a close frame and shuts the connection down.
func (l *liveConn) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		werr := l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			l.log.Debug("write close", "err", werr)
		}
		err = l.conn.Close()
	})
	return err
}
