package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/steveyiyo/adsflex-assistant/internal/core/session"
	"github.com/steveyiyo/adsflex-assistant/pkg/types"
	"github.com/steveyiyo/adsflex-assistant/pkg/ws"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

type StreamHandler struct {
	Hub      *ws.Hub
	Sess     *session.Service
	Log      *slog.Logger
	Upgrader websocket.Upgrader
}

func NewStreamHandler(h *ws.Hub, s *session.Service, log *slog.Logger) *StreamHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StreamHandler{
		Hub:  h,
		Sess: s,
		Log:  log.With("component", "stream"),
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) WS(c *gin.Context) {
	id := c.Query("sess")
	if id == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if _, ok := h.Sess.Get(id); !ok {
		c.Status(http.StatusNotFound)
		return
	}
	raw, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn := ws.NewConn(raw)
	bridge := ws.NewBridge(conn)
	log := h.Log.With("session", id)
	h.Hub.Add(id, conn)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer func() {
		cancel()
		h.Sess.Detach(id, bridge)
		h.Hub.Remove(id, conn)
		conn.Close()
		log.Info("stream disconnected")
	}()

	raw.SetReadLimit(8 << 20)
	raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go keepAlive(ctx, conn)

	if err := conn.Send(types.HelloMsg{Type: types.MsgHello, SessionID: id, TS: time.Now().UnixMilli()}); err != nil {
		return
	}
	log.Info("stream connected")

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		raw.SetReadDeadline(time.Now().Add(pongWait))
		switch mt {
		case websocket.BinaryMessage:
			if err := bridge.HandleSamples(msg); err != nil {
				log.Debug("dropping sample frame", "err", err)
			}
		case websocket.TextMessage:
			var m types.ClientMsg
			if err := sonic.Unmarshal(msg, &m); err != nil {
				conn.Send(types.ErrorMsg{Type: types.MsgError, Error: "bad_message"})
				continue
			}
			h.dispatch(ctx, id, conn, bridge, m, log)
		}
	}
}

func (h *StreamHandler) dispatch(ctx context.Context, id string, conn *ws.Conn, bridge *ws.Bridge, m types.ClientMsg, log *slog.Logger) {
	switch m.Type {
	case types.MsgVoiceStart:
		// Open blocks until the widget answers mic_request, which arrives on
		// this read loop.
		go func() {
			if err := h.Sess.StartVoice(ctx, id, bridge); err != nil {
				log.Info("voice start failed", "err", err)
			}
		}()
	case types.MsgVoiceStop:
		h.Sess.StopVoice(id)
	case types.MsgMicGranted:
		bridge.HandlePermission(true)
	case types.MsgMicDenied:
		bridge.HandlePermission(false)
	case types.MsgChat:
		go func() {
			if err := h.Sess.Chat(ctx, id, m.Text, nil); err != nil {
				conn.Send(types.ErrorMsg{Type: types.MsgError, Error: err.Error()})
			}
		}()
	default:
		conn.Send(types.ErrorMsg{Type: types.MsgError, Error: "unknown_type"})
	}
}

func keepAlive(ctx context.Context, conn *ws.Conn) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}
