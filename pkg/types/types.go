package types

type CreateSessionReq struct {
	Locale string `json:"locale"`
}

type CreateSessionResp struct {
	SessionID string `json:"session_id"`
	WSURL     string `json:"ws_url"`
	Greeting  string `json:"greeting,omitempty"`
}

type TurnResp struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type TranscriptResp struct {
	SessionID string     `json:"session_id"`
	Turns     []TurnResp `json:"turns"`
}

type ChatReq struct {
	Text string `json:"text" binding:"required"`
}

type AuditInsightReq struct {
	Website string `json:"website" binding:"required"`
	Niche   string `json:"niche" binding:"required"`
}

type AuditInsightResp struct {
	Text string `json:"text"`
}

// Messages on the /v1/stream WebSocket.
const (
	MsgHello      = "hello"
	MsgState      = "state"
	MsgMicRequest = "mic_request"
	MsgMicRelease = "mic_release"
	MsgAudio      = "audio"
	MsgStop       = "stop"
	MsgStopAll    = "stop_all"
	MsgTranscript = "transcript"
	MsgChatUpdate = "chat_update"
	MsgError      = "error"

	MsgVoiceStart = "voice_start"
	MsgVoiceStop  = "voice_stop"
	MsgMicGranted = "mic_granted"
	MsgMicDenied  = "mic_denied"
	MsgChat       = "chat"
)

// Msg is a message with no payload.
type Msg struct {
	Type string `json:"type"`
}

// ClientMsg is any text message sent by the widget.
type ClientMsg struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type HelloMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	TS        int64  `json:"ts"`
}

type StateMsg struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type AudioMsg struct {
	Type       string `json:"type"`
	ID         uint64 `json:"id"`
	AtMs       int64  `json:"at_ms"`
	DurationMs int64  `json:"duration_ms"`
	MIME       string `json:"mime"`
	Channels   int    `json:"channels"`
	Data       string `json:"data"`
}

type StopMsg struct {
	Type string `json:"type"`
	ID   uint64 `json:"id,omitempty"`
}

type TranscriptMsg struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

type ChatUpdateMsg struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Role  string `json:"role"`
	Text  string `json:"text"`
}

type ErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
