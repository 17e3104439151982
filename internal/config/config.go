package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port       string
	PublicHost string
	TLS        bool

	GeminiAPIKey    string
	GeminiTextModel string
	GeminiLiveModel string
	GeminiLiveURL   string
	GeminiVoice     string

	// ChatProvider selects the text chat backend: "gemini" or "openai".
	ChatProvider  string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	PersonaFile string

	LogLevel     string
	LogFile      string
	LogMaxSizeMB int

	CaptureFrameSize   int
	CaptureSampleRate  int
	PlaybackSampleRate int
	PlaybackChannels   int
}

func Load() Config {
	return Config{
		Port:       getenv("PORT", "8080"),
		PublicHost: getenv("PUBLIC_HOST", ""),
		TLS:        getenv("TLS", "") == "1",

		GeminiAPIKey:    getenv("GEMINI_API_KEY", getenv("API_KEY", "")),
		GeminiTextModel: getenv("GEMINI_TEXT_MODEL", "gemini-3-flash-preview"),
		GeminiLiveModel: getenv("GEMINI_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		GeminiLiveURL:   getenv("GEMINI_LIVE_URL", ""),
		GeminiVoice:     getenv("GEMINI_VOICE", ""),

		ChatProvider:  strings.ToLower(getenv("CHAT_PROVIDER", "gemini")),
		OpenAIAPIKey:  getenv("OPENAI_API_KEY", ""),
		OpenAIModel:   getenv("OPENAI_MODEL", ""),
		OpenAIBaseURL: getenv("OPENAI_BASE_URL", ""),

		PersonaFile: getenv("PERSONA_FILE", ""),

		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogFile:      getenv("LOG_FILE", ""),
		LogMaxSizeMB: getenvInt("LOG_MAX_SIZE_MB", 50),

		CaptureFrameSize:   getenvInt("CAPTURE_FRAME_SIZE", 4096),
		CaptureSampleRate:  getenvInt("CAPTURE_SAMPLE_RATE", 16000),
		PlaybackSampleRate: getenvInt("PLAYBACK_SAMPLE_RATE", 24000),
		PlaybackChannels:   getenvInt("PLAYBACK_CHANNELS", 1),
	}
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	positive := []struct {
		key string
		v   int
	}{
		{"CAPTURE_FRAME_SIZE", c.CaptureFrameSize},
		{"CAPTURE_SAMPLE_RATE", c.CaptureSampleRate},
		{"PLAYBACK_SAMPLE_RATE", c.PlaybackSampleRate},
		{"PLAYBACK_CHANNELS", c.PlaybackChannels},
		{"LOG_MAX_SIZE_MB", c.LogMaxSizeMB},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", p.key, p.v)
		}
	}
	switch c.ChatProvider {
	case "gemini":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("config: OPENAI_API_KEY is required when CHAT_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("config: unknown CHAT_PROVIDER %q", c.ChatProvider)
	}
	return nil
}

// Host is the public host:port clients use to reach the server.
func (c Config) Host() string {
	if c.PublicHost != "" {
		return c.PublicHost
	}
	return "localhost:" + c.Port
}

func (c Config) Scheme() string {
	if c.TLS {
		return "https"
	}
	return "http"
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// getenvInt returns -1 for values that are set but not integers so Validate
// can reject them.
func getenvInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
