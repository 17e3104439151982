package gemini

import (
	"context"
	"crypto/tls"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/steveyiyo/adsflex-assistant/internal/core/chat"
)

var _ chat.Streamer = (*Client)(nil)

// Client talks to the Gemini text models.
type Client struct {
	c      *genai.Client
	model  string
	system string
	log    *slog.Logger
}

func New(apiKey, model, systemPrompt string, log *slog.Logger) (*Client, error) {
	tr := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2: false,
		MaxIdleConns:      100,
		IdleConnTimeout:   90 * time.Second,
	}
	// No client-wide timeout: streamed replies may outlive it.
	hc := &http.Client{Transport: tr}
	cl, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: "v1beta",
		},
	})
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{c: cl, model: model, system: systemPrompt, log: log.With("component", "gemini")}, nil
}

func (g *Client) Close() error { return nil }

func textContent(role, text string) *genai.Content {
	return &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}}
}

// Stream implements chat.Streamer.
func (g *Client) Stream(ctx context.Context, history []chat.Turn) iter.Seq2[string, error] {
	contents := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		role := genai.RoleUser
		if t.Role == chat.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, textContent(string(role), t.Text))
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: textContent("", g.system),
	}
	return func(yield func(string, error) bool) {
		for resp, err := range g.c.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if err != nil {
				yield("", err)
				return
			}
			if t := resp.Text(); t != "" {
				if !yield(t, nil) {
					return
				}
			}
		}
	}
}

// Generate runs a single-shot prompt and returns its text. Transient network
// failures are retried up to three times.
func (g *Client) Generate(ctx context.Context, prompt string, maxTokens int32, temperature float32) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: maxTokens,
	}
	contents := []*genai.Content{textContent(string(genai.RoleUser), prompt)}

	var lastErr error
	for i := 0; i < 3; i++ {
		resp, err := g.c.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err != nil {
			lastErr = err
			if retriable(err) {
				g.log.Debug("retrying generate", "attempt", i+1, "err", err)
				if !sleep(ctx, time.Duration(300*(i+1))*time.Millisecond) {
					return "", ctx.Err()
				}
				continue
			}
			return "", err
		}
		return strings.TrimSpace(resp.Text()), nil
	}
	return "", lastErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func retriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected EOF") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "RST_STREAM") ||
		strings.Contains(s, "connection reset")
}
