// Package openai streams chat replies from an OpenAI-compatible endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/steveyiyo/adsflex-assistant/internal/core/chat"
)

const DefaultModel = openai.GPT4oMini

var _ chat.Streamer = (*Streamer)(nil)

// Config holds the configuration for the OpenAI streamer.
type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
}

// Streamer implements chat.Streamer using the chat completions API.
type Streamer struct {
	client *openai.Client
	cfg    Config
	log    *slog.Logger
}

func New(cfg Config, log *slog.Logger) (*Streamer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Streamer{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		log:    log.With("component", "openai", "model", cfg.Model),
	}, nil
}

func (s *Streamer) messages(history []chat.Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if s.cfg.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: s.cfg.SystemPrompt,
		})
	}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == chat.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return msgs
}

// Stream implements chat.Streamer.
func (s *Streamer) Stream(ctx context.Context, history []chat.Turn) iter.Seq2[string, error] {
	req := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Messages:    s.messages(history),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Stream:      true,
	}
	return func(yield func(string, error) bool) {
		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield("", fmt.Errorf("openai: create stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("openai: recv: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if d := resp.Choices[0].Delta.Content; d != "" {
				if !yield(d, nil) {
					return
				}
			}
		}
	}
}

// Generate runs a single-shot prompt and returns the reply text.
func (s *Streamer) Generate(ctx context.Context, prompt string, maxTokens int32, temperature float32) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		MaxTokens:   int(maxTokens),
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
