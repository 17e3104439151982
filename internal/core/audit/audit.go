// Package audit produces the short strategic comment shown after the audit
// form is submitted.
package audit

import (
	"context"
	"log/slog"
	"strings"

	"github.com/steveyiyo/adsflex-assistant/internal/core/persona"
	"github.com/steveyiyo/adsflex-assistant/internal/metrics"
)

const (
	maxTokens   = 150
	temperature = 0.7
)

// Generator runs a single-shot text prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int32, temperature float32) (string, error)
}

type Service struct {
	gen     Generator
	persona persona.Persona
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewService(gen Generator, p persona.Persona, m *metrics.Metrics, log *slog.Logger) *Service {
	if m == nil {
		m = metrics.Discard()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{gen: gen, persona: p, metrics: m, log: log.With("component", "audit")}
}

// Insight always returns text. An empty reply or a failed call yields the
// persona's fallback line.
func (s *Service) Insight(ctx context.Context, website, niche string) string {
	text, err := s.gen.Generate(ctx, s.persona.AuditRequest(website, niche), maxTokens, temperature)
	switch {
	case err != nil:
		s.metrics.AuditInsights.WithLabelValues("error").Inc()
		s.log.Warn("audit insight failed", "website", website, "err", err)
		return s.persona.AuditErrorFallback
	case strings.TrimSpace(text) == "":
		s.metrics.AuditInsights.WithLabelValues("empty").Inc()
		return s.persona.AuditEmptyFallback
	}
	s.metrics.AuditInsights.WithLabelValues("ok").Inc()
	return strings.TrimSpace(text)
}
