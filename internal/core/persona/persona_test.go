package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "persona.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if p != Default() {
		t.Error("Load(\"\") differs from Default()")
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
name: Test Bot
voice_name: Kore
system_prompt: Be helpful.
`)
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Test Bot" || p.VoiceName != "Kore" || p.SystemPrompt != "Be helpful." {
		t.Errorf("overrides not applied: %+v", p)
	}
	if p.AuditErrorFallback != Default().AuditErrorFallback {
		t.Error("missing field lost its default")
	}
	if got := p.VoiceInstructions(); got != "Be helpful."+Default().VoiceSuffix {
		t.Errorf("VoiceInstructions = %q", got)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":     "name: [unterminated",
		"audit prompt": "audit_prompt: only %s here",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, body)); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestAuditRequest(t *testing.T) {
	p := Default()
	p.AuditPrompt = "niche=%s site=%s"
	if got := p.AuditRequest("shop.example", "cosmetics"); got != "niche=cosmetics site=shop.example" {
		t.Errorf("AuditRequest = %q", got)
	}
	if !strings.Contains(Default().AuditRequest("a.example", "b"), "a.example") {
		t.Error("default prompt does not mention the website")
	}
}
