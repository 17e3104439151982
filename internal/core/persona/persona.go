// Package persona holds the assistant's instructions and canned replies.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Persona struct {
	Name string `yaml:"name"`
	// SystemPrompt is shared by text chat and voice.
	SystemPrompt string `yaml:"system_prompt"`
	// VoiceSuffix is appended to SystemPrompt for live voice sessions.
	VoiceSuffix string `yaml:"voice_suffix"`
	VoiceName   string `yaml:"voice_name"`
	// AuditPrompt is a fmt template taking the niche and the website.
	AuditPrompt        string `yaml:"audit_prompt"`
	AuditEmptyFallback string `yaml:"audit_empty_fallback"`
	AuditErrorFallback string `yaml:"audit_error_fallback"`
	Greeting           string `yaml:"greeting"`
}

// Default returns the built-in IGADSFLEX assistant.
func Default() Persona {
	return Persona{
		Name:         "IGADSFLEX AI",
		SystemPrompt: "Ти — ШІ-асистент Ігоря Ярового, власника IGADSFLEX. Ти допомагаєш клієнтам зрозуміти, як будувати системи Meta Ads, що приносять прибуток. Ти професійний, лаконічний і орієнтований на результат. Відповідай виключно українською мовою. Якщо запитують про аудит, направляй їх до форми на сайті.",
		VoiceSuffix:  " Говори природно, як на консультації.",
		VoiceName:    "Puck",
		AuditPrompt: "Ти — преміальний експерт з Meta Ads Ігор Яровий (IGADSFLEX). Надай короткий стратегічний коментар (2 речення) для бізнесу в ніші %s з сайтом %s. " +
			"Фокусуйся на прибутку та ROI, а не просто на трафіку. Мова відповіді: українська. Тон: професійний, впевнений.",
		AuditEmptyFallback: "Мені потрібно детальніше вивчити ваші показники, але я вже бачу потенціал для масштабування вашого ROAS.",
		AuditErrorFallback: "Готовий перетворити ваші витрати на рекламу в прогнозований двигун прибутку.",
		Greeting:           "Запитай мене про масштабування твого прибутку через Meta Ads.",
	}
}

// Load overlays the YAML file at path on Default. Fields missing from the
// file keep their defaults. An empty path returns Default.
func Load(path string) (Persona, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("persona: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("persona: parse %s: %w", path, err)
	}
	if strings.Count(p.AuditPrompt, "%s") != 2 {
		return p, fmt.Errorf("persona: audit_prompt must contain two %%s verbs (niche, website)")
	}
	return p, nil
}

// VoiceInstructions is the system prompt used for live voice sessions.
func (p Persona) VoiceInstructions() string {
	return p.SystemPrompt + p.VoiceSuffix
}

// AuditRequest renders the audit prompt for a business.
func (p Persona) AuditRequest(website, niche string) string {
	return fmt.Sprintf(p.AuditPrompt, niche, website)
}
