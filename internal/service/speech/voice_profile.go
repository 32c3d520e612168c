package speech

import (
	"strings"

	"github.com/zhouzirui/grimoire/backend/internal/config"
	"github.com/zhouzirui/grimoire/backend/internal/model/persona"
)

// knownVoices lists the synthesis voices the speech endpoint accepts.
var knownVoices = map[string]struct{}{
	"alloy":   {},
	"ash":     {},
	"ballad":  {},
	"coral":   {},
	"echo":    {},
	"fable":   {},
	"onyx":    {},
	"nova":    {},
	"sage":    {},
	"shimmer": {},
	"verse":   {},
}

// VoiceProfile maps a persona's gender tag to a synthesis voice.
type VoiceProfile struct {
	Male    string
	Female  string
	Neutral string
}

// NewVoiceProfile reads the voice table from configuration, keeping defaults for unknown names.
func NewVoiceProfile(cfg config.SpeechConfig) VoiceProfile {
	return VoiceProfile{
		Male:    voiceOrDefault(cfg.MaleVoice, "onyx"),
		Female:  voiceOrDefault(cfg.FemaleVoice, "nova"),
		Neutral: voiceOrDefault(cfg.NeutralVoice, "alloy"),
	}
}

// VoiceFor picks the voice for a gender; unknown maps to the neutral voice.
func (p VoiceProfile) VoiceFor(gender persona.Gender) string {
	switch gender {
	case persona.GenderMale:
		return p.Male
	case persona.GenderFemale:
		return p.Female
	default:
		return p.Neutral
	}
}

// NormalizeVoice lower-cases a requested voice and reports whether it is supported.
func NormalizeVoice(voice string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(voice))
	if normalized == "" {
		return "", false
	}
	_, ok := knownVoices[normalized]
	return normalized, ok
}

func voiceOrDefault(voice, fallback string) string {
	if normalized, ok := NormalizeVoice(voice); ok {
		return normalized
	}
	return fallback
}
