package persona

import (
	"regexp"
	"strings"

	"github.com/bytedance/sonic"

	personamodel "github.com/zhouzirui/grimoire/backend/internal/model/persona"
)

// Status tags how a classification result was obtained.
type Status int

const (
	// StatusParsed means every field came from the model output.
	StatusParsed Status = iota
	// StatusDefaulted means at least one field was substituted.
	StatusDefaulted
	// StatusFailed means the classification call itself errored.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusParsed:
		return "parsed"
	case StatusDefaulted:
		return "defaulted"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of one classification.
type Result struct {
	Persona personamodel.Persona
	Status  Status
	// Reason explains a Defaulted result.
	Reason string
	// Err is set for a Failed result.
	Err error
	// Cached is true when the persona came from the cache without a call.
	Cached bool
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ParseClassification turns raw model output into a persona. Every field is
// validated on its own so one bad field never discards the others.
func ParseClassification(raw, title string) Result {
	fallback := personamodel.Default(title)

	match := jsonObjectPattern.FindString(raw)
	if match == "" {
		return Result{Persona: fallback, Status: StatusDefaulted, Reason: "no JSON object in model output"}
	}

	var fields map[string]any
	if err := sonic.UnmarshalString(match, &fields); err != nil {
		return Result{Persona: fallback, Status: StatusDefaulted, Reason: "unparsable JSON: " + err.Error()}
	}

	p := fallback
	var reasons []string

	switch v := fields["isFiction"].(type) {
	case bool:
		p.IsFiction = v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			p.IsFiction = true
		case "false":
			p.IsFiction = false
		default:
			reasons = append(reasons, "isFiction")
		}
	default:
		reasons = append(reasons, "isFiction")
	}

	if role, ok := personamodel.ParseRole(firstString(fields, "personaRole", "role")); ok {
		p.Role = role
	} else {
		reasons = append(reasons, "personaRole")
	}

	if name := strings.TrimSpace(firstString(fields, "personaName", "name")); name != "" {
		p.Name = name
	} else {
		reasons = append(reasons, "personaName")
	}

	if gender, ok := personamodel.ParseGender(firstString(fields, "gender")); ok {
		p.Gender = gender
	} else {
		reasons = append(reasons, "gender")
	}

	if len(reasons) > 0 {
		return Result{Persona: p, Status: StatusDefaulted, Reason: "defaulted fields: " + strings.Join(reasons, ", ")}
	}
	return Result{Persona: p, Status: StatusParsed}
}

func firstString(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := fields[key].(string); ok {
			return v
		}
	}
	return ""
}
