package persona

import "strings"

// Role is the voice a book speaks with.
type Role string

const (
	RoleProtagonist Role = "protagonist"
	RoleAuthor      Role = "author"
)

// Gender picks the synthesis voice. Anything outside the closed set is unknown.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// Persona captures who answers for a book. Field names match the mobile client.
type Persona struct {
	IsFiction bool   `json:"isFiction"`
	Role      Role   `json:"personaRole"`
	Name      string `json:"personaName"`
	Gender    Gender `json:"gender"`
}

// Default is substituted whenever classification yields nothing usable.
func Default(title string) Persona {
	return Persona{
		IsFiction: true,
		Role:      RoleProtagonist,
		Name:      title,
		Gender:    GenderUnknown,
	}
}

// ParseRole validates a role against the closed enum.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleProtagonist:
		return RoleProtagonist, true
	case RoleAuthor:
		return RoleAuthor, true
	default:
		return "", false
	}
}

// ParseGender validates a gender tag against the closed enum.
func ParseGender(raw string) (Gender, bool) {
	switch Gender(strings.ToLower(strings.TrimSpace(raw))) {
	case GenderMale:
		return GenderMale, true
	case GenderFemale:
		return GenderFemale, true
	case GenderUnknown:
		return GenderUnknown, true
	default:
		return "", false
	}
}

// keySeparator cannot appear in a typed title, so "ab"+"c" and "a"+"bc" stay distinct.
const keySeparator = "\x1f"

// Key normalizes a (title, author) pair into a cache key. A missing author is the
// empty string, so two authorless books with the same title share an entry.
func Key(title, author string) string {
	return strings.ToLower(strings.TrimSpace(title)) + keySeparator + strings.ToLower(strings.TrimSpace(author))
}
