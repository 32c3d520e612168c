package identify

import (
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
)

// Strategy is one way of reading the model's answer. Strategies run in order
// and the first one that succeeds wins.
type Strategy struct {
	Name  string
	Parse func(raw string) (title, author *string, ok bool)
}

// DefaultStrategies returns the ordered strategy list.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "jsonObject", Parse: parseJSONObject},
		{Name: "byline", Parse: parseByline},
		{Name: "dashSeparated", Parse: parseDashSeparated},
	}
}

var (
	objectPattern = regexp.MustCompile(`(?s)\{.*\}`)
	bylinePattern = regexp.MustCompile(`(?i)\s+by\s+`)
)

func parseJSONObject(raw string) (*string, *string, bool) {
	match := objectPattern.FindString(raw)
	if match == "" {
		return nil, nil, false
	}

	var fields map[string]any
	if err := sonic.UnmarshalString(match, &fields); err != nil {
		return nil, nil, false
	}

	_, hasTitle := fields["title"]
	_, hasAuthor := fields["author"]
	if !hasTitle && !hasAuthor {
		return nil, nil, false
	}

	title, _ := fields["title"].(string)
	author, _ := fields["author"].(string)
	return clean(title), clean(author), true
}

func parseByline(raw string) (*string, *string, bool) {
	line := firstLine(raw)
	locs := bylinePattern.FindAllStringIndex(line, -1)
	if len(locs) == 0 {
		return nil, nil, false
	}

	last := locs[len(locs)-1]
	title := clean(line[:last[0]])
	author := clean(line[last[1]:])
	if title == nil {
		return nil, nil, false
	}
	return title, author, true
}

func parseDashSeparated(raw string) (*string, *string, bool) {
	line := firstLine(raw)
	title, author, found := strings.Cut(line, " - ")
	if !found {
		return nil, nil, false
	}

	t := clean(title)
	if t == nil {
		return nil, nil, false
	}
	return t, clean(author), true
}

func firstLine(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// clean trims quotes and punctuation and maps placeholders to nil.
func clean(value string) *string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, `"'“”*_.`)
	value = strings.TrimSpace(value)

	switch strings.ToLower(value) {
	case "", "null", "unknown", "n/a", "none":
		return nil
	}
	return &value
}
