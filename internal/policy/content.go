package policy

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrPromptEmpty   = errors.New("prompt is empty or too short")
	ErrPromptTooLong = errors.New("prompt is too long")
)

// DefaultDenylist is matched case-insensitively as plain substrings.
var DefaultDenylist = []string{
	"nude",
	"naked",
	"nsfw",
	"porn",
	"sexual",
	"explicit",
	"gore",
	"blood",
	"violence",
	"violent",
	"murder",
	"kill",
	"weapon",
	"terrorist",
	"racist",
	"hate",
	"drug",
}

type ContentPolicy struct {
	minLength int
	maxLength int
	denylist  []string
}

// NewContentPolicy builds a policy with DefaultDenylist plus extra terms.
func NewContentPolicy(minLength, maxLength int, extra []string) *ContentPolicy {
	terms := make([]string, 0, len(DefaultDenylist)+len(extra))
	for _, term := range append(append([]string{}, DefaultDenylist...), extra...) {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			terms = append(terms, term)
		}
	}
	return &ContentPolicy{minLength: minLength, maxLength: maxLength, denylist: terms}
}

// Normalize trims the prompt and checks its length in characters.
func (p *ContentPolicy) Normalize(raw string) (string, error) {
	prompt := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(prompt)
	if n == 0 || n < p.minLength {
		return "", ErrPromptEmpty
	}
	if n > p.maxLength {
		return "", ErrPromptTooLong
	}
	return prompt, nil
}

// Blocked returns the first denylisted term found in prompt.
func (p *ContentPolicy) Blocked(prompt string) (string, bool) {
	lower := strings.ToLower(prompt)
	for _, term := range p.denylist {
		if strings.Contains(lower, term) {
			return term, true
		}
	}
	return "", false
}

func (p *ContentPolicy) MinLength() int { return p.minLength }
func (p *ContentPolicy) MaxLength() int { return p.maxLength }
