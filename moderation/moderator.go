// Package moderation censors forbidden phrases in message content
// before it reaches storage or other participants. Matching runs over
// a normalized view of the text (lowercased, leet speak folded, noise
// stripped) while replacement happens on the original runes, so
// spacing and casing around a censored span survive.
package moderation

import (
	"bufio"
	"os"
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
	goahocorasick "github.com/anknown/ahocorasick"

	"market-chat/errors"
)

type Moderator struct {
	matcher      *goahocorasick.Machine
	censoredChar rune
}

// NewModerator builds the Aho-Corasick automaton over the normalized
// wordlist. Building is the expensive part; Censor itself is a single
// multi-pattern scan.
func NewModerator(censoredWords []string, censoredChar rune) (Moderator, error) {
	if len(censoredWords) == 0 {
		return Moderator{}, errors.ErrEmptyWords
	}
	patterns := make([][]rune, 0, len(censoredWords))
	for _, word := range censoredWords {
		normalized := normalize(word).runes
		if len(normalized) > 0 {
			patterns = append(patterns, normalized)
		}
	}
	if len(patterns) == 0 {
		return Moderator{}, errors.ErrEmptyWords
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return Moderator{}, err
	}
	return Moderator{matcher: m, censoredChar: censoredChar}, nil
}

// Censor replaces every forbidden span with the censor character and
// returns the matched (normalized) words for logging and statistics.
func (m *Moderator) Censor(original string) (string, []string) {
	view := normalize(original)
	if len(view.runes) == 0 {
		return original, nil
	}

	spans := m.matcher.MultiPatternSearch(view.runes, false)
	if len(spans) == 0 {
		return original, nil
	}

	origRunes := []rune(original)
	found := make([]string, 0, len(spans))
	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(view.origIdx) {
			continue
		}
		found = append(found, string(span.Word))

		// Map the normalized span back onto the original rune range.
		for i := view.origIdx[start]; i <= view.origIdx[end-1]; i++ {
			origRunes[i] = m.censoredChar
		}
	}
	return string(origRunes), found
}

// DetectLanguage returns the ISO 639-1 code of the content's likely
// language, for moderation log context only.
func DetectLanguage(content string) string {
	info := whatlanggo.Detect(content)
	return info.Lang.Iso6391()
}

// LoadWordlist reads one censored word or phrase per line, skipping
// blanks and '#' comments.
func LoadWordlist(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var words []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	return words, scanner.Err()
}

// normalizedView pairs the searchable runes with, per rune, the index
// it came from in the original string.
type normalizedView struct {
	runes   []rune
	origIdx []int
}

func normalize(input string) normalizedView {
	origRunes := []rune(input)
	view := normalizedView{
		runes:   make([]rune, 0, len(origRunes)),
		origIdx: make([]int, 0, len(origRunes)),
	}
	for i, r := range origRunes {
		folded := foldLeet(r)
		if unicode.IsPunct(folded) || unicode.IsSpace(folded) || unicode.IsSymbol(folded) {
			continue
		}
		view.runes = append(view.runes, unicode.ToLower(folded))
		view.origIdx = append(view.origIdx, i)
	}
	return view
}

// foldLeet maps common leet speak substitutions back to letters so
// "sp4m" matches a "spam" pattern.
func foldLeet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	case '7':
		return 't'
	default:
		return r
	}
}
