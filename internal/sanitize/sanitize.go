// Package sanitize turns raw chat text into something a speech engine can
// read aloud, or rejects it.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	goaway "github.com/TwiN/go-away"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// LinkWord replaces every URL.
	LinkWord = "link"

	// MaxRepeat is the length of a run of one character that marks a
	// message as spam.
	MaxRepeat = 10

	minLength = 3
)

// Roots of words masked by the fuzzy pass. Each root also matches with
// whitespace between its letters ("k u r w a").
var bannedRoots = []string{
	"kurwa", "chuj", "huj", "jeb", "pierd", "spier", "zajeb", "dziw", "suka",
	"pizd", "kutas", "cip", "debil", "idiot", "fuck", "shit", "bitch",
}

var (
	urlRe       = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	shortcodeRe = regexp.MustCompile(`:\w+:`)
	spaceRe     = regexp.MustCompile(`\s+`)
	punctRunRe  = regexp.MustCompile(`[!?.]{2,}`)
	terminalRe  = regexp.MustCompile(`[.?!]$`)
)

// Letters NFD does not decompose.
var asciiFold = map[rune]rune{
	'ł': 'l', 'Ł': 'L',
	'đ': 'd', 'Đ': 'D',
	'ø': 'o', 'Ø': 'O',
	'ß': 's',
	'æ': 'a', 'Æ': 'A',
}

// Sanitizer holds the compiled filters. It is safe for concurrent use.
type Sanitizer struct {
	fuzzy     []*regexp.Regexp
	profanity *goaway.ProfanityDetector
}

// New compiles the profanity filters.
func New() *Sanitizer {
	fuzzy := make([]*regexp.Regexp, 0, len(bannedRoots))
	for _, root := range bannedRoots {
		letters := strings.Split(root, "")
		fuzzy = append(fuzzy, regexp.MustCompile(`(?i)`+strings.Join(letters, `\s*`)))
	}
	return &Sanitizer{
		fuzzy: fuzzy,
		profanity: goaway.NewProfanityDetector().
			WithSanitizeLeetSpeak(false).
			WithSanitizeSpecialCharacters(false),
	}
}

// Clean returns speakable text for raw, or "" when the message should not
// be spoken. maxLen bounds the text in runes before a terminal period is
// appended.
func (s *Sanitizer) Clean(raw string, maxLen int, profanity bool) string {
	if maxLen < 1 {
		maxLen = 1
	}

	t := urlRe.ReplaceAllString(raw, " "+LinkWord+" ")
	t = stripSymbols(t)
	t = shortcodeRe.ReplaceAllString(t, " ")
	t = collapseSpace(t)
	t = strings.TrimSpace(truncate(t, maxLen))
	t = Transliterate(t)

	if hasRun(t, MaxRepeat) {
		return ""
	}
	t = punctRunRe.ReplaceAllStringFunc(t, func(m string) string { return m[:1] })
	if len([]rune(t)) < minLength {
		return ""
	}

	if profanity {
		t = s.mask(t)
	}

	if !terminalRe.MatchString(t) {
		t += "."
	}
	return t
}

func (s *Sanitizer) mask(t string) string {
	for _, re := range s.fuzzy {
		t = re.ReplaceAllStringFunc(t, func(m string) string {
			return strings.Repeat("*", utf8.RuneCountInString(m))
		})
	}
	return s.profanity.Censor(t)
}

// Transliterate folds diacritics to their closest ASCII letter and returns
// the text in NFC form.
func Transliterate(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), runes.Map(foldRune), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func foldRune(r rune) rune {
	if a, ok := asciiFold[r]; ok {
		return a
	}
	return r
}

// stripSymbols replaces emoji and pictographs with a space and drops the
// joiners and variation selectors that glue them together.
func stripSymbols(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\u200d', r >= '\ufe00' && r <= '\ufe0f':
			return -1
		case r > 0xFFFF, unicode.Is(unicode.So, r):
			return ' '
		}
		return r
	}, s)
}

func collapseSpace(s string) string {
	return spaceRe.ReplaceAllString(s, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// hasRun reports whether s holds n or more consecutive identical runes.
func hasRun(s string, n int) bool {
	var prev rune
	count := 0
	for _, r := range s {
		if count > 0 && r == prev {
			count++
		} else {
			prev, count = r, 1
		}
		if count >= n {
			return true
		}
	}
	return false
}
