package speech

import (
	"strings"
	"unicode/utf8"
)

// SplitChunks breaks text into pieces of at most max runes for the speech
// backend. Breaks prefer clause punctuation (. ! ? ,), which stays attached
// to the clause before it. A clause longer than max is split between
// words; a single word longer than max is kept whole.
func SplitChunks(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var (
		chunks  []string
		current string
	)
	flush := func() {
		if c := strings.TrimSpace(current); c != "" {
			chunks = append(chunks, c)
		}
		current = ""
	}
	add := func(piece string) {
		if current == "" {
			current = piece
			return
		}
		if utf8.RuneCountInString(current)+1+utf8.RuneCountInString(piece) > max {
			flush()
			current = piece
			return
		}
		current += " " + piece
	}

	for _, clause := range splitClauses(text) {
		if utf8.RuneCountInString(clause) <= max {
			add(clause)
			continue
		}
		for _, word := range strings.Fields(clause) {
			add(word)
		}
	}
	flush()
	return chunks
}

// splitClauses splits after every . ! ? or , keeping the punctuation on
// the preceding clause.
func splitClauses(text string) []string {
	var (
		out []string
		b   strings.Builder
	)
	for _, r := range text {
		b.WriteRune(r)
		if isClauseEnd(r) {
			if c := strings.TrimSpace(b.String()); c != "" {
				out = append(out, c)
			}
			b.Reset()
		}
	}
	if c := strings.TrimSpace(b.String()); c != "" {
		out = append(out, c)
	}
	return out
}

func isClauseEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == ','
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
