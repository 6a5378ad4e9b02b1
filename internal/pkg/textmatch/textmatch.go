// Package textmatch provides keyword matching for mixed CJK and Latin chat text.
package textmatch

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Contains reports whether kw occurs in text, case-insensitively. Latin
// keywords must sit on word boundaries so "hi" does not match "this"; CJK
// keywords match anywhere.
func Contains(text, kw string) bool {
	return len(occurrences(normalize(text), strings.ToLower(kw))) > 0
}

func occurrences(text, kw string) []int {
	if kw == "" {
		return nil
	}
	var out []int
	latin := isLatin(kw)
	for start := 0; start <= len(text)-len(kw); {
		i := strings.Index(text[start:], kw)
		if i < 0 {
			break
		}
		i += start
		if !latin || (boundaryBefore(text, i) && boundaryAfter(text, i+len(kw))) {
			out = append(out, i)
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		start = i + size
	}
	return out
}

// Hits returns the keywords found in text, in keyword order.
func Hits(text string, keywords []string) []string {
	var out []string
	for _, kw := range keywords {
		if Contains(text, kw) {
			out = append(out, kw)
		}
	}
	return out
}

// Any reports whether any keyword occurs in text.
func Any(text string, keywords []string) bool {
	for _, kw := range keywords {
		if Contains(text, kw) {
			return true
		}
	}
	return false
}

// SplitHits is Hits with negation: a keyword is affirmed when at least one
// occurrence is free of a negation cue ("不", "沒", "not", "haven't" ...)
// shortly before it in the same clause, and negated otherwise.
func SplitHits(text string, keywords []string) (affirmed, negated []string) {
	lower := normalize(text)
	for _, kw := range keywords {
		idx := occurrences(lower, strings.ToLower(kw))
		if len(idx) == 0 {
			continue
		}
		neg := true
		for _, i := range idx {
			if !negatedAt(lower, i) {
				neg = false
				break
			}
		}
		if neg {
			negated = append(negated, kw)
		} else {
			affirmed = append(affirmed, kw)
		}
	}
	return affirmed, negated
}

const (
	clauseBreaks = "，。！？；、,.!?;\n"
	cjkNegators  = "不沒没未別别無无"

	// How far back a cue may sit: runes for CJK, words for Latin.
	cjkNegationWindow   = 2
	latinNegationWindow = 2
)

var latinNegators = map[string]bool{
	"not": true, "no": true, "never": true, "cannot": true,
	"don't": true, "dont": true, "doesn't": true, "didn't": true,
	"haven't": true, "hasn't": true, "isn't": true, "aren't": true,
	"wasn't": true, "won't": true, "can't": true,
}

func negatedAt(s string, i int) bool {
	clause := s[:i]
	if j := strings.LastIndexAny(clause, clauseBreaks); j >= 0 {
		_, size := utf8.DecodeRuneInString(clause[j:])
		clause = clause[j+size:]
	}

	runes := []rune(strings.TrimSpace(clause))
	if n := len(runes); n > cjkNegationWindow {
		runes = runes[n-cjkNegationWindow:]
	}
	for _, r := range runes {
		if strings.ContainsRune(cjkNegators, r) {
			return true
		}
	}

	words := strings.Fields(clause)
	if n := len(words); n > latinNegationWindow {
		words = words[n-latinNegationWindow:]
	}
	for _, w := range words {
		if latinNegators[strings.Trim(w, `"()`)] {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "’", "'")
}

func isLatin(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}
