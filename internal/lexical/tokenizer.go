package lexical

import (
	"regexp"
	"strings"
)

// wordRun matches runs of at least two letters, digits or underscores
var wordRun = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// minHexDigestLen is the shortest word run treated as a hash or object id
const minHexDigestLen = 16

// Tokenize splits free text into lower-case search tokens.
//
// Identifiers are broken on underscores and on camelCase, Capitalized and
// ALLCAPS boundaries, so "getUserById" and "get_user_by_id" both produce
// get, user, by, id. Digits never form tokens of their own. Sub-tokens that
// are too short, mostly non-ASCII or dominated by repeated characters are
// dropped, as are whole word runs that look like hex digests.
func Tokenize(text string) []string {
	var tokens []string
	for _, run := range wordRun.FindAllString(text, -1) {
		if isHexDigest(run) {
			continue
		}
		for _, piece := range strings.Split(run, "_") {
			for _, sub := range segment(piece) {
				if keepToken(sub) {
					tokens = append(tokens, strings.ToLower(sub))
				}
			}
		}
	}
	return tokens
}

// QueryString returns the tokens of text joined with single spaces
func QueryString(text string) string {
	return strings.Join(Tokenize(text), " ")
}

// segment splits one underscore-free piece into case-boundary sub-runs.
// It behaves like findall with ([A-Z][a-z]+|[a-z]+|[A-Z]+(?=[A-Z]|$)),
// which RE2 cannot express because of the lookahead.
func segment(piece string) []string {
	var out []string
	b := piece
	n := len(b)
	i := 0
	for i < n {
		c := b[i]
		switch {
		case isUpper(c) && i+1 < n && isLower(b[i+1]):
			j := i + 1
			for j < n && isLower(b[j]) {
				j++
			}
			out = append(out, b[i:j])
			i = j
		case isLower(c):
			j := i
			for j < n && isLower(b[j]) {
				j++
			}
			out = append(out, b[i:j])
			i = j
		case isUpper(c):
			j := i
			for j < n && isUpper(b[j]) {
				j++
			}
			// greedy run must be followed by end of piece; otherwise back off
			// one letter so the lookahead sees an upper-case letter
			switch {
			case j == n:
				out = append(out, b[i:j])
				i = j
			case j-i >= 2:
				out = append(out, b[i:j-1])
				i = j - 1
			default:
				i++
			}
		default:
			i++
		}
	}
	return out
}

// keepToken applies the length, ASCII share and repetition filters
func keepToken(tok string) bool {
	runes := []rune(tok)
	if len(runes) < 2 {
		return false
	}

	ascii := 0
	distinct := make(map[rune]struct{}, len(runes))
	for _, r := range runes {
		if r < 128 && (isLower(byte(r)) || isUpper(byte(r)) || isDigit(byte(r))) {
			ascii++
		}
		distinct[r] = struct{}{}
	}

	if ascii*2 <= len(runes) {
		return false
	}
	return float64(len(runes))/float64(len(distinct)) < 4
}

// isHexDigest reports whether a word run looks like a hash: long, hex only,
// mixing digits and letters
func isHexDigest(run string) bool {
	if len(run) < minHexDigestLen {
		return false
	}
	var digits, letters bool
	for i := 0; i < len(run); i++ {
		c := run[i]
		switch {
		case isDigit(c):
			digits = true
		case (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F'):
			letters = true
		default:
			return false
		}
	}
	return digits && letters
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isLower(c byte) bool { return c >= 'a' && c <= 'z' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
