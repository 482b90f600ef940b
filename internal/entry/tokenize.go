// Package entry turns one line of entry text into a validated, structured
// item: tokenizing, grammar validation and per-key field dispatch.
package entry

import (
	"strings"
	"unicode"

	"schedline/internal/model"
)

// TokenKind classifies a token.
type TokenKind uint8

const (
	TokenItemType TokenKind = iota + 1
	TokenSubject
	TokenAt
	TokenAmp
)

func (k TokenKind) String() string {
	switch k {
	case TokenItemType:
		return "item-type"
	case TokenSubject:
		return "subject"
	case TokenAt:
		return "at-key"
	case TokenAmp:
		return "amp-key"
	default:
		return "unknown"
	}
}

// Token is one span of the entry. Start and End are byte offsets into the
// entry text; Text is the raw source between them.
type Token struct {
	Kind  TokenKind
	Text  string
	Start int
	End   int

	// Key is the identifier after the marker and Value the trimmed text up
	// to the next marker. Both are empty for item-type and subject tokens.
	Key   string
	Value string

	// Incomplete marks a trailing marker with no value yet.
	Incomplete bool
}

// Marker returns "@" or "&" for key tokens.
func (t Token) Marker() string {
	switch t.Kind {
	case TokenAt:
		return "@"
	case TokenAmp:
		return "&"
	default:
		return ""
	}
}

// Tokenize splits an entry into its item-type, subject and key tokens. It
// does no validation beyond the item-type marker.
func Tokenize(text string) ([]Token, error) {
	if text == "" {
		return nil, &LexError{Input: text}
	}
	typ, ok := model.ParseItemType(text[0])
	if !ok {
		return nil, &LexError{Input: text, Char: rune(text[0])}
	}

	tokens := []Token{{Kind: TokenItemType, Text: string(byte(typ)), Start: 0, End: 1}}

	markers := markerOffsets(text)
	subjectEnd := len(text)
	if len(markers) > 0 {
		subjectEnd = markers[0]
	}
	start, end := trimSpan(text, 1, subjectEnd)
	tokens = append(tokens, Token{
		Kind:  TokenSubject,
		Text:  text[start:end],
		Start: start,
		End:   end,
		Value: text[start:end],
	})

	for i, m := range markers {
		next := len(text)
		if i+1 < len(markers) {
			next = markers[i+1]
		}
		kind := TokenAt
		if text[m] == '&' {
			kind = TokenAmp
		}

		keyEnd := m + 1
		for keyEnd < next && !isSpace(text[keyEnd]) {
			keyEnd++
		}
		tok := Token{Kind: kind, Start: m, Key: text[m+1 : keyEnd]}
		if keyEnd == len(text) {
			tok.End = keyEnd
			tok.Text = text[m:keyEnd]
			tok.Incomplete = true
			tokens = append(tokens, tok)
			continue
		}

		_, tok.End = trimSpan(text, m, next)
		tok.Text = text[m:tok.End]
		vs, ve := trimSpan(text, keyEnd, next)
		tok.Value = text[vs:ve]
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// markerOffsets returns the offsets of every '@' or '&' that starts a token,
// that is one at the very start of the remainder or preceded by whitespace.
func markerOffsets(text string) []int {
	var out []int
	for i := 1; i < len(text); i++ {
		c := text[i]
		if (c == '@' || c == '&') && isSpace(text[i-1]) {
			out = append(out, i)
		}
	}
	return out
}

func trimSpan(text string, start, end int) (int, int) {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	return start, end
}

func isSpace(c byte) bool {
	return c < 0x80 && unicode.IsSpace(rune(c))
}

// Subject returns the subject token text, or "" when tokens is malformed.
func Subject(tokens []Token) string {
	for _, t := range tokens {
		if t.Kind == TokenSubject {
			return strings.TrimSpace(t.Value)
		}
	}
	return ""
}
