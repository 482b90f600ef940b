package entry

import (
	"fmt"
	"strings"
)

// LexError reports an entry that does not start with an item-type marker.
// No partial result accompanies it.
type LexError struct {
	Input string
	Char  rune
}

func (e *LexError) Error() string {
	if e.Input == "" {
		return "empty entry: expected an item-type marker (* ~ ^ % + ?)"
	}
	return fmt.Sprintf("unrecognized item type %q: expected one of * ~ ^ %% + ?", e.Char)
}

// GrammarError collects every grammar violation of an entry. Tokens carries
// the token list so that an interactive caller can re-prompt.
type GrammarError struct {
	Messages []string
	Tokens   []Token

	// Incomplete is set when validation stopped at a trailing marker. Needed
	// lists keys still required and Allowed the legal continuations.
	Incomplete bool
	Needed     []string
	Allowed    []string

	allowed []Key
}

func (e *GrammarError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// FieldError reports a single key whose value failed to parse.
type FieldError struct {
	Key   string
	Token Token
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// FieldErrors is the per-key error list of one parse. A non-empty list is
// returned together with the partially filled item.
type FieldErrors []*FieldError

func (es FieldErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual field errors to errors.Is and errors.As.
func (es FieldErrors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// Keys lists the keys that failed, in order.
func (es FieldErrors) Keys() []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Key
	}
	return out
}
