package entry

import (
	"schedline/internal/model"
)

// Result is a parsed entry together with the tokens it came from.
type Result struct {
	Item   *model.Item
	Tokens []Token
}

// Parse compiles one entry into an item.
//
// A *LexError or *GrammarError comes back with a nil Result. FieldErrors
// come back together with the partially filled item: one bad key does not
// keep the others from being parsed.
func Parse(text string, opts Options) (*Result, error) {
	opts = opts.normalize()
	tokens, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	if err := Validate(tokens); err != nil {
		return nil, err
	}
	item, errs := dispatch(tokens, opts)
	res := &Result{Item: item, Tokens: tokens}
	if len(errs) > 0 {
		return res, errs
	}
	return res, nil
}
