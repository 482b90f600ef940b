package entry

import (
	"fmt"
	"sort"
	"strings"

	"schedline/internal/model"
)

// grammar is the static key table for one item type.
type grammar struct {
	required keySet
	allowed  keySet
}

var (
	commonKeys = setOf(
		KeySchedule, KeyExtent, KeyAlert, KeyBeginBy, KeyRepeat, KeyInclude, KeyExclude,
		KeyDescription, KeyPriority, KeyTag, KeyAttendee, KeyContext, KeyBin, KeyLocation, KeyURL,
	)
	completableKeys = commonKeys | setOf(KeyOffset, KeyFinished)
)

var grammars = map[model.ItemType]grammar{
	model.Event:   {required: setOf(KeySchedule), allowed: commonKeys},
	model.Note:    {allowed: commonKeys},
	model.Task:    {allowed: completableKeys},
	model.Goal:    {required: setOf(KeySchedule), allowed: completableKeys},
	model.Project: {required: setOf(KeyJob), allowed: completableKeys | setOf(KeyJob)},
	model.Draft:   {allowed: completableKeys | setOf(KeyJob)},
}

// requires lists, per key, the keys that must also be present once it is
// used. It is shared by every item type.
var requires = map[Key]keySet{
	KeyAlert:   setOf(KeySchedule),
	KeyBeginBy: setOf(KeySchedule),
	KeyRepeat:  setOf(KeySchedule),
	KeyInclude: setOf(KeySchedule),
	KeyExclude: setOf(KeySchedule),
	KeyOffset:  setOf(KeySchedule),
}

// multiple holds the @-keys that may appear more than once.
var multiple = setOf(KeyTag, KeyAlert, KeyAttendee, KeyInclude, KeyExclude, KeyJob)

// conflicts are pairs of keys that may not be used together. Sub-key pairs
// are checked within one group.
var conflicts = [][2]Key{
	{KeyRepeatCount, KeyRepeatUntil},
	{KeyOffset, KeyRepeat},
	{KeyOffset, KeyInclude},
	{KeyOffset, KeyExclude},
}

// Validate checks tokens against the grammar of their item type. Every
// violation is collected; an incomplete token stops validation at once.
func Validate(tokens []Token) error {
	if len(tokens) < 2 || tokens[0].Kind != TokenItemType {
		return &GrammarError{Messages: []string{"missing item type"}, Tokens: tokens}
	}
	typ, _ := model.ParseItemType(tokens[0].Text[0])
	g, ok := grammars[typ]
	if !ok {
		return &GrammarError{Messages: []string{fmt.Sprintf("no grammar for item type %q", tokens[0].Text)}, Tokens: tokens}
	}

	v := validator{typ: typ, g: g, anchor: noKey}
	if Subject(tokens) == "" {
		v.fail("missing subject")
	}
	for _, tok := range tokens[2:] {
		if tok.Incomplete {
			return v.incomplete(tok, tokens)
		}
		switch tok.Kind {
		case TokenAt:
			v.at(tok)
		case TokenAmp:
			v.amp(tok)
		}
	}
	v.finish()
	if len(v.msgs) > 0 {
		return &GrammarError{Messages: v.msgs, Tokens: tokens}
	}
	return nil
}

type validator struct {
	typ model.ItemType
	g   grammar

	used   keySet
	needed keySet

	// anchor is the @r or @j key opening the current group, noKey outside
	// one, and group the sub-keys used in it.
	anchor Key
	group  keySet

	msgs []string
}

func (v *validator) fail(format string, args ...any) {
	v.msgs = append(v.msgs, fmt.Sprintf(format, args...))
}

func (v *validator) at(tok Token) {
	v.anchor = noKey
	k, ok := atKey(tok.Key)
	if !ok {
		v.fail("unknown key @%s", tok.Key)
		return
	}
	if !v.g.allowed.has(k) {
		v.fail("%s is not allowed for %ss", k, v.typ)
		return
	}
	if v.used.has(k) && !multiple.has(k) {
		v.fail("%s may only be given once", k)
	}
	v.used.add(k)
	v.needed |= requires[k]
	if k == KeyRepeat || k == KeyJob {
		v.anchor = k
		v.group = 0
	}
}

func (v *validator) amp(tok Token) {
	if v.anchor == noKey {
		v.fail("&%s must follow @r or @j", tok.Key)
		return
	}
	k, ok := ampKey(v.anchor, tok.Key)
	if !ok {
		v.fail("unknown key &%s for %s", tok.Key, v.anchor)
		return
	}
	if v.group.has(k) {
		v.fail("%s may only be given once per %s", k, v.anchor)
		return
	}
	for _, c := range conflicts {
		if (k == c[0] && v.group.has(c[1])) || (k == c[1] && v.group.has(c[0])) {
			v.fail("%s and %s are mutually exclusive", c[0], c[1])
		}
	}
	v.group.add(k)
}

func (v *validator) missing() keySet {
	return (v.needed | v.g.required) &^ v.used
}

func (v *validator) finish() {
	miss := v.missing()
	for k := Key(0); k < numKeys; k++ {
		if !miss.has(k) {
			continue
		}
		if v.g.required.has(k) {
			v.fail("%s is required for %ss", k, v.typ)
			continue
		}
		var by []string
		for dep, req := range requires {
			if req.has(k) && v.used.has(dep) {
				by = append(by, dep.String())
			}
		}
		sort.Strings(by)
		v.fail("%s requires %s", strings.Join(by, ", "), k)
	}
	for _, c := range conflicts {
		if !c[0].IsSub() && v.used.has(c[0]) && v.used.has(c[1]) {
			v.fail("%s and %s are mutually exclusive", c[0], c[1])
		}
	}
}

// incomplete builds the error for a trailing marker: the keys still needed
// and the continuations legal at this point that start with what was typed.
func (v *validator) incomplete(tok Token, tokens []Token) error {
	e := &GrammarError{Tokens: tokens, Incomplete: true}
	miss := v.missing()
	for k := Key(0); k < numKeys; k++ {
		if miss.has(k) {
			e.Needed = append(e.Needed, k.String())
		}
	}

	var candidates []Key
	if tok.Kind == TokenAt {
		for k := Key(0); k < numKeys; k++ {
			if k.IsSub() || !v.g.allowed.has(k) {
				continue
			}
			if v.used.has(k) && !multiple.has(k) {
				continue
			}
			candidates = append(candidates, k)
		}
	} else if v.anchor != noKey {
		for _, k := range subKeys(v.anchor) {
			if !v.group.has(k) {
				candidates = append(candidates, k)
			}
		}
	}
	typed := tok.Marker() + tok.Key
	for _, k := range candidates {
		if strings.HasPrefix(k.String(), typed) {
			e.Allowed = append(e.Allowed, k.String())
			e.allowed = append(e.allowed, k)
		}
	}

	msg := fmt.Sprintf("incomplete %s", typed)
	if len(e.Needed) > 0 {
		msg += "; needed: " + strings.Join(e.Needed, " ")
	}
	if len(e.Allowed) > 0 {
		msg += "; allowed: " + strings.Join(e.Allowed, " ")
	} else if tok.Kind == TokenAmp && v.anchor == noKey {
		msg += "; & keys must follow @r or @j"
	}
	e.Messages = []string{msg}
	return e
}

// Help describes each continuation of an incomplete entry, one per line.
func (e *GrammarError) Help() []string {
	out := make([]string, len(e.allowed))
	for i, k := range e.allowed {
		out[i] = k.String() + "  " + k.Help()
	}
	return out
}
