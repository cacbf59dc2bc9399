package parse

import (
	"regexp"
	"sort"
	"strings"
)

var tagRe = regexp.MustCompile(`<(/?)([A-Za-z][A-Za-z0-9.-]*)((?:[^<>"']|"[^"]*"|'[^']*')*?)(/?)>`)

// voidTags never take a closing tag in HTML.
var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// tagLanguages get markup tag closing on repair. Everything else gets
// bracket closing; JSX and TSX get both since expressions wrap their
// markup.
var tagLanguages = map[string]bool{
	"html": true, "xml": true, "svg": true, "vue": true,
	"jsx": true, "tsx": true,
}

func bracketLanguage(lang string) bool {
	switch lang {
	case "html", "xml", "svg", "vue":
		return false
	}
	return true
}

// pendingCloser is one closer the snippet is missing, keyed by where
// its opener sits so closers can be emitted innermost-first.
type pendingCloser struct {
	pos    int
	closer string
}

// RepairTruncated appends the closers a cut-off snippet is missing: a
// dangling string quote first, then bracket and markup-tag closers
// ordered so the latest opener closes first. Repairing
// already-repaired code changes nothing.
func RepairTruncated(code, language string) string {
	if code == "" {
		return code
	}
	lang := strings.ToLower(strings.TrimSpace(language))

	var b strings.Builder
	b.WriteString(code)

	scan := scanBrackets(code)
	if scan.quote != 0 {
		// a trailing backslash would swallow the closing quote
		if scan.escaped {
			b.WriteByte('\\')
		}
		b.WriteByte(scan.quote)
	}

	var pending []pendingCloser
	if bracketLanguage(lang) {
		for _, o := range scan.open {
			pending = append(pending, pendingCloser{pos: o.pos, closer: closerFor(o.ch)})
		}
	}
	if tagLanguages[lang] {
		for _, t := range openTagsWithPos(code) {
			pending = append(pending, pendingCloser{pos: t.pos, closer: "</" + t.name + ">"})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].pos > pending[j].pos })
	for _, p := range pending {
		b.WriteString(p.closer)
	}
	return b.String()
}

type openTag struct {
	name string
	pos  int
}

// openTagsWithPos returns the markup tags left open, oldest first.
// Self-closing and void tags never enter the stack; a closing tag pops
// its nearest matching opener.
func openTagsWithPos(code string) []openTag {
	var stack []openTag
	for _, m := range tagRe.FindAllStringSubmatchIndex(code, -1) {
		closing := code[m[2]:m[3]] == "/"
		name := code[m[4]:m[5]]
		selfClosed := code[m[8]:m[9]] == "/" || voidTags[strings.ToLower(name)]
		switch {
		case closing:
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].name == name {
					stack = append(stack[:i], stack[i+1:]...)
					break
				}
			}
		case !selfClosed:
			stack = append(stack, openTag{name: name, pos: m[0]})
		}
	}
	return stack
}
