package parse

// opener is one unclosed bracket and where it was seen.
type opener struct {
	ch  byte
	pos int
}

// scanResult is what a quote-aware pass over text leaves behind: net
// bracket counts, the unclosed openers oldest-first, and the quote
// character of an unterminated string literal. escaped is set when the
// text ends on a backslash inside that string, so the next character
// written after it would be swallowed.
type scanResult struct {
	parens   int
	brackets int
	braces   int
	open     []opener
	quote    byte
	quotePos int
	escaped  bool
}

// balanced reports whether the scan ended with every bracket closed and
// outside any string literal.
func (r scanResult) balanced() bool {
	return r.parens == 0 && r.brackets == 0 && r.braces == 0 && r.quote == 0
}

// scanBrackets walks text tracking string literals so brackets inside
// quotes do not count. Backslash escapes are honored inside strings.
// An apostrophe between word characters (don't) is prose, not a string
// opener.
func scanBrackets(s string) scanResult {
	var res scanResult
	for i := 0; i < len(s); i++ {
		c := s[i]
		if res.quote != 0 {
			switch c {
			case '\\':
				res.escaped = i+1 >= len(s)
				i++
			case res.quote:
				res.quote = 0
			}
			continue
		}
		switch c {
		case '"', '`':
			res.quote = c
			res.quotePos = i
		case '\'':
			if !isWordApostrophe(s, i) {
				res.quote = c
				res.quotePos = i
			}
		case '(':
			res.parens++
			res.open = append(res.open, opener{c, i})
		case '[':
			res.brackets++
			res.open = append(res.open, opener{c, i})
		case '{':
			res.braces++
			res.open = append(res.open, opener{c, i})
		case ')':
			res.parens--
			res.open = popOpener(res.open, '(')
		case ']':
			res.brackets--
			res.open = popOpener(res.open, '[')
		case '}':
			res.braces--
			res.open = popOpener(res.open, '{')
		}
	}
	return res
}

// popOpener removes the most recent matching opener, tolerating
// closers that never had one.
func popOpener(open []opener, ch byte) []opener {
	for i := len(open) - 1; i >= 0; i-- {
		if open[i].ch == ch {
			return append(open[:i], open[i+1:]...)
		}
	}
	return open
}

func closerFor(ch byte) string {
	switch ch {
	case '(':
		return ")"
	case '[':
		return "]"
	default:
		return "}"
	}
}

// isWordApostrophe reports whether the quote at i reads as part of a
// word rather than a string delimiter.
func isWordApostrophe(s string, i int) bool {
	prevWord := i > 0 && isWordByte(s[i-1])
	nextWord := i+1 < len(s) && isWordByte(s[i+1])
	if prevWord && nextWord {
		return true
	}
	// trailing possessive: the dogs' bone
	return prevWord && !nextWord && i+1 < len(s) && s[i+1] == ' '
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// bodyBalanced reports whether a code block body has balanced brackets
// and no dangling string literal.
func bodyBalanced(body string) bool {
	return scanBrackets(body).balanced()
}
