package parse

import (
	"regexp"
	"strings"
)

// danglingTailRe matches a final line that is nothing but a keyword,
// the way token-capped output stops.
var danglingTailRe = regexp.MustCompile(
	`(?i)^(const|let|var|import|export|return|await|throw|new|func|def|class|if|for|while|switch|catch)\s*$`)

// continuationSuffixes are characters no completion naturally stops
// on. A period is deliberately absent: in mixed prose it terminates
// sentences far more often than property chains.
var continuationSuffixes = []string{
	"=>", "=", ",", ":", "(", "[", "{",
}

// detectTruncation checks the cleaned text for cut-off signals: an
// unpaired fence line, a code block without its closing fence or with
// unbalanced content, a tail that stops mid-expression, or leftover
// open brackets in the prose.
func detectTruncation(cleaned, plain string, blocks []CodeBlock) bool {
	if countFenceLines(cleaned)%2 == 1 {
		return true
	}
	for _, b := range blocks {
		if !b.Complete {
			return true
		}
	}
	if endsMidExpression(cleaned) {
		return true
	}
	scan := scanBrackets(plain)
	return scan.parens != 0 || scan.brackets != 0 || scan.braces != 0
}

// endsMidExpression reports whether the text stops where more was
// clearly meant to follow.
func endsMidExpression(text string) bool {
	trimmed := strings.TrimRight(text, " \t\n\r")
	if trimmed == "" {
		return false
	}
	lines := strings.Split(trimmed, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if danglingTailRe.MatchString(last) {
		return true
	}
	for _, suffix := range continuationSuffixes {
		if strings.HasSuffix(trimmed, suffix) {
			return true
		}
	}
	return false
}
