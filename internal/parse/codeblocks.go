package parse

import (
	"regexp"
	"strings"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// extractCodeBlocks walks the text line by line toggling on fence
// lines. It returns the blocks in order plus the surrounding plain
// text with the fenced regions removed. A fence left open at the end
// of input yields a final block marked incomplete.
//
// Block offsets are byte positions of the fenced region (fences
// included) in the text as given, before removal.
func extractCodeBlocks(text string) ([]CodeBlock, string) {
	var (
		blocks []CodeBlock
		plain  strings.Builder
		body   strings.Builder
		cur    CodeBlock
	)

	inBlock := false
	offset := 0
	for _, line := range splitAfterLines(text) {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if !inBlock {
				inBlock = true
				cur = CodeBlock{
					Language: fenceLanguage(trimmed),
					Start:    offset,
				}
				body.Reset()
			} else {
				inBlock = false
				cur.End = offset + len(strings.TrimRight(line, "\r\n"))
				cur.Code = strings.TrimSuffix(strings.TrimSuffix(body.String(), "\n"), "\r")
				cur.Complete = bodyBalanced(cur.Code)
				blocks = append(blocks, cur)
			}
			offset += len(line)
			continue
		}
		if inBlock {
			body.WriteString(line)
		} else {
			plain.WriteString(line)
		}
		offset += len(line)
	}

	if inBlock {
		cur.End = len(text)
		cur.Code = strings.TrimSuffix(strings.TrimSuffix(body.String(), "\n"), "\r")
		cur.Complete = false
		blocks = append(blocks, cur)
	}

	return blocks, tidyPlain(plain.String())
}

// splitAfterLines splits keeping line terminators so byte offsets stay
// exact.
func splitAfterLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// fenceLanguage pulls the language tag off an opening fence line.
// Trailing junk after the tag is ignored.
func fenceLanguage(fenceLine string) string {
	tag := strings.TrimPrefix(fenceLine, "```")
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// countFenceLines counts lines that open or close a fence.
func countFenceLines(text string) int {
	n := 0
	for _, line := range splitAfterLines(text) {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			n++
		}
	}
	return n
}

// tidyPlain squeezes the holes left by block removal.
func tidyPlain(s string) string {
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
