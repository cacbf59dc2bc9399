package parse

import (
	"regexp"
	"strings"
)

// Artifact categories reported in Result.ArtifactsRemoved. Each label
// appears at most once per parse.
const (
	artifactSpecialToken    = "special_token"
	artifactRolePrefix      = "role_prefix"
	artifactTokenRepetition = "token_repetition"
	artifactSeparatorRun    = "separator_run"
	artifactDuplicateHeader = "duplicate_header"
	artifactInstructionEcho = "instruction_echo"
)

// specialTokens are sampling leftovers emitted by common chat templates.
// Longer compound forms come first so the generic form does not leave
// their tail behind.
var specialTokens = []string{
	"<|im_start|>assistant",
	"<|im_start|>user",
	"<|im_start|>system",
	"<|im_start|>",
	"<|im_end|>",
	"<|endoftext|>",
	"<|eot_id|>",
	"<|end|>",
	"</s>",
	"<s>",
	"[DONE]",
}

var (
	rolePrefixRe = regexp.MustCompile(`(?i)^(assistant|system|user|human|ai)\s*:\s*`)
	wordRe       = regexp.MustCompile(`[A-Za-z0-9_]+`)
	echoRe       = regexp.MustCompile(`(?i)^(sure|certainly|of course|okay|ok)?[,!.]?\s*(here('s| is| are)|below is|the following is)\b[^\n]*:$`)
)

// cleanArtifacts strips generation debris from raw completion text and
// reports which categories fired, in pass order.
func cleanArtifacts(text string) (string, []string) {
	var removed []string

	if cleaned, hit := stripSpecialTokens(text); hit {
		text = cleaned
		removed = append(removed, artifactSpecialToken)
	}
	if cleaned, hit := stripRolePrefixes(text); hit {
		text = cleaned
		removed = append(removed, artifactRolePrefix)
	}
	if cleaned, hit := collapseWordRepeats(text); hit {
		text = cleaned
		removed = append(removed, artifactTokenRepetition)
	}
	if cleaned, hit := collapseSeparatorRuns(text); hit {
		text = cleaned
		removed = append(removed, artifactSeparatorRun)
	}
	if cleaned, hit := dropDuplicateHeaders(text); hit {
		text = cleaned
		removed = append(removed, artifactDuplicateHeader)
	}
	if cleaned, hit := stripInstructionEcho(text); hit {
		text = cleaned
		removed = append(removed, artifactInstructionEcho)
	}

	return text, removed
}

func stripSpecialTokens(text string) (string, bool) {
	hit := false
	for _, token := range specialTokens {
		if strings.Contains(text, token) {
			text = strings.ReplaceAll(text, token, "")
			hit = true
		}
	}
	return text, hit
}

// stripRolePrefixes removes conversational speaker labels at line
// starts, keeping the rest of the line.
func stripRolePrefixes(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	hit := false
	for i, line := range lines {
		if loc := rolePrefixRe.FindStringIndex(line); loc != nil {
			lines[i] = line[loc[1]:]
			hit = true
		}
	}
	if !hit {
		return text, false
	}
	return strings.Join(lines, "\n"), true
}

// collapseWordRepeats folds a word stuttered three or more times in a
// row down to one occurrence. Comparison is exact; tokens separated by
// anything but whitespace do not count as a run.
func collapseWordRepeats(text string) (string, bool) {
	matches := wordRe.FindAllStringIndex(text, -1)
	if len(matches) < 3 {
		return text, false
	}

	var b strings.Builder
	pos := 0
	hit := false
	for i := 0; i < len(matches); {
		j := i
		word := text[matches[i][0]:matches[i][1]]
		for j+1 < len(matches) &&
			text[matches[j+1][0]:matches[j+1][1]] == word &&
			isSpaceOnly(text[matches[j][1]:matches[j+1][0]]) {
			j++
		}
		if j-i+1 >= 3 {
			b.WriteString(text[pos:matches[i][1]])
			pos = matches[j][1]
			hit = true
		}
		i = j + 1
	}
	if !hit {
		return text, false
	}
	b.WriteString(text[pos:])
	return b.String(), true
}

func isSpaceOnly(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}

// collapseSeparatorRuns keeps one line out of each run of consecutive
// horizontal-rule lines.
func collapseSeparatorRuns(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	hit := false
	prevSep := false
	for _, line := range lines {
		sep := isSeparatorLine(line)
		if sep && prevSep {
			hit = true
			continue
		}
		prevSep = sep
		out = append(out, line)
	}
	if !hit {
		return text, false
	}
	return strings.Join(out, "\n"), true
}

func isSeparatorLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 3 {
		return false
	}
	for i := 0; i < len(trimmed); i++ {
		switch trimmed[i] {
		case '-', '=', '*', '_':
		default:
			return false
		}
	}
	return true
}

// dropDuplicateHeaders removes a markdown header line that repeats the
// immediately preceding header verbatim.
func dropDuplicateHeaders(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	hit := false
	prevHeader := ""
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if trimmed == prevHeader {
				hit = true
				continue
			}
			prevHeader = trimmed
		} else if trimmed != "" {
			prevHeader = ""
		}
		out = append(out, line)
	}
	if !hit {
		return text, false
	}
	return strings.Join(out, "\n"), true
}

// stripInstructionEcho drops a leading preamble line that restates the
// request ("Sure, here is the function you asked for:").
func stripInstructionEcho(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if echoRe.MatchString(trimmed) {
			return strings.Join(append(lines[:i], lines[i+1:]...), "\n"), true
		}
		break
	}
	return text, false
}
