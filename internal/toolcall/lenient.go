package toolcall

import (
	"regexp"
	"strings"
)

// intentPhrases mark a reply that talks about a tool call instead of
// making one.
var intentPhrases = []string{
	"here is the json",
	"json response",
	"tool_calls",
	"i will use",
}

// LooksLikeToolIntent reports whether text reads like the model is
// describing a tool call rather than issuing it.
func LooksLikeToolIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range intentPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	quoteReplacer   = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`,
		"‘", "'", "’", "'",
	)
)

// Repair fixes JSON defects models commonly produce: typographic
// quotes, trailing commas, and unclosed braces or brackets at the end of
// the text.
func Repair(text string) string {
	s := quoteReplacer.Replace(text)
	s = trailingCommaRe.ReplaceAllString(s, "$1")

	if strings.Contains(s, `"tool_calls"`) {
		s += unclosed(s)
	}
	return s
}

// unclosed returns the closers needed to balance the brackets and braces
// opened in s, innermost first. Brackets inside JSON strings are ignored.
func unclosed(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if n := len(stack); n > 0 && stack[n-1] == ch {
				stack = stack[:n-1]
			}
		}
	}

	closers := make([]byte, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		closers = append(closers, stack[i])
	}
	return string(closers)
}

// ExtractLenient is the second-chance pass: it runs [Extract] on the text
// and, failing that, on a [Repair]ed copy.
func ExtractLenient(text string) ([]Call, bool) {
	if calls, ok := Extract(text); ok {
		return calls, true
	}
	repaired := Repair(text)
	if repaired == text {
		return nil, false
	}
	return Extract(repaired)
}

// Scrub removes stray tool-call JSON from a reply. A block starts at a
// line that begins with '{' and mentions "tool_calls", and ends at the
// line where its braces balance. Code fences left empty by the removal
// are dropped too. The result is trimmed.
func Scrub(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	depth := 0
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inBlock && strings.HasPrefix(trimmed, "{") && strings.Contains(line, `"tool_calls"`) {
			inBlock = true
			depth = 0
		}
		if inBlock {
			depth += braceDelta(line)
			if depth <= 0 {
				inBlock = false
			}
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(dropEmptyFences(kept), "\n"))
}

// braceDelta counts '{' minus '}' outside JSON strings on one line.
func braceDelta(line string) int {
	delta := 0
	inString, escaped := false, false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			delta++
		case '}':
			delta--
		}
	}
	return delta
}

// dropEmptyFences removes an opening fence line immediately followed by
// a closing one, ignoring blank lines between them.
func dropEmptyFences(lines []string) []string {
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			j := i + 1
			for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
				j++
			}
			if j < len(lines) && strings.TrimSpace(lines[j]) == "```" {
				i = j
				continue
			}
		}
		out = append(out, lines[i])
	}
	return out
}
