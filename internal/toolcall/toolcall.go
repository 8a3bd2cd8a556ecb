// Package toolcall extracts structured tool-call requests from free-form
// model output.
//
// Models asked to reply with {"tool_calls": [...]} often wrap the JSON
// in a code fence, embed it in prose, or emit it with small defects.
// [Extract] runs an ordered list of strategies over the text and returns
// the first list of calls any of them finds. It never returns an error:
// a reply with no usable tool-call payload is reported as "none
// detected" and is meant to be treated as a conversational answer.
package toolcall

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Call is one requested tool invocation.
type Call struct {
	Name      string
	Arguments map[string]any

	// Err is set when the call was present in the payload but could not
	// be decoded. Name is kept when it was readable; Arguments is empty.
	Err error
}

// UnmarshalJSON accepts {"name": ..., "arguments": {...}}, arguments
// given as a JSON-encoded string, and the OpenAI-style
// {"function": {"name": ..., "arguments": ...}} wrapper. Name is set
// even when the arguments are unusable.
func (c *Call) UnmarshalJSON(data []byte) error {
	var wire struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		Function  *struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	name, rawArgs := wire.Name, wire.Arguments
	if name == "" && wire.Function != nil {
		name, rawArgs = wire.Function.Name, wire.Function.Arguments
	}

	c.Name = strings.TrimSpace(name)
	args, err := decodeArguments(rawArgs)
	if err != nil {
		return err
	}
	c.Arguments = args
	return nil
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return map[string]any{}, nil
		}
		raw = json.RawMessage(s)
	}

	args := map[string]any{}
	if raw[0] != '{' || json.Unmarshal(raw, &args) != nil {
		return nil, errArgumentsNotObject
	}
	return args, nil
}

var errArgumentsNotObject = errors.New("arguments must be a JSON object")

// Strategy looks for a tool-call payload in text. ok is false when the
// strategy found nothing it could decode.
type Strategy func(text string) (calls []Call, ok bool)

// DefaultStrategies is the extraction order used by [Extract].
var DefaultStrategies = []Strategy{
	FencedJSON,
	FencedAny,
	InlineObject,
	WholeText,
	OuterBraces,
}

// Extract runs [DefaultStrategies] over text, first match wins. ok is
// false when no strategy found a payload. An explicit empty list is
// returned as a non-nil empty slice with ok true.
func Extract(text string) ([]Call, bool) {
	return ExtractWith(text, DefaultStrategies...)
}

// ExtractWith runs the given strategies in order.
func ExtractWith(text string, strategies ...Strategy) ([]Call, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	for _, s := range strategies {
		if calls, ok := s(text); ok {
			return calls, true
		}
	}
	return nil, false
}

var (
	fencedJSONRe = regexp.MustCompile("(?is)```json[ \\t]*\\r?\\n?(.*?)```")
	fencedAnyRe  = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \\t]*\\r?\\n?(.*?)```")
)

// FencedJSON decodes the first ```json fenced block holding a payload.
func FencedJSON(text string) ([]Call, bool) {
	return fromFences(fencedJSONRe, text)
}

// FencedAny decodes the first fenced block of any label holding a
// payload.
func FencedAny(text string) ([]Call, bool) {
	return fromFences(fencedAnyRe, text)
}

func fromFences(re *regexp.Regexp, text string) ([]Call, bool) {
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if calls, ok := decodePayload(m[1]); ok {
			return calls, true
		}
	}
	return nil, false
}

// InlineObject finds the smallest balanced object literal that encloses
// a "tool_calls" key and decodes it.
func InlineObject(text string) ([]Call, bool) {
	const key = `"tool_calls"`
	for from := 0; ; {
		rel := strings.Index(text[from:], key)
		if rel < 0 {
			return nil, false
		}
		at := from + rel

		// Walk outward through enclosing '{' candidates, nearest first.
		for open := strings.LastIndexByte(text[:at], '{'); open >= 0; open = strings.LastIndexByte(text[:open], '{') {
			end, ok := matchBrace(text, open)
			if !ok || end < at {
				continue
			}
			if calls, ok := decodePayload(text[open : end+1]); ok {
				return calls, true
			}
		}
		from = at + len(key)
	}
}

// WholeText decodes the entire trimmed text as a payload.
func WholeText(text string) ([]Call, bool) {
	return decodePayload(text)
}

// OuterBraces decodes the span from the first '{' to the last '}' when
// the text mentions "tool_calls".
func OuterBraces(text string) ([]Call, bool) {
	if !strings.Contains(text, `"tool_calls"`) {
		return nil, false
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	return decodePayload(text[start : end+1])
}

// decodePayload parses s as a JSON object with a "tool_calls" list. Each
// element is decoded on its own, so one malformed call does not hide the
// others; it is returned with Err set.
func decodePayload(s string) ([]Call, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	raw, ok := obj["tool_calls"]
	if !ok {
		return nil, false
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || elems == nil {
		// "tool_calls": null is not a list.
		return nil, false
	}

	calls := make([]Call, 0, len(elems))
	for i, elem := range elems {
		var c Call
		if err := json.Unmarshal(elem, &c); err != nil {
			c = Call{Name: c.Name, Arguments: map[string]any{}, Err: fmt.Errorf("tool call %d: %w", i+1, err)}
		}
		calls = append(calls, c)
	}
	return calls, true
}

// matchBrace returns the index of the '}' that closes the '{' at open,
// skipping braces inside JSON strings.
func matchBrace(text string, open int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := open; i < len(text); i++ {
		ch := text[i]
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
