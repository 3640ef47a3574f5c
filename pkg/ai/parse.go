package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/kaptinlin/jsonrepair"
)

// Shape is the kind of JSON value a caller expects in a model response.
type Shape int

const (
	ShapeAuto Shape = iota
	ShapeObject
	ShapeArray
)

func (s Shape) String() string {
	switch s {
	case ShapeObject:
		return "object"
	case ShapeArray:
		return "array"
	default:
		return "value"
	}
}

var (
	// ErrNoJSON is returned by ExtractJSON when the text holds no JSON value.
	ErrNoJSON = errors.New("no JSON value found in response")
	// ErrUnparseable is returned when every parse tier failed.
	ErrUnparseable = errors.New("unparseable JSON response")
)

var (
	thinkBlockPattern  = regexp.MustCompile(`(?is)<think>.*?</think>`)
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\r?\n?(.*?)```")
)

// Completer is the part of GraphAIClient the repair tier needs.
type Completer interface {
	GenerateCompletion(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)
}

// ParseJSON decodes the JSON value embedded in a model response into out.
//
// Tier 1 locates the value (fenced block or first balanced span, think blocks
// skipped). Tier 2 decodes it locally, with a narrow escape fix for control
// characters and invalid backslashes and a generic syntax repair after that.
// Tier 3 asks repairer to rewrite the JSON; it is skipped when repairer is nil.
func ParseJSON(ctx context.Context, text string, shape Shape, out any, repairer Completer) error {
	candidate, err := ExtractJSON(text, shape)
	if err != nil {
		if repairer == nil {
			return fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		logger.Debug("[JSON] No JSON found, asking model to produce it", "shape", shape.String())
		return RepairJSONWithLLM(ctx, repairer, text, "", err.Error(), shape, out)
	}

	decodeErr := DecodeJSON(candidate, out)
	if decodeErr == nil {
		return nil
	}
	if repairer == nil {
		return fmt.Errorf("%w: %v", ErrUnparseable, decodeErr)
	}
	logger.Debug("[JSON] Local decode failed, asking model to repair", "err", decodeErr)
	return RepairJSONWithLLM(ctx, repairer, text, candidate, decodeErr.Error(), shape, out)
}

// StripThinkBlocks removes <think>...</think> reasoning sections.
func StripThinkBlocks(text string) string {
	text = thinkBlockPattern.ReplaceAllString(text, "")
	// an unterminated block means the answer follows a dangling close tag
	if idx := strings.LastIndex(strings.ToLower(text), "</think>"); idx >= 0 {
		text = text[idx+len("</think>"):]
	}
	return text
}

// ExtractJSON is tier 1: it returns the JSON text embedded in a response with
// stray control characters removed.
func ExtractJSON(text string, shape Shape) (string, error) {
	text = StripThinkBlocks(text)

	for _, m := range fencedBlockPattern.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if body == "" {
			continue
		}
		if span := findBalanced(body, shape); span != "" {
			return stripControlChars(span), nil
		}
	}

	if span := findBalanced(text, shape); span != "" {
		return stripControlChars(span), nil
	}
	return "", ErrNoJSON
}

func openersFor(shape Shape) string {
	switch shape {
	case ShapeObject:
		return "{"
	case ShapeArray:
		return "["
	default:
		return "{["
	}
}

// findBalanced returns the first balanced span that opens with one of the
// shape's openers. Brackets inside string literals are ignored. A span that
// never closes is returned to the end of the text so later tiers can repair it.
func findBalanced(text string, shape Shape) string {
	if span := scanBalanced(text, openersFor(shape)); span != "" {
		return span
	}
	if shape != ShapeAuto {
		return scanBalanced(text, openersFor(ShapeAuto))
	}
	return ""
}

func scanBalanced(text, openers string) string {
	start := strings.IndexAny(text, openers)
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}

// stripControlChars drops control characters except the JSON whitespace ones.
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// DecodeJSON is tier 2.
func DecodeJSON(candidate string, out any) error {
	candidate = strings.TrimSpace(candidate)

	firstErr := json.Unmarshal([]byte(candidate), out)
	if firstErr == nil {
		return nil
	}

	if isEscapeError(firstErr) {
		if err := json.Unmarshal([]byte(FixJSONEscapes(candidate)), out); err == nil {
			return nil
		}
	}

	var asString string
	if err := json.Unmarshal([]byte(candidate), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		candidate = asString
	}

	repaired, err := jsonrepair.JSONRepair(stripDuplicateLeadingBrace(candidate))
	if err != nil {
		return fmt.Errorf("decode: %v; repair: %w", firstErr, err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("decode: %v; after repair: %w", firstErr, err)
	}
	return nil
}

func isEscapeError(err error) bool {
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return false
	}
	msg := syntaxErr.Error()
	return strings.Contains(msg, "in string literal") || strings.Contains(msg, "in string escape code")
}

// FixJSONEscapes escapes raw control characters inside string literals and
// doubles backslashes that do not start a valid JSON escape. Text outside
// string literals is left alone.
func FixJSONEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '"':
			inString = false
			b.WriteByte(c)
		case '\\':
			if validEscapeAt(s, i+1) {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
			} else {
				b.WriteString(`\\`)
			}
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if c < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

func validEscapeAt(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	switch s[i] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if i+4 >= len(s) {
			return false
		}
		for _, h := range s[i+1 : i+5] {
			if !strings.ContainsRune("0123456789abcdefABCDEF", h) {
				return false
			}
		}
		return true
	}
	return false
}

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// RepairJSONWithLLM is tier 3. broken is empty when no JSON was found at all.
// The model's answer goes through tiers 1 and 2 only.
func RepairJSONWithLLM(
	ctx context.Context,
	repairer Completer,
	original string,
	broken string,
	errMsg string,
	shape Shape,
	out any,
) error {
	var prompt string
	if broken == "" {
		prompt = fmt.Sprintf(noJSONRepairPrompt, shape.String(), original, errMsg, shape.String())
	} else {
		prompt = fmt.Sprintf(brokenJSONRepairPrompt, broken, errMsg)
	}

	resp, err := repairer.GenerateCompletion(ctx, prompt, WithMaxTokens(repairMaxTokens(original)), WithTemperature(0))
	if err != nil {
		return fmt.Errorf("%w: repair request: %v", ErrUnparseable, err)
	}
	candidate, err := ExtractJSON(resp, shape)
	if err != nil {
		return fmt.Errorf("%w: repair response: %v", ErrUnparseable, err)
	}
	if err := DecodeJSON(candidate, out); err != nil {
		return fmt.Errorf("%w: repair response: %v", ErrUnparseable, err)
	}
	logger.Debug("[JSON] Repaired JSON with model", "reason", errMsg)
	return nil
}

// maxRepairTokens caps the answer of a repair request below the completion
// limit of common chat models.
const maxRepairTokens = 16384

// repairMaxTokens leaves room for the whole original plus some slack.
func repairMaxTokens(original string) int {
	return min(CountTokens(original)+1000, maxRepairTokens)
}

const noJSONRepairPrompt = `The following response does not contain valid JSON. Extract the information and provide it as a valid JSON %s.

Original response:
%s

Error: %s

Return ONLY a valid JSON %s without any explanation or additional text.`

const brokenJSONRepairPrompt = `The following JSON has errors and needs to be fixed:

Broken JSON:
%s

Error: %s

Return ONLY the corrected JSON without any explanation. Fix the errors while preserving all the original data and structure.`
