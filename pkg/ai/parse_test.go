package ai

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type scriptedCompleter struct {
	responses []string
	prompts   []string
	opts      []GenerateOptions
}

func (s *scriptedCompleter) GenerateCompletion(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	s.prompts = append(s.prompts, prompt)
	s.opts = append(s.opts, ApplyOptions(GenerateOptions{}, opts...))
	if len(s.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

type summary struct {
	Summary     string   `json:"summary"`
	KeyEntities []string `json:"key_entities"`
}

func TestParseJSON_EscapeErrorWithoutLLM(t *testing.T) {
	resp := "Here you go:\n```json\n{\"summary\": \"line one\nline two\", \"key_entities\": [\"TiDB\"]}\n```"
	repairer := &scriptedCompleter{}

	var out summary
	if err := ParseJSON(context.Background(), resp, ShapeObject, &out, repairer); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if out.Summary != "line one\nline two" {
		t.Fatalf("expected newline to survive, got %q", out.Summary)
	}
	if len(repairer.prompts) != 0 {
		t.Fatalf("expected no LLM repair call, got %d", len(repairer.prompts))
	}
}

func TestParseJSON_InvalidBackslash(t *testing.T) {
	resp := `{"summary": "path C:\data\new", "key_entities": []}`
	var out summary
	if err := ParseJSON(context.Background(), resp, ShapeObject, &out, nil); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if out.Summary != `path C:\data`+"\n"+`ew` && out.Summary != `path C:\data\new` {
		t.Fatalf("unexpected summary %q", out.Summary)
	}
}

func TestParseJSON_ThinkBlockSkipped(t *testing.T) {
	resp := "<think>maybe [1, 2] or {\"x\": 1}</think>\n```json\n[{\"issue_type\": \"redundancy_entity\"}]\n```"
	var out []map[string]any
	if err := ParseJSON(context.Background(), resp, ShapeArray, &out, nil); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(out) != 1 || out[0]["issue_type"] != "redundancy_entity" {
		t.Fatalf("unexpected result %v", out)
	}
}

func TestParseJSON_LLMFallback(t *testing.T) {
	resp := "The summary is that Acme builds rockets."
	repairer := &scriptedCompleter{responses: []string{`{"summary": "Acme builds rockets", "key_entities": ["Acme"]}`}}

	var out summary
	if err := ParseJSON(context.Background(), resp, ShapeObject, &out, repairer); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := summary{Summary: "Acme builds rockets", KeyEntities: []string{"Acme"}}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("expected %+v, got %+v", want, out)
	}
	if len(repairer.prompts) != 1 {
		t.Fatalf("expected one repair call, got %d", len(repairer.prompts))
	}
	if got, want := repairer.opts[0].MaxTokens, CountTokens(resp)+1000; got != want {
		t.Fatalf("expected max tokens %d, got %d", want, got)
	}
}

func TestParseJSON_LLMFallbackCapsMaxTokens(t *testing.T) {
	resp := strings.Repeat("Acme builds rockets in Texas and tests them at sea. ", 3000)
	repairer := &scriptedCompleter{responses: []string{`{"summary": "Acme builds rockets", "key_entities": ["Acme"]}`}}

	var out summary
	if err := ParseJSON(context.Background(), resp, ShapeObject, &out, repairer); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := repairer.opts[0].MaxTokens; got != maxRepairTokens {
		t.Fatalf("expected max tokens capped at %d, got %d", maxRepairTokens, got)
	}
}

func TestParseJSON_AllTiersFail(t *testing.T) {
	repairer := &scriptedCompleter{responses: []string{"still no json"}}
	var out summary
	err := ParseJSON(context.Background(), "nothing here", ShapeObject, &out, repairer)
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestExtractJSON_BracketsInsideStrings(t *testing.T) {
	text := `prefix {"name": "a } tricky [ value", "n": 1} suffix {"other": 2}`
	got, err := ExtractJSON(text, ShapeObject)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := `{"name": "a } tricky [ value", "n": 1}`
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestExtractJSON_StripsControlChars(t *testing.T) {
	got, err := ExtractJSON("{\"a\":\x00 \"b\x07\"}", ShapeAuto)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got != `{"a": "b"}` {
		t.Fatalf("unexpected extraction %q", got)
	}
}

func TestExtractJSON_ArrayFallsBackToObject(t *testing.T) {
	got, err := ExtractJSON(`{"issues": []}`, ShapeArray)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got != `{"issues": []}` {
		t.Fatalf("unexpected extraction %q", got)
	}
}

func TestExtractJSON_None(t *testing.T) {
	if _, err := ExtractJSON("no structure", ShapeAuto); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

func TestFixJSONEscapes_LeavesValidEscapes(t *testing.T) {
	in := "{\"a\": \"keep \\\" \\n \\u00e9\",\n \"b\": \"raw\ttab\"}"
	got := FixJSONEscapes(in)
	want := "{\"a\": \"keep \\\" \\n \\u00e9\",\n \"b\": \"raw\\ttab\"}"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDecodeJSON_Variants(t *testing.T) {
	type person struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name  string
		input string
	}{
		{"valid", `{"name":"John"}`},
		{"trailing comma", `{"name":"John",}`},
		{"missing end bracket", `{"name":"John"`},
		{"double encoded", `"{\"name\": \"John\"}"`},
		{"duplicate leading brace", "{\n{\n  \"name\": \"John\"\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p person
			if err := DecodeJSON(tt.input, &p); err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if p.Name != "John" {
				t.Fatalf("expected John, got %q", p.Name)
			}
		})
	}
}

func TestStripThinkBlocks_DanglingClose(t *testing.T) {
	got := StripThinkBlocks("reasoning without open tag</think>\n[1]")
	if strings.TrimSpace(got) != "[1]" {
		t.Fatalf("expected [1], got %q", got)
	}
}
