package parser

import (
	"encoding/json"
	"strings"
	"testing"
)

func names(records []RawRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		name, _ := r["name"].(string)
		out = append(out, name)
	}
	return out
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    []string
	}{
		{
			name:    "list keeps only objects",
			payload: []any{map[string]any{"name": "A"}, "junk", 3.0, nil, map[string]any{"name": "B"}},
			want:    []string{"A", "B"},
		},
		{
			name:    "products key",
			payload: map[string]any{"products": []any{map[string]any{"name": "A"}}},
			want:    []string{"A"},
		},
		{
			name: "priority order prefers products over items",
			payload: map[string]any{
				"items":    []any{map[string]any{"name": "I"}},
				"products": []any{map[string]any{"name": "P"}},
			},
			want: []string{"P"},
		},
		{
			name:    "empty priority key falls through",
			payload: map[string]any{"products": []any{}, "results": []any{map[string]any{"name": "R"}}},
			want:    []string{"R"},
		},
		{
			name:    "result holds json text",
			payload: map[string]any{"result": `[{"name": "A"}]`},
			want:    []string{"A"},
		},
		{
			name:    "nested containers",
			payload: map[string]any{"data": map[string]any{"result": map[string]any{"items": []any{map[string]any{"name": "Deep"}}}}},
			want:    []string{"Deep"},
		},
		{
			name:    "scan for product-shaped list",
			payload: map[string]any{"meta": []any{map[string]any{"page": 1.0}}, "listings": []any{map[string]any{"title": "T", "name": "L"}}},
			want:    []string{"L"},
		},
		{
			name:    "lone product object",
			payload: map[string]any{"name": "Solo", "sale_price": "$1"},
			want:    []string{"Solo"},
		},
		{
			name:    "plain json text",
			payload: `[{"name": "A"}, {"name": "B"}]`,
			want:    []string{"A", "B"},
		},
		{
			name:    "fenced json",
			payload: "```json\n[{\"name\": \"A\"}]\n```",
			want:    []string{"A"},
		},
		{
			name:    "fenced single quoted keys and trailing commas",
			payload: "```json\n[{'name': \"Xbox Series S\", 'sale_price': \"$199.99\",},]\n```",
			want:    []string{"Xbox Series S"},
		},
		{
			name:    "single quoted values",
			payload: "[{'name': 'Xbox', 'condition': 'Open-Box'}]",
			want:    []string{"Xbox"},
		},
		{
			name:    "control characters",
			payload: "[{\"name\": \"A\x01\"}]",
			want:    []string{"A"},
		},
		{
			name:    "array embedded in prose",
			payload: `Here are the results [1]: [{"name": "A"}, {"name": "B"}] hope this helps`,
			want:    []string{"A", "B"},
		},
		{
			name:    "embedded array needing repair",
			payload: `Results: [{"name": "A",},] done`,
			want:    []string{"A"},
		},
		{
			name:    "truncated array",
			payload: `[{"name": "A"}, {"name": "B"}, {"name": "C", "sale_pr`,
			want:    []string{"A", "B"},
		},
		{
			name:    "object wrapped in text",
			payload: `{"products": [{"name": "A"}]}`,
			want:    []string{"A"},
		},
		{
			name:    "json string of json",
			payload: `"[{\"name\": \"A\"}]"`,
			want:    []string{"A"},
		},
		{
			name:    "raw message",
			payload: json.RawMessage(`{"items": [{"name": "A"}]}`),
			want:    []string{"A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := names(Extract(tt.payload))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("Extract() names = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractIsTotal(t *testing.T) {
	deep := any(map[string]any{"name": "bottom"})
	for i := 0; i < 50; i++ {
		deep = map[string]any{"data": deep}
	}
	nestedText := `[{"name": "x"}]`
	for i := 0; i < 20; i++ {
		encoded, _ := json.Marshal(nestedText)
		nestedText = string(encoded)
	}

	inputs := []any{
		nil,
		"",
		"   ",
		"not json at all",
		"```",
		"```json\n```",
		"[",
		"]",
		"[[[[",
		"{'broken",
		`[1, 2, 3]`,
		`{"products": "nope"}`,
		`{"products": 42}`,
		42.0,
		true,
		[]any{},
		map[string]any{},
		map[string]any{"products": nil},
		[]any{[]any{map[string]any{"name": "nested list"}}},
		deep,
		nestedText,
		strings.Repeat("[", 10000),
		strings.Repeat(`{"a":`, 2000),
		[]byte("garbage"),
	}

	for i, input := range inputs {
		got := Extract(input)
		if got == nil {
			t.Fatalf("input %d: Extract returned nil, want empty slice", i)
		}
		for _, rec := range got {
			if rec == nil {
				t.Fatalf("input %d: Extract returned a nil record", i)
			}
		}
	}
}

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		"```json\n[1]\n```": "[1]",
		"```JSON [1] ```":   "[1]",
		"```\n{}\n```":      "{}",
		"  [1]  ":           "[1]",
		"no fence":          "no fence",
	}
	for input, want := range tests {
		if got := StripFences(input); got != want {
			t.Errorf("StripFences(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestRepair(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: `[1, 2, ]`, want: `[1, 2]`},
		{input: `{"a": 1,}`, want: `{"a": 1}`},
		{input: `{'a': 1}`, want: `{"a": 1}`},
		{input: `{"a": 'b'}`, want: `{"a": "b"}`},
		{input: "{\"a\":\n1}", want: `{"a":1}`},
	}
	for _, tt := range tests {
		if got := Repair(tt.input); got != tt.want {
			t.Errorf("Repair(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestMatchingBracket(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{input: `[1]`, want: 2},
		{input: `[[1], [2]] tail`, want: 9},
		{input: `["]", 1]`, want: 7},
		{input: `["\"]", 1]`, want: 9},
		{input: `[1, 2`, want: -1},
	}
	for _, tt := range tests {
		if got := matchingBracket(tt.input, 0); got != tt.want {
			t.Errorf("matchingBracket(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
