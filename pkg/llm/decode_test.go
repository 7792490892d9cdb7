package llm

import (
	"errors"
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`},
		{"prose", `Here you go: {"a":1} hope it helps {"b":2}`, `{"a":1}`},
		{"brace in string", `{"note":"use } and { freely","n":1}`, `{"note":"use } and { freely","n":1}`},
		{"escaped quote", `{"q":"say \"}\" now"}`, `{"q":"say \"}\" now"}`},
		{"unbalanced then good", `{ oops {"a":1}`, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	for _, in := range []string{"", "no json here", "{ never closed", "[1,2,3]"} {
		if _, err := ExtractJSONObject(in); !errors.Is(err, ErrNoJSON) {
			t.Errorf("ExtractJSONObject(%q) err = %v, want ErrNoJSON", in, err)
		}
	}
}

func TestDecodeSelection(t *testing.T) {
	text := "Sure!\n```json\n" + `{
		"selected_items": [
			{"item_number": 2, "summary": " Two ", "urgency": "HIGH", "relevance_score": 0.9, "entities": ["A", " "], "tags": ["t"]},
			{"item_number": [4, 5], "summary": "Four"},
			{"item_number": "7", "relevance_score": "0.25"},
			{"item_number": "[9]", "relevance_score": null, "entities": null}
		],
		"notes": "quiet day"
	}` + "\n```"

	sel, err := DecodeSelection(text)
	if err != nil {
		t.Fatalf("DecodeSelection: %v", err)
	}
	if sel.AgentNotes != "quiet day" {
		t.Errorf("notes = %q", sel.AgentNotes)
	}
	if len(sel.Picks) != 4 {
		t.Fatalf("picks = %+v", sel.Picks)
	}

	wantIdx := []int{2, 4, 7, 9}
	for i, p := range sel.Picks {
		if p.ItemNumber != wantIdx[i] {
			t.Errorf("pick %d item_number = %d, want %d", i, p.ItemNumber, wantIdx[i])
		}
	}
	if p := sel.Picks[0]; p.Summary != "Two" || p.Urgency != "HIGH" || *p.RelevanceScore != 0.9 || len(p.Entities) != 1 {
		t.Errorf("pick 0 = %+v", p)
	}
	if sel.Picks[1].RelevanceScore != nil {
		t.Errorf("missing relevance should be nil, got %v", *sel.Picks[1].RelevanceScore)
	}
	if r := sel.Picks[2].RelevanceScore; r == nil || *r != 0.25 {
		t.Errorf("string relevance not coerced: %v", r)
	}
	if sel.Picks[3].RelevanceScore != nil || len(sel.Picks[3].Entities) != 0 {
		t.Errorf("null fields not tolerated: %+v", sel.Picks[3])
	}
}

func TestDecodeSelectionAgentNotesPreferred(t *testing.T) {
	sel, err := DecodeSelection(`{"selected_items":[],"agent_notes":"a","notes":"b"}`)
	if err != nil {
		t.Fatal(err)
	}
	if sel.AgentNotes != "a" || len(sel.Picks) != 0 {
		t.Errorf("got %+v", sel)
	}
}

func TestDecodeSelectionErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"no json", "I could not find anything relevant.", ErrNoJSON},
		{"invalid json", `{selected_items: [1]}`, ErrNoJSON},
		{"items not a list", `{"selected_items":{"item_number":1}}`, ErrSchema},
		{"items missing", `{"notes":"nothing today"}`, ErrSchema},
		{"truncated", `{"selected_items":[1]`, ErrNoJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeSelection(tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeSelectionDropsInvalidItems(t *testing.T) {
	valid := `{"item_number":3,"summary":"kept","relevance_score":0.6}`
	tests := []struct {
		name string
		bad  string
	}{
		{"missing item_number", `{"summary":"x"}`},
		{"word index", `{"item_number":"first"}`},
		{"empty index list", `{"item_number":[]}`},
		{"bad score", `{"item_number":1,"relevance_score":"very"}`},
		{"entities as string", `{"item_number":2,"entities":"OpenAI"}`},
		{"not an object", `7`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := DecodeSelection(`{"selected_items":[` + tt.bad + `,` + valid + `],"notes":"n"}`)
			if err != nil {
				t.Fatalf("DecodeSelection: %v", err)
			}
			if len(sel.Picks) != 1 || sel.Picks[0].ItemNumber != 3 || sel.Picks[0].Summary != "kept" {
				t.Errorf("picks = %+v", sel.Picks)
			}
			if len(sel.Invalid) != 1 || !errors.Is(sel.Invalid[0], ErrSchema) {
				t.Errorf("invalid = %v", sel.Invalid)
			}
			if sel.AgentNotes != "n" {
				t.Errorf("notes = %q", sel.AgentNotes)
			}
		})
	}
}

func TestDecodePatterns(t *testing.T) {
	got, err := DecodePatterns(`{"patterns":[
		{"title":"Chip war","description":"d","sources":["ai-ml","geopolitical"],"strength":0.8},
		{"title":"Overconfident","strength":4},
		{"title":"Unscored"}
	]}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("patterns = %+v", got)
	}
	if got[0].Title != "Chip war" || got[0].Strength != 0.8 || len(got[0].Sources) != 2 {
		t.Errorf("pattern 0 = %+v", got[0])
	}
	if got[1].Strength != 1 {
		t.Errorf("strength not clamped: %v", got[1].Strength)
	}
	if got[2].Strength != 0.5 {
		t.Errorf("default strength = %v", got[2].Strength)
	}

	got, err = DecodePatterns(`{"patterns":[{"description":"no title"},{"title":"Kept","sources":"ai-ml"},{"title":"Also kept"}]}`)
	if err != nil || len(got) != 1 || got[0].Title != "Also kept" {
		t.Errorf("invalid patterns not skipped: %+v, %v", got, err)
	}
	if _, err := DecodePatterns(`{"patterns":{"title":"x"}}`); !errors.Is(err, ErrSchema) {
		t.Errorf("err = %v, want ErrSchema", err)
	}
	if got, err := DecodePatterns(`{"patterns": []}`); err != nil || len(got) != 0 {
		t.Errorf("empty patterns = %v, %v", got, err)
	}
}
