package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/elonfeng/sigint/pkg/model"
	"github.com/elonfeng/sigint/pkg/source"
)

type fakeCompleter struct {
	reply     string
	err       error
	prompts   []string
	maxTokens []int
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, maxTokens int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.maxTokens = append(f.maxTokens, maxTokens)
	return f.reply, f.err
}

func candidates(n int) []source.Item {
	out := make([]source.Item, n)
	for i := range out {
		out[i] = source.Item{
			ID:          fmt.Sprintf("id%d", i),
			Title:       fmt.Sprintf("Title %d", i),
			Link:        fmt.Sprintf("https://example.com/%d", i),
			Description: strings.Repeat("x", 400),
			Source:      "Example",
		}
	}
	return out
}

func TestSelectionPrompt(t *testing.T) {
	p := NewPrompts(map[model.Category]string{model.CategoryAIML: "CUSTOM BRIEF", model.CategoryDeepTech: "  "})
	prompt := p.Selection(model.CategoryAIML, candidates(40), 5)

	if !strings.Contains(prompt, "select the TOP 5") || !strings.Contains(prompt, "CUSTOM BRIEF") {
		t.Errorf("prompt missing header or brief:\n%s", prompt)
	}
	if !strings.Contains(prompt, "[30] Example\nTitle: Title 29\nURL: https://example.com/29\nDescription: ") {
		t.Error("prompt missing the 30th numbered item")
	}
	if strings.Contains(prompt, "[31]") {
		t.Error("prompt includes more than 30 items")
	}
	if strings.Contains(prompt, strings.Repeat("x", 301)) {
		t.Error("descriptions not clipped to 300 characters")
	}
	if p.Instructions(model.CategoryDeepTech) != DefaultInstructions()[model.CategoryDeepTech] {
		t.Error("blank override should keep the default brief")
	}
}

func TestNarrativePrompt(t *testing.T) {
	p := NewPrompts(nil)
	prompt := p.Narrative(map[model.Category][]model.NewsItem{
		model.CategoryAIML:         {{Title: "Model launch"}},
		model.CategoryGeopolitical: {{Title: "Export controls"}},
	})
	geo := strings.Index(prompt, "=== GEOPOLITICAL ===\n- Export controls")
	ai := strings.Index(prompt, "=== AI-ML ===\n- Model launch")
	if geo < 0 || ai < 0 || geo > ai {
		t.Errorf("sections missing or out of order:\n%s", prompt)
	}
}

func TestSelectorSelect(t *testing.T) {
	fc := &fakeCompleter{reply: `{"selected_items":[{"item_number":1,"summary":"s"}],"agent_notes":"n"}`}
	s := NewSelector(fc, nil, 5, zerolog.Nop())

	sel, err := s.Select(context.Background(), model.CategoryAIML, candidates(3))
	if err != nil {
		t.Fatal(err)
	}
	if len(sel.Picks) != 1 || sel.AgentNotes != "n" {
		t.Errorf("selection = %+v", sel)
	}
	if fc.maxTokens[0] != 2000 {
		t.Errorf("max tokens = %d", fc.maxTokens[0])
	}

	if _, err := s.Select(context.Background(), model.CategoryAIML, nil); err != nil || len(fc.prompts) != 1 {
		t.Errorf("empty candidates should not call the model: err=%v calls=%d", err, len(fc.prompts))
	}
}

func TestSelectorSelectErrors(t *testing.T) {
	boom := errors.New("boom")
	s := NewSelector(&fakeCompleter{err: boom}, nil, 5, zerolog.Nop())
	if _, err := s.Select(context.Background(), model.CategoryAIML, candidates(1)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}

	s = NewSelector(&fakeCompleter{reply: "nothing to report"}, nil, 5, zerolog.Nop())
	if _, err := s.Select(context.Background(), model.CategoryAIML, candidates(1)); !errors.Is(err, ErrNoJSON) {
		t.Errorf("err = %v, want ErrNoJSON", err)
	}
}

func TestSelectorIsBreaking(t *testing.T) {
	tests := []struct {
		reply string
		err   error
		want  bool
	}{
		{"YES", nil, true},
		{"yes.", nil, true},
		{"NO", nil, false},
		{"", errors.New("down"), false},
	}
	for _, tt := range tests {
		fc := &fakeCompleter{reply: tt.reply, err: tt.err}
		got, err := NewSelector(fc, nil, 5, zerolog.Nop()).IsBreaking(context.Background(), model.NewsItem{ID: "x", Title: "t"})
		if got != tt.want || (err != nil) != (tt.err != nil) {
			t.Errorf("reply %q: got %v, %v", tt.reply, got, err)
		}
		if fc.maxTokens[0] != 10 {
			t.Errorf("max tokens = %d", fc.maxTokens[0])
		}
	}
}

func TestSelectorDetectNarratives(t *testing.T) {
	fc := &fakeCompleter{reply: `{"patterns":[{"title":"T","sources":["a","b"],"strength":0.6}]}`}
	s := NewSelector(fc, nil, 5, zerolog.Nop())

	got, err := s.DetectNarratives(context.Background(), nil)
	if err != nil || got != nil || len(fc.prompts) != 0 {
		t.Errorf("no items should skip the model: %v %v", got, err)
	}

	got, err = s.DetectNarratives(context.Background(), map[model.Category][]model.NewsItem{
		model.CategoryAIML: {{Title: "x"}},
	})
	if err != nil || len(got) != 1 || got[0].Title != "T" {
		t.Errorf("patterns = %+v, %v", got, err)
	}
	if fc.maxTokens[0] != 1500 {
		t.Errorf("max tokens = %d", fc.maxTokens[0])
	}
}
