package llm

import (
	"fmt"
	"strings"

	"github.com/elonfeng/sigint/pkg/model"
	"github.com/elonfeng/sigint/pkg/source"
)

const (
	// PromptItemLimit caps how many candidates are numbered in a selection prompt.
	PromptItemLimit = 30

	promptDescriptionLen  = 300
	narrativeItemsPerCat  = 10
	defaultSelectionCount = 5
)

// DefaultInstructions returns the editorial brief for every category.
func DefaultInstructions() map[model.Category]string {
	return map[model.Category]string{
		model.CategoryGeopolitical: `You are the SIGINT geopolitical reporter, covering international relations, conflict, diplomacy and shifts in global power.

Readers are a deep tech audience. They want factual, non-sensational reporting, strategic implications, primary sources and links to technology and the economy.

Prioritize:
1. Active conflicts and military developments
2. Major diplomatic shifts or agreements
3. Elections and transitions in key nations
4. Sanctions, trade policy and economic warfare
5. Intelligence and security developments

Deprioritize routine political statements, celebrity news, local crime and opinion pieces that add no new information.`,

		model.CategoryAIML: `You are the SIGINT AI/ML reporter, covering artificial intelligence and machine learning.

Readers value technical depth over hype, real capabilities over marketing, research results and compute infrastructure.

Prioritize:
1. New model releases and significant updates
2. Research papers with novel techniques
3. Compute infrastructure: training runs and hardware
4. AI policy and regulation
5. Major lab moves (Anthropic, OpenAI, Google, Meta)
6. Open source developments

Deprioritize hype without substance, minor product updates, job-loss fear pieces and funding rounds under $50M.`,

		model.CategoryDeepTech: `You are the SIGINT deep tech reporter, covering breakthrough technology beyond AI.

Readers value scientific rigor, hardware and long-term technology trajectories.

Prioritize:
1. Semiconductors: nodes, fabs, equipment
2. Quantum computing milestones
3. Biotechnology and synthetic biology
4. Space technology and launches
5. Energy: fusion, batteries, renewables
6. Robotics and manufacturing

Deprioritize gadget reviews, incremental software updates, marketing announcements and vaporware.`,

		model.CategoryCryptoFinance: `You are the SIGINT crypto and finance reporter, covering digital assets and financial markets.

Readers value market data over speculation, protocol analysis, regulation and macro factors.

Prioritize:
1. Major price moves with context (over 5% on BTC or ETH)
2. Protocol upgrades and technical milestones
3. Regulatory and legal actions
4. Institutional adoption
5. DeFi exploits and security incidents
6. Fed policy and macro indicators

Deprioritize token promotions, price predictions without analysis, celebrity endorsements and minor altcoin news.`,

		model.CategoryNarrative: `You are the SIGINT narrative analyst, detecting patterns that emerge across sources.

Identify stories appearing in unrelated sources, shifts in framing or sentiment, themes gaining velocity before they go mainstream, coordinated messaging and contradictions between sources.`,

		model.CategoryBreaking: `You are the SIGINT breaking news editor.

A story is BREAKING only if it happened in the last 2 hours, has significant immediate implications, affects several stakeholder groups and may require action.

Be very selective. Most news is not breaking.`,
	}
}

// Prompts builds model prompts from a category instruction table.
type Prompts struct {
	instructions map[model.Category]string
}

// NewPrompts returns prompts using the defaults with overrides applied.
// Blank overrides are ignored.
func NewPrompts(overrides map[model.Category]string) *Prompts {
	table := DefaultInstructions()
	for cat, text := range overrides {
		if strings.TrimSpace(text) != "" {
			table[cat] = text
		}
	}
	return &Prompts{instructions: table}
}

// Instructions returns the brief for a category.
func (p *Prompts) Instructions(cat model.Category) string {
	return p.instructions[cat]
}

// Selection asks the model to pick the top n of the numbered candidates.
// Only the first PromptItemLimit candidates are included.
func (p *Prompts) Selection(cat model.Category, candidates []source.Item, n int) string {
	if n <= 0 {
		n = defaultSelectionCount
	}
	if len(candidates) > PromptItemLimit {
		candidates = candidates[:PromptItemLimit]
	}

	blocks := make([]string, 0, len(candidates))
	for i, item := range candidates {
		blocks = append(blocks, fmt.Sprintf("[%d] %s\nTitle: %s\nURL: %s\nDescription: %s...",
			i+1, item.Source, item.Title, item.Link, clip(item.Description, promptDescriptionLen)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze these news items and select the TOP %d most relevant for your category.\n\n", n)
	b.WriteString(p.Instructions(cat))
	b.WriteString("\n\n=== ITEMS TO ANALYZE ===\n")
	b.WriteString(strings.Join(blocks, "\n\n"))
	fmt.Fprintf(&b, `

=== YOUR TASK ===
Select up to %d items (fewer if fewer are relevant). For each, give:
1. The item number [N]
2. A 1-2 sentence summary in your own words
3. Urgency: breaking, high, normal or low
4. Relevance score from 0.0 to 1.0
5. Key entities (people, companies, countries)
6. 2-4 topic tags

Respond with JSON only:
{
  "selected_items": [
    {
      "item_number": 1,
      "summary": "Your summary",
      "urgency": "normal",
      "relevance_score": 0.85,
      "entities": ["Entity1", "Entity2"],
      "tags": ["tag1", "tag2"]
    }
  ],
  "agent_notes": "One sentence on the current state of this category"
}`, n)
	return b.String()
}

// Narrative asks for cross-category patterns in the current items.
func (p *Prompts) Narrative(itemsByCategory map[model.Category][]model.NewsItem) string {
	var sections []string
	for _, cat := range model.AllCategories() {
		items := itemsByCategory[cat]
		if len(items) == 0 {
			continue
		}
		lines := make([]string, 0, narrativeItemsPerCat)
		for _, item := range items[:min(narrativeItemsPerCat, len(items))] {
			lines = append(lines, "- "+item.Title)
		}
		sections = append(sections, fmt.Sprintf("=== %s ===\n%s", strings.ToUpper(string(cat)), strings.Join(lines, "\n")))
	}

	var b strings.Builder
	b.WriteString("Analyze these items across categories to detect narrative patterns.\n\n")
	b.WriteString(p.Instructions(model.CategoryNarrative))
	b.WriteString("\n\n=== CURRENT ITEMS BY CATEGORY ===\n")
	b.WriteString(strings.Join(sections, "\n\n"))
	b.WriteString(`

=== YOUR TASK ===
Identify 1-3 narrative patterns, or none if nothing is significant. A pattern must appear in at least 2 categories or sources, be a real trend rather than coincidence, and be specific enough to act on.

Respond with JSON only:
{
  "patterns": [
    {
      "title": "Brief pattern title",
      "description": "2-3 sentences",
      "sources": ["Category1", "Category2"],
      "strength": 0.75
    }
  ]
}

If there are no significant patterns, return {"patterns": []}`)
	return b.String()
}

// Breaking asks for a YES/NO verdict on a single item.
func (p *Prompts) Breaking(item model.NewsItem) string {
	return fmt.Sprintf(`Is this news item BREAKING (requires immediate attention)?

Title: %s
Summary: %s
Source: %s
Category: %s

%s

Respond with only: YES or NO`, item.Title, item.Summary, item.Source, item.Category, p.Instructions(model.CategoryBreaking))
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
