package credit

import (
	"errors"
	"fmt"
	"sort"
)

// CostPerMessage is the default price of one advisor message in any mode.
const CostPerMessage = 1

// DefaultMode is selected for new conversations.
const DefaultMode = "quick_question"

// ErrUnknownMode is returned for a mode tag missing from the cost table.
var ErrUnknownMode = errors.New("unknown advisor mode")

// Mode describes one advisor operating mode.
type Mode struct {
	ID          string `json:"id" toml:"id"`
	Name        string `json:"name" toml:"name"`
	Category    string `json:"category" toml:"category"`
	Cost        int    `json:"cost" toml:"cost"`
	WebResearch bool   `json:"web_research" toml:"web_research"`
}

// Modes is the built-in catalogue.
var Modes = []Mode{
	{ID: "daily_briefing", Name: "Daily Briefing", Category: "daily", Cost: CostPerMessage},
	{ID: "quick_question", Name: "Quick Question", Category: "daily", Cost: CostPerMessage},
	{ID: "decision_support", Name: "Decision Support", Category: "strategic", Cost: CostPerMessage},
	{ID: "diagnostic", Name: "Business Diagnostic", Category: "strategic", Cost: CostPerMessage},
	{ID: "commercial_lens", Name: "Commercial Lens", Category: "strategic", Cost: CostPerMessage},
	{ID: "board_mode", Name: "Board Mode", Category: "strategic", Cost: CostPerMessage},
	{ID: "competitor_scan", Name: "Competitor Scan", Category: "strategic", Cost: CostPerMessage, WebResearch: true},
	{ID: "weekly_review", Name: "Weekly Review", Category: "planning", Cost: CostPerMessage},
	{ID: "build_mode", Name: "Build Mode", Category: "planning", Cost: CostPerMessage},
	{ID: "market_research", Name: "Market Research", Category: "planning", Cost: CostPerMessage, WebResearch: true},
}

// CostTable maps a mode tag to its fixed per-send cost.
type CostTable map[string]int

// DefaultCosts builds a table from the built-in catalogue.
func DefaultCosts() CostTable {
	t := make(CostTable, len(Modes))
	for _, m := range Modes {
		t[m.ID] = m.Cost
	}
	return t
}

// Cost looks up the cost of mode.
func (t CostTable) Cost(mode string) (int, error) {
	c, ok := t[mode]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return c, nil
}

// WithOverrides returns a copy of t with the given costs applied.
// Negative costs are rejected.
func (t CostTable) WithOverrides(overrides map[string]int) (CostTable, error) {
	out := make(CostTable, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		if v < 0 {
			return nil, fmt.Errorf("mode %q: negative cost %d", k, v)
		}
		out[k] = v
	}
	return out, nil
}

// Tags returns the mode tags in the table, sorted.
func (t CostTable) Tags() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LookupMode returns the catalogue entry for id.
func LookupMode(id string) (Mode, bool) {
	for _, m := range Modes {
		if m.ID == id {
			return m, true
		}
	}
	return Mode{}, false
}
