package credit

import (
	"errors"
	"testing"
)

func TestCostTable_Lookup(t *testing.T) {
	costs := DefaultCosts()
	if len(costs) != len(Modes) {
		t.Fatalf("len=%d want %d", len(costs), len(Modes))
	}
	c, err := costs.Cost(DefaultMode)
	if err != nil || c != CostPerMessage {
		t.Fatalf("cost=%d err=%v", c, err)
	}
	if _, err := costs.Cost("telepathy"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}

func TestCostTable_Overrides(t *testing.T) {
	base := DefaultCosts()
	costs, err := base.WithOverrides(map[string]int{"board_mode": 3, "custom": 2})
	if err != nil {
		t.Fatalf("WithOverrides: %v", err)
	}
	if c, _ := costs.Cost("board_mode"); c != 3 {
		t.Fatalf("board_mode cost=%d", c)
	}
	if c, _ := base.Cost("board_mode"); c != CostPerMessage {
		t.Fatalf("base table mutated")
	}
	if _, err := base.WithOverrides(map[string]int{"x": -1}); err == nil {
		t.Fatalf("expected negative cost error")
	}
	tags := costs.Tags()
	if tags[0] != "board_mode" {
		t.Fatalf("tags not sorted: %v", tags)
	}
}

func TestLookupMode_WebResearch(t *testing.T) {
	m, ok := LookupMode("market_research")
	if !ok || !m.WebResearch {
		t.Fatalf("market_research should be a web research mode: %+v", m)
	}
	if m, _ := LookupMode("quick_question"); m.WebResearch {
		t.Fatalf("quick_question is not a web research mode")
	}
}
