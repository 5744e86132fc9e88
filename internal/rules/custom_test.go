package rules

import (
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestScreeningEngineCreation(t *testing.T) {
	engine, err := NewScreeningEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestScreeningLoadRule(t *testing.T) {
	engine, _ := NewScreeningEngine()
	defer engine.Close()

	rule := domain.ScreeningRule{
		ID:          "screen-001",
		Name:        "Large USD",
		Description: "USD amount above one million",
		Expression:  `amount > 1000000.0 && currency == "usd"`,
		Enabled:     true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestScreeningLoadInvalidRule(t *testing.T) {
	engine, _ := NewScreeningEngine()
	defer engine.Close()

	rule := domain.ScreeningRule{
		ID:         "bad-rule",
		Expression: "this is not valid CEL !!!",
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err == nil {
		t.Fatal("expected compile error for invalid rule")
	}
}

func TestScreeningRejectsNonBoolExpression(t *testing.T) {
	engine, _ := NewScreeningEngine()
	defer engine.Close()

	rule := domain.ScreeningRule{
		ID:         "numeric-rule",
		Expression: "amount * 2.0",
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err == nil {
		t.Fatal("expected error for non-bool expression")
	}
}

func TestScreeningEvaluateTransaction(t *testing.T) {
	engine, _ := NewScreeningEngine()
	defer engine.Close()

	rules := []domain.ScreeningRule{
		{
			ID:          "screen-pep",
			Description: "PEP flag set",
			Expression:  "customer_is_pep",
			Enabled:     true,
		},
		{
			ID:          "screen-amount",
			Description: "amount above threshold",
			Expression:  "amount > 50000.0",
			Enabled:     true,
		},
		{
			ID:          "screen-disabled",
			Description: "never loaded",
			Expression:  "true",
			Enabled:     false,
		},
	}
	if err := engine.LoadRules(rules); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Fatalf("expected 2 enabled rules, got %d", engine.RulesCount())
	}

	tx := cleanTx("TX-SCREEN")
	tx.CustomerIsPEP = domain.NewValue("true")
	tx.Amount = domain.NewValue("10000")

	hits := engine.EvaluateTransaction(&tx)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].RuleID != "screen-pep" {
		t.Errorf("expected screen-pep hit, got %s", hits[0].RuleID)
	}
	if hits[0].Reason != "PEP flag set" {
		t.Errorf("unexpected hit reason: %q", hits[0].Reason)
	}
}

func TestScreeningNormalizesCategoricalCase(t *testing.T) {
	engine, _ := NewScreeningEngine()
	defer engine.Close()

	rule := domain.ScreeningRule{
		ID:          "screen-usd-mas",
		Description: "USD booking under MAS",
		Expression:  `currency == "usd" && regulator == "mas" && booking_jurisdiction == "sg"`,
		Enabled:     true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	tx := cleanTx("TX-CASE")
	tx.Currency = domain.NewValue("USD")
	tx.Regulator = domain.NewValue("MAS")
	tx.BookingJurisdiction = domain.NewValue("SG")

	hits := engine.EvaluateTransaction(&tx)
	if len(hits) != 1 {
		t.Fatalf("expected upper-cased source fields to match lower-cased expression, got %d hits", len(hits))
	}
	if hits[0].RuleID != "screen-usd-mas" {
		t.Errorf("unexpected hit: %+v", hits[0])
	}
}

func TestScreeningAbsentFlagsAreFalse(t *testing.T) {
	engine, _ := NewScreeningEngine()
	defer engine.Close()

	rule := domain.ScreeningRule{
		ID:         "screen-pep",
		Expression: "customer_is_pep",
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	tx := domain.Transaction{ID: "TX-EMPTY"}
	if hits := engine.EvaluateTransaction(&tx); len(hits) != 0 {
		t.Errorf("absent flag matched positive expression: %v", hits)
	}
}

func TestScreeningExtraFieldsViaTxMap(t *testing.T) {
	engine, _ := NewScreeningEngine()
	defer engine.Close()

	rule := domain.ScreeningRule{
		ID:          "screen-channel",
		Description: "cash channel",
		Expression:  `tx["channel"] == "cash"`,
		Enabled:     true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	tx := cleanTx("TX-EXTRA")
	tx.Extra = map[string]domain.Value{"channel": domain.NewValue("cash")}

	hits := engine.EvaluateTransaction(&tx)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
}

func TestScreeningReloadReplacesRules(t *testing.T) {
	engine, _ := NewScreeningEngine()
	defer engine.Close()

	if err := engine.LoadRule(domain.ScreeningRule{ID: "old", Expression: "true", Enabled: true}); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	err := engine.ReloadRules([]domain.ScreeningRule{
		{ID: "new-1", Expression: "amount > 0.0", Enabled: true},
		{ID: "new-2", Expression: "false", Enabled: true},
	})
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}

	loaded := engine.GetLoadedRules()
	if len(loaded) != 2 {
		t.Fatalf("expected 2 rules after reload, got %d", len(loaded))
	}
	for _, r := range loaded {
		if r.ID == "old" {
			t.Error("old rule survived reload")
		}
	}
}

func TestScreeningRemoveRule(t *testing.T) {
	engine, _ := NewScreeningEngine()
	defer engine.Close()

	if err := engine.LoadRule(domain.ScreeningRule{ID: "r1", Expression: "true", Enabled: true}); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	engine.RemoveRule("r1")
	engine.RemoveRule("missing")

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}
