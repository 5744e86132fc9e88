package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/harrier/internal/domain"
)

// ScreeningEngine evaluates operator-defined CEL expressions against
// transactions. Screening hits annotate an alert but never change the
// detection verdict, which stays with the fixed rule set.
type ScreeningEngine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*compiledScreeningRule
}

type compiledScreeningRule struct {
	rule    domain.ScreeningRule
	program cel.Program
}

// NewScreeningEngine creates a screening engine with the transaction
// variables bound into the CEL environment.
func NewScreeningEngine() (*ScreeningEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("regulator", cel.StringType),
		cel.Variable("booking_jurisdiction", cel.StringType),
		cel.Variable("customer_id", cel.StringType),
		cel.Variable("customer_type", cel.StringType),
		cel.Variable("customer_risk_rating", cel.StringType),
		cel.Variable("client_risk_profile", cel.StringType),
		cel.Variable("sanctions_screening", cel.StringType),
		cel.Variable("customer_is_pep", cel.BoolType),
		cel.Variable("edd_required", cel.BoolType),
		cel.Variable("edd_performed", cel.BoolType),
		cel.Variable("sow_documented", cel.BoolType),
		cel.Variable("suitability_assessed", cel.BoolType),
		cel.Variable("cash_id_verified", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &ScreeningEngine{
		env:           env,
		compiledRules: make(map[string]*compiledScreeningRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *ScreeningEngine) ValidateRule(rule domain.ScreeningRule) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *ScreeningEngine) LoadRule(rule domain.ScreeningRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled

	return nil
}

// LoadRules compiles and loads the enabled rules.
func (e *ScreeningEngine) LoadRules(rules []domain.ScreeningRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears all existing rules and loads new ones. This
// enables hot-reloading of rules from the database.
func (e *ScreeningEngine) ReloadRules(rules []domain.ScreeningRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*compiledScreeningRule)

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// RemoveRule unloads a rule by ID. Unknown IDs are a no-op.
func (e *ScreeningEngine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compiledRules, id)
}

// EvaluateTransaction runs every loaded rule against the transaction
// and returns hits for rules that evaluated to true. Rules that fail
// to evaluate are skipped.
func (e *ScreeningEngine) EvaluateTransaction(tx *domain.Transaction) []domain.ScreeningHit {
	e.mu.RLock()
	rules := make([]*compiledScreeningRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	activation := screeningActivation(tx)

	var hits []domain.ScreeningHit
	for _, rule := range rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			continue
		}

		if matched, ok := out.(types.Bool); ok && bool(matched) {
			hits = append(hits, domain.ScreeningHit{
				RuleID: rule.rule.ID,
				Reason: rule.rule.Description,
			})
		}
	}

	return hits
}

// RulesCount returns the number of loaded rules.
func (e *ScreeningEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *ScreeningEngine) GetLoadedRules() []domain.ScreeningRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]domain.ScreeningRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.rule)
	}
	return rules
}

// Close cleans up the engine.
func (e *ScreeningEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*compiledScreeningRule)
	return nil
}

func (e *ScreeningEngine) compileRule(rule domain.ScreeningRule) (*compiledScreeningRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &compiledScreeningRule{
		rule:    rule,
		program: program,
	}, nil
}

// screeningActivation builds the CEL activation map for a transaction.
// Bounded categorical strings are lower-cased so expressions match
// regardless of source-file casing. Boolean flags are normalized with
// explicit-true semantics so an absent field never matches a
// positive-flag expression.
func screeningActivation(tx *domain.Transaction) map[string]any {
	amount, _ := tx.Amount.Float()

	txMap := map[string]any{
		"id":          tx.ID,
		"customer_id": tx.CustomerID,
		"amount":      amount,
	}
	for name, value := range tx.Extra {
		txMap[name] = value.String()
	}

	return map[string]any{
		"tx":                   txMap,
		"amount":               amount,
		"currency":             tx.Currency.Lower(),
		"regulator":            tx.Regulator.Lower(),
		"booking_jurisdiction": tx.BookingJurisdiction.Lower(),
		"customer_id":          tx.CustomerID,
		"customer_type":        tx.CustomerType.Lower(),
		"customer_risk_rating": tx.CustomerRiskRating.Lower(),
		"client_risk_profile":  tx.ClientRiskProfile.Lower(),
		"sanctions_screening":  tx.SanctionsScreening.Lower(),
		"customer_is_pep":      tx.CustomerIsPEP.IsTrue(),
		"edd_required":         tx.EDDRequired.IsTrue(),
		"edd_performed":        tx.EDDPerformed.IsTrue(),
		"sow_documented":       tx.SOWDocumented.IsTrue(),
		"suitability_assessed": tx.SuitabilityAssessed.IsTrue(),
		"cash_id_verified":     tx.CashIDVerified.IsTrue(),
	}
}
