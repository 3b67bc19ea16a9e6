package payment

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultLimit: порог суммы по умолчанию: авторизуются суммы строго меньше него.
const DefaultLimit = 1000.0

// Policy принимает решение об авторизации.
type Policy interface {
	Decide(amount float64, currency string) (bool, error)
}

// ThresholdPolicy авторизует суммы меньше Limit независимо от валюты.
type ThresholdPolicy struct {
	Limit float64
}

// NewThresholdPolicy создаёт пороговую политику; limit <= 0 заменяется DefaultLimit.
func NewThresholdPolicy(limit float64) ThresholdPolicy {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return ThresholdPolicy{Limit: limit}
}

func (p ThresholdPolicy) Decide(amount float64, _ string) (bool, error) {
	return amount < p.Limit, nil
}

// ExpressionPolicy вычисляет CEL-выражение над переменными amount (double) и currency (string).
// Пример: `amount < 1000.0 || currency == "XTS"`.
type ExpressionPolicy struct {
	source  string
	program cel.Program
}

// NewExpressionPolicy компилирует выражение. Результат выражения обязан быть bool.
func NewExpressionPolicy(expression string) (*ExpressionPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("build cel env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile payment policy %q: %w", expression, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("payment policy %q must evaluate to bool, got %s", expression, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build payment policy program: %w", err)
	}

	return &ExpressionPolicy{source: expression, program: program}, nil
}

func (p *ExpressionPolicy) Decide(amount float64, currency string) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		"amount":   amount,
		"currency": currency,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate payment policy: %w", err)
	}
	authorized, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("payment policy %q returned %T", p.source, out.Value())
	}
	return authorized, nil
}

// String возвращает исходное выражение.
func (p *ExpressionPolicy) String() string { return p.source }
