package workflow

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// keyPathPattern matches a bare context key lookup such as "approved" or
// "stage.plan.out". Anything else is treated as a full expression and handed
// to the expr compiler.
var keyPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*(\.[A-Za-z0-9_-]+)*$`)

// ConditionEvaluator evaluates stage conditions against a run context.
// Compiled expressions are cached for repeated evaluations across runs.
type ConditionEvaluator struct {
	mu     sync.RWMutex
	cache  map[string]*vm.Program
	logger *slog.Logger
}

// NewConditionEvaluator creates a condition evaluator.
func NewConditionEvaluator(logger *slog.Logger) *ConditionEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConditionEvaluator{
		cache:  make(map[string]*vm.Program),
		logger: logger,
	}
}

// ShouldRun decides whether a stage gated by cond executes, given the run
// context and the stage results recorded so far.
//
// Semantics:
//
//   - if: the expression is looked up in the run context; the stage runs
//     when the value is truthy.
//   - unless: inverse of if.
//   - when: expressions of the form stage.<name>.<status> compare the
//     referenced stage's recorded status against success|failed|skipped.
//     Malformed expressions default to run-the-stage with a warning logged,
//     so a typo never silently drops a stage.
//
// Expressions that are not a bare key path are compiled and evaluated with
// expr; an evaluation failure also defaults to run-the-stage with a warning.
func (e *ConditionEvaluator) ShouldRun(cond *Condition, rc *RunContext, run *Run) bool {
	if cond == nil || cond.Expression == "" {
		return true
	}

	switch cond.Type {
	case ConditionWhen:
		return e.evaluateWhen(cond.Expression, run)
	case ConditionUnless:
		return !e.truthyExpression(cond.Expression, rc)
	case ConditionIf:
		return e.truthyExpression(cond.Expression, rc)
	default:
		e.logger.Warn("unknown condition type, stage will run",
			"type", string(cond.Type),
			"expression", cond.Expression,
		)
		return true
	}
}

// evaluateWhen handles stage.<name>.<status> references.
func (e *ConditionEvaluator) evaluateWhen(expression string, run *Run) bool {
	parts := strings.Split(expression, ".")
	if len(parts) != 3 || parts[0] != "stage" {
		e.logger.Warn("malformed when expression, stage will run",
			"expression", expression,
			"expected", "stage.<name>.<success|failed|skipped>",
		)
		return true
	}

	result := run.StageResult(parts[1])
	if result == nil {
		e.logger.Warn("when expression references unknown stage, stage will run",
			"expression", expression,
			"referenced_stage", parts[1],
		)
		return true
	}

	switch parts[2] {
	case "success":
		return result.Status == StageStatusCompleted
	case "failed":
		return result.Status == StageStatusFailed
	case "skipped":
		return result.Status == StageStatusSkipped
	default:
		e.logger.Warn("when expression references unknown status, stage will run",
			"expression", expression,
			"status", parts[2],
		)
		return true
	}
}

// truthyExpression resolves an if/unless expression to a truthiness value.
func (e *ConditionEvaluator) truthyExpression(expression string, rc *RunContext) bool {
	if keyPathPattern.MatchString(expression) {
		v, ok := rc.Get(expression)
		if !ok {
			return false
		}
		return truthy(v)
	}

	// Full expression: evaluate with expr against a snapshot of the context.
	result, err := e.evalExpr(expression, rc.Snapshot())
	if err != nil {
		e.logger.Warn("condition expression failed to evaluate, stage will run",
			"expression", expression,
			"error", err,
		)
		return true
	}
	return truthy(result)
}

// evalExpr compiles (with caching) and runs an expr expression.
func (e *ConditionEvaluator) evalExpr(expression string, env map[string]any) (any, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		var err error
		program, err = expr.Compile(expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.cache[expression] = program
		e.mu.Unlock()
	}

	return expr.Run(program, env)
}

// truthy implements the context truthiness rules: bool as-is, non-empty
// string true, positive number true. Nil and unknown types are false.
func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val > 0
	case int32:
		return val > 0
	case int64:
		return val > 0
	case float32:
		return val > 0
	case float64:
		return val > 0
	default:
		return false
	}
}
