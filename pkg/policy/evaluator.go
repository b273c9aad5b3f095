package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Result is the outcome of evaluating one expression against one account.
// Errors lists every node that failed closed.
type Result struct {
	Matched bool
	Errors  []*apperrors.PolicyEvaluationError
}

// Evaluator evaluates DSL v4 expressions. It holds no mutable state after
// construction and is safe for concurrent use.
type Evaluator struct {
	functions map[string]Function
	logger    *zap.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithFunction registers or replaces a function in the evaluator's table.
func WithFunction(name string, fn Function) Option {
	return func(e *Evaluator) {
		e.functions[name] = fn
	}
}

// WithLogger sets the logger used to report failed nodes.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger.Named("policy-evaluator")
	}
}

func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		functions: builtinFunctions(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateRaw parses and evaluates a stored rule document.
func (e *Evaluator) EvaluateRaw(raw json.RawMessage, facts *models.PermissionFacts) Result {
	expr, err := Parse(raw)
	if err != nil {
		return e.failed("", err.Error())
	}
	return e.Evaluate(expr, facts)
}

// Evaluate never returns an error: a malformed node evaluates to false and
// is recorded in Result.Errors.
func (e *Evaluator) Evaluate(expr *Expression, facts *models.PermissionFacts) Result {
	if expr == nil {
		return e.failed("", "nil expression")
	}
	if expr.Version != Version {
		return e.failed("version", fmt.Sprintf("unsupported expression version %d", expr.Version))
	}
	if facts == nil {
		return e.failed("", "nil facts")
	}

	var errs []*apperrors.PolicyEvaluationError
	matched := e.eval(expr.Expr, facts, "expr", &errs)
	for _, err := range errs {
		e.logger.Warn("Rule node failed closed",
			zap.String("path", err.Path),
			zap.String("reason", err.Reason))
	}
	return Result{Matched: matched, Errors: errs}
}

func (e *Evaluator) failed(path, reason string) Result {
	err := &apperrors.PolicyEvaluationError{Path: path, Reason: reason}
	e.logger.Warn("Rule failed closed", zap.String("path", path), zap.String("reason", reason))
	return Result{Errors: []*apperrors.PolicyEvaluationError{err}}
}

func (e *Evaluator) eval(n *Node, facts *models.PermissionFacts, path string, errs *[]*apperrors.PolicyEvaluationError) bool {
	fail := func(reason string) bool {
		*errs = append(*errs, &apperrors.PolicyEvaluationError{Path: path, Reason: reason})
		return false
	}

	if n == nil {
		return fail("missing node")
	}
	if n.Op != "" && n.Fn != "" {
		return fail("node has both op and fn")
	}

	if n.Fn != "" {
		fn, ok := e.functions[n.Fn]
		if !ok {
			return fail(fmt.Sprintf("unknown function %q", n.Fn))
		}
		args, err := n.params()
		if err != nil {
			return fail(err.Error())
		}
		matched, err := fn(facts, args)
		if err != nil {
			return fail(fmt.Sprintf("%s: %v", n.Fn, err))
		}
		return matched
	}

	kids, err := n.children()
	if err != nil {
		return fail(err.Error())
	}

	switch strings.ToUpper(n.Op) {
	case OpAnd:
		if len(kids) == 0 {
			return fail("AND requires at least one argument")
		}
		for i, kid := range kids {
			if !e.eval(kid, facts, childPath(path, i), errs) {
				return false
			}
		}
		return true
	case OpOr:
		if len(kids) == 0 {
			return fail("OR requires at least one argument")
		}
		for i, kid := range kids {
			if e.eval(kid, facts, childPath(path, i), errs) {
				return true
			}
		}
		return false
	case OpNot:
		if len(kids) != 1 {
			return fail(fmt.Sprintf("NOT requires exactly one argument, got %d", len(kids)))
		}
		before := len(*errs)
		result := e.eval(kids[0], facts, childPath(path, 0), errs)
		if len(*errs) > before {
			// A failed child must not become a match through negation.
			return false
		}
		return !result
	case "":
		return fail("node has neither op nor fn")
	default:
		return fail(fmt.Sprintf("unknown operator %q", n.Op))
	}
}

func childPath(path string, i int) string {
	return fmt.Sprintf("%s.args[%d]", path, i)
}
