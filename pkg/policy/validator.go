package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
)

// MaxDepth bounds expression nesting.
const MaxDepth = 32

// Validate checks a rule document's structure before it is persisted.
// It reports every problem found, not just the first, as a *apperrors.ValidationError.
func Validate(raw json.RawMessage) error {
	expr, err := Parse(raw)
	if err != nil {
		return &apperrors.ValidationError{Problems: []string{err.Error()}}
	}

	v := &validator{}
	if expr.Version != Version {
		v.add("version", fmt.Sprintf("must be %d, got %d", Version, expr.Version))
	}
	if expr.Expr == nil {
		v.add("expr", "is required")
	} else {
		v.node(expr.Expr, "expr", 1)
	}

	if len(v.problems) > 0 {
		return &apperrors.ValidationError{Problems: v.problems}
	}
	return nil
}

type validator struct {
	problems []string
}

func (v *validator) add(path, msg string) {
	v.problems = append(v.problems, path+": "+msg)
}

func (v *validator) node(n *Node, path string, depth int) {
	if depth > MaxDepth {
		v.add(path, fmt.Sprintf("nesting exceeds %d levels", MaxDepth))
		return
	}
	switch {
	case n == nil:
		v.add(path, "node is null")
	case n.Op != "" && n.Fn != "":
		v.add(path, "node must have either op or fn, not both")
	case n.Fn != "":
		v.function(n, path)
	case n.Op != "":
		v.operator(n, path, depth)
	default:
		v.add(path, "node must have op or fn")
	}
}

func (v *validator) operator(n *Node, path string, depth int) {
	op := strings.ToUpper(n.Op)
	if op != OpAnd && op != OpOr && op != OpNot {
		v.add(path, fmt.Sprintf("unknown operator %q", n.Op))
		return
	}
	kids, err := n.children()
	if err != nil {
		v.add(path, err.Error())
		return
	}
	switch {
	case op == OpNot && len(kids) != 1:
		v.add(path, fmt.Sprintf("NOT requires exactly one argument, got %d", len(kids)))
	case len(kids) == 0:
		v.add(path, fmt.Sprintf("%s requires at least one argument", op))
	}
	for i, kid := range kids {
		v.node(kid, childPath(path, i), depth+1)
	}
}

func (v *validator) function(n *Node, path string) {
	check, ok := argCheckers[n.Fn]
	if !ok {
		v.add(path, fmt.Sprintf("unknown function %q", n.Fn))
		return
	}
	args, err := n.params()
	if err != nil {
		v.add(path, err.Error())
		return
	}
	if err := check(args); err != nil {
		v.add(path, fmt.Sprintf("%s: %v", n.Fn, err))
	}
}
