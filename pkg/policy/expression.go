// Package policy implements the DSL v4 rule language used to classify
// database accounts: a versioned JSON tree of boolean operators and
// predicate functions evaluated against normalized permission facts.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only expression version this package accepts.
const Version = 4

// Operators.
const (
	OpAnd = "AND"
	OpOr  = "OR"
	OpNot = "NOT"
)

// Expression is a parsed rule document: {"version": 4, "expr": <node>}.
type Expression struct {
	Version int   `json:"version"`
	Expr    *Node `json:"expr"`
}

// Node is either an operator node ({op, args:[...]}) or a function node
// ({fn, args:{...}}). Args is kept raw because its shape depends on which.
type Node struct {
	Op   string          `json:"op,omitempty"`
	Fn   string          `json:"fn,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Parse decodes a rule document without checking its structure.
// Use Validate before persisting a rule.
func Parse(raw []byte) (*Expression, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	var expr Expression
	if err := json.Unmarshal(raw, &expr); err != nil {
		return nil, fmt.Errorf("failed to decode expression: %w", err)
	}
	return &expr, nil
}

// IsV4 reports whether raw looks like a DSL v4 document. Rules stored in
// any other shape are not evaluable.
func IsV4(raw []byte) bool {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Version == Version
}

// children decodes operator args.
func (n *Node) children() ([]*Node, error) {
	if len(n.Args) == 0 {
		return nil, nil
	}
	var kids []*Node
	if err := json.Unmarshal(n.Args, &kids); err != nil {
		return nil, fmt.Errorf("operator %s args must be an array of nodes", n.Op)
	}
	return kids, nil
}

// params decodes function args. A missing args value is an empty map.
func (n *Node) params() (Args, error) {
	if len(n.Args) == 0 || bytes.Equal(bytes.TrimSpace(n.Args), []byte("null")) {
		return Args{}, nil
	}
	var args Args
	if err := json.Unmarshal(n.Args, &args); err != nil {
		return nil, fmt.Errorf("function %s args must be an object", n.Fn)
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}
