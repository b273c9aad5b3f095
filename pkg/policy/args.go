package policy

import (
	"fmt"
	"strings"
)

// Args are the decoded arguments of a function node.
type Args map[string]any

// String returns a required non-empty string argument.
func (a Args) String(name string) (string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q must not be empty", name)
	}
	return s, nil
}

// OptionalString returns a string argument or "" when absent.
func (a Args) OptionalString(name string) (string, error) {
	if v, ok := a[name]; !ok || v == nil {
		return "", nil
	}
	return a.String(name)
}

// StringList returns a required non-empty list of strings.
func (a Args) StringList(name string) ([]string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return nil, fmt.Errorf("missing required argument %q", name)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be a list of strings", name)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("argument %q must not be empty", name)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q[%d] must be a string", name, i)
		}
		out = append(out, s)
	}
	return out, nil
}
