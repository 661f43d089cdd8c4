package registry

import "fmt"

// InvariantError reports a violated data-model invariant. The core never
// swallows these: callers are expected to panic with one (see registry.go),
// naming the rule and the offending id so the panic message is actionable.
type InvariantError struct {
	Rule string
	ID   ResourceID
	Msg  string
}

func (e *InvariantError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("peeps: invariant %s violated for %q: %s", e.Rule, e.ID, e.Msg)
	}
	return fmt.Sprintf("peeps: invariant %s violated: %s", e.Rule, e.Msg)
}

func invariant(rule string, id ResourceID, msg string, args ...any) *InvariantError {
	return &InvariantError{Rule: rule, ID: id, Msg: fmt.Sprintf(msg, args...)}
}
