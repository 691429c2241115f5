package hcl

import "fmt"

// MalformedFlowError reports a flow document that failed structural
// validation: a syntax error, a duplicate node id, a dangling route
// reference, or a missing entry node. It is fatal for the whole build.
type MalformedFlowError struct {
	// Path is the file the flow was loaded from.
	Path string
	// Detail describes the specific structural problem.
	Detail string
	// Err holds the underlying parse diagnostics, if any.
	Err error
}

func (e *MalformedFlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed flow %s: %s: %v", e.Path, e.Detail, e.Err)
	}
	return fmt.Sprintf("malformed flow %s: %s", e.Path, e.Detail)
}

func (e *MalformedFlowError) Unwrap() error {
	return e.Err
}
