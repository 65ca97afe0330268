package match

import "fmt"

// Input names used in InputValidationError.
const (
	InputModel     = "model"
	InputSpace     = "space"
	InputTolerance = "tolerance"
)

// InputValidationError reports malformed or missing input. Index is the
// offending element within Input, or -1 when the problem is not tied to a
// single element. Err, when set, is the underlying cause (for example a
// *rigid.DegenerateTransformError) and is reachable through errors.As.
type InputValidationError struct {
	Input  string
	Index  int
	Reason string
	Err    error
}

func (e *InputValidationError) Error() string {
	msg := e.Reason
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Index >= 0 {
		return fmt.Sprintf("invalid %s[%d]: %s", e.Input, e.Index, msg)
	}
	return fmt.Sprintf("invalid %s: %s", e.Input, msg)
}

func (e *InputValidationError) Unwrap() error { return e.Err }
