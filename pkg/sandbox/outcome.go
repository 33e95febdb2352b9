// Package sandbox validates and executes model-authored snippets under
// strict capability and time limits. Validation is static (AST walk over an
// allow-list); execution adds the dynamic backstop (an interpreter whose
// entire external namespace is the two injected capability modules).
package sandbox

import "fmt"

// Outcome classifies how a pipeline turn terminated.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeExtractionFailed   Outcome = "extraction_failed"
	OutcomeValidationRejected Outcome = "validation_rejected"
	OutcomeRuntimeFailed      Outcome = "runtime_failed"
	OutcomeTimedOut           Outcome = "timed_out"
	OutcomeDeviceFailed       Outcome = "device_failed"
	// OutcomeGatewayUnavailable is produced by the agent loop when the
	// text-completion call itself fails; it never comes out of the executor.
	OutcomeGatewayUnavailable Outcome = "gateway_unavailable"
)

// Request carries a snippet to the executor. Validated must be set by the
// validator; the executor refuses anything else.
type Request struct {
	SessionID string
	Source    string
	Validated bool
}

// Command records one actuator invocation a snippet made, whether or not
// the device acknowledged it.
type Command struct {
	ActuatorID int
	Action     string
	Value      int
	OK         bool
}

// Result is the terminal record of one execution attempt. Commands lists
// every actuator call in order, including calls made before a later fault.
type Result struct {
	Stdout      string
	Outcome     Outcome
	ErrorDetail string
	Commands    []Command
}

// ValidationReason narrows why the validator rejected a snippet.
type ValidationReason string

const (
	SyntaxInvalid ValidationReason = "syntax_invalid"
	ImportDenied  ValidationReason = "import_denied"
	CallDenied    ValidationReason = "call_denied"
)

// ValidationError names the first violation found in a snippet.
type ValidationError struct {
	Reason ValidationReason
	Symbol string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("sandbox: %s: %s", e.Reason, e.Symbol)
	}
	return fmt.Sprintf("sandbox: %s: %s", e.Reason, e.Detail)
}
