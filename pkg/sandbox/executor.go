package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"

	"github.com/cexll/linguahome-go/pkg/device"
)

// DefaultTimeout bounds the wall-clock running time of one snippet.
const DefaultTimeout = 5 * time.Second

// Executor runs validated snippets in an isolated interpreter. Each run gets
// a fresh interpreter whose only reachable symbols are the two capability
// modules and the pure computation subset; stdout is captured, never written
// to a real stream.
type Executor struct {
	reader     device.SensorReader
	controller device.ActuatorController
	timeout    time.Duration
}

// ExecutorOption customizes executor limits.
type ExecutorOption func(*Executor)

// WithTimeout overrides the wall-clock snippet timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewExecutor wires an executor over the capability objects.
func NewExecutor(reader device.SensorReader, controller device.ActuatorController, opts ...ExecutorOption) *Executor {
	e := &Executor{
		reader:     reader,
		controller: controller,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the snippet and classifies the terminal state. Faults raised
// by the snippet never propagate to the caller; they come back inside the
// Result.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	if !req.Validated {
		return Result{
			Outcome:     OutcomeValidationRejected,
			ErrorDetail: "request reached executor without validation",
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{Outcome: OutcomeTimedOut, ErrorDetail: err.Error()}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	rec := &callRecorder{}
	i := interp.New(interp.Options{Stdout: &stdout, Stderr: &stderr})
	if err := i.Use(pureSymbols()); err != nil {
		return Result{Outcome: OutcomeRuntimeFailed, ErrorDetail: fmt.Sprintf("load stdlib subset: %v", err)}
	}
	if err := i.Use(capabilitySymbols(execCtx, e.reader, e.controller, rec)); err != nil {
		return Result{Outcome: OutcomeRuntimeFailed, ErrorDetail: fmt.Sprintf("load capability modules: %v", err)}
	}

	prog, err := i.Compile(req.Source)
	if err != nil {
		// The validator already parsed this; a compile failure here means
		// the snippet references a symbol outside the loaded namespace.
		return Result{Outcome: OutcomeRuntimeFailed, ErrorDetail: err.Error(), Stdout: stdout.String()}
	}

	runErr := e.run(execCtx, i, prog)
	out := stdout.String()
	trail := rec.commandTrail()

	switch {
	case runErr == nil:
		return Result{Stdout: out, Outcome: OutcomeSuccess, Commands: trail}
	case execCtx.Err() != nil && ctx.Err() == nil:
		return Result{Stdout: out, Outcome: OutcomeTimedOut, ErrorDetail: fmt.Sprintf("execution exceeded %s", e.timeout), Commands: trail}
	case ctx.Err() != nil:
		return Result{Stdout: out, Outcome: OutcomeTimedOut, ErrorDetail: ctx.Err().Error(), Commands: trail}
	default:
		if devErr := rec.deviceError(); devErr != nil {
			return Result{Stdout: out, Outcome: OutcomeDeviceFailed, ErrorDetail: devErr.Error(), Commands: trail}
		}
		return Result{Stdout: out, Outcome: OutcomeRuntimeFailed, ErrorDetail: runtimeDetail(runErr, stderr.String()), Commands: trail}
	}
}

// run executes the compiled program, converting interpreter panics into
// errors so a snippet fault can never crash the hosting process.
func (e *Executor) run(ctx context.Context, i *interp.Interpreter, prog *interp.Program) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("snippet panic: %v", r)
		}
	}()
	_, err = i.ExecuteWithContext(ctx, prog)
	return err
}

func runtimeDetail(runErr error, stderr string) string {
	var p interp.Panic
	if errors.As(runErr, &p) {
		return fmt.Sprintf("snippet panic: %v", p.Value)
	}
	detail := runErr.Error()
	if s := strings.TrimSpace(stderr); s != "" {
		detail = detail + "; stderr: " + s
	}
	return detail
}
