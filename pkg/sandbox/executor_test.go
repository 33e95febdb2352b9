package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cexll/linguahome-go/pkg/catalog"
	"github.com/cexll/linguahome-go/pkg/device"
)

func newTestExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *device.MockHome) {
	t.Helper()
	home := device.NewMockHome(catalog.Default())
	return NewExecutor(home, home, opts...), home
}

func validated(source string) Request {
	return Request{SessionID: "test", Source: source, Validated: true}
}

func TestExecuteRefusesUnvalidated(t *testing.T) {
	t.Parallel()
	exec, _ := newTestExecutor(t)
	res := exec.Execute(context.Background(), Request{Source: "package main\nfunc main() {}"})
	if res.Outcome != OutcomeValidationRejected {
		t.Fatalf("expected validation_rejected, got %s", res.Outcome)
	}
}

// Output fidelity: whatever the snippet prints is returned byte-for-byte.
func TestExecuteCapturesStdout(t *testing.T) {
	t.Parallel()
	exec, _ := newTestExecutor(t)
	res := exec.Execute(context.Background(), validated(`package main

import "fmt"

func main() {
	fmt.Println("The Robot Corner is at 23.9°C")
}
`))
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome %s: %s", res.Outcome, res.ErrorDetail)
	}
	if res.Stdout != "The Robot Corner is at 23.9°C\n" {
		t.Fatalf("stdout altered: %q", res.Stdout)
	}
}

func TestExecuteReadsSensor(t *testing.T) {
	t.Parallel()
	exec, _ := newTestExecutor(t)
	res := exec.Execute(context.Background(), validated(`package main

import (
	"fmt"

	"sensors"
)

func main() {
	r, err := sensors.Read(1078)
	if err != nil {
		fmt.Println("could not read sensor")
		return
	}
	fmt.Printf("%s: %s\n", r.Room, r.Value)
}
`))
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome %s: %s", res.Outcome, res.ErrorDetail)
	}
	if !strings.Contains(res.Stdout, "Robot Corner: 23.9") {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}

func TestExecuteCommandsActuator(t *testing.T) {
	t.Parallel()
	exec, home := newTestExecutor(t)
	res := exec.Execute(context.Background(), validated(`package main

import (
	"fmt"

	"actuators"
)

func main() {
	ack, err := actuators.Command(39, "turnOn", 1)
	if err != nil {
		fmt.Println("could not switch the plug")
		return
	}
	fmt.Printf("plug is now %s\n", ack.State)
}
`))
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome %s: %s", res.Outcome, res.ErrorDetail)
	}
	if !strings.Contains(res.Stdout, "plug is now On") {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
	if on, ok := home.PlugOn(39); !ok || !on {
		t.Fatal("actuator command did not reach the backend")
	}
}

// A snippet that checks the error and prints a friendly message is a
// success: the fault was handled inside the snippet.
func TestExecuteHandledDeviceErrorIsSuccess(t *testing.T) {
	t.Parallel()
	exec, _ := newTestExecutor(t)
	res := exec.Execute(context.Background(), validated(`package main

import (
	"fmt"

	"sensors"
)

func main() {
	_, err := sensors.Read(9999)
	if err != nil {
		fmt.Println("that sensor does not exist")
		return
	}
}
`))
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome %s: %s", res.Outcome, res.ErrorDetail)
	}
	if !strings.Contains(res.Stdout, "does not exist") {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}

// An unhandled device fault that sinks the snippet classifies as a device
// failure, not a generic runtime failure.
func TestExecuteUnhandledDeviceErrorIsDeviceFailed(t *testing.T) {
	t.Parallel()
	exec, _ := newTestExecutor(t)
	res := exec.Execute(context.Background(), validated(`package main

import "sensors"

func main() {
	_, err := sensors.Read(9999)
	if err != nil {
		panic(err)
	}
}
`))
	if res.Outcome != OutcomeDeviceFailed {
		t.Fatalf("expected device_failed, got %s: %s", res.Outcome, res.ErrorDetail)
	}
}

func TestExecuteRuntimeFailure(t *testing.T) {
	t.Parallel()
	exec, _ := newTestExecutor(t)
	res := exec.Execute(context.Background(), validated(`package main

func main() {
	var xs []int
	_ = xs[3]
}
`))
	if res.Outcome != OutcomeRuntimeFailed {
		t.Fatalf("expected runtime_failed, got %s: %s", res.Outcome, res.ErrorDetail)
	}
}

func TestExecuteTimeoutBound(t *testing.T) {
	t.Parallel()
	timeout := 150 * time.Millisecond
	exec, _ := newTestExecutor(t, WithTimeout(timeout))

	start := time.Now()
	res := exec.Execute(context.Background(), validated(`package main

func main() {
	for {
	}
}
`))
	elapsed := time.Since(start)

	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("expected timed_out, got %s: %s", res.Outcome, res.ErrorDetail)
	}
	if elapsed > timeout+2*time.Second {
		t.Fatalf("interruption too slow: %s", elapsed)
	}
}

func TestExecutePartialOutputSurvivesTimeout(t *testing.T) {
	t.Parallel()
	exec, _ := newTestExecutor(t, WithTimeout(150*time.Millisecond))
	res := exec.Execute(context.Background(), validated(`package main

import "fmt"

func main() {
	fmt.Println("about to stall")
	for {
	}
}
`))
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("expected timed_out, got %s", res.Outcome)
	}
	if !strings.Contains(res.Stdout, "about to stall") {
		t.Fatalf("partial stdout lost: %q", res.Stdout)
	}
}

func TestExecuteFreshInterpreterPerRun(t *testing.T) {
	t.Parallel()
	exec, _ := newTestExecutor(t)
	first := exec.Execute(context.Background(), validated(`package main

import "fmt"

var counter = 1

func main() { fmt.Println(counter) }
`))
	second := exec.Execute(context.Background(), validated(`package main

import "fmt"

func main() { fmt.Println(counter) }
`))
	if first.Outcome != OutcomeSuccess {
		t.Fatalf("first run: %s: %s", first.Outcome, first.ErrorDetail)
	}
	// No state leaks between runs: the second snippet must not see the
	// first one's globals.
	if second.Outcome == OutcomeSuccess {
		t.Fatalf("second run should fail on undefined symbol, got %q", second.Stdout)
	}
}

// Every actuator call lands in the command trail, failed ones included.
func TestExecuteRecordsCommandTrail(t *testing.T) {
	t.Parallel()
	exec, _ := newTestExecutor(t)
	res := exec.Execute(context.Background(), validated(`package main

import "actuators"

func main() {
	actuators.Command(39, "turnOff", 0)
	actuators.Command(9999, "turnOff", 0)
}
`))
	if len(res.Commands) != 2 {
		t.Fatalf("expected 2 recorded commands, got %d", len(res.Commands))
	}
	first, second := res.Commands[0], res.Commands[1]
	if first.ActuatorID != 39 || first.Action != "turnOff" || !first.OK {
		t.Fatalf("first command wrong: %+v", first)
	}
	if second.ActuatorID != 9999 || second.OK {
		t.Fatalf("second command should record the failure: %+v", second)
	}
}
