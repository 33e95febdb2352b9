package sandbox

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/cexll/linguahome-go/pkg/device"
)

// pureStdlib names the stdlib packages whose symbols are loaded into the
// interpreter. Everything else in stdlib.Symbols stays out, so even a
// snippet that slipped past static validation cannot reach os, net, or
// reflect at run time.
var pureStdlib = []string{"fmt/fmt", "strings/strings", "strconv/strconv", "math/math", "sort/sort"}

func pureSymbols() interp.Exports {
	exports := make(interp.Exports, len(pureStdlib))
	for _, key := range pureStdlib {
		if symbols, ok := stdlib.Symbols[key]; ok {
			exports[key] = symbols
		}
	}
	return exports
}

// callRecorder remembers capability failures so the executor can tell a
// device fault apart from an ordinary snippet bug, and keeps the ordered
// trail of actuator commands for the audit record.
type callRecorder struct {
	mu       sync.Mutex
	lastErr  error
	commands []Command
}

func (r *callRecorder) record(err error) {
	if err == nil {
		return
	}
	var devErr *device.Error
	if errors.As(err, &devErr) || errors.Is(err, device.ErrNotFound) {
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
	}
}

func (r *callRecorder) recordCommand(cmd Command) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()
}

func (r *callRecorder) deviceError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *callRecorder) commandTrail() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commands) == 0 {
		return nil
	}
	trail := make([]Command, len(r.commands))
	copy(trail, r.commands)
	return trail
}

// capabilitySymbols builds the entire external namespace a snippet can see:
// the sensors and actuators modules, closed over the live capability
// objects and the execution context.
func capabilitySymbols(ctx context.Context, reader device.SensorReader, controller device.ActuatorController, rec *callRecorder) interp.Exports {
	read := func(sensorID int) (device.Reading, error) {
		reading, err := reader.Read(ctx, sensorID)
		rec.record(err)
		return reading, err
	}
	list := func() ([]device.Reading, error) {
		readings, err := reader.List(ctx)
		rec.record(err)
		return readings, err
	}
	command := func(actuatorID int, action string, value int) (device.Ack, error) {
		ack, err := controller.Command(ctx, actuatorID, action, value)
		rec.record(err)
		rec.recordCommand(Command{
			ActuatorID: actuatorID,
			Action:     action,
			Value:      value,
			OK:         err == nil,
		})
		return ack, err
	}
	return interp.Exports{
		"sensors/sensors": {
			"Read":    reflect.ValueOf(read),
			"List":    reflect.ValueOf(list),
			"Reading": reflect.ValueOf((*device.Reading)(nil)),
		},
		"actuators/actuators": {
			"Command": reflect.ValueOf(command),
			"Ack":     reflect.ValueOf((*device.Ack)(nil)),
		},
	}
}
