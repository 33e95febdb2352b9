package device

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound reports a sensor or actuator identifier with no backing device.
var ErrNotFound = errors.New("device: not found")

// Reading is one sensor observation.
type Reading struct {
	SensorID int
	Name     string
	Value    string
	Status   string
	Room     string
	Kind     string
}

// Ack confirms an actuator command.
type Ack struct {
	ActuatorID int
	Action     string
	State      string
}

// Error is a typed capability failure. Snippets receive it through the
// normal error return of Read/Command and may handle or surface it.
type Error struct {
	Op     string
	ID     int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("device: %s %d: %s", e.Op, e.ID, e.Reason)
}

// SensorReader is the read-only half of the capability surface.
type SensorReader interface {
	Read(ctx context.Context, sensorID int) (Reading, error)
	List(ctx context.Context) ([]Reading, error)
}

// ActuatorController is the command half of the capability surface.
type ActuatorController interface {
	Command(ctx context.Context, actuatorID int, action string, value int) (Ack, error)
}
