package device

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultCallTimeout bounds a single device round trip so one slow
	// device cannot exhaust a whole snippet's execution budget.
	DefaultCallTimeout = 2 * time.Second
	// DefaultMaxInFlight bounds concurrent device I/O across all sessions.
	DefaultMaxInFlight = 4
)

// Gateway wraps a device backend with a per-call timeout and a weighted
// semaphore so concurrent sessions share the device channel fairly.
// Backend faults come back as *Error; ErrNotFound passes through untouched.
type Gateway struct {
	reader      SensorReader
	controller  ActuatorController
	sem         *semaphore.Weighted
	callTimeout time.Duration
}

// GatewayOption customizes Gateway limits.
type GatewayOption func(*Gateway)

// WithCallTimeout overrides the per-call device timeout.
func WithCallTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.callTimeout = d
		}
	}
}

// WithMaxInFlight overrides the concurrent device I/O bound.
func WithMaxInFlight(n int64) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.sem = semaphore.NewWeighted(n)
		}
	}
}

// NewGateway wires a bounded gateway over the given backend halves.
func NewGateway(reader SensorReader, controller ActuatorController, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		reader:      reader,
		controller:  controller,
		sem:         semaphore.NewWeighted(DefaultMaxInFlight),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Read fetches a sensor reading through the bounded channel.
func (g *Gateway) Read(ctx context.Context, sensorID int) (Reading, error) {
	var reading Reading
	err := g.call(ctx, "read", sensorID, func(ctx context.Context) error {
		var err error
		reading, err = g.reader.Read(ctx, sensorID)
		return err
	})
	return reading, err
}

// List fetches all sensor readings through the bounded channel.
func (g *Gateway) List(ctx context.Context) ([]Reading, error) {
	var readings []Reading
	err := g.call(ctx, "list", 0, func(ctx context.Context) error {
		var err error
		readings, err = g.reader.List(ctx)
		return err
	})
	return readings, err
}

// Command issues an actuator command through the bounded channel.
func (g *Gateway) Command(ctx context.Context, actuatorID int, action string, value int) (Ack, error) {
	var ack Ack
	err := g.call(ctx, "command", actuatorID, func(ctx context.Context) error {
		var err error
		ack, err = g.controller.Command(ctx, actuatorID, action, value)
		return err
	})
	return ack, err
}

func (g *Gateway) call(ctx context.Context, op string, id int, fn func(context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return &Error{Op: op, ID: id, Reason: err.Error()}
	}
	defer g.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	err := fn(callCtx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return &Error{Op: op, ID: id, Reason: "device call timed out"}
	default:
		var devErr *Error
		if errors.As(err, &devErr) {
			return err
		}
		return &Error{Op: op, ID: id, Reason: err.Error()}
	}
}
