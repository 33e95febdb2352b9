package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/cexll/linguahome-go/pkg/catalog"
)

// MockHome emulates the testbed backend: seeded sensor values and switchable
// plug state, no real hardware. It implements both capability interfaces.
type MockHome struct {
	catalog *catalog.Catalog

	mu       sync.RWMutex
	readings map[int]Reading
	plugOn   map[int]bool
}

// NewMockHome seeds a mock backend for every device in the catalog.
func NewMockHome(cat *catalog.Catalog) *MockHome {
	m := &MockHome{
		catalog:  cat,
		readings: make(map[int]Reading),
		plugOn:   make(map[int]bool),
	}
	for _, d := range cat.Devices() {
		m.readings[d.SensorID] = seedReading(d)
		if d.Controllable() {
			m.plugOn[d.ActuatorID] = seedPlugState(d.ActuatorID)
		}
	}
	return m
}

// Read returns the current reading for sensorID, or ErrNotFound.
func (m *MockHome) Read(ctx context.Context, sensorID int) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.readings[sensorID]
	if !ok {
		return Reading{}, fmt.Errorf("%w: sensor %d", ErrNotFound, sensorID)
	}
	return r, nil
}

// List returns readings for every sensor in catalog order.
func (m *MockHome) List(ctx context.Context) ([]Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Reading, 0, len(m.readings))
	for _, d := range m.catalog.Devices() {
		out = append(out, m.readings[d.SensorID])
	}
	return out, nil
}

// Command flips plug state for turnOn/turnOff and keeps the paired power
// reading consistent with the new state.
func (m *MockHome) Command(ctx context.Context, actuatorID int, action string, value int) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plugOn[actuatorID]; !ok {
		return Ack{}, fmt.Errorf("%w: actuator %d", ErrNotFound, actuatorID)
	}
	var state string
	switch action {
	case "turnOn":
		m.plugOn[actuatorID] = true
		state = "On"
	case "turnOff":
		m.plugOn[actuatorID] = false
		state = "Off"
	default:
		return Ack{}, &Error{Op: "command", ID: actuatorID, Reason: fmt.Sprintf("unknown action %q", action)}
	}
	if d, err := m.catalog.ByActuator(actuatorID); err == nil {
		r := m.readings[d.SensorID]
		r.Status = state
		if state == "Off" {
			r.Value = "0.0"
		}
		m.readings[d.SensorID] = r
	}
	return Ack{ActuatorID: actuatorID, Action: action, State: state}, nil
}

// SetReading overrides one sensor value, for tests and demos.
func (m *MockHome) SetReading(sensorID int, value, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.readings[sensorID]
	if !ok {
		return
	}
	r.Value = value
	r.Status = status
	m.readings[sensorID] = r
}

// PlugOn reports the current state of an actuator, for tests.
func (m *MockHome) PlugOn(actuatorID int) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	on, ok := m.plugOn[actuatorID]
	return on, ok
}

// seedReading mirrors the values the physical testbed reported when the
// mock was captured, keyed by sensor id.
func seedReading(d catalog.Descriptor) Reading {
	r := Reading{
		SensorID: d.SensorID,
		Name:     d.Name,
		Room:     d.Room,
		Kind:     string(d.Kind),
	}
	if v, ok := seedValues[d.SensorID]; ok {
		r.Value = v.value
		r.Status = v.status
		return r
	}
	switch d.Kind {
	case catalog.KindTemperature:
		r.Value, r.Status = "21.0", "Active"
	case catalog.KindMotion:
		r.Value, r.Status = "0", "Inactive"
	case catalog.KindDoor:
		r.Value, r.Status = "0", "Closed"
	default:
		r.Value, r.Status = "0.0", "Off"
	}
	return r
}

func seedPlugState(actuatorID int) bool {
	v, ok := seedPlugs[actuatorID]
	return ok && v
}

type seeded struct{ value, status string }

var seedValues = map[int]seeded{
	1025: {"95.3", "On"},
	1035: {"0.0", "Off"},
	1037: {"45.2", "On"},
	1039: {"0.0", "Off"},
	1041: {"120.5", "On"},

	1028: {"22.5", "Active"},
	1060: {"21.8", "Active"},
	1066: {"23.2", "Active"},
	1072: {"24.1", "Active"},
	1078: {"23.9", "Active"},

	1029: {"1", "Active"},
	1061: {"0", "Inactive"},
	1067: {"0", "Inactive"},
	1073: {"1", "Active"},
	1079: {"0", "Inactive"},

	1022: {"0", "Closed"},
	1043: {"1", "Open"},
	1047: {"0", "Closed"},
	1051: {"0", "Closed"},
	1055: {"1", "Open"},
}

var seedPlugs = map[int]bool{
	25: true,
	35: false,
	37: true,
	39: false,
	41: true,
}
