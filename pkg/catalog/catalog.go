package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies what a device senses or switches.
type Kind string

const (
	KindPlug        Kind = "plug"
	KindTemperature Kind = "temperature"
	KindMotion      Kind = "motion"
	KindDoor        Kind = "door"
)

var validKinds = map[Kind]struct{}{
	KindPlug:        {},
	KindTemperature: {},
	KindMotion:      {},
	KindDoor:        {},
}

// Descriptor maps a logical device name to its wire identifiers.
// ActuatorID is zero for read-only devices.
type Descriptor struct {
	Name       string `yaml:"name"`
	SensorID   int    `yaml:"sensor_id"`
	ActuatorID int    `yaml:"actuator_id,omitempty"`
	Room       string `yaml:"room"`
	Kind       Kind   `yaml:"kind"`
}

// Controllable reports whether the device accepts actuator commands.
func (d Descriptor) Controllable() bool { return d.ActuatorID != 0 }

// Catalog is the immutable device table shared across the process. It is
// built once at startup and safe for unsynchronized concurrent reads.
type Catalog struct {
	ordered    []Descriptor
	byName     map[string]Descriptor
	bySensor   map[int]Descriptor
	byActuator map[int]Descriptor
	rooms      []string
}

// ErrUnknownDevice reports lookups that match no catalog entry.
var ErrUnknownDevice = errors.New("catalog: unknown device")

// New validates the descriptors and freezes them into a Catalog. Names,
// sensor identifiers, and actuator identifiers must each be unique.
func New(descriptors []Descriptor) (*Catalog, error) {
	if len(descriptors) == 0 {
		return nil, errors.New("catalog: no devices")
	}
	c := &Catalog{
		ordered:    make([]Descriptor, 0, len(descriptors)),
		byName:     make(map[string]Descriptor, len(descriptors)),
		bySensor:   make(map[int]Descriptor, len(descriptors)),
		byActuator: make(map[int]Descriptor),
	}
	seenRooms := map[string]struct{}{}
	for _, d := range descriptors {
		d.Name = strings.TrimSpace(d.Name)
		d.Room = strings.TrimSpace(d.Room)
		if d.Name == "" {
			return nil, errors.New("catalog: device name is required")
		}
		if d.Room == "" {
			return nil, fmt.Errorf("catalog: device %s has no room", d.Name)
		}
		if _, ok := validKinds[d.Kind]; !ok {
			return nil, fmt.Errorf("catalog: device %s has invalid kind %q", d.Name, d.Kind)
		}
		if d.SensorID <= 0 {
			return nil, fmt.Errorf("catalog: device %s has invalid sensor id %d", d.Name, d.SensorID)
		}
		if _, dup := c.byName[d.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate device name %s", d.Name)
		}
		if _, dup := c.bySensor[d.SensorID]; dup {
			return nil, fmt.Errorf("catalog: duplicate sensor id %d", d.SensorID)
		}
		if d.ActuatorID != 0 {
			if _, dup := c.byActuator[d.ActuatorID]; dup {
				return nil, fmt.Errorf("catalog: duplicate actuator id %d", d.ActuatorID)
			}
			c.byActuator[d.ActuatorID] = d
		}
		c.byName[d.Name] = d
		c.bySensor[d.SensorID] = d
		c.ordered = append(c.ordered, d)
		if _, ok := seenRooms[d.Room]; !ok {
			seenRooms[d.Room] = struct{}{}
			c.rooms = append(c.rooms, d.Room)
		}
	}
	return c, nil
}

// ByName looks up a device by its logical name.
func (c *Catalog) ByName(name string) (Descriptor, error) {
	d, ok := c.byName[strings.TrimSpace(name)]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return d, nil
}

// BySensor looks up a device by sensor identifier.
func (c *Catalog) BySensor(id int) (Descriptor, error) {
	d, ok := c.bySensor[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: sensor %d", ErrUnknownDevice, id)
	}
	return d, nil
}

// ByActuator looks up a device by actuator identifier.
func (c *Catalog) ByActuator(id int) (Descriptor, error) {
	d, ok := c.byActuator[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: actuator %d", ErrUnknownDevice, id)
	}
	return d, nil
}

// Devices returns a copy of all descriptors in declaration order.
func (c *Catalog) Devices() []Descriptor {
	return append([]Descriptor(nil), c.ordered...)
}

// Controllable returns all devices that accept commands.
func (c *Catalog) Controllable() []Descriptor {
	var out []Descriptor
	for _, d := range c.ordered {
		if d.Controllable() {
			out = append(out, d)
		}
	}
	return out
}

// Rooms returns the distinct room names in first-seen order.
func (c *Catalog) Rooms() []string {
	return append([]string(nil), c.rooms...)
}

// ByKind returns all devices of the given kind, sorted by room for stable
// prompt rendering.
func (c *Catalog) ByKind(kind Kind) []Descriptor {
	var out []Descriptor
	for _, d := range c.ordered {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

// Len returns the number of devices.
func (c *Catalog) Len() int { return len(c.ordered) }
