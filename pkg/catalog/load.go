package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Devices []Descriptor `yaml:"devices"`
}

// Parse decodes a YAML device table into a Catalog.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return New(file.Devices)
}

// Load reads and parses the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in testbed catalog: five rooms wired with smart
// plugs, combined motion/temperature sensors, and door contacts.
func Default() *Catalog {
	c, err := New(defaultDevices())
	if err != nil {
		panic(fmt.Sprintf("catalog: default table invalid: %v", err))
	}
	return c
}

func defaultDevices() []Descriptor {
	return []Descriptor{
		{Name: "plug_0", SensorID: 1025, ActuatorID: 25, Room: "Working area", Kind: KindPlug},
		{Name: "plug_1", SensorID: 1035, ActuatorID: 35, Room: "Robot Corner", Kind: KindPlug},
		{Name: "plug_2", SensorID: 1037, ActuatorID: 37, Room: "Kaspar Room", Kind: KindPlug},
		{Name: "plug_3", SensorID: 1039, ActuatorID: 39, Room: "Entrance", Kind: KindPlug},
		{Name: "plug_4", SensorID: 1041, ActuatorID: 41, Room: "Working area", Kind: KindPlug},

		{Name: "motion_0_temperature", SensorID: 1028, Room: "Working area", Kind: KindTemperature},
		{Name: "motion_1_temperature", SensorID: 1060, Room: "Entrance", Kind: KindTemperature},
		{Name: "motion_2_temperature", SensorID: 1066, Room: "Observation Room", Kind: KindTemperature},
		{Name: "motion_3_temperature", SensorID: 1072, Room: "Kaspar Room", Kind: KindTemperature},
		{Name: "motion_4_temperature", SensorID: 1078, Room: "Robot Corner", Kind: KindTemperature},

		{Name: "motion_0_movement", SensorID: 1029, Room: "Working area", Kind: KindMotion},
		{Name: "motion_1_movement", SensorID: 1061, Room: "Entrance", Kind: KindMotion},
		{Name: "motion_2_movement", SensorID: 1067, Room: "Observation Room", Kind: KindMotion},
		{Name: "motion_3_movement", SensorID: 1073, Room: "Kaspar Room", Kind: KindMotion},
		{Name: "motion_4_movement", SensorID: 1079, Room: "Robot Corner", Kind: KindMotion},

		{Name: "door_0", SensorID: 1022, Room: "Working area", Kind: KindDoor},
		{Name: "door_1", SensorID: 1043, Room: "Robot Corner", Kind: KindDoor},
		{Name: "door_2", SensorID: 1047, Room: "Kaspar Room", Kind: KindDoor},
		{Name: "door_3", SensorID: 1051, Room: "Entrance", Kind: KindDoor},
		{Name: "door_4", SensorID: 1055, Room: "Observation Room", Kind: KindDoor},
	}
}
