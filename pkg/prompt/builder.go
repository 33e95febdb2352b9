// Package prompt assembles the generation context: behavioral rules, the
// verbatim device table, skill templates, and a bounded slice of memory.
package prompt

import (
	"fmt"
	"strings"

	"github.com/cexll/linguahome-go/pkg/catalog"
	"github.com/cexll/linguahome-go/pkg/memory"
	"github.com/cexll/linguahome-go/pkg/model"
	"github.com/cexll/linguahome-go/pkg/sandbox"
)

// DefaultWindow bounds how many recent turns are replayed into the context.
const DefaultWindow = 5

// Builder composes prompts. It is a pure function of its inputs plus the
// memory snapshot handed to Build; it performs no I/O of its own.
type Builder struct {
	catalog *catalog.Catalog
	skills  *SkillSet
	window  int
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// WithSkills attaches a skill template set.
func WithSkills(skills *SkillSet) BuilderOption {
	return func(b *Builder) { b.skills = skills }
}

// WithWindow overrides the recent-turn window size.
func WithWindow(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.window = n
		}
	}
}

// NewBuilder wires a Builder over the immutable catalog.
func NewBuilder(cat *catalog.Catalog, opts ...BuilderOption) *Builder {
	b := &Builder{catalog: cat, window: DefaultWindow}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Window returns the configured recent-turn window size.
func (b *Builder) Window() int { return b.window }

// Build composes the full message list for one generation attempt: system
// rules + device table + skills + relevant facts, then the recent turns,
// then the current utterance.
func (b *Builder) Build(utterance string, snap memory.Snapshot) []model.Message {
	messages := []model.Message{model.System(b.System(utterance, snap.Facts))}

	recent := snap.Recent
	if len(recent) > b.window {
		recent = recent[len(recent)-b.window:]
	}
	for _, turn := range recent {
		messages = append(messages, model.User(turn.Utterance))
		if turn.Outcome == sandbox.OutcomeSuccess && turn.Response != "" {
			messages = append(messages, model.Assistant(turn.Response))
		}
	}

	messages = append(messages, model.User(b.userPrompt(utterance)))
	return messages
}

// System renders the system prompt. Facts are included only when their room
// token overlaps the utterance, so stale context does not crowd the prompt.
func (b *Builder) System(utterance string, facts []memory.Fact) string {
	var sb strings.Builder
	sb.WriteString(rulesHeader)
	sb.WriteString("\n## Device Mapping\n\n")
	b.writeDeviceTable(&sb)
	sb.WriteString("\n## Rooms\n\n")
	for _, room := range b.catalog.Rooms() {
		fmt.Fprintf(&sb, "- %s\n", room)
	}
	sb.WriteString("\n")
	sb.WriteString(codeRules)
	b.writeExamples(&sb)
	if b.skills != nil {
		if rendered := b.skills.Render(); rendered != "" {
			sb.WriteString("\n## Skills\n\n")
			sb.WriteString(rendered)
		}
	}
	if relevant := relevantFacts(utterance, facts); len(relevant) > 0 {
		sb.WriteString("\n## Known Context\n\n")
		for _, fact := range relevant {
			fmt.Fprintf(&sb, "- %s: %s\n", fact.Room, fact.Statement)
		}
	}
	return sb.String()
}

// writeDeviceTable embeds the catalog verbatim. Identifiers must never be
// paraphrased: the model has to reproduce them exactly in generated code.
func (b *Builder) writeDeviceTable(sb *strings.Builder) {
	sb.WriteString("| Device Name | Sensor ID | Actuator ID | Room | Kind | Controllable |\n")
	sb.WriteString("|-------------|-----------|-------------|------|------|--------------|\n")
	for _, d := range b.catalog.Devices() {
		actuator := "-"
		controllable := "no"
		if d.Controllable() {
			actuator = fmt.Sprintf("%d", d.ActuatorID)
			controllable = "yes"
		}
		fmt.Fprintf(sb, "| %s | %d | %s | %s | %s | %s |\n",
			d.Name, d.SensorID, actuator, d.Room, d.Kind, controllable)
	}
}

// writeExamples renders two worked examples using real identifiers from the
// catalog so the model sees the exact calling convention.
func (b *Builder) writeExamples(sb *strings.Builder) {
	temps := b.catalog.ByKind(catalog.KindTemperature)
	if len(temps) > 0 {
		d := temps[0]
		fmt.Fprintf(sb, "\nUser: \"What's the temperature in %s?\"\n", d.Room)
		fmt.Fprintf(sb, "```go\npackage main\n\nimport (\n\t\"fmt\"\n\n\t\"sensors\"\n)\n\nfunc main() {\n\tr, err := sensors.Read(%d) // %s\n\tif err != nil {\n\t\tfmt.Println(\"Could not read the %s temperature sensor.\")\n\t\treturn\n\t}\n\tfmt.Printf(\"%s temperature: %%s°C\\n\", r.Value)\n}\n```\n",
			d.SensorID, d.Name, d.Room, d.Room)
	}
	plugs := b.catalog.Controllable()
	if len(plugs) > 0 {
		d := plugs[0]
		fmt.Fprintf(sb, "\nUser: \"Turn off the plug in %s\"\n", d.Room)
		fmt.Fprintf(sb, "```go\npackage main\n\nimport (\n\t\"fmt\"\n\n\t\"actuators\"\n)\n\nfunc main() {\n\t_, err := actuators.Command(%d, \"turnOff\", 0) // %s\n\tif err != nil {\n\t\tfmt.Println(\"Could not switch the %s plug.\")\n\t\treturn\n\t}\n\tfmt.Println(\"The %s plug has been turned off.\")\n}\n```\n",
			d.ActuatorID, d.Name, d.Room, d.Room)
	}
}

func (b *Builder) userPrompt(utterance string) string {
	return fmt.Sprintf(`User request: %s

Generate Go code to handle this request. Remember:
1. Use the exact sensor/actuator IDs from the device mapping.
2. Print all user-facing output with fmt.
3. Check every error and print a friendly message instead of failing.
4. Keep the code minimal.`, utterance)
}

// RejectionFollowup phrases a validator/extractor rejection as the next user
// message so regeneration can correct course.
func RejectionFollowup(reason string) string {
	return fmt.Sprintf(`Your previous answer was rejected: %s.
Reply again with exactly one Go code block following all the rules above. Allowed imports: %s.`,
		reason, strings.Join(sandbox.AllowedImports, ", "))
}

func relevantFacts(utterance string, facts []memory.Fact) []memory.Fact {
	needle := strings.ToLower(utterance)
	var out []memory.Fact
	for _, fact := range facts {
		if strings.Contains(needle, strings.ToLower(fact.Room)) {
			out = append(out, fact)
		}
	}
	return out
}

const rulesHeader = `# LinguaHome Smart Home Assistant

You control a smart home by writing short Go programs. You can query sensors
(temperature, motion, door status, power) and switch smart plugs on or off.

## Capability Modules

Query sensors:

` + "```go" + `
import "sensors"

r, err := sensors.Read(sensorID) // one reading: r.Value, r.Status, r.Room, r.Name
all, err := sensors.List()       // every sensor reading
` + "```" + `

Control devices:

` + "```go" + `
import "actuators"

ack, err := actuators.Command(actuatorID, "turnOn", 1)
ack, err := actuators.Command(actuatorID, "turnOff", 0)
` + "```" + `
`

const codeRules = `## Rules for Code Generation

1. Always answer with exactly one Go program inside a ` + "```go" + ` block.
2. The program must be a complete file: package main, imports, func main.
3. Allowed imports: sensors, actuators, fmt, strings, strconv, math, sort.
   Nothing else: no os, net, files, or goroutines.
4. Communicate with the user only through fmt printing.
5. Check every error; print a friendly message rather than panicking.
6. Use the exact identifiers from the device mapping table.
7. Be concise.

## Examples
`
