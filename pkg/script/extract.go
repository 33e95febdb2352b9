// Package script isolates the executable snippet from raw model output.
package script

import (
	"errors"
	"strings"
)

// ErrNoScript reports completions that contain no usable fenced block.
var ErrNoScript = errors.New("script: no executable block in completion")

var fences = []string{"```go", "```golang", "```"}

// Extract returns the contents of the first fenced code block in the
// completion. It fails if no fence is present or the block is empty after
// trimming. The snippet's semantics are not inspected here.
func Extract(completion string) (string, error) {
	for _, fence := range fences {
		idx := strings.Index(completion, fence)
		if idx < 0 {
			continue
		}
		rest := completion[idx+len(fence):]
		// The language tag fence must be followed by a line break, otherwise
		// a bare ``` fence matched mid-token.
		if fence != "```" {
			trimmedRest := strings.TrimLeft(rest, " \t")
			if !strings.HasPrefix(trimmedRest, "\n") && !strings.HasPrefix(trimmedRest, "\r\n") {
				continue
			}
		}
		end := strings.Index(rest, "```")
		if end < 0 {
			return "", ErrNoScript
		}
		body := strings.TrimSpace(rest[:end])
		if body == "" {
			return "", ErrNoScript
		}
		return body, nil
	}
	return "", ErrNoScript
}
