// Package model abstracts the external text-completion collaborator behind
// a single interface, with one implementation per backend chosen at
// construction time.
package model

import "context"

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prompt or completion unit.
type Message struct {
	Role    string
	Content string
}

// Model describes the behavior every language-model backend must support.
// Generate is a unary request/response call; transport-level failures are
// returned as errors and are fatal for the current turn only.
type Model interface {
	Generate(ctx context.Context, messages []Message) (Message, error)
}

// System is shorthand for a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User is shorthand for a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant is shorthand for an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }
