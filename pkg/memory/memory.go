// Package memory keeps the append-only conversation record and derives
// long-term facts from it. A turn is written exactly once, after its
// pipeline run reaches a terminal outcome; nothing here is ever mutated.
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/cexll/linguahome-go/pkg/sandbox"
)

// Turn is the immutable record of one utterance-to-response exchange.
type Turn struct {
	ID        string
	SessionID string
	Utterance string
	Script    string
	Outcome   sandbox.Outcome
	Response  string
	CreatedAt time.Time
}

// Fact is a long-term room/value association retained beyond the recent
// window. Facts are derived, never primary: they can be recomputed from the
// turn history at any time and recomputation is idempotent.
type Fact struct {
	SessionID  string
	Room       string
	Statement  string
	ObservedAt time.Time
}

// Snapshot is what the context builder reads: a bounded window of recent
// turns plus the derived facts for the session.
type Snapshot struct {
	Recent []Turn
	Facts  []Fact
}

// Store persists turns per session. Appends are strictly ordered within a
// session and need no cross-session coordination.
type Store interface {
	Append(ctx context.Context, turn Turn) error
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	Facts(ctx context.Context, sessionID string) ([]Fact, error)
}

const factStatementLimit = 120

// DeriveFacts recomputes the long-term facts for one session from its turn
// history. A successful turn that mentions a room yields a fact carrying the
// latest observation for that room; later turns replace earlier ones.
func DeriveFacts(rooms []string, turns []Turn) []Fact {
	latest := make(map[string]Fact, len(rooms))
	for _, turn := range turns {
		if turn.Outcome != sandbox.OutcomeSuccess {
			continue
		}
		haystack := strings.ToLower(turn.Utterance + "\n" + turn.Response)
		for _, room := range rooms {
			if !strings.Contains(haystack, strings.ToLower(room)) {
				continue
			}
			latest[room] = Fact{
				SessionID:  turn.SessionID,
				Room:       room,
				Statement:  truncate(strings.TrimSpace(turn.Response), factStatementLimit),
				ObservedAt: turn.CreatedAt,
			}
		}
	}
	out := make([]Fact, 0, len(latest))
	for _, room := range rooms {
		if fact, ok := latest[room]; ok {
			out = append(out, fact)
		}
	}
	return out
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
