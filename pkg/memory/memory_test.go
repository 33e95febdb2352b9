package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cexll/linguahome-go/pkg/sandbox"
)

var testRooms = []string{"Working area", "Robot Corner", "Kaspar Room", "Entrance", "Observation Room"}

func makeTurn(session string, i int, outcome sandbox.Outcome, utterance, response string) Turn {
	return Turn{
		ID:        fmt.Sprintf("turn-%d", i),
		SessionID: session,
		Utterance: utterance,
		Outcome:   outcome,
		Response:  response,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, i, 0, time.UTC),
	}
}

func TestInMemoryAppendAndRecentOrdering(t *testing.T) {
	t.Parallel()
	store := NewInMemoryStore(testRooms)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		turn := makeTurn("s1", i, sandbox.OutcomeSuccess,
			fmt.Sprintf("request %d", i), fmt.Sprintf("response %d", i))
		require.NoError(t, store.Append(ctx, turn))
	}

	recent, err := store.Recent(ctx, "s1", 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	for i, turn := range recent {
		assert.Equal(t, fmt.Sprintf("request %d", i+3), turn.Utterance, "turns must be chronological")
	}

	all, err := store.Recent(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 8)

	empty, err := store.Recent(ctx, "other", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInMemoryAppendRequiresSession(t *testing.T) {
	t.Parallel()
	store := NewInMemoryStore(testRooms)
	err := store.Append(context.Background(), Turn{ID: "x"})
	require.Error(t, err)
}

func TestInMemorySessionIsolation(t *testing.T) {
	t.Parallel()
	store := NewInMemoryStore(testRooms)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, makeTurn("a", 0, sandbox.OutcomeSuccess, "hi", "hello")))
	require.NoError(t, store.Append(ctx, makeTurn("b", 0, sandbox.OutcomeSuccess, "yo", "hey")))

	a, err := store.Recent(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, "hi", a[0].Utterance)
}

func TestDeriveFacts(t *testing.T) {
	t.Parallel()
	turns := []Turn{
		makeTurn("s", 0, sandbox.OutcomeSuccess,
			"what's the temperature in the Robot Corner?", "Robot Corner temperature: 23.9°C"),
		makeTurn("s", 1, sandbox.OutcomeRuntimeFailed,
			"turn on the Entrance plug", "Something went wrong while handling your request."),
		makeTurn("s", 2, sandbox.OutcomeSuccess,
			"and now?", "Robot Corner temperature: 24.4°C"),
	}

	facts := DeriveFacts(testRooms, turns)
	require.Len(t, facts, 1, "failed turns and roomless turns yield no facts")
	assert.Equal(t, "Robot Corner", facts[0].Room)
	assert.Contains(t, facts[0].Statement, "24.4", "latest observation wins")

	// Idempotent: deriving twice gives the same result.
	again := DeriveFacts(testRooms, turns)
	assert.Equal(t, facts, again)
}

func TestDeriveFactsTruncatesStatement(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("Entrance status word ", 20)
	turns := []Turn{makeTurn("s", 0, sandbox.OutcomeSuccess, "Entrance?", long)}
	facts := DeriveFacts(testRooms, turns)
	require.Len(t, facts, 1)
	assert.LessOrEqual(t, len([]rune(facts[0].Statement)), factStatementLimit+1)
}

func TestInMemoryFacts(t *testing.T) {
	t.Parallel()
	store := NewInMemoryStore(testRooms)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, makeTurn("s", 0, sandbox.OutcomeSuccess,
		"temperature in the Kaspar Room?", "Kaspar Room temperature: 24.1°C")))

	facts, err := store.Facts(ctx, "s")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Kaspar Room", facts[0].Room)
}
