package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cexll/linguahome-go/pkg/sandbox"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "turns.db"), testRooms)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	turn := makeTurn("s1", 0, sandbox.OutcomeSuccess,
		"what's the temperature in the Robot Corner?", "Robot Corner temperature: 23.9°C")
	turn.Script = "package main"
	require.NoError(t, store.Append(ctx, turn))

	recent, err := store.Recent(ctx, "s1", 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	got := recent[0]
	assert.Equal(t, turn.ID, got.ID)
	assert.Equal(t, turn.Utterance, got.Utterance)
	assert.Equal(t, turn.Script, got.Script)
	assert.Equal(t, turn.Outcome, got.Outcome)
	assert.Equal(t, turn.Response, got.Response)
	assert.True(t, turn.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLiteRecentOrderingAndLimit(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, store.Append(ctx, makeTurn("s1", i, sandbox.OutcomeSuccess,
			fmt.Sprintf("request %d", i), fmt.Sprintf("response %d", i))))
	}

	recent, err := store.Recent(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for i, turn := range recent {
		assert.Equal(t, fmt.Sprintf("request %d", i+4), turn.Utterance)
	}
}

func TestSQLiteSessionIsolationAndFacts(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, makeTurn("a", 0, sandbox.OutcomeSuccess,
		"Entrance temperature?", "Entrance temperature: 21.8°C")))
	require.NoError(t, store.Append(ctx, makeTurn("b", 0, sandbox.OutcomeSuccess,
		"Working area temperature?", "Working area temperature: 22.5°C")))

	facts, err := store.Facts(ctx, "a")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Entrance", facts[0].Room)

	other, err := store.Recent(ctx, "b", 10)
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "turns.db")
	ctx := context.Background()

	store, err := OpenSQLite(path, testRooms)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, makeTurn("s", 0, sandbox.OutcomeSuccess, "hello", "hi")))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path, testRooms)
	require.NoError(t, err)
	defer reopened.Close()
	recent, err := reopened.Recent(ctx, "s", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "hello", recent[0].Utterance)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := OpenSQLite("  ", testRooms)
	require.Error(t, err)
}
