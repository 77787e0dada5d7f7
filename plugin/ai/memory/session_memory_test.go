package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionMemory(t *testing.T) {
	ctx := context.Background()
	mem := NewSessionMemory(Options{MaxTurns: 5})
	defer mem.Close()

	t.Run("AppendAndGet", func(t *testing.T) {
		committed, err := mem.Append(ctx, "s1",
			Turn{Role: RoleUser, Content: "Hello"},
			Turn{Role: RoleAssistant, Content: "Hi there!"})
		require.NoError(t, err)
		require.Len(t, committed, 2)
		assert.EqualValues(t, 0, committed[0].Index)
		assert.EqualValues(t, 1, committed[1].Index)
		assert.False(t, committed[0].Timestamp.IsZero())

		turns, err := mem.Get(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "Hello", turns[0].Content)
		assert.Equal(t, "Hi there!", turns[1].Content)
	})

	t.Run("SlidingWindowIsMonotonic", func(t *testing.T) {
		prev := 0
		for i := 0; i < 7; i++ {
			_, err := mem.Append(ctx, "s-sliding", Turn{Role: RoleUser, Content: string(rune('A' + i))})
			require.NoError(t, err)
			turns, err := mem.Get(ctx, "s-sliding")
			require.NoError(t, err)
			assert.GreaterOrEqual(t, len(turns), prev)
			prev = len(turns)
		}

		turns, err := mem.Get(ctx, "s-sliding")
		require.NoError(t, err)
		require.Len(t, turns, 5)
		assert.Equal(t, "C", turns[0].Content)
		assert.Equal(t, "G", turns[4].Content)
		assert.EqualValues(t, 6, turns[4].Index)
	})

	t.Run("ResetIsolation", func(t *testing.T) {
		_, err := mem.Append(ctx, "a", Turn{Role: RoleUser, Content: "a1"})
		require.NoError(t, err)
		_, err = mem.Append(ctx, "b", Turn{Role: RoleUser, Content: "b1"})
		require.NoError(t, err)

		require.NoError(t, mem.Reset(ctx, "a"))

		a, err := mem.Get(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, a)
		b, err := mem.Get(ctx, "b")
		require.NoError(t, err)
		assert.Len(t, b, 1)

		// Indexes are never reused after a reset.
		committed, err := mem.Append(ctx, "a", Turn{Role: RoleUser, Content: "a2"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, committed[0].Index)
	})

	t.Run("GetReturnsCopies", func(t *testing.T) {
		_, err := mem.Append(ctx, "copy", Turn{Role: RoleTool, Tool: &ToolRecord{Name: "sql_db_query", Input: "SELECT 1"}})
		require.NoError(t, err)

		turns, err := mem.Get(ctx, "copy")
		require.NoError(t, err)
		turns[0].Content = "mutated"
		turns[0].Tool.Name = "mutated"

		again, err := mem.Get(ctx, "copy")
		require.NoError(t, err)
		assert.Empty(t, again[0].Content)
		assert.Equal(t, "sql_db_query", again[0].Tool.Name)
	})

	t.Run("EmptySessionID", func(t *testing.T) {
		_, err := mem.Append(ctx, "", Turn{Role: RoleUser})
		assert.Error(t, err)
	})

	t.Run("UnknownSession", func(t *testing.T) {
		turns, err := mem.Get(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, turns)
	})
}

func TestSessionMemory_UnknownSessionsAreNotKept(t *testing.T) {
	ctx := context.Background()
	mem := NewSessionMemory(Options{})
	defer mem.Close()

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("random-%d", i)
		turns, err := mem.Get(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, turns)
		require.NoError(t, mem.Reset(ctx, id))
	}
	assert.Zero(t, mem.Sessions())

	_, err := mem.Append(ctx, "real", Turn{Role: RoleUser, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Sessions())
}

func TestSessionMemory_ConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	mem := NewSessionMemory(Options{MaxTurns: 1000})
	defer mem.Close()

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", s)
			for i := 0; i < 50; i++ {
				_, err := mem.Append(ctx, id, Turn{Role: RoleUser, Content: fmt.Sprint(i)})
				assert.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, 8, mem.Sessions())
	for s := 0; s < 8; s++ {
		turns, err := mem.Get(ctx, fmt.Sprintf("session-%d", s))
		require.NoError(t, err)
		require.Len(t, turns, 50)
		for i, turn := range turns {
			assert.EqualValues(t, i, turn.Index)
			assert.Equal(t, fmt.Sprint(i), turn.Content)
		}
	}
}

func TestSessionMemory_Checkpoint(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoint.db")

	ckpt, err := NewSQLiteCheckpointer(ctx, path)
	require.NoError(t, err)
	mem := NewSessionMemory(Options{MaxTurns: 3, Checkpointer: ckpt})

	for i := 0; i < 4; i++ {
		_, err := mem.Append(ctx, "persisted", Turn{Role: RoleUser, Content: fmt.Sprint(i)})
		require.NoError(t, err)
	}
	_, err = mem.Append(ctx, "persisted", Turn{
		Role: RoleTool,
		Tool: &ToolRecord{Name: "sql_db_query", Input: "SELECT 1", Output: `[{"x":1}]`, Duration: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	_, err = mem.Append(ctx, "cleared", Turn{Role: RoleUser, Content: "gone"})
	require.NoError(t, err)
	require.NoError(t, mem.Reset(ctx, "cleared"))
	require.NoError(t, mem.Close())

	// A fresh process restores sessions lazily.
	ckpt, err = NewSQLiteCheckpointer(ctx, path)
	require.NoError(t, err)
	mem = NewSessionMemory(Options{MaxTurns: 3, Checkpointer: ckpt})
	defer mem.Close()
	assert.Equal(t, 0, mem.Sessions())

	turns, err := mem.Get(ctx, "persisted")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "2", turns[0].Content)
	assert.EqualValues(t, 4, turns[2].Index)
	require.NotNil(t, turns[2].Tool)
	assert.Equal(t, "sql_db_query", turns[2].Tool.Name)
	assert.Equal(t, 5*time.Millisecond, turns[2].Tool.Duration)

	committed, err := mem.Append(ctx, "persisted", Turn{Role: RoleAssistant, Content: "next"})
	require.NoError(t, err)
	assert.EqualValues(t, 5, committed[0].Index)

	cleared, err := mem.Get(ctx, "cleared")
	require.NoError(t, err)
	assert.Empty(t, cleared)
	committed, err = mem.Append(ctx, "cleared", Turn{Role: RoleUser, Content: "again"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, committed[0].Index)
}

func TestSessionMemory_EvictIdle(t *testing.T) {
	ctx := context.Background()
	ckpt, err := NewSQLiteCheckpointer(ctx, filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	mem := NewSessionMemory(Options{Checkpointer: ckpt, IdleTTL: time.Minute, CleanupInterval: time.Hour})
	defer mem.Close()

	now := time.Unix(1_700_000_000, 0)
	mem.now = func() time.Time { return now }

	_, err = mem.Append(ctx, "idle", Turn{Role: RoleUser, Content: "q"})
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Sessions())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, mem.evictIdle())
	assert.Equal(t, 0, mem.Sessions())

	turns, err := mem.Get(ctx, "idle")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "q", turns[0].Content)
}
