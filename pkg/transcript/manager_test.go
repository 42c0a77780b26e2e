package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := New(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestAppendAndLoad(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Append("session-1", Message{Role: "user", Content: "hello"}))
	require.NoError(t, m.Append("session-1", Message{Role: "assistant", Content: "hi there"}))

	entries, err := m.Load("session-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "session-1", entries[0].SessionKey)
	assert.Equal(t, "user", entries[0].Message.Role)
	assert.Equal(t, "hello", entries[0].Message.Content)
	assert.False(t, entries[0].Message.Timestamp.IsZero())
	assert.Equal(t, "assistant", entries[1].Message.Role)
}

func TestLoadMissingSession(t *testing.T) {
	m := newTestManager(t)

	entries, err := m.Load("never-written")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppendValidation(t *testing.T) {
	m := newTestManager(t)

	assert.Error(t, m.Append("s", Message{Content: "no role"}))
	assert.Error(t, m.Append("s", Message{Role: "user"}))
}

func TestSessionKeyValidation(t *testing.T) {
	m := newTestManager(t)
	msg := Message{Role: "user", Content: "x"}

	for _, key := range []string{"", "..", "a/../b", "a/b", `a\b`, "a\x00b"} {
		assert.Error(t, m.Append(key, msg), "key %q should be rejected", key)
	}

	assert.NoError(t, m.Append("valid-key_123", msg))
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Append("s", Message{Role: "user", Content: "good"}))

	// Simulate a torn write by appending garbage.
	path := filepath.Join(m.dir, "s.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{truncated garba")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, m.Append("s", Message{Role: "assistant", Content: "still fine"}))

	entries, err := m.Load("s")
	require.NoError(t, err)

	// The torn line swallows the next entry's JSON on the same line, so at
	// minimum the first good entry survives and no error is raised.
	require.NotEmpty(t, entries)
	assert.Equal(t, "good", entries[0].Message.Content)
}

func TestListSessions(t *testing.T) {
	m := newTestManager(t)

	keys, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, m.Append("alpha", Message{Role: "user", Content: "x"}))
	require.NoError(t, m.Append("beta", Message{Role: "user", Content: "y"}))

	keys, err = m.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, keys)
}

func TestDelete(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Append("gone", Message{Role: "user", Content: "x"}))
	require.NoError(t, m.Delete("gone"))

	entries, err := m.Load("gone")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Deleting a missing session is fine.
	require.NoError(t, m.Delete("never-existed"))
}

func TestConcurrentAppendsSameSession(t *testing.T) {
	m := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := m.Append("busy", Message{
				Role:    "user",
				Content: fmt.Sprintf("message %d", n),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := m.Load("busy")
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}
