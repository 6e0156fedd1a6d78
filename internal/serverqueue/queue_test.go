package serverqueue

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/capcon"
)

func writeCapCon(t *testing.T, dir, name, id string) {
	t.Helper()
	data := []byte(`{"CapConID":"` + id + `","duration":10,"payload":[]}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o640))
}

func TestLoadOrdersDeterministicallyAndPeekPop(t *testing.T) {
	dir := t.TempDir()
	writeCapCon(t, dir, "b.json", "run-b")
	writeCapCon(t, dir, "a.json", "run-a")

	q, err := Load(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, q.Len())

	first := q.Peek()
	assert.Equal(t, "run-a", first.CapConID)

	q.pop()
	assert.Equal(t, 1, q.Len())

	second := q.Peek()
	assert.Equal(t, "run-b", second.CapConID)

	q.pop()
	assert.True(t, q.Peek().IsSentinel())
}

func TestLoadRejectsDuplicateCapConIDs(t *testing.T) {
	dir := t.TempDir()
	writeCapCon(t, dir, "a.json", "run-dup")
	writeCapCon(t, dir, "b.json", "run-dup")

	_, err := Load(dir, zap.NewNop())
	assert.ErrorIs(t, err, ErrDuplicateCapCon)
}

func TestLoadIgnoresNonJSONFiles(t *testing.T) {
	dir := t.TempDir()
	writeCapCon(t, dir, "a.json", "run-a")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o640))

	q, err := Load(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
}

// TestTakeIsAtomicAcrossConcurrentSessions drives many concurrent Take
// calls against a queue with N entries and asserts each CapConID is handed
// out exactly once — the property a racing Peek+send+Pop would violate.
func TestTakeIsAtomicAcrossConcurrentSessions(t *testing.T) {
	dir := t.TempDir()
	const n = 20
	for i := 0; i < n; i++ {
		writeCapCon(t, dir, string(rune('a'+i))+".json", string(rune('a'+i)))
	}

	q, err := Load(dir, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, n, q.Len())

	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Take(func(cc capcon.CapCon) error {
				if cc.IsSentinel() {
					return nil
				}
				mu.Lock()
				seen[cc.CapConID]++
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, n, len(seen))
	for id, count := range seen {
		assert.Equal(t, 1, count, "CapConID %q delivered more than once", id)
	}
}

func TestPopOnEmptyQueueIsNoop(t *testing.T) {
	dir := t.TempDir()
	q, err := Load(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, q.Len())
	q.pop()
	assert.True(t, q.Peek().IsSentinel())
}
