// Package serverqueue implements the process-wide CapCon queue the server
// loads once at startup and serves from, one entry per REQUEST_CAPCON
// (spec.md §4.5). It is the only mutable state shared across sessions
// (spec.md §5), so peek/pop are serialised behind a single mutex — the
// "simple lock" option spec.md explicitly allows, grounded in
// agentmanager.Manager's sync.RWMutex-guarded in-memory registry.
package serverqueue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/capcon"
)

// ErrDuplicateCapCon is returned by Load when two CapCon files in the
// configured directory share a CapConID (spec.md §7 DuplicateCapCon).
var ErrDuplicateCapCon = errors.New("serverqueue: duplicate CapConID")

// Queue is the server's process-wide, ordered sequence of pending CapCons.
// The zero value is not usable — create with Load.
type Queue struct {
	mu    sync.Mutex
	items []capcon.CapCon
}

// Load scans dir for *.json files, sorted by filename for deterministic
// ordering (spec.md §4.5), parses each as a CapCon, and validates that every
// CapConID is unique across the set. Returns ErrDuplicateCapCon — a fatal
// startup error per spec.md §7 — if any two files share a CapConID.
func Load(dir string, logger *zap.Logger) (*Queue, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("serverqueue: read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	items := make([]capcon.CapCon, 0, len(names))

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("serverqueue: read %s: %w", path, err)
		}

		cc, err := capcon.ParseFile(data)
		if err != nil {
			return nil, fmt.Errorf("serverqueue: parse %s: %w", path, err)
		}

		if prev, ok := seen[cc.CapConID]; ok {
			return nil, fmt.Errorf("%w: %q appears in both %s and %s", ErrDuplicateCapCon, cc.CapConID, prev, name)
		}
		seen[cc.CapConID] = name

		items = append(items, cc)
	}

	if logger != nil {
		logger.Named("serverqueue").Info("capcon queue loaded",
			zap.Int("count", len(items)),
			zap.String("dir", dir),
		)
	}

	return &Queue{items: items}, nil
}

// Peek returns the CapCon at the head of the queue without removing it, or
// the sentinel CapCon if the queue is empty (spec.md §4.5).
func (q *Queue) Peek() capcon.CapCon {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peekLocked()
}

func (q *Queue) peekLocked() capcon.CapCon {
	if len(q.items) == 0 {
		return capcon.Sentinel()
	}
	return q.items[0]
}

// Take peeks the head of the queue and invokes send with it while holding
// the queue lock, popping the head only if send succeeds. This keeps the
// peek→send→pop sequence atomic relative to other sessions (spec.md §5):
// two concurrent REQUEST_CAPCON calls can otherwise both peek the same head
// CapCon, both have it sent, and each pop a different entry, handing the
// same CapCon to two clients. If send fails, the head is left in place for
// the next session to retry.
func (q *Queue) Take(send func(capcon.CapCon) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	head := q.peekLocked()
	if err := send(head); err != nil {
		return err
	}
	if !head.IsSentinel() {
		q.items = q.items[1:]
	}
	return nil
}

// pop removes and returns the CapCon at the head of the queue, for tests
// that need to drive the queue directly without a Take callback. Popping an
// empty queue is a no-op and returns the sentinel.
func (q *Queue) pop() capcon.CapCon {
	q.mu.Lock()
	defer q.mu.Unlock()

	head := q.peekLocked()
	if head.IsSentinel() {
		return head
	}
	q.items = q.items[1:]
	return head
}

// Len reports the number of CapCons remaining in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
