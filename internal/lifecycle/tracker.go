// Package lifecycle owns the temporary files of a single conversion job and
// releases them exactly once, whatever way the job ends.
package lifecycle

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Stats summarises one Cleanup pass.
type Stats struct {
	Registered int
	Removed    int // existed on disk and were unlinked
	Missing    int // registered but never materialised
	Failed     int
}

// Tracker records every path created for a job. Paths may be files or
// directories; directories are removed recursively.
type Tracker struct {
	mu     sync.Mutex
	paths  []string
	seen   map[string]struct{}
	closed bool
	once   sync.Once
	stats  Stats
	logger zerolog.Logger
}

// NewTracker returns an empty Tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		seen:   make(map[string]struct{}),
		logger: logger,
	}
}

// Add registers paths for removal. A path registered twice is removed once.
// Paths added after Cleanup are removed immediately so nothing leaks.
func (t *Tracker) Add(paths ...string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		for _, p := range paths {
			t.remove(p, &Stats{})
		}
		return
	}
	defer t.mu.Unlock()
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, dup := t.seen[p]; dup {
			continue
		}
		t.seen[p] = struct{}{}
		t.paths = append(t.paths, p)
	}
}

// Paths returns a copy of the registered paths in registration order.
func (t *Tracker) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.paths...)
}

// Cleanup removes every registered path. Only the first call does work; later
// calls return the same Stats.
func (t *Tracker) Cleanup() Stats {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		paths := t.paths
		t.mu.Unlock()

		st := Stats{Registered: len(paths)}
		// newest first so job directories go after the files inside them
		for i := len(paths) - 1; i >= 0; i-- {
			t.remove(paths[i], &st)
		}
		t.stats = st
		t.logger.Debug().
			Int("registered", st.Registered).
			Int("removed", st.Removed).
			Int("missing", st.Missing).
			Int("failed", st.Failed).
			Msg("temp files released")
	})
	return t.stats
}

func (t *Tracker) remove(path string, st *Stats) {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		st.Missing++
		return
	}
	if err := os.RemoveAll(path); err != nil {
		st.Failed++
		t.logger.Warn().Err(err).Str("path", path).Msg("temp file removal failed")
		return
	}
	st.Removed++
}
