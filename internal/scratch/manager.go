// Package scratch owns the temporary file area used by image jobs: scoped
// writes with random names and a periodic TTL sweep.
package scratch

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/packsmith/backend/internal/logging"
	"github.com/packsmith/backend/internal/metrics"
)

const sweepInterval = 60 * time.Second

// Manager writes scratch files under a base directory and removes stale
// top-level entries after a retention window.
type Manager struct {
	base      string
	retention time.Duration
	logger    *logging.Logger

	mu      sync.Mutex // serializes sweeps against each other
	startMu sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewManager creates the base directory if needed.
func NewManager(base string, retention time.Duration, logger *logging.Logger) (*Manager, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	if logger == nil {
		logger = logging.New("[SCRATCH] ", logging.LevelInfo)
	}
	return &Manager{base: base, retention: retention, logger: logger}, nil
}

// Base returns the scratch root.
func (m *Manager) Base() string {
	return m.base
}

// WriteBytes atomically writes data to a fresh file tmp_<hex><suffix> under
// base/subdir (subdir may be empty) and returns its path.
func (m *Manager) WriteBytes(data []byte, suffix, subdir string) (string, error) {
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	dir := m.base
	if subdir != "" {
		dir = filepath.Join(m.base, subdir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create scratch subdir: %w", err)
		}
	}
	id := uuid.New()
	name := "tmp_" + hex.EncodeToString(id[:]) + suffix
	path := filepath.Join(dir, name)

	partial := path + ".partial"
	if err := os.WriteFile(partial, data, 0o644); err != nil {
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("finalize scratch file: %w", err)
	}
	return path, nil
}

// Start launches the periodic sweeper. Calling Start on a running manager is
// a no-op.
func (m *Manager) Start() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.done = make(chan struct{})
	m.wg.Add(1)
	go m.loop(m.done)
}

// Stop cancels the sweeper and waits for it to finish. Idempotent.
func (m *Manager) Stop() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if !m.running {
		return
	}
	close(m.done)
	m.wg.Wait()
	m.running = false
}

func (m *Manager) loop(done <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep removes top-level entries whose mtime is older than the retention
// window. Files go as single units, directories recursively; nested entries
// age out together with their parent directory. Individual failures are
// logged and skipped.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.retention)
	entries, err := os.ReadDir(m.base)
	if err != nil {
		m.logger.Warnf("sweep: read scratch dir: %v", err)
		return
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			m.logger.Warnf("sweep: stat %s: %v", entry.Name(), err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(m.base, entry.Name())
		var rmErr error
		if entry.IsDir() {
			rmErr = os.RemoveAll(path)
		} else {
			rmErr = os.Remove(path)
		}
		if rmErr != nil && !os.IsNotExist(rmErr) {
			m.logger.Warnf("sweep: remove %s: %v", entry.Name(), rmErr)
			continue
		}
		metrics.SweepRemovals.Inc()
		m.logger.Debugf("sweep: removed %s", entry.Name())
	}
}
