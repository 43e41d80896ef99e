// Package useragent supplies outbound User-Agent strings round-robin from a
// fixed pool, with the cursor persisted across restarts.
package useragent

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"storewatcher/logger"
)

// defaultPool is used when no pool file is configured.
var defaultPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// Rotator hands out User-Agent strings round-robin. The cursor is written
// back to disk after every use so restarts continue where they left off.
type Rotator struct {
	mu         sync.Mutex
	pool       []string
	cursor     int
	cursorFile string
	log        *logger.Logger
}

// New creates a rotator. poolFile may be empty, in which case a built-in
// pool is used; cursorFile is created on first use if absent.
func New(poolFile, cursorFile string) *Rotator {
	r := &Rotator{
		pool:       defaultPool,
		cursorFile: cursorFile,
		log:        logger.ForComponent("useragent"),
	}

	if poolFile != "" {
		if agents, err := loadPool(poolFile); err != nil {
			r.log.Warn().Err(err).Str("file", poolFile).Msg("Failed to load user agent pool, using built-in pool")
		} else if len(agents) > 0 {
			r.pool = agents
		}
	}

	r.cursor = r.loadCursor()
	return r
}

// Next returns the next User-Agent string and persists the advanced cursor.
func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursor >= len(r.pool) {
		r.cursor = 0
	}
	agent := r.pool[r.cursor]

	r.cursor++
	if r.cursor >= len(r.pool) {
		r.cursor = 0
	}
	r.saveCursor()

	return agent
}

// PoolSize returns the number of agents in the pool.
func (r *Rotator) PoolSize() int {
	return len(r.pool)
}

func loadPool(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var agents []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			agents = append(agents, line)
		}
	}
	return agents, nil
}

// loadCursor reads the persisted cursor, defaulting to 0 if the file is
// absent or corrupt.
func (r *Rotator) loadCursor() int {
	if r.cursorFile == "" {
		return 0
	}
	data, err := os.ReadFile(r.cursorFile)
	if err != nil {
		return 0
	}
	cursor, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || cursor < 0 || cursor >= len(r.pool) {
		return 0
	}
	return cursor
}

func (r *Rotator) saveCursor() {
	if r.cursorFile == "" {
		return
	}
	if dir := filepath.Dir(r.cursorFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			r.log.Warn().Err(err).Msg("Failed to create cursor directory")
			return
		}
	}
	if err := os.WriteFile(r.cursorFile, []byte(strconv.Itoa(r.cursor)), 0o644); err != nil {
		r.log.Warn().Err(err).Msg("Failed to persist user agent cursor")
	}
}
