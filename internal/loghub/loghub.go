// Package loghub buffers per-deployment log entries in a bounded ring,
// serves filtered/tail queries, and fans new entries out to subscribers in
// sequence order.
package loghub

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
)

const (
	defaultMaxSize       = 1000
	defaultRetention     = time.Hour
	defaultRecentEntries = 50
)

// Subscriber receives log entries for a room in sequence order, matching
// the WebSocket Gateway's room fan-out contract.
type Subscriber interface {
	PublishLog(entry domain.LogEntry)
}

// PersistenceHook receives entries evicted from a ring on overflow, when
// persistence is enabled.
type PersistenceHook interface {
	PersistEvicted(entries []domain.LogEntry)
}

// Config tunes ring size and retention.
type Config struct {
	MaxSize   int
	Retention time.Duration
}

// DefaultConfig returns the default ring size and retention window.
func DefaultConfig() Config {
	return Config{MaxSize: defaultMaxSize, Retention: defaultRetention}
}

type ring struct {
	entries    []domain.LogEntry
	nextSeq    uint64
	lastAccess time.Time
	subs       map[string]Subscriber // subscription id -> subscriber
}

// LogHub is the LogHub component.
type LogHub struct {
	cfg     Config
	persist PersistenceHook
	now     func() time.Time

	mu    sync.Mutex
	rings map[string]*ring
}

// New creates a LogHub. persist may be nil to disable eviction persistence.
func New(cfg Config, persist PersistenceHook) *LogHub {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	return &LogHub{
		cfg:     cfg,
		persist: persist,
		now:     time.Now,
		rings:   make(map[string]*ring),
	}
}

func (h *LogHub) ringFor(deploymentID string) *ring {
	r, ok := h.rings[deploymentID]
	if !ok {
		r = &ring{subs: make(map[string]Subscriber)}
		h.rings[deploymentID] = r
	}
	return r
}

// Append inserts entry at the end of deploymentID's ring in O(1), assigns
// its sequence, evicts the oldest entry on overflow, and fans it out to
// subscribers.
func (h *LogHub) Append(entry domain.LogEntry) {
	h.mu.Lock()
	r := h.ringFor(entry.DeploymentID)
	entry.Sequence = r.nextSeq
	r.nextSeq++
	r.entries = append(r.entries, entry)
	r.lastAccess = h.now()

	var evicted []domain.LogEntry
	if len(r.entries) > h.cfg.MaxSize {
		overflow := len(r.entries) - h.cfg.MaxSize
		evicted = append(evicted, r.entries[:overflow]...)
		r.entries = r.entries[overflow:]
	}
	// Fan-out stays under the lock so concurrent appends to one deployment
	// cannot reach a subscriber out of sequence order. Subscribers must not
	// block; the gateway's PublishLog is a bounded non-blocking send.
	for _, s := range r.subs {
		s.PublishLog(entry)
	}
	h.mu.Unlock()

	if len(evicted) > 0 && h.persist != nil {
		h.persist.PersistEvicted(evicted)
	}
}

// Subscribe registers a subscriber for deploymentID's room under
// subscriptionID, returning an unsubscribe function.
func (h *LogHub) Subscribe(deploymentID, subscriptionID string, sub Subscriber) func() {
	h.mu.Lock()
	r := h.ringFor(deploymentID)
	r.subs[subscriptionID] = sub
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if r, ok := h.rings[deploymentID]; ok {
			delete(r.subs, subscriptionID)
		}
	}
}

// Query applies the filter pipeline in order: level, source, time window,
// substring search, tag match, then a final tail slice.
func (h *LogHub) Query(deploymentID string, filter domain.LogFilter) []domain.LogEntry {
	h.mu.Lock()
	r, ok := h.rings[deploymentID]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	r.lastAccess = h.now()
	snapshot := make([]domain.LogEntry, len(r.entries))
	copy(snapshot, r.entries)
	h.mu.Unlock()

	filtered := snapshot[:0:0]
	for _, e := range snapshot {
		if !matchesLevel(e, filter.Levels) {
			continue
		}
		if !matchesSource(e, filter.Sources) {
			continue
		}
		if !matchesWindow(e, filter.StartTime, filter.EndTime) {
			continue
		}
		if !matchesSearch(e, filter.Search) {
			continue
		}
		if !matchesTags(e, filter.Tags) {
			continue
		}
		filtered = append(filtered, e)
	}
	if filter.Tail > 0 && len(filtered) > filter.Tail {
		filtered = filtered[len(filtered)-filter.Tail:]
	}
	return filtered
}

func matchesLevel(e domain.LogEntry, levels []domain.LogLevel) bool {
	if len(levels) == 0 {
		return true
	}
	for _, l := range levels {
		if e.Level == l {
			return true
		}
	}
	return false
}

func matchesSource(e domain.LogEntry, sources []domain.LogSource) bool {
	if len(sources) == 0 {
		return true
	}
	for _, s := range sources {
		if e.Source == s {
			return true
		}
	}
	return false
}

func matchesWindow(e domain.LogEntry, start, end time.Time) bool {
	if !start.IsZero() && e.Timestamp.Before(start) {
		return false
	}
	if !end.IsZero() && e.Timestamp.After(end) {
		return false
	}
	return true
}

func matchesSearch(e domain.LogEntry, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	if strings.Contains(strings.ToLower(e.Message), needle) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func matchesTags(e domain.LogEntry, tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, got := range e.Tags {
			if want == got {
				return true
			}
		}
	}
	return false
}

// Recent returns the last n entries for deploymentID (default 50), oldest
// first.
func (h *LogHub) Recent(deploymentID string, n int) []domain.LogEntry {
	if n <= 0 {
		n = defaultRecentEntries
	}
	return h.Query(deploymentID, domain.LogFilter{Tail: n})
}

// Clear empties deploymentID's ring without dropping its subscribers.
func (h *LogHub) Clear(deploymentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rings[deploymentID]; ok {
		r.entries = nil
	}
}

// Drop removes deploymentID's ring entirely, including its subscribers.
func (h *LogHub) Drop(deploymentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rings, deploymentID)
}

// Sweep drops rings untouched for longer than the configured retention,
// per the periodic-sweep buffer policy.
func (h *LogHub) Sweep() {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := h.now().Add(-h.cfg.Retention)
	for id, r := range h.rings {
		if r.lastAccess.Before(cutoff) {
			delete(h.rings, id)
		}
	}
}

// Run ticks Sweep on interval until stop is closed. Exposed for the
// composition root's lifecycle management.
func (h *LogHub) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// deploymentIDs returns the currently buffered deployment ids, sorted, for
// diagnostics and tests.
func (h *LogHub) deploymentIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.rings))
	for id := range h.rings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
