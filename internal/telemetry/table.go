// Package telemetry collects latest-value telemetry cells pushed by the control loop and
// publishes them to operators.
package telemetry

import (
	"sort"
	"sync"
	"time"
)

// Sink receives named telemetry cells. Push must not block the control loop.
type Sink interface {
	Push(cell string, value any)
}

type discard struct{}

func (discard) Push(string, any) {}

// Discard drops every cell.
var Discard Sink = discard{}

// Table keeps the most recent value of each cell.
type Table struct {
	mu      sync.RWMutex
	cells   map[string]any
	updated time.Time
	version uint64
}

func NewTable() *Table {
	return &Table{cells: make(map[string]any)}
}

func (t *Table) Push(cell string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cells[cell] = value
	t.updated = time.Now()
	t.version++
}

func (t *Table) Get(cell string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.cells[cell]
	return v, ok
}

// Snapshot copies every cell.
func (t *Table) Snapshot() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]any, len(t.cells))
	for k, v := range t.cells {
		out[k] = v
	}
	return out
}

// Version increases on every push; publishers use it to skip unchanged tables.
func (t *Table) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

func (t *Table) Updated() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updated
}

func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.cells))
	for k := range t.cells {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
