// Package buffer provides a bounded, downsampled store of step-indexed
// simulation snapshots with time-series extraction for charting.
//
// The ring is written by the session controller on snapshot arrival and
// read by presentation code from other goroutines; all operations take a
// single mutex and readers always observe a consistent state.
package buffer

import (
	"strconv"
	"strings"
	"sync"
)

// Entry is one stored snapshot. Entries are never mutated after insertion.
type Entry struct {
	Step    int
	Payload map[string]any
}

// Point is one value of an extracted time series.
type Point struct {
	Step  int
	Value float64
}

// Notify carries optional callbacks fired by the ring. All callbacks are
// invoked outside the ring's lock, in insertion order. Nil callbacks are
// skipped.
type Notify struct {
	// OnStored fires when an entry was actually kept (not downsampled away).
	OnStored func(step int)

	// OnWrapped fires when keeping an entry evicted the oldest one.
	OnWrapped func()

	// OnCleared fires when the ring is emptied.
	OnCleared func()
}

// SnapshotRing is a fixed-capacity ring of snapshots with optional
// downsampling. The zero value is not usable; construct with NewSnapshotRing.
type SnapshotRing struct {
	mu       sync.Mutex
	entries  []Entry
	head     int // next write position
	size     int
	capacity int
	interval int // keep every Nth accepted insertion
	counter  int // insertions since creation or last interval change
	notify   Notify
}

// DefaultCapacity is used when NewSnapshotRing is given a non-positive
// capacity.
const DefaultCapacity = 1000

// NewSnapshotRing creates a ring holding at most capacity snapshots,
// keeping every insertion (downsample interval 1).
func NewSnapshotRing(capacity int, notify Notify) *SnapshotRing {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &SnapshotRing{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		interval: 1,
		notify:   notify,
	}
}

// Add applies the downsampling rule and, if this insertion is kept,
// appends the snapshot, evicting the oldest entry when at capacity.
// Add never rejects input.
func (r *SnapshotRing) Add(step int, payload map[string]any) {
	r.mu.Lock()

	if !r.shouldStore() {
		r.mu.Unlock()
		return
	}

	wrapped := r.size == r.capacity

	r.entries[r.head] = Entry{Step: step, Payload: payload}
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}

	stored := r.notify.OnStored
	onWrap := r.notify.OnWrapped
	r.mu.Unlock()

	if stored != nil {
		stored(step)
	}
	if wrapped && onWrap != nil {
		onWrap()
	}
}

// shouldStore implements the retention rule: the first insertion after
// creation or an interval change is kept, then every interval-th after.
// Caller holds the lock.
func (r *SnapshotRing) shouldStore() bool {
	if r.interval <= 1 {
		return true
	}
	keep := r.counter%r.interval == 0
	r.counter++
	return keep
}

// SetMaxCapacity resizes the ring. Shrinking keeps the newest entries;
// growing preserves everything. Non-positive capacities are ignored.
func (r *SnapshotRing) SetMaxCapacity(capacity int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if capacity < 1 || capacity == r.capacity {
		return
	}

	keep := r.size
	if keep > capacity {
		keep = capacity
	}

	rebuilt := make([]Entry, capacity)
	// Oldest of the kept entries sits size-keep positions past the
	// logical start of the old ring.
	for i := 0; i < keep; i++ {
		oldIdx := (r.head - keep + i + r.capacity) % r.capacity
		rebuilt[i] = r.entries[oldIdx]
	}

	r.entries = rebuilt
	r.capacity = capacity
	r.size = keep
	r.head = keep % capacity
}

// SetDownsampleInterval changes the retention rule for subsequent
// insertions; stored entries are unaffected. Intervals below 1 are
// clamped to 1. The insertion counter restarts.
func (r *SnapshotRing) SetDownsampleInterval(interval int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if interval < 1 {
		interval = 1
	}
	r.interval = interval
	r.counter = 0
}

// DownsampleInterval returns the current retention interval.
func (r *SnapshotRing) DownsampleInterval() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Cap returns the maximum number of entries the ring can hold.
func (r *SnapshotRing) Cap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

// Len returns the number of stored entries.
func (r *SnapshotRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// IsEmpty reports whether the ring holds no entries.
func (r *SnapshotRing) IsEmpty() bool { return r.Len() == 0 }

// IsFull reports whether the ring is at capacity.
func (r *SnapshotRing) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == r.capacity
}

// Latest returns the newest entry, or ok=false if the ring is empty.
func (r *SnapshotRing) Latest() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return Entry{}, false
	}
	idx := (r.head - 1 + r.capacity) % r.capacity
	return r.entries[idx], true
}

// At returns the entry at index (0 = oldest, Len()-1 = newest), or
// ok=false if the index is out of range.
func (r *SnapshotRing) At(index int) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= r.size {
		return Entry{}, false
	}
	idx := (r.head - r.size + index + r.capacity) % r.capacity
	return r.entries[idx], true
}

// All returns every stored entry, oldest first.
func (r *SnapshotRing) All() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head - r.size + i + r.capacity) % r.capacity
		out = append(out, r.entries[idx])
	}
	return out
}

// StepRange returns the minimum and maximum step across stored entries,
// or (-1, -1) when the ring is empty.
func (r *SnapshotRing) StepRange() (minStep, maxStep int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return -1, -1
	}

	first := (r.head - r.size + r.capacity) % r.capacity
	minStep = r.entries[first].Step
	maxStep = minStep
	for i := 1; i < r.size; i++ {
		idx := (first + i) % r.capacity
		step := r.entries[idx].Step
		if step < minStep {
			minStep = step
		}
		if step > maxStep {
			maxStep = step
		}
	}
	return minStep, maxStep
}

// TimeSeries extracts the numeric value at fieldPath (dot-separated,
// e.g. "metrics.sir.infected") from each stored entry whose step lies in
// [fromStep, toStep]. A missing or non-numeric path yields a zero-valued
// point so the series stays aligned with the step axis.
func (r *SnapshotRing) TimeSeries(fieldPath string, fromStep, toStep int) []Point {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Point, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head - r.size + i + r.capacity) % r.capacity
		entry := r.entries[idx]
		if entry.Step < fromStep || entry.Step > toStep {
			continue
		}
		out = append(out, Point{Step: entry.Step, Value: ExtractValue(entry.Payload, fieldPath)})
	}
	return out
}

// Clear empties the ring and restarts the downsampling counter.
func (r *SnapshotRing) Clear() {
	r.mu.Lock()

	r.head = 0
	r.size = 0
	r.counter = 0
	for i := range r.entries {
		r.entries[i] = Entry{}
	}

	cleared := r.notify.OnCleared
	r.mu.Unlock()

	if cleared != nil {
		cleared()
	}
}

// ExtractValue walks doc along the dot-separated path and returns the
// numeric value found there, or 0 when the path is missing or the value
// is not numeric. Numeric strings are converted.
func ExtractValue(doc map[string]any, path string) float64 {
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return 0
		}
		current, ok = obj[part]
		if !ok {
			return 0
		}
	}

	switch v := current.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}
