package buffer

import (
	"math"
	"sync"
	"testing"
)

func payload(step int) map[string]any {
	return map[string]any{
		"tick": float64(step),
		"metrics": map[string]any{
			"population": float64(100 - step),
			"sir": map[string]any{
				"infected": float64(step * 2),
			},
		},
	}
}

func steps(entries []Entry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.Step
	}
	return out
}

func TestRing_SizeNeverExceedsCapacity(t *testing.T) {
	r := NewSnapshotRing(3, Notify{})

	for i := 0; i < 50; i++ {
		r.Add(i, payload(i))
		if r.Len() > r.Cap() {
			t.Fatalf("after insert %d: len %d exceeds cap %d", i, r.Len(), r.Cap())
		}
		// Entries stay in strictly increasing step order.
		all := r.All()
		for j := 1; j < len(all); j++ {
			if all[j].Step <= all[j-1].Step {
				t.Fatalf("order violated after insert %d: %v", i, steps(all))
			}
		}
	}
}

func TestRing_EvictionOrder(t *testing.T) {
	r := NewSnapshotRing(3, Notify{})

	for i := 0; i <= 3; i++ {
		r.Add(i, payload(i))
	}

	got := steps(r.All())
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRing_DownsampleRetainsCeilMOverK(t *testing.T) {
	tests := []struct {
		name     string
		interval int
		inserts  int
	}{
		{"no downsampling", 1, 10},
		{"every other", 2, 10},
		{"every fifth", 5, 12},
		{"every fifth single insert", 5, 1},
		{"interval larger than inserts", 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewSnapshotRing(1000, Notify{})
			r.SetDownsampleInterval(tt.interval)

			for i := 0; i < tt.inserts; i++ {
				r.Add(i, payload(i))
			}

			want := int(math.Ceil(float64(tt.inserts) / float64(tt.interval)))
			if got := r.Len(); got != want {
				t.Errorf("retained %d entries, want ceil(%d/%d) = %d", got, tt.inserts, tt.interval, want)
			}
		})
	}
}

func TestRing_DownsampleIntervalClamped(t *testing.T) {
	r := NewSnapshotRing(10, Notify{})
	r.SetDownsampleInterval(0)
	if got := r.DownsampleInterval(); got != 1 {
		t.Errorf("interval = %d, want clamped to 1", got)
	}
	r.SetDownsampleInterval(-3)
	if got := r.DownsampleInterval(); got != 1 {
		t.Errorf("interval = %d, want clamped to 1", got)
	}
}

func TestRing_ResizePreservesNewest(t *testing.T) {
	r := NewSnapshotRing(5, Notify{})
	for i := 0; i < 5; i++ {
		r.Add(i, payload(i))
	}

	r.SetMaxCapacity(3)

	got := steps(r.All())
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	// Ring semantics survive the resize.
	r.Add(5, payload(5))
	got = steps(r.All())
	want = []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("after post-resize insert: got %v, want %v", got, want)
		}
	}
}

func TestRing_ResizeUpwardPreservesAll(t *testing.T) {
	r := NewSnapshotRing(3, Notify{})
	for i := 0; i < 3; i++ {
		r.Add(i, payload(i))
	}

	r.SetMaxCapacity(10)

	if got := steps(r.All()); len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("entries after grow = %v, want [0 1 2]", got)
	}
	if r.Cap() != 10 {
		t.Errorf("cap = %d, want 10", r.Cap())
	}
}

func TestRing_ResizeInvalidIgnored(t *testing.T) {
	r := NewSnapshotRing(5, Notify{})
	r.Add(0, payload(0))

	r.SetMaxCapacity(0)
	r.SetMaxCapacity(-2)

	if r.Cap() != 5 || r.Len() != 1 {
		t.Errorf("invalid resize mutated ring: cap %d len %d", r.Cap(), r.Len())
	}
}

func TestRing_Accessors(t *testing.T) {
	r := NewSnapshotRing(5, Notify{})

	if _, ok := r.Latest(); ok {
		t.Error("Latest() on empty ring reported ok")
	}
	if _, ok := r.At(0); ok {
		t.Error("At(0) on empty ring reported ok")
	}
	if minStep, maxStep := r.StepRange(); minStep != -1 || maxStep != -1 {
		t.Errorf("StepRange() on empty = (%d,%d), want (-1,-1)", minStep, maxStep)
	}

	for i := 10; i <= 14; i++ {
		r.Add(i, payload(i))
	}

	latest, ok := r.Latest()
	if !ok || latest.Step != 14 {
		t.Errorf("Latest() = %v %v, want step 14", latest.Step, ok)
	}
	oldest, ok := r.At(0)
	if !ok || oldest.Step != 10 {
		t.Errorf("At(0) = %v %v, want step 10", oldest.Step, ok)
	}
	if _, ok := r.At(5); ok {
		t.Error("At(5) out of range reported ok")
	}
	if _, ok := r.At(-1); ok {
		t.Error("At(-1) reported ok")
	}
	if minStep, maxStep := r.StepRange(); minStep != 10 || maxStep != 14 {
		t.Errorf("StepRange() = (%d,%d), want (10,14)", minStep, maxStep)
	}
}

func TestRing_TimeSeries(t *testing.T) {
	r := NewSnapshotRing(100, Notify{})
	for i := 0; i < 10; i++ {
		r.Add(i, payload(i))
	}

	pts := r.TimeSeries("metrics.sir.infected", 2, 5)
	if len(pts) != 4 {
		t.Fatalf("got %d points, want 4", len(pts))
	}
	for i, pt := range pts {
		wantStep := i + 2
		if pt.Step != wantStep || pt.Value != float64(wantStep*2) {
			t.Errorf("point %d = %+v, want step %d value %d", i, pt, wantStep, wantStep*2)
		}
	}
}

func TestRing_TimeSeriesMissingPathStaysAligned(t *testing.T) {
	r := NewSnapshotRing(100, Notify{})
	r.Add(0, payload(0))
	r.Add(1, map[string]any{"tick": float64(1)}) // no metrics at all
	r.Add(2, payload(2))

	pts := r.TimeSeries("metrics.population", 0, 100)
	if len(pts) != 3 {
		t.Fatalf("got %d points, want 3 (missing path must not shorten series)", len(pts))
	}
	if pts[1].Value != 0 {
		t.Errorf("missing path value = %v, want 0", pts[1].Value)
	}
	if pts[0].Value != 100 || pts[2].Value != 98 {
		t.Errorf("surrounding values = %v %v, want 100 98", pts[0].Value, pts[2].Value)
	}
}

func TestRing_Notifications(t *testing.T) {
	var stored []int
	var wraps, clears int

	r := NewSnapshotRing(2, Notify{
		OnStored:  func(step int) { stored = append(stored, step) },
		OnWrapped: func() { wraps++ },
		OnCleared: func() { clears++ },
	})
	r.SetDownsampleInterval(2)

	for i := 0; i < 6; i++ {
		r.Add(i, payload(i))
	}
	// Kept: 0, 2, 4. Third keep evicts the first.
	if len(stored) != 3 || stored[0] != 0 || stored[1] != 2 || stored[2] != 4 {
		t.Errorf("stored = %v, want [0 2 4]", stored)
	}
	if wraps != 1 {
		t.Errorf("wraps = %d, want 1", wraps)
	}

	r.Clear()
	if clears != 1 {
		t.Errorf("clears = %d, want 1", clears)
	}
	if !r.IsEmpty() {
		t.Error("ring not empty after Clear()")
	}

	// Counter restarts after Clear: next insertion is kept.
	r.Add(9, payload(9))
	if r.Len() != 1 {
		t.Errorf("len = %d after post-clear insert, want 1", r.Len())
	}
}

func TestRing_ConcurrentAddAndRead(t *testing.T) {
	r := NewSnapshotRing(64, Notify{})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			r.Add(i, payload(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			r.Latest()
			r.All()
			r.TimeSeries("metrics.population", 0, 500)
			r.StepRange()
		}
	}()

	wg.Wait()

	if r.Len() > r.Cap() {
		t.Errorf("len %d exceeds cap %d", r.Len(), r.Cap())
	}
}

func TestExtractValue(t *testing.T) {
	doc := map[string]any{
		"tick": float64(3),
		"metrics": map[string]any{
			"population": float64(97),
			"label":      "42.5",
			"name":       "mesa",
		},
	}

	tests := []struct {
		name string
		path string
		want float64
	}{
		{"top level", "tick", 3},
		{"nested", "metrics.population", 97},
		{"numeric string", "metrics.label", 42.5},
		{"non-numeric string", "metrics.name", 0},
		{"missing leaf", "metrics.energy", 0},
		{"missing branch", "environment.grid", 0},
		{"path through scalar", "tick.value", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractValue(doc, tt.path); got != tt.want {
				t.Errorf("ExtractValue(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
