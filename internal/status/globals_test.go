package status

import (
	"sync"
	"testing"
)

func TestGlobalsStartState(t *testing.T) {
	g := NewGlobals()
	snap := g.Snapshot()

	if snap.Version != 0 {
		t.Errorf("expected version 0, got %d", snap.Version)
	}
	if snap.Status != nil {
		t.Errorf("expected nil status, got %+v", snap.Status)
	}
}

func TestGlobalsIncrementVersion(t *testing.T) {
	g := NewGlobals()

	if v := g.IncrementVersion(); v != 1 {
		t.Errorf("expected version 1, got %d", v)
	}
	if v := g.IncrementVersion(); v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}
	if g.Snapshot().Version != 2 {
		t.Errorf("expected snapshot version 2, got %d", g.Snapshot().Version)
	}
}

func TestGlobalsStatusRoundTrip(t *testing.T) {
	g := NewGlobals()

	g.SetStatus("Compiling...", false)
	snap := g.Snapshot()
	if snap.Status == nil || snap.Status.Text != "Compiling..." || snap.Status.IsError {
		t.Errorf("unexpected status: %+v", snap.Status)
	}

	g.SetStatus("Build failed", true)
	snap = g.Snapshot()
	if snap.Status == nil || !snap.Status.IsError {
		t.Errorf("expected error status, got %+v", snap.Status)
	}

	g.ClearStatus()
	if g.Snapshot().Status != nil {
		t.Error("expected status cleared")
	}
}

func TestGlobalsSnapshotImmutable(t *testing.T) {
	g := NewGlobals()
	g.SetStatus("old", false)

	before := g.Snapshot()
	g.SetStatus("new", true)
	g.IncrementVersion()

	if before.Version != 0 || before.Status.Text != "old" {
		t.Errorf("earlier snapshot mutated: %+v", before)
	}
}

func TestGlobalsConcurrentIncrements(t *testing.T) {
	g := NewGlobals()

	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				g.IncrementVersion()
			}
		}()
	}
	wg.Wait()

	if got := g.Snapshot().Version; got != workers*perWorker {
		t.Errorf("expected version %d, got %d", workers*perWorker, got)
	}
}
