package watchfs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spacegraph-dev/spacegraph/internal/agent/pathpolicy"
	"github.com/spacegraph-dev/spacegraph/internal/core"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLaterUpsertPromotesOverEarlierRemove(t *testing.T) {
	dir := t.TempDir()
	policy := pathpolicy.New([]string{dir}, nil)
	w, err := New("host1", policy, []string{dir}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.fsw.Close()

	path := filepath.Join(dir, "a.txt")
	w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Remove})
	w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Create})

	out := make(chan []core.Delta, 1)
	w.flush(out)
	batch := <-out

	if len(batch) != 3 {
		t.Fatalf("expected BatchBegin+1 delta+BatchEnd, got %d: %+v", len(batch), batch)
	}
	if batch[1].Kind != core.DeltaUpsertNode {
		t.Fatalf("expected the later create to win, got %v", batch[1].Kind)
	}
}

func TestLaterRemoveDominatesOverEarlierUpsert(t *testing.T) {
	dir := t.TempDir()
	policy := pathpolicy.New([]string{dir}, nil)
	w, err := New("host1", policy, []string{dir}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.fsw.Close()

	path := filepath.Join(dir, "b.txt")
	w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Create})
	w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Remove})

	out := make(chan []core.Delta, 1)
	w.flush(out)
	batch := <-out

	if batch[1].Kind != core.DeltaRemoveNode {
		t.Fatalf("expected the later remove to win, got %v", batch[1].Kind)
	}
}

func TestFlushSkipsWhenNothingPending(t *testing.T) {
	dir := t.TempDir()
	policy := pathpolicy.New([]string{dir}, nil)
	w, err := New("host1", policy, []string{dir}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.fsw.Close()

	out := make(chan []core.Delta, 1)
	w.flush(out)
	select {
	case batch := <-out:
		t.Fatalf("expected no batch, got %+v", batch)
	default:
	}
}

func TestRunCoalescesRealFsEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	dir := t.TempDir()
	policy := pathpolicy.New([]string{dir}, nil)
	w, err := New("host1", policy, []string{dir}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []core.Delta, 8)
	go w.Run(ctx, out)

	path := filepath.Join(dir, "c.txt")
	if err := os.WriteFile(path, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case batch := <-out:
		foundUpsert := false
		for _, d := range batch {
			if d.Kind == core.DeltaUpsertNode {
				foundUpsert = true
			}
		}
		if !foundUpsert {
			t.Fatalf("expected an upsert delta in batch, got %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coalesced batch")
	}

	cancel()
}
