package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestBeginFinishLatest(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	if err := l.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	first, err := l.Begin(ctx, "job-1", "pool", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	second, err := l.Begin(ctx, "job-1", "pool", []byte(`{"a":2}`))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if first == second {
		t.Fatalf("run ids must be unique")
	}
	if err := l.Finish(ctx, second, StateFailed, "Task_1 exited with 2"); err != nil {
		t.Fatalf("finish: %v", err)
	}

	rec, err := l.Latest(ctx, "job-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.RunID != second || rec.State != StateFailed || string(rec.Data) != `{"a":2}` {
		t.Fatalf("unexpected latest record %+v", rec)
	}
	if rec.Error != "Task_1 exited with 2" {
		t.Fatalf("error not stored: %q", rec.Error)
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	if _, err := l.Latest(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := l.Finish(ctx, "no-such-run", StateSucceeded, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	for _, job := range []string{"a", "b", "c"} {
		if _, err := l.Begin(ctx, job, "pool", nil); err != nil {
			t.Fatalf("begin %s: %v", job, err)
		}
	}
	all, err := l.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].JobID != "c" {
		t.Fatalf("unexpected order %+v", all)
	}
	two, _ := l.List(ctx, 2)
	if len(two) != 2 {
		t.Fatalf("limit ignored: %d", len(two))
	}
	if all[2].State != StateSubmitted {
		t.Fatalf("new runs start submitted, got %s", all[2].State)
	}
}
