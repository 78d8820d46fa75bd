package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dgallion1/ragingest/internal/crawl"
)

func TestJob_StageTransitions(t *testing.T) {
	job := NewDocumentJob("/data/a.pdf", "guides", "")

	transitions := []struct {
		status   JobStatus
		progress int
	}{
		{StatusInitializing, 0},
		{StatusConverting, 20},
		{StatusChunking, 40},
		{StatusStoring, 60},
	}

	for _, tr := range transitions {
		before := job.Snapshot().UpdatedAt
		time.Sleep(time.Millisecond)
		if !job.SetStage(tr.status) {
			t.Fatalf("expected SetStage(%q) to succeed", tr.status)
		}
		snap := job.Snapshot()
		if snap.Status != tr.status || snap.Progress.Stage != tr.status {
			t.Errorf("expected status %q, got %q", tr.status, snap.Status)
		}
		if snap.Progress.Percent != tr.progress {
			t.Errorf("%s: expected progress %d, got %d", tr.status, tr.progress, snap.Progress.Percent)
		}
		if !snap.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance after SetStage(%q)", tr.status)
		}
	}

	job.Finish(StatusCompleted, &Result{ChunksProcessed: 3})
	snap := job.Snapshot()
	if snap.Status != StatusCompleted || snap.Progress.Percent != 100 || snap.Result.ChunksProcessed != 3 {
		t.Errorf("unexpected finished snapshot %+v", snap)
	}
	if job.SetStage(StatusStoring) {
		t.Error("expected terminal job to reject further stages")
	}
}

func TestJob_FailKeepsFirstTerminalState(t *testing.T) {
	job := NewDocumentJob("a.txt", "", "")
	job.Fail(errors.New("conversion failed"))
	job.Finish(StatusCompleted, &Result{})

	snap := job.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("expected status %q, got %q", StatusFailed, snap.Status)
	}
	if snap.Error == nil || *snap.Error != "conversion failed" {
		t.Errorf("expected error message, got %v", snap.Error)
	}
}

func TestJob_Revoke(t *testing.T) {
	job := NewDocumentJob("a.txt", "", "")
	cancelled := false
	job.setCancel(func() { cancelled = true })

	if !job.Revoke() {
		t.Fatal("expected revoke to succeed")
	}
	if !cancelled {
		t.Error("expected revoke to cancel the running context")
	}
	if job.Status() != StatusRevoked {
		t.Errorf("expected status %q, got %q", StatusRevoked, job.Status())
	}
	if job.Revoke() {
		t.Error("expected second revoke to report false")
	}
}

func TestJob_Warnings(t *testing.T) {
	job := NewDocumentJob("a.txt", "", "")
	job.Warn("2 artifacts could not be rendered")
	job.Warn("1 chunks have no provenance")

	snap := job.Snapshot()
	if len(snap.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d", len(snap.Warnings))
	}
	if snap.Warnings[0] != "2 artifacts could not be rendered" {
		t.Errorf("unexpected first warning %q", snap.Warnings[0])
	}
}

func TestJobSnapshot_JSONShape(t *testing.T) {
	job := NewConfluenceJob(crawl.Request{URL: "https://x.atlassian.net/wiki/spaces/A/pages/1/T"})
	data, err := json.Marshal(job.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"task_id", "status", "result", "error", "progress"} {
		if _, ok := m[key]; !ok {
			t.Errorf("expected key %q in %s", key, data)
		}
	}
	if m["error"] != nil || m["result"] != nil {
		t.Errorf("expected null result and error for a queued job, got %s", data)
	}
	if m["source"] != job.Crawl.URL {
		t.Errorf("expected crawl url as source, got %v", m["source"])
	}
	if m["warnings"] == nil {
		t.Error("expected empty warnings array, got null")
	}
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := NewDocumentJob("a.txt", "", "")
	store.Put(job)

	got := store.Get(job.ID)
	if got == nil {
		t.Fatal("expected to get job back")
	}
	if got.ID != job.ID {
		t.Errorf("expected ID %q, got %q", job.ID, got.ID)
	}
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	expired := NewDocumentJob("old.txt", "", "")
	expired.Finish(StatusCompleted, &Result{})
	running := NewDocumentJob("running.txt", "", "")
	running.SetStage(StatusChunking)
	store.Put(expired)
	store.Put(running)

	time.Sleep(100 * time.Millisecond)

	fresh := NewDocumentJob("new.txt", "", "")
	fresh.Finish(StatusCompleted, &Result{})
	store.Put(fresh)

	store.Cleanup()

	if store.Get(expired.ID) != nil {
		t.Error("expected expired job to be cleaned up")
	}
	if store.Get(running.ID) == nil {
		t.Error("expected running job to survive cleanup")
	}
	if store.Get(fresh.ID) == nil {
		t.Error("expected fresh job to survive cleanup")
	}
}

func TestJobStore_CleanupEmpty(t *testing.T) {
	NewJobStore(time.Hour).Cleanup()
}

func TestOrchestrator_QueueFull(t *testing.T) {
	o := NewOrchestrator(nil, 1, 1, time.Hour, nil)

	if err := o.Submit(NewDocumentJob("a.txt", "", "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := NewDocumentJob("b.txt", "", "")
	err := o.Submit(second)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if second.Status() != StatusFailed {
		t.Errorf("expected rejected job to be failed, got %q", second.Status())
	}
	if o.QueueDepth() != 1 {
		t.Errorf("expected queue depth 1, got %d", o.QueueDepth())
	}
}

func TestOrchestrator_RevokeUnknownAndFinished(t *testing.T) {
	o := NewOrchestrator(nil, 1, 4, time.Hour, nil)
	if err := o.Revoke("missing"); !errors.Is(err, ErrJobUnknown) {
		t.Errorf("expected ErrJobUnknown, got %v", err)
	}

	job := NewDocumentJob("a.txt", "", "")
	o.Submit(job)
	job.Finish(StatusCompleted, &Result{})
	if err := o.Revoke(job.ID); !errors.Is(err, ErrJobEnded) {
		t.Errorf("expected ErrJobEnded, got %v", err)
	}
}

func TestOrchestrator_StopIdempotentQueue(t *testing.T) {
	o := NewOrchestrator(nil, 2, 4, time.Hour, nil)
	o.Start(context.Background())
	o.Stop()
	o.Stop()
}
