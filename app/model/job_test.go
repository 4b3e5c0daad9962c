package model

import (
	"errors"
	"testing"
	"time"
)

func TestJobComplete(t *testing.T) {
	now := time.Now()
	job := NewJob("id-1", "id-1_character.mp4", "id-1_reference.mp4", now)

	if job.Status != JobStatusProcessing || job.CompletedAt != nil {
		t.Fatalf("new job = %+v", job)
	}

	if err := job.Complete("id-1_output.mp4", "task-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if job.Status != JobStatusCompleted || job.OutputFile != "id-1_output.mp4" || job.Error != "" {
		t.Errorf("completed job = %+v", job)
	}
	if job.CompletedAt == nil || job.ProviderTaskID != "task-1" {
		t.Errorf("completed job missing metadata: %+v", job)
	}
}

func TestJobTerminalStatesAreFinal(t *testing.T) {
	now := time.Now()

	failed := NewJob("a", "c", "r", now)
	if err := failed.Fail("boom", "", now); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := failed.Complete("out", "", now); !errors.Is(err, ErrJobFinalized) {
		t.Errorf("Complete after Fail = %v, want ErrJobFinalized", err)
	}
	if failed.Status != JobStatusFailed || failed.OutputFile != "" {
		t.Errorf("failed job changed: %+v", failed)
	}

	completed := NewJob("b", "c", "r", now)
	_ = completed.Complete("out", "", now)
	if err := completed.Fail("late", "", now); !errors.Is(err, ErrJobFinalized) {
		t.Errorf("Fail after Complete = %v, want ErrJobFinalized", err)
	}
	if completed.Error != "" {
		t.Errorf("completed job gained error: %q", completed.Error)
	}
}

func TestJobFailDefaultsReason(t *testing.T) {
	job := NewJob("a", "c", "r", time.Now())
	_ = job.Fail("", "", time.Now())
	if job.Error == "" {
		t.Error("empty reason should be replaced")
	}
}

func TestJobClone(t *testing.T) {
	job := NewJob("a", "c", "r", time.Now())
	_ = job.Complete("out", "", time.Now())

	c := job.Clone()
	c.OutputFile = "changed"
	*c.CompletedAt = time.Time{}

	if job.OutputFile != "out" || job.CompletedAt.IsZero() {
		t.Error("clone shares state with original")
	}
}
