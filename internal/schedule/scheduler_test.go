package schedule

import (
	"errors"
	"testing"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"github.com/Cdaprod/cda.data-lake/internal/repo"
	"github.com/google/go-cmp/cmp"
)

func TestScheduler(t *testing.T) {
	r := repo.NewRepository()
	_, err := r.RegisterProcess(&catalog.Process{
		ID: "nightly",
		Transformations: []catalog.Transformation{
			{ID: "extract"},
			{ID: "load", Dependencies: []string{"extract"}},
		},
		JobControl: catalog.JobControl{Schedule: "0 2 * * *"},
	})
	if err != nil {
		t.Fatalf("RegisterProcess() error = %v", err)
	}
	if _, err := r.RegisterProcess(&catalog.Process{ID: "adhoc"}); err != nil {
		t.Fatalf("RegisterProcess() error = %v", err)
	}

	type call struct {
		ID     string
		Stages [][]string
	}
	var calls []call
	s := New(r, func(processID string, stages [][]string) {
		calls = append(calls, call{processID, stages})
	})
	s.Reload()

	if diff := cmp.Diff([]string{"nightly"}, s.Scheduled()); diff != "" {
		t.Errorf("Scheduled() mismatch (-want +got):\n%s", diff)
	}
	if s.runNow("adhoc") {
		t.Error("runNow(adhoc) = true for unscheduled process")
	}
	if !s.runNow("nightly") {
		t.Fatal("runNow(nightly) = false")
	}
	want := []call{{"nightly", [][]string{{"extract"}, {"load"}}}}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	// A process removed after the last reload is skipped.
	if err := r.RemoveProcess("nightly"); err != nil {
		t.Fatalf("RemoveProcess() error = %v", err)
	}
	s.runNow("nightly")
	if len(calls) != 1 {
		t.Errorf("got %d calls after removal, want 1", len(calls))
	}
	s.Reload()
	if got := s.Scheduled(); len(got) != 0 {
		t.Errorf("Scheduled() = %v after reload, want none", got)
	}
}

func TestScheduler_Trigger(t *testing.T) {
	r := repo.NewRepository()
	if _, err := r.RegisterProcess(&catalog.Process{ID: "adhoc", Transformations: []catalog.Transformation{{ID: "t1"}}}); err != nil {
		t.Fatalf("RegisterProcess() error = %v", err)
	}
	var got []string
	s := New(r, func(processID string, stages [][]string) {
		got = append(got, processID)
	})
	if err := s.Trigger("adhoc"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if err := s.Trigger("missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("Trigger(missing) error = %v, want %v", err, repo.ErrNotFound)
	}
	if diff := cmp.Diff([]string{"adhoc"}, got); diff != "" {
		t.Errorf("runs mismatch (-want +got):\n%s", diff)
	}
}

// runNow runs the cron job of a scheduled process synchronously.
func (s *Scheduler) runNow(processID string) bool {
	s.mu.Lock()
	entryID, ok := s.entries[processID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.cron.Entry(entryID).Job.Run()
	return true
}
