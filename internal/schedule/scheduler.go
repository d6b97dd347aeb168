// Package schedule triggers registered processes according to their
// job control cron schedule.
package schedule

import (
	"log"
	"slices"
	"sync"

	"github.com/Cdaprod/cda.data-lake/internal/repo"
	"github.com/robfig/cron/v3"
)

// RunFunc is called when a process is due. Stages holds the process's
// transformations grouped into stages that can run in parallel.
type RunFunc func(processID string, stages [][]string)

// Scheduler manages one cron entry per scheduled process.
type Scheduler struct {
	cron *cron.Cron
	repo *repo.Repository
	run  RunFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID // process ID -> cron entry
}

// New creates a scheduler for the processes in r.
// If run is nil, due processes are only logged.
func New(r *repo.Repository, run RunFunc) *Scheduler {
	if run == nil {
		run = logRun
	}
	return &Scheduler{
		cron:    cron.New(),
		repo:    r,
		run:     run,
		entries: make(map[string]cron.EntryID),
	}
}

func logRun(processID string, stages [][]string) {
	log.Printf("Process %s is due: %d stages %v", processID, len(stages), stages)
}

// Start loads all schedules and starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Reload()
	s.cron.Start()
	log.Printf("Process scheduler started")
}

// Stop stops the scheduler. Running jobs are not waited for.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Printf("Process scheduler stopped")
}

// Reload replaces all cron entries with the current schedules of the catalog.
func (s *Scheduler) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entryID := range s.entries {
		s.cron.Remove(entryID)
	}
	s.entries = make(map[string]cron.EntryID)

	for _, p := range s.repo.ListProcesses() {
		if p.JobControl.Schedule == "" {
			continue
		}
		processID := p.ID
		entryID, err := s.cron.AddFunc(p.JobControl.Schedule, func() {
			s.trigger(processID)
		})
		if err != nil {
			// Schedules are validated on registration, so this is unexpected.
			log.Printf("Invalid schedule %q for process %s: %v", p.JobControl.Schedule, processID, err)
			continue
		}
		s.entries[processID] = entryID
	}
	log.Printf("Scheduled %d processes", len(s.entries))
}

func (s *Scheduler) trigger(processID string) {
	if err := s.Trigger(processID); err != nil {
		// The process was removed since the last reload.
		log.Printf("Skipping scheduled run of process %s: %v", processID, err)
	}
}

// Trigger runs a process immediately, regardless of its schedule.
func (s *Scheduler) Trigger(processID string) error {
	stages, err := s.repo.ExecutionOrder(processID)
	if err != nil {
		return err
	}
	s.run(processID, stages)
	return nil
}

// Scheduled returns the IDs of all scheduled processes, ordered by ID.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
