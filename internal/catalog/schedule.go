package catalog

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextRun returns the first activation of the job's cron schedule after t.
// It returns the zero time if the job has no schedule.
func (j *JobControl) NextRun(after time.Time) (time.Time, error) {
	if j.Schedule == "" {
		return time.Time{}, nil
	}
	sched, err := cron.ParseStandard(j.Schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %v", j.Schedule, err)
	}
	return sched.Next(after), nil
}
