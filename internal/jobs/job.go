package jobs

import (
	"time"

	"replay-orchestration/internal/replay"
)

// TimeLayout is the timestamp format used for job and run times.
const TimeLayout = "2006-01-02T15:04:05"

// Job tracks one replay slice through its lifecycle. The job id is the
// slice's primary key, so the same catalog file always yields the same ids.
//
// Slice is not persisted by stores; the registry attaches the current
// catalog record on every read.
type Job struct {
	ID                  int     `json:"job_id"`
	InstanceID          *string `json:"instance_id"`
	Status              Status  `json:"status"`
	LastBlockProcessed  uint64  `json:"last_block_processed"`
	StartTime           *string `json:"start_time"`
	EndTime             *string `json:"end_time"`
	ActualIntegrityHash *string `json:"actual_integrity_hash"`
	ErrorMessage        *string `json:"error_message"`

	Slice replay.BlockConfig `json:"-"`
}

func newJob(cfg replay.BlockConfig, now time.Time) Job {
	start := now.Format(TimeLayout)
	return Job{
		ID:        cfg.ReplaySliceID,
		Status:    StatusWaiting4Worker,
		StartTime: &start,
		Slice:     cfg,
	}
}

func strPtr(s string) *string {
	return &s
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return strPtr(t.Format(TimeLayout))
}
