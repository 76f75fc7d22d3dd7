package api

import (
	"encoding/json"

	"replay-orchestration/internal/jobs"
)

// JobView is the wire form of a job: the job record flattened together with
// its slice configuration.
type JobView struct {
	JobID                 int         `json:"job_id"`
	ReplaySliceID         int         `json:"replay_slice_id"`
	InstanceID            *string     `json:"instance_id"`
	SnapshotPath          string      `json:"snapshot_path"`
	StorageType           string      `json:"storage_type"`
	SpringVersion         string      `json:"spring_version"`
	StartBlockNum         uint64      `json:"start_block_num"`
	EndBlockNum           uint64      `json:"end_block_num"`
	Status                jobs.Status `json:"status"`
	LastBlockProcessed    uint64      `json:"last_block_processed"`
	StartTime             *string     `json:"start_time"`
	EndTime               *string     `json:"end_time"`
	ExpectedIntegrityHash string      `json:"expected_integrity_hash"`
	ActualIntegrityHash   *string     `json:"actual_integrity_hash"`
	ErrorMessage          *string     `json:"error_message"`
}

func newJobView(job jobs.Job) JobView {
	return JobView{
		JobID:                 job.ID,
		ReplaySliceID:         job.Slice.ReplaySliceID,
		InstanceID:            job.InstanceID,
		SnapshotPath:          job.Slice.SnapshotPath,
		StorageType:           job.Slice.StorageType,
		SpringVersion:         job.Slice.SpringVersion,
		StartBlockNum:         job.Slice.StartBlockID,
		EndBlockNum:           job.Slice.EndBlockID,
		Status:                job.Status,
		LastBlockProcessed:    job.LastBlockProcessed,
		StartTime:             job.StartTime,
		EndTime:               job.EndTime,
		ExpectedIntegrityHash: job.Slice.ExpectedIntegrityHash,
		ActualIntegrityHash:   job.ActualIntegrityHash,
		ErrorMessage:          job.ErrorMessage,
	}
}

// ConfigUpdateRequest is the body of POST /config sent by replay workers.
// end_block_num is accepted as a JSON number or a numeric string.
type ConfigUpdateRequest struct {
	EndBlockNum   json.Number `json:"end_block_num"`
	IntegrityHash string      `json:"integrity_hash"`
	SpringVersion string      `json:"spring_version"`
}

// ConfigUpdateResponse answers a successful POST /config.
type ConfigUpdateResponse struct {
	SliceID int    `json:"sliceid"`
	Message string `json:"message"`
}

// RunRequest is the body of POST /run.
type RunRequest struct {
	Running *bool `json:"running"`
}

type errorResponse struct {
	Error string `json:"error"`
}
