package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"replay-orchestration/internal/replay"

	"github.com/sirupsen/logrus"
)

// Update field names accepted by SetJob.
const (
	FieldJobID               = "job_id"
	FieldStatus              = "status"
	FieldLastBlockProcessed  = "last_block_processed"
	FieldStartTime           = "start_time"
	FieldEndTime             = "end_time"
	FieldActualIntegrityHash = "actual_integrity_hash"
	FieldErrorMessage        = "error_message"
	FieldInstanceID          = "instance_id"
)

// ErrMalformedUpdate is returned when an encoded update cannot be decoded.
var ErrMalformedUpdate = errors.New("malformed job update")

// Update is a partial job update keyed by field name, usually decoded from a
// worker's JSON body. Fields absent from the map are left untouched.
type Update map[string]any

// Catalog is the read side of replay.ConfigStore the registry depends on.
type Catalog interface {
	Records() []replay.BlockConfig
	Get(id int) (replay.BlockConfig, bool)
}

// RunSummary describes the run as a whole.
type RunSummary struct {
	StartTime *string        `json:"start_time"`
	EndTime   *string        `json:"end_time"`
	Running   bool           `json:"is_running"`
	Total     int            `json:"total_jobs"`
	Counts    map[string]int `json:"status_counts"`
}

// Registry owns one job per catalog record and hands out work. Every
// operation runs under a single mutex, so a claim and its status change are
// one step and no two callers can receive the same waiting job.
type Registry struct {
	mu      sync.Mutex
	store   Store
	catalog Catalog
	size    int

	startTime *time.Time
	endTime   *time.Time
	running   bool

	now func() time.Time
}

// NewRegistry clears store and seeds it with one WAITING_4_WORKER job per
// catalog record, in catalog order.
func NewRegistry(ctx context.Context, store Store, catalog Catalog) (*Registry, error) {
	r := &Registry{
		store:   store,
		catalog: catalog,
		now:     time.Now,
	}

	if err := store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset job store: %w", err)
	}

	now := r.now()
	for _, cfg := range catalog.Records() {
		if err := store.Put(ctx, newJob(cfg, now)); err != nil {
			return nil, fmt.Errorf("seed job %d: %w", cfg.ReplaySliceID, err)
		}
		r.size++
	}

	logrus.Infof("job registry seeded with %d jobs", r.size)
	return r, nil
}

// Len returns the number of jobs. It never changes after construction.
func (r *Registry) Len() int {
	return r.size
}

// GetJob returns the job with the given id.
func (r *Registry) GetJob(ctx context.Context, id int) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(ctx, id)
}

// LookupJob is GetJob for ids that arrive as text.
func (r *Registry) LookupJob(ctx context.Context, key string) (Job, bool) {
	id, ok := replay.ParseKey(key)
	if !ok {
		return Job{}, false
	}
	return r.GetJob(ctx, id)
}

// All returns every job in registry order.
func (r *Registry) All(ctx context.Context) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(ctx)
}

// NextJob returns the first job still waiting for a worker. It does not
// change the job; use ClaimNextJob to hand work out.
func (r *Registry) NextJob(ctx context.Context) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextWaiting(ctx)
}

// ClaimNextJob atomically picks the first waiting job and marks it STARTED
// for instanceID. It reports false when nothing is left to hand out.
func (r *Registry) ClaimNextJob(ctx context.Context, instanceID string) (Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.nextWaiting(ctx)
	if !ok {
		return Job{}, false, nil
	}
	if !allowTransition(job.Status, StatusStarted) {
		return Job{}, false, nil
	}

	now := r.now()
	r.markStarted(now)
	job.Status = StatusStarted
	job.StartTime = strPtr(now.Format(TimeLayout))
	if instanceID != "" {
		job.InstanceID = strPtr(instanceID)
	}

	if err := r.store.Put(ctx, job); err != nil {
		return Job{}, false, fmt.Errorf("claim job %d: %w", job.ID, err)
	}
	return job, true, nil
}

// ByPosition returns the n-th job (1-based) in registry order. Registry
// order is catalog order, not status order.
func (r *Registry) ByPosition(ctx context.Context, n int) (Job, bool) {
	if n < 1 {
		return Job{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.list(ctx)
	if err != nil {
		logrus.Errorf("list jobs: %v", err)
		return Job{}, false
	}
	if n > len(all) {
		return Job{}, false
	}
	return all[n-1], true
}

// SetJob applies a partial update. job_id and status are required; without
// them, or for an unknown job, nothing changes and false is returned. The
// error is reserved for store failures.
//
// Status names resolve through ParseStatus, so unknown names become ERROR.
// last_block_processed is applied only when it is an unsigned integer (or a
// string of digits). start_time is honoured only with status STARTED. The
// remaining fields are copied as given.
func (r *Registry) SetJob(ctx context.Context, upd Update) (bool, error) {
	rawID, ok := upd[FieldJobID]
	if !ok || rawID == nil {
		return false, nil
	}
	rawStatus, ok := upd[FieldStatus]
	if !ok || rawStatus == nil {
		return false, nil
	}
	id, ok := unsignedValue(rawID)
	if !ok || id > math.MaxInt32 {
		return false, nil
	}
	statusName := stringValue(rawStatus)

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.get(ctx, int(id))
	if !ok {
		return false, nil
	}

	next := ParseStatus(statusName)
	if !allowTransition(job.Status, next) {
		return false, nil
	}

	r.markStarted(r.now())

	job.Status = next
	if v, ok := upd[FieldLastBlockProcessed]; ok {
		if n, ok := unsignedValue(v); ok {
			job.LastBlockProcessed = n
		}
	}
	if v, ok := upd[FieldEndTime]; ok {
		job.EndTime = optString(v)
	}
	if v, ok := upd[FieldStartTime]; ok && statusName == StatusStarted.String() {
		job.StartTime = optString(v)
	}
	if v, ok := upd[FieldActualIntegrityHash]; ok {
		job.ActualIntegrityHash = optString(v)
	}
	if v, ok := upd[FieldErrorMessage]; ok {
		job.ErrorMessage = optString(v)
	}
	if v, ok := upd[FieldInstanceID]; ok {
		job.InstanceID = optString(v)
	}

	if err := r.store.Put(ctx, job); err != nil {
		return false, fmt.Errorf("update job %d: %w", job.ID, err)
	}
	return true, nil
}

// SetJobFromEncoded decodes a JSON object, sets its job_id to jobID and
// hands it to SetJob.
func (r *Registry) SetJobFromEncoded(ctx context.Context, payload []byte, jobID int) (bool, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var upd Update
	if err := dec.Decode(&upd); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	if upd == nil {
		upd = Update{}
	}
	upd[FieldJobID] = jobID
	return r.SetJob(ctx, upd)
}

// UpdateRunningStatus records whether the run is active. The run end time is
// stamped once, the first time the run goes from running to stopped.
func (r *Registry) UpdateRunningStatus(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running && !running && r.endTime == nil {
		now := r.now()
		r.endTime = &now
	}
	r.running = running
}

// Summary reports run-level times and per-status counts.
func (r *Registry) Summary(ctx context.Context) (RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.list(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	counts := make(map[string]int, len(statusNames))
	for _, s := range Statuses() {
		counts[s.String()] = 0
	}
	for _, job := range all {
		counts[job.Status.String()]++
	}
	return RunSummary{
		StartTime: formatTime(r.startTime),
		EndTime:   formatTime(r.endTime),
		Running:   r.running,
		Total:     len(all),
		Counts:    counts,
	}, nil
}

// markStarted stamps the run start on the first accepted change.
func (r *Registry) markStarted(now time.Time) {
	if r.startTime == nil {
		r.startTime = &now
	}
}

func (r *Registry) get(ctx context.Context, id int) (Job, bool) {
	job, err := r.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logrus.Errorf("load job %d: %v", id, err)
		}
		return Job{}, false
	}
	return r.attach(job), true
}

func (r *Registry) list(ctx context.Context) ([]Job, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		all[i] = r.attach(all[i])
	}
	return all, nil
}

func (r *Registry) nextWaiting(ctx context.Context) (Job, bool) {
	all, err := r.list(ctx)
	if err != nil {
		logrus.Errorf("list jobs: %v", err)
		return Job{}, false
	}
	for _, job := range all {
		if job.Status == StatusWaiting4Worker {
			return job, true
		}
	}
	return Job{}, false
}

// attach joins the job with its current catalog record.
func (r *Registry) attach(job Job) Job {
	if cfg, ok := r.catalog.Get(job.ID); ok {
		job.Slice = cfg
	}
	return job
}

// unsignedValue accepts native non-negative integers and digit-only strings.
func unsignedValue(v any) (uint64, bool) {
	switch n := v.(type) {
	case string:
		return parseDigits(n)
	case json.Number:
		return parseDigits(n.String())
	case int:
		return uint64(n), n >= 0
	case int32:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case uint:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case float64:
		if n < 0 || n != math.Trunc(n) || n >= math.MaxUint64 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

func parseDigits(s string) (uint64, bool) {
	if !replay.IsDigits(s) {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func optString(v any) *string {
	if v == nil {
		return nil
	}
	return strPtr(stringValue(v))
}
