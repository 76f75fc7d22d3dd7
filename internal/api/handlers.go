package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"replay-orchestration/internal/jobs"
	"replay-orchestration/internal/journal"
	"replay-orchestration/internal/replay"

	"github.com/sirupsen/logrus"
)

// maxBodyBytes caps request bodies; updates are a handful of fields.
const maxBodyBytes = 1 << 20

// handleJob multiplexes /job on method and query.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		switch {
		case q.Has("nextjob"):
			s.claimJob(w, r)
		case q.Has("jobid"):
			s.getJob(w, r, q.Get("jobid"))
		case q.Has("position"):
			s.getJobByPosition(w, r, q.Get("position"))
		default:
			writeError(w, http.StatusBadRequest, "one of nextjob, jobid or position is required")
		}
	case http.MethodPost:
		s.updateJob(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// claimJob handles GET /job?nextjob[&instance_id=...]
func (s *Server) claimJob(w http.ResponseWriter, r *http.Request) {
	instanceID := r.URL.Query().Get("instance_id")
	job, ok, err := s.registry.ClaimNextJob(r.Context(), instanceID)
	if err != nil {
		logrus.Errorf("claim job: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to claim job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no jobs waiting for a worker")
		return
	}
	logrus.Infof("job %d claimed by %q (slice %d-%d)", job.ID, instanceID, job.Slice.StartBlockID, job.Slice.EndBlockID)
	s.journalJob(w, job)
	writeJSON(w, http.StatusOK, newJobView(job))
}

// getJob handles GET /job?jobid=N
func (s *Server) getJob(w http.ResponseWriter, r *http.Request, key string) {
	job, ok := s.registry.LookupJob(r.Context(), key)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// getJobByPosition handles GET /job?position=N
func (s *Server) getJobByPosition(w http.ResponseWriter, r *http.Request, key string) {
	n, ok := replay.ParseKey(key)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job, ok := s.registry.ByPosition(r.Context(), n)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// updateJob handles POST /job?jobid=N with a partial job update as body.
func (s *Server) updateJob(w http.ResponseWriter, r *http.Request) {
	id, ok := replay.ParseKey(r.URL.Query().Get("jobid"))
	if !ok {
		writeError(w, http.StatusBadRequest, "numeric jobid is required")
		return
	}
	if _, ok := s.registry.GetJob(r.Context(), id); !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer r.Body.Close()

	ok, err = s.registry.SetJobFromEncoded(r.Context(), body, id)
	switch {
	case errors.Is(err, jobs.ErrMalformedUpdate):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logrus.Errorf("update job %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to update job")
		return
	case !ok:
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	job, _ := s.registry.GetJob(r.Context(), id)
	if job.Status == jobs.StatusHashMismatch {
		logrus.Warnf("job %d reported hash mismatch: expected %s", job.ID, job.Slice.ExpectedIntegrityHash)
	}
	s.journalJob(w, job)
	writeJSON(w, http.StatusOK, newJobView(job))
}

// handleStatus handles GET /status: every job in registry order.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	all, err := s.registry.All(r.Context())
	if err != nil {
		logrus.Errorf("list jobs: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	views := make([]JobView, 0, len(all))
	for _, job := range all {
		views = append(views, newJobView(job))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleSummary handles GET /summary.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeSummary(w, r)
}

// handleRun handles POST /run {"running": bool}.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req RunRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Running == nil {
		writeError(w, http.StatusBadRequest, "running is required")
		return
	}

	s.registry.UpdateRunningStatus(*req.Running)
	s.writeJournal(journal.Event{
		journal.KindKey: journal.KindRun,
		"time":          time.Now().UTC().Format(time.RFC3339),
		"request_id":    w.Header().Get(requestIDHeader),
		"is_running":    *req.Running,
	})
	s.writeSummary(w, r)
}

func (s *Server) writeSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.registry.Summary(r.Context())
	if err != nil {
		logrus.Errorf("summarise run: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to summarise run")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleConfig serves the slice catalog: GET reads, POST records the
// integrity hash reported for a slice.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !r.URL.Query().Has("sliceid") {
			writeJSON(w, http.StatusOK, s.catalog.Records())
			return
		}
		cfg, ok := s.catalog.Lookup(r.URL.Query().Get("sliceid"))
		if !ok {
			writeError(w, http.StatusNotFound, "configuration not found")
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPost:
		s.updateConfig(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// updateConfig handles POST /config: the slice ending at end_block_num (and
// running spring_version, when given) gets integrity_hash as its expected
// hash, and the catalog is written back to disk.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	endBlock, err := strconv.ParseUint(req.EndBlockNum.String(), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_block_num must be an unsigned integer")
		return
	}
	if req.IntegrityHash == "" {
		writeError(w, http.StatusBadRequest, "integrity_hash is required")
		return
	}

	cfg, ok := s.catalog.FindByEndBlockVersion(endBlock, req.SpringVersion)
	if !ok {
		writeError(w, http.StatusNotFound, "configuration not found")
		return
	}

	cfg.ExpectedIntegrityHash = req.IntegrityHash
	if !s.catalog.Set(cfg) {
		writeError(w, http.StatusNotFound, "configuration not found")
		return
	}
	if err := s.catalog.Persist(); err != nil {
		logrus.Errorf("persist replay config: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to persist configuration")
		return
	}

	logrus.Infof("slice %d (end block %d, %s) expected integrity hash set", cfg.ReplaySliceID, endBlock, cfg.SpringVersion)
	writeJSON(w, http.StatusOK, ConfigUpdateResponse{
		SliceID: cfg.ReplaySliceID,
		Message: fmt.Sprintf("updated integrity hash for end block %d", endBlock),
	})
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK")
}

func (s *Server) journalJob(w http.ResponseWriter, job jobs.Job) {
	s.writeJournal(journal.Event{
		journal.KindKey:         journal.KindJobUpdate,
		"time":                  time.Now().UTC().Format(time.RFC3339),
		"request_id":            w.Header().Get(requestIDHeader),
		"job_id":                job.ID,
		"status":                job.Status.String(),
		"last_block_processed":  job.LastBlockProcessed,
		"instance_id":           job.InstanceID,
		"end_time":              job.EndTime,
		"actual_integrity_hash": job.ActualIntegrityHash,
		"error_message":         job.ErrorMessage,
	})
}

// writeJournal logs failures instead of failing the request.
func (s *Server) writeJournal(evt journal.Event) {
	if err := s.journal.Write(evt); err != nil {
		logrus.Errorf("journal write: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
