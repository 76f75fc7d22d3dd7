package jobs

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of a replay job.
type Status int

const (
	StatusWaiting4Worker Status = iota
	StatusStarted
	StatusLoadingSnapshot
	StatusWorking
	StatusError
	StatusTimeout
	StatusHashMismatch
	StatusComplete
)

var statusNames = [...]string{
	StatusWaiting4Worker:  "WAITING_4_WORKER",
	StatusStarted:         "STARTED",
	StatusLoadingSnapshot: "LOADING_SNAPSHOT",
	StatusWorking:         "WORKING",
	StatusError:           "ERROR",
	StatusTimeout:         "TIMEOUT",
	StatusHashMismatch:    "HASH_MISMATCH",
	StatusComplete:        "COMPLETE",
}

var statusByName = func() map[string]Status {
	m := make(map[string]Status, len(statusNames))
	for s, name := range statusNames {
		m[name] = Status(s)
	}
	return m
}()

// Statuses lists every status in declaration order.
func Statuses() []Status {
	out := make([]Status, len(statusNames))
	for i := range statusNames {
		out[i] = Status(i)
	}
	return out
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus resolves a status by exact, case-sensitive name. Names that do
// not match any status resolve to StatusError: a worker reporting something
// we do not understand is treated as a failed job, not as a bad request.
func ParseStatus(name string) Status {
	if s, ok := statusByName[name]; ok {
		return s
	}
	return StatusError
}

// LookupStatus is ParseStatus without the fallback.
func LookupStatus(name string) (Status, bool) {
	s, ok := statusByName[name]
	return s, ok
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*s = ParseStatus(name)
	return nil
}

// allowTransition decides whether a job may move from one status to another.
// Workers are trusted: every transition is accepted, including updates to a
// COMPLETE job. A stricter table belongs here.
func allowTransition(from, to Status) bool {
	return true
}
