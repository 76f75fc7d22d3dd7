package journal

// Event is one journal row keyed by column name. The "kind" key selects the
// file the row is appended to.
type Event map[string]interface{}

// KindKey names the column that routes an event to its file.
const KindKey = "kind"

// Event kinds written by the orchestrator.
const (
	KindJobUpdate = "job_updates"
	KindRun       = "run_status"
)

// Sink persists journal events. Implementations must be safe for concurrent
// use; HTTP handlers write from many goroutines.
type Sink interface {
	Write(Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Write(Event) error { return nil }
