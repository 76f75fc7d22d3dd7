package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by stores when a job id is unknown.
var ErrNotFound = errors.New("job not found")

// Store is the backend holding job records. The Registry serialises all
// calls, so implementations only need to be safe for a single writer.
// List returns jobs in ascending id order.
type Store interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, id int) (Job, error)
	List(ctx context.Context) ([]Job, error)
	// Reset removes every job; called before a run is seeded.
	Reset(ctx context.Context) error
	Close() error
}

// MemoryStore keeps jobs in a map. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[int]Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[int]Job)}
}

func (m *MemoryStore) Put(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = make(map[int]Job)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BoltStore)(nil)
)
