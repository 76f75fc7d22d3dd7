package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"replay-orchestration/internal/replay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceCatalog []replay.BlockConfig

func (c sliceCatalog) Records() []replay.BlockConfig {
	return c
}

func (c sliceCatalog) Get(id int) (replay.BlockConfig, bool) {
	for _, r := range c {
		if r.ReplaySliceID == id {
			return r, true
		}
	}
	return replay.BlockConfig{}, false
}

func testCatalog(n int) sliceCatalog {
	out := make(sliceCatalog, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, replay.BlockConfig{
			ReplaySliceID:         i,
			StartBlockID:          uint64(i * 100),
			EndBlockID:            uint64(i*100 + 99),
			SnapshotPath:          fmt.Sprintf("s3://snapshots/%d.bin", i),
			StorageType:           replay.StorageS3,
			ExpectedIntegrityHash: fmt.Sprintf("hash-%d", i),
			SpringVersion:         "v1.0.0",
		})
	}
	return out
}

func newTestRegistry(t *testing.T, n int) *Registry {
	t.Helper()
	reg, err := NewRegistry(context.Background(), NewMemoryStore(), testCatalog(n))
	require.NoError(t, err)
	return reg
}

func TestNewRegistrySeedsWaitingJobs(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 5)
	assert.Equal(t, 5, reg.Len())

	all, err := reg.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)

	seen := make(map[int]bool)
	for i, job := range all {
		assert.Equal(t, StatusWaiting4Worker, job.Status)
		assert.Equal(t, uint64(0), job.LastBlockProcessed)
		assert.NotNil(t, job.StartTime)
		assert.Nil(t, job.EndTime)
		assert.Equal(t, i+1, job.Slice.ReplaySliceID)
		assert.False(t, seen[job.ID], "duplicate job id %d", job.ID)
		seen[job.ID] = true
	}
}

func TestGetJobMisses(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 2)

	_, ok := reg.GetJob(ctx, 3)
	assert.False(t, ok)
	_, ok = reg.GetJob(ctx, 0)
	assert.False(t, ok)
	_, ok = reg.LookupJob(ctx, "abc")
	assert.False(t, ok)

	job, ok := reg.LookupJob(ctx, "2")
	require.True(t, ok)
	assert.Equal(t, "hash-2", job.Slice.ExpectedIntegrityHash)
}

func TestNextJob(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 2)

	job, ok := reg.NextJob(ctx)
	require.True(t, ok)
	assert.Equal(t, 1, job.ID)

	ok, err := reg.SetJob(ctx, Update{FieldJobID: 1, FieldStatus: "WORKING"})
	require.NoError(t, err)
	require.True(t, ok)

	job, ok = reg.NextJob(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, job.ID)
	assert.Equal(t, StatusWaiting4Worker, job.Status)

	ok, err = reg.SetJob(ctx, Update{FieldJobID: 2, FieldStatus: "COMPLETE"})
	require.NoError(t, err)
	require.True(t, ok)

	_, ok = reg.NextJob(ctx)
	assert.False(t, ok)
}

func TestClaimNextJobIsExclusive(t *testing.T) {
	ctx := context.Background()
	const jobCount, workers = 20, 50
	reg := newTestRegistry(t, jobCount)

	var (
		mu      sync.Mutex
		claimed = make(map[int]string)
		misses  int
		wg      sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			instance := fmt.Sprintf("i-%d", w)
			job, ok, err := reg.ClaimNextJob(ctx, instance)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if !ok {
				misses++
				return
			}
			if prev, dup := claimed[job.ID]; dup {
				t.Errorf("job %d claimed by %s and %s", job.ID, prev, instance)
			}
			claimed[job.ID] = instance
		}(w)
	}
	wg.Wait()

	assert.Len(t, claimed, jobCount)
	assert.Equal(t, workers-jobCount, misses)

	for id, instance := range claimed {
		job, ok := reg.GetJob(ctx, id)
		require.True(t, ok)
		assert.Equal(t, StatusStarted, job.Status)
		require.NotNil(t, job.InstanceID)
		assert.Equal(t, instance, *job.InstanceID)
	}
}

func TestSetJobRequiresIDAndStatus(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 1)
	before, _ := reg.GetJob(ctx, 1)

	cases := []Update{
		{FieldStatus: "WORKING"},
		{FieldJobID: nil, FieldStatus: "WORKING"},
		{FieldJobID: 1},
		{FieldJobID: 1, FieldStatus: nil, FieldLastBlockProcessed: 10},
		{FieldJobID: 9, FieldStatus: "WORKING"},
		{FieldJobID: "one", FieldStatus: "WORKING"},
	}
	for i, upd := range cases {
		ok, err := reg.SetJob(ctx, upd)
		require.NoError(t, err)
		assert.False(t, ok, "case %d", i)
	}

	after, _ := reg.GetJob(ctx, 1)
	assert.Equal(t, before, after)

	summary, err := reg.Summary(ctx)
	require.NoError(t, err)
	assert.Nil(t, summary.StartTime, "rejected updates must not start the run")
}

func TestSetJobChangesOnlyStatus(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 2)
	before, _ := reg.GetJob(ctx, 2)

	ok, err := reg.SetJob(ctx, Update{FieldJobID: 2, FieldStatus: "HASH_MISMATCH"})
	require.NoError(t, err)
	require.True(t, ok)

	after, _ := reg.GetJob(ctx, 2)
	assert.Equal(t, StatusHashMismatch, after.Status)
	after.Status = before.Status
	assert.Equal(t, before, after)
}

func TestSetJobUnknownStatusBecomesError(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 1)

	ok, err := reg.SetJob(ctx, Update{FieldJobID: 1, FieldStatus: "working"})
	require.NoError(t, err)
	require.True(t, ok)

	job, _ := reg.GetJob(ctx, 1)
	assert.Equal(t, StatusError, job.Status)
}

func TestSetJobLastBlockProcessed(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 1)

	set := func(v any) uint64 {
		ok, err := reg.SetJob(ctx, Update{FieldJobID: 1, FieldStatus: "WORKING", FieldLastBlockProcessed: v})
		require.NoError(t, err)
		require.True(t, ok)
		job, _ := reg.GetJob(ctx, 1)
		return job.LastBlockProcessed
	}

	assert.Equal(t, uint64(150), set("150"))
	assert.Equal(t, uint64(150), set("abc"))
	assert.Equal(t, uint64(150), set("-5"))
	assert.Equal(t, uint64(150), set(-5))
	assert.Equal(t, uint64(150), set("1e3"))
	assert.Equal(t, uint64(151), set(151))
	assert.Equal(t, uint64(152), set(json.Number("152")))
	assert.Equal(t, uint64(153), set(float64(153)))
	assert.Equal(t, uint64(153), set(153.5))
	assert.Equal(t, uint64(153), set(nil))
}

func TestSetJobStartTimeOnlyWhenStarted(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 1)
	original, _ := reg.GetJob(ctx, 1)

	ok, err := reg.SetJob(ctx, Update{FieldJobID: 1, FieldStatus: "WORKING", FieldStartTime: "2024-01-01T00:00:00"})
	require.NoError(t, err)
	require.True(t, ok)
	job, _ := reg.GetJob(ctx, 1)
	assert.Equal(t, *original.StartTime, *job.StartTime)

	ok, err = reg.SetJob(ctx, Update{FieldJobID: 1, FieldStatus: "STARTED", FieldStartTime: "2024-01-01T00:00:00"})
	require.NoError(t, err)
	require.True(t, ok)
	job, _ = reg.GetJob(ctx, 1)
	assert.Equal(t, "2024-01-01T00:00:00", *job.StartTime)
}

func TestSetJobCopiesVerbatimFields(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 1)

	ok, err := reg.SetJob(ctx, Update{
		FieldJobID:               1,
		FieldStatus:              "HASH_MISMATCH",
		FieldEndTime:             "whenever",
		FieldActualIntegrityHash: "deadbeef",
		FieldErrorMessage:        "hash mismatch at block 199",
		FieldInstanceID:          "i-0abc",
	})
	require.NoError(t, err)
	require.True(t, ok)

	job, _ := reg.GetJob(ctx, 1)
	assert.Equal(t, "whenever", *job.EndTime)
	assert.Equal(t, "deadbeef", *job.ActualIntegrityHash)
	assert.Equal(t, "hash mismatch at block 199", *job.ErrorMessage)
	assert.Equal(t, "i-0abc", *job.InstanceID)

	// a COMPLETE job still accepts updates
	ok, err = reg.SetJob(ctx, Update{FieldJobID: 1, FieldStatus: "COMPLETE"})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = reg.SetJob(ctx, Update{FieldJobID: 1, FieldStatus: "WAITING_4_WORKER", FieldErrorMessage: nil})
	require.NoError(t, err)
	require.True(t, ok)
	job, _ = reg.GetJob(ctx, 1)
	assert.Equal(t, StatusWaiting4Worker, job.Status)
	assert.Nil(t, job.ErrorMessage)
}

func TestSetJobStampsRunStartOnce(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 1)
	clock := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }

	_, err := reg.SetJob(ctx, Update{FieldJobID: 1, FieldStatus: "STARTED"})
	require.NoError(t, err)
	clock = clock.Add(time.Hour)
	_, err = reg.SetJob(ctx, Update{FieldJobID: 1, FieldStatus: "WORKING"})
	require.NoError(t, err)

	summary, err := reg.Summary(ctx)
	require.NoError(t, err)
	require.NotNil(t, summary.StartTime)
	assert.Equal(t, "2025-03-01T10:00:00", *summary.StartTime)
	assert.Equal(t, 1, summary.Counts["WORKING"])
	assert.Equal(t, 0, summary.Counts["COMPLETE"])
}

func TestSetJobFromEncoded(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 2)

	ok, err := reg.SetJobFromEncoded(ctx, []byte(`{"job_id": 1, "status": "WORKING", "last_block_processed": 250}`), 2)
	require.NoError(t, err)
	require.True(t, ok)

	job, _ := reg.GetJob(ctx, 2)
	assert.Equal(t, StatusWorking, job.Status)
	assert.Equal(t, uint64(250), job.LastBlockProcessed)
	first, _ := reg.GetJob(ctx, 1)
	assert.Equal(t, StatusWaiting4Worker, first.Status)

	ok, err = reg.SetJobFromEncoded(ctx, []byte(`{"last_block_processed": 300}`), 2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = reg.SetJobFromEncoded(ctx, []byte(`{not json`), 2)
	assert.True(t, errors.Is(err, ErrMalformedUpdate))
}

func TestUpdateRunningStatusStampsEndOnce(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 1)
	clock := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }

	reg.UpdateRunningStatus(true)
	summary, _ := reg.Summary(ctx)
	assert.True(t, summary.Running)
	assert.Nil(t, summary.EndTime)

	reg.UpdateRunningStatus(false)
	summary, _ = reg.Summary(ctx)
	assert.False(t, summary.Running)
	require.NotNil(t, summary.EndTime)
	assert.Equal(t, "2025-03-01T10:00:00", *summary.EndTime)

	clock = clock.Add(time.Hour)
	reg.UpdateRunningStatus(false)
	reg.UpdateRunningStatus(true)
	reg.UpdateRunningStatus(false)
	summary, _ = reg.Summary(ctx)
	assert.Equal(t, "2025-03-01T10:00:00", *summary.EndTime)
}

func TestUpdateRunningStatusNeverRunning(t *testing.T) {
	reg := newTestRegistry(t, 1)
	reg.UpdateRunningStatus(false)
	summary, err := reg.Summary(context.Background())
	require.NoError(t, err)
	assert.Nil(t, summary.EndTime)
}

func TestByPosition(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, 3)

	job, ok := reg.ByPosition(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, 1, job.ID)
	job, ok = reg.ByPosition(ctx, 3)
	require.True(t, ok)
	assert.Equal(t, 3, job.ID)

	for _, n := range []int{0, -1, 4} {
		_, ok := reg.ByPosition(ctx, n)
		assert.False(t, ok, "position %d", n)
	}
}

func TestRegistryAttachesCurrentCatalogRecord(t *testing.T) {
	ctx := context.Background()
	catalog := testCatalog(1)
	reg, err := NewRegistry(ctx, NewMemoryStore(), catalog)
	require.NoError(t, err)

	catalog[0].ExpectedIntegrityHash = "rotated"
	job, ok := reg.GetJob(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "rotated", job.Slice.ExpectedIntegrityHash)
}
