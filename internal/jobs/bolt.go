package jobs

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const jobBucket = "jobs"

// BoltStore keeps job records in a BoltDB file so the state of a run can be
// inspected after the orchestrator exits.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("bolt store path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	store := &BoltStore{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Put(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.ID < 0 {
		return fmt.Errorf("invalid job id %d", job.ID)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(jobBucket))
		if bucket == nil {
			return fmt.Errorf("job bucket is missing")
		}
		return bucket.Put(jobKey(job.ID), payload)
	})
}

func (s *BoltStore) Get(ctx context.Context, id int) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	if id < 0 {
		return Job{}, ErrNotFound
	}

	var job Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(jobBucket))
		if bucket == nil {
			return fmt.Errorf("job bucket is missing")
		}
		payload := bucket.Get(jobKey(id))
		if payload == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("unmarshal job %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

// List walks the bucket cursor; big-endian keys keep it in id order.
func (s *BoltStore) List(ctx context.Context) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(jobBucket))
		if bucket == nil {
			return fmt.Errorf("job bucket is missing")
		}
		return bucket.ForEach(func(k, v []byte) error {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("unmarshal job %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reset drops every stored job. A new run starts from a clean bucket.
func (s *BoltStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(jobBucket)) != nil {
			if err := tx.DeleteBucket([]byte(jobBucket)); err != nil {
				return fmt.Errorf("drop job bucket: %w", err)
			}
		}
		_, err := tx.CreateBucket([]byte(jobBucket))
		return err
	})
}

func (s *BoltStore) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(jobBucket)); err != nil {
			return fmt.Errorf("create job bucket: %w", err)
		}
		return nil
	})
}

func jobKey(id int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}
