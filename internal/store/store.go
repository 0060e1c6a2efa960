// Package store implements C3, the State Store: a durable, crash-safe
// mapping from namespaced keys to typed values, backed by a single-file
// embedded bbolt database. Every mutating operation publishes a consistent
// snapshot to a best-effort broadcast channel.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/femtomc/noface/internal/types"
)

// Bucket names. Issues and batches each have their own bucket; the
// single-key namespaces of spec §4.3 share bucketMeta.
var (
	bucketIssues       = []byte("issues")
	bucketBatches      = []byte("batches")
	bucketMeta         = []byte("meta") // worker_array, counters, pending_batch_ids, issue_ids, project_name
	allBuckets         = [][]byte{bucketIssues, bucketBatches, bucketMeta}
)

// Meta keys within bucketMeta.
const (
	keyWorkerArray     = "worker_array"
	keyCounters        = "counters"
	keyPendingBatchIDs = "pending_batch_ids"
	keyIssueIDs        = "issue_ids"
	keyProjectName     = "project_name"
)

// Snapshot is a consistent point-in-time copy of the whole store, as
// broadcast to subscribers on every mutation.
type Snapshot struct {
	Issues          map[string]types.Issue
	Batches         map[string]types.Batch
	WorkerArray     [types.MaxWorkers]types.WorkerSlot
	Counters        types.Counters
	PendingBatchIDs []string
	IssueIDs        []string
	ProjectName     string
}

// Store is a durable, crash-safe KV store over bbolt.
type Store struct {
	db *bbolt.DB

	mu          sync.Mutex
	subscribers []chan Snapshot
}

// snapshotBufferSize is the per-subscriber channel depth; slower
// consumers than this drop events rather than block the writer (§4.3).
const snapshotBufferSize = 16

// Open opens (creating if absent) the bbolt file at path and ensures all
// namespaces exist, initialising worker slots to idle and zeroing
// counters when the store is new (§4.3 startup guarantee).
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if meta.Get([]byte(keyWorkerArray)) == nil {
			var arr [types.MaxWorkers]types.WorkerSlot
			for i := range arr {
				arr[i] = types.WorkerSlot{ID: i, Status: types.WorkerStatusIdle}
			}
			if err := putJSON(meta, keyWorkerArray, arr); err != nil {
				return err
			}
		}
		if meta.Get([]byte(keyCounters)) == nil {
			if err := putJSON(meta, keyCounters, types.Counters{}); err != nil {
				return err
			}
		}
		if meta.Get([]byte(keyPendingBatchIDs)) == nil {
			if err := putJSON(meta, keyPendingBatchIDs, []string{}); err != nil {
				return err
			}
		}
		if meta.Get([]byte(keyIssueIDs)) == nil {
			if err := putJSON(meta, keyIssueIDs, []string{}); err != nil {
				return err
			}
		}
		return nil
	})
}

func putJSON(b *bbolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bbolt.Bucket, key string, v any) (bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// GetIssue reads issue id. ok is false if it does not exist.
func (s *Store) GetIssue(id string) (issue types.Issue, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		ok, err = getJSON(tx.Bucket(bucketIssues), id, &issue)
		return err
	})
	return issue, ok, err
}

// ListIssueIDs returns the set of all known issue ids.
func (s *Store) ListIssueIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, err := getJSON(tx.Bucket(bucketMeta), keyIssueIDs, &ids)
		return err
	})
	return ids, err
}

// PutIssue atomically writes issue, registering its id in the issue_ids
// set if new, and publishes a snapshot.
func (s *Store) PutIssue(issue types.Issue) error {
	return s.mutate(func(tx *bbolt.Tx) error {
		issues := tx.Bucket(bucketIssues)
		if err := putJSON(issues, issue.ID, issue); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		var ids []string
		if _, err := getJSON(meta, keyIssueIDs, &ids); err != nil {
			return err
		}
		for _, id := range ids {
			if id == issue.ID {
				return nil
			}
		}
		ids = append(ids, issue.ID)
		return putJSON(meta, keyIssueIDs, ids)
	})
}

// GetBatch reads batch id.
func (s *Store) GetBatch(id string) (batch types.Batch, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		ok, err = getJSON(tx.Bucket(bucketBatches), id, &batch)
		return err
	})
	return batch, ok, err
}

// PutBatch atomically writes batch and publishes a snapshot.
func (s *Store) PutBatch(batch types.Batch) error {
	return s.mutate(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketBatches), batch.ID, batch)
	})
}

// PendingBatchIDs returns the queue of batch ids awaiting dispatch.
func (s *Store) PendingBatchIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, err := getJSON(tx.Bucket(bucketMeta), keyPendingBatchIDs, &ids)
		return err
	})
	return ids, err
}

// SetPendingBatchIDs atomically replaces the pending-batch queue.
func (s *Store) SetPendingBatchIDs(ids []string) error {
	return s.mutate(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketMeta), keyPendingBatchIDs, ids)
	})
}

// WorkerArray returns the fixed-size worker slot array.
func (s *Store) WorkerArray() (arr [types.MaxWorkers]types.WorkerSlot, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		_, err := getJSON(tx.Bucket(bucketMeta), keyWorkerArray, &arr)
		return err
	})
	return arr, err
}

// SetWorkerArray atomically replaces the whole worker slot array.
func (s *Store) SetWorkerArray(arr [types.MaxWorkers]types.WorkerSlot) error {
	return s.mutate(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketMeta), keyWorkerArray, arr)
	})
}

// MutateWorkerSlot applies fn to slot i and persists the result in one
// atomic transaction, avoiding read-modify-write races across components.
func (s *Store) MutateWorkerSlot(i int, fn func(*types.WorkerSlot)) error {
	return s.mutate(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		var arr [types.MaxWorkers]types.WorkerSlot
		if _, err := getJSON(meta, keyWorkerArray, &arr); err != nil {
			return err
		}
		if i < 0 || i >= len(arr) {
			return fmt.Errorf("worker slot %d out of range", i)
		}
		fn(&arr[i])
		return putJSON(meta, keyWorkerArray, arr)
	})
}

// Counters returns the current per-project counters.
func (s *Store) Counters() (c types.Counters, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		_, err := getJSON(tx.Bucket(bucketMeta), keyCounters, &c)
		return err
	})
	return c, err
}

// MutateCounters applies fn to the counters and persists the result
// atomically.
func (s *Store) MutateCounters(fn func(*types.Counters)) error {
	return s.mutate(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		var c types.Counters
		if _, err := getJSON(meta, keyCounters, &c); err != nil {
			return err
		}
		fn(&c)
		return putJSON(meta, keyCounters, c)
	})
}

// ProjectName returns the configured project name, if set.
func (s *Store) ProjectName() (name string, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		_, err := getJSON(tx.Bucket(bucketMeta), keyProjectName, &name)
		return err
	})
	return name, err
}

// SetProjectName atomically sets the project name.
func (s *Store) SetProjectName(name string) error {
	return s.mutate(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketMeta), keyProjectName, name)
	})
}

// mutate runs fn in a writable bbolt transaction. bbolt fsyncs before
// Update returns, giving the "durable before the operation returns"
// guarantee (§4.3) for free. On success it publishes a snapshot to
// subscribers.
func (s *Store) mutate(fn func(tx *bbolt.Tx) error) error {
	if err := s.db.Update(fn); err != nil {
		return err
	}
	s.publishSnapshot()
	return nil
}

// Subscribe registers a new best-effort snapshot subscriber. Callers
// should drain the channel promptly; a dropped snapshot never blocks or
// fails the writer.
func (s *Store) Subscribe() <-chan Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Snapshot, snapshotBufferSize)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

func (s *Store) publishSnapshot() {
	snap, err := s.snapshot()
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Slow consumer: drop rather than block the writer.
		}
	}
}

func (s *Store) snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		snap.Issues = make(map[string]types.Issue)
		if err := tx.Bucket(bucketIssues).ForEach(func(k, v []byte) error {
			var issue types.Issue
			if err := json.Unmarshal(v, &issue); err != nil {
				return err
			}
			snap.Issues[string(k)] = issue
			return nil
		}); err != nil {
			return err
		}

		snap.Batches = make(map[string]types.Batch)
		if err := tx.Bucket(bucketBatches).ForEach(func(k, v []byte) error {
			var batch types.Batch
			if err := json.Unmarshal(v, &batch); err != nil {
				return err
			}
			snap.Batches[string(k)] = batch
			return nil
		}); err != nil {
			return err
		}

		meta := tx.Bucket(bucketMeta)
		if _, err := getJSON(meta, keyWorkerArray, &snap.WorkerArray); err != nil {
			return err
		}
		if _, err := getJSON(meta, keyCounters, &snap.Counters); err != nil {
			return err
		}
		if _, err := getJSON(meta, keyPendingBatchIDs, &snap.PendingBatchIDs); err != nil {
			return err
		}
		if _, err := getJSON(meta, keyIssueIDs, &snap.IssueIDs); err != nil {
			return err
		}
		_, err := getJSON(meta, keyProjectName, &snap.ProjectName)
		return err
	})
	return snap, err
}

// Snapshot returns a fresh, consistent point-in-time copy of the store,
// independent of the subscriber mechanism.
func (s *Store) Snapshot() (Snapshot, error) {
	return s.snapshot()
}

// RecoverCrashedWork resets any slot left in starting/running (meaning the
// previous process died mid-task) to idle, and the issue it was working on
// back to pending. Must run before dispatch resumes (§3 invariant 6).
// Returns the number of slots recovered.
func (s *Store) RecoverCrashedWork() (int, error) {
	recovered := 0
	err := s.mutate(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		var arr [types.MaxWorkers]types.WorkerSlot
		if _, err := getJSON(meta, keyWorkerArray, &arr); err != nil {
			return err
		}
		issues := tx.Bucket(bucketIssues)
		for i := range arr {
			if arr[i].Status != types.WorkerStatusStarting && arr[i].Status != types.WorkerStatusRunning {
				continue
			}
			issueID := arr[i].CurrentIssueID
			arr[i] = types.WorkerSlot{ID: i, Status: types.WorkerStatusIdle}
			recovered++
			if issueID == nil {
				continue
			}
			var issue types.Issue
			if ok, err := getJSON(issues, *issueID, &issue); err != nil {
				return err
			} else if ok {
				issue.Status = types.IssueStatusPending
				issue.AssignedWorkerID = nil
				if err := putJSON(issues, issue.ID, issue); err != nil {
					return err
				}
			}
		}
		return putJSON(meta, keyWorkerArray, arr)
	})
	return recovered, err
}
