package proof

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"strataprover/pkg/types"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTasks  = []byte("tasks")
	bucketProofs = []byte("proofs")
)

// Store persists tasks and their proofs in bbolt.
type Store struct {
	db *bolt.DB
}

// OpenStore opens or creates the task database under dir.
func OpenStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data dir required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, "prover.db"), 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTasks, bucketProofs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) PutTask(task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Put([]byte(task.ID), data)
	})
}

// Task returns the task with id; ok is false when it does not exist.
func (s *Store) Task(id string) (*types.Task, bool, error) {
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return nil
		}
		task = new(types.Task)
		return json.Unmarshal(data, task)
	})
	if err != nil {
		return nil, false, fmt.Errorf("decode task %s: %w", id, err)
	}
	return task, task != nil, nil
}

// Tasks returns every stored task, oldest first.
func (s *Store) Tasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			task := new(types.Task)
			if err := json.Unmarshal(v, task); err != nil {
				return fmt.Errorf("decode task %s: %w", string(k), err)
			}
			tasks = append(tasks, task)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *Store) PutProof(id string, proof []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProofs).Put([]byte(id), proof)
	})
}

// Proof returns the stored proof bytes of task id.
func (s *Store) Proof(id string) ([]byte, bool, error) {
	var proof []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketProofs).Get([]byte(id)); v != nil {
			proof = append([]byte(nil), v...)
		}
		return nil
	})
	return proof, proof != nil, err
}

// FailUnfinished marks tasks left pending or proving by a previous run as
// failed and returns how many were updated.
func (s *Store) FailUnfinished(reason string) (int, error) {
	updated := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)

		// Cursors are invalidated by writes, so collect first.
		pending := make(map[string][]byte)
		if err := b.ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return fmt.Errorf("decode task %s: %w", string(k), err)
			}
			if task.Status.Finished() {
				return nil
			}

			task.Status = types.StatusFailed
			task.Error = reason
			task.UpdatedAt = time.Now()
			data, err := json.Marshal(&task)
			if err != nil {
				return err
			}
			pending[string(k)] = data
			return nil
		}); err != nil {
			return err
		}

		for k, data := range pending {
			if err := b.Put([]byte(k), data); err != nil {
				return err
			}
		}
		updated = len(pending)
		return nil
	})
	return updated, err
}
