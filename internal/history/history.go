// Package history keeps a bounded per-job log of worker iterations in a bbolt database.
//
// The database is opened for the duration of each operation only, so several worker
// sets and status queries in other processes can share the file.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io/fs"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/alecthomas/errors"
	"go.etcd.io/bbolt"

	"github.com/block/repokeeper/internal/jobscheduler"
	"github.com/block/repokeeper/internal/logging"
)

// DefaultFile is the database name used inside the git directory.
const DefaultFile = "repokeeper.db"

type Config struct {
	Path string `hcl:"path,optional" help:"Run history database (defaults to repokeeper.db in the git directory)."`
	Keep int    `hcl:"keep,optional" help:"Records kept per job." default:"50"`
}

// Record is one stored iteration.
type Record struct {
	Job        string        `json:"job"`
	Supervisor string        `json:"supervisor"`
	Iteration  int           `json:"iteration"`
	Interval   int           `json:"interval"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

func (r Record) Failed() bool { return r.Error != "" }

func recordOf(result jobscheduler.Result) Record {
	record := Record{
		Job:        result.Job,
		Supervisor: result.Supervisor,
		Iteration:  result.Iteration,
		Interval:   result.Interval,
		Started:    result.Started,
		Duration:   result.Duration,
	}
	if result.Err != nil {
		record.Error = result.Err.Error()
	}
	return record
}

// History is a handle on the database file; it holds no open resources between calls.
type History struct {
	path    string
	keep    int
	timeout time.Duration
	// Serializes opens within the process; a second bbolt open would wait on the file lock.
	mu sync.Mutex
}

var _ jobscheduler.Observer = (*History)(nil)

func New(config Config) *History {
	keep := config.Keep
	if keep <= 0 {
		keep = 50
	}
	return &History{path: config.Path, keep: keep, timeout: 2 * time.Second}
}

func (h *History) Path() string { return h.path }

func (h *History) open(readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(h.path, 0600, &bbolt.Options{Timeout: h.timeout, ReadOnly: readOnly})
	if err != nil {
		return nil, errors.Errorf("failed to open history database %s: %w", h.path, err)
	}
	return db, nil
}

func (h *History) update(fn func(tx *bbolt.Tx) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	db, err := h.open(false)
	if err != nil {
		return err
	}
	return errors.Join(errors.WithStack(db.Update(fn)), db.Close())
}

// view runs fn read-only. A missing database reads as empty.
func (h *History) view(fn func(tx *bbolt.Tx) error) error {
	if _, err := os.Stat(h.path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	db, err := h.open(true)
	if err != nil {
		return err
	}
	return errors.Join(errors.WithStack(db.View(fn)), db.Close())
}

// Append stores result under its job's bucket and trims the bucket to the newest records.
func (h *History) Append(result jobscheduler.Result) error {
	value, err := json.Marshal(recordOf(result))
	if err != nil {
		return errors.Errorf("failed to encode record: %w", err)
	}
	return h.update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(result.Job))
		if err != nil {
			return errors.WithStack(err)
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return errors.WithStack(err)
		}
		if err := bucket.Put(sequenceKey(seq), value); err != nil {
			return errors.WithStack(err)
		}
		return h.trim(bucket)
	})
}

func (h *History) trim(bucket *bbolt.Bucket) error {
	var keys [][]byte
	cursor := bucket.Cursor()
	for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
		keys = append(keys, k)
	}
	for _, k := range keys[:max(len(keys)-h.keep, 0)] {
		if err := bucket.Delete(k); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func sequenceKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

// Observe appends result, logging rather than returning storage failures.
func (h *History) Observe(ctx context.Context, result jobscheduler.Result) {
	if err := h.Append(result); err != nil {
		logging.FromContext(ctx).WarnContext(ctx, "Failed to record job result", "error", err)
	}
}

// List returns the stored records for job, newest first.
func (h *History) List(job string) ([]Record, error) {
	var records []Record
	err := h.view(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(job))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return errors.Errorf("failed to decode %s record: %w", job, err)
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// Latest returns the most recent record of every job with history.
func (h *History) Latest() (map[string]Record, error) {
	latest := map[string]Record{}
	err := h.view(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bbolt.Bucket) error {
			_, v := bucket.Cursor().Last()
			if v == nil {
				return nil
			}
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return errors.Errorf("failed to decode %s record: %w", name, err)
			}
			latest[string(name)] = record
			return nil
		})
	})
	return latest, err
}

// Jobs returns the names of jobs with stored history, sorted.
func (h *History) Jobs() ([]string, error) {
	latest, err := h.Latest()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(latest))
	for name := range latest {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
