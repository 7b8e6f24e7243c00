// Package journal persists state machine transitions in a bbolt file.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cjeanneret/StepSeq/internal/debug"
	"github.com/cjeanneret/StepSeq/internal/logic/motion"
)

const bucket = "transitions"

// DefaultBuffer is the number of entries queued before Transition drops.
const DefaultBuffer = 64

// Entry is one stored transition.
type Entry struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
	motion.Transition
}

// Journal writes transitions asynchronously. Transition never blocks the
// poll loop; when the queue is full the entry is dropped and logged.
type Journal struct {
	db      *bolt.DB
	queue   chan Entry
	done    chan struct{}
	now     func() time.Time
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// Open opens (or creates) the journal file and starts the writer.
func Open(path string, buffer int) (*Journal, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal bucket: %w", err)
	}

	j := &Journal{
		db:    db,
		queue: make(chan Entry, buffer),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	go j.writer()
	debug.Info("Journal opened: %s", path)
	return j, nil
}

// Transition implements motion.Observer.
func (j *Journal) Transition(t motion.Transition) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- Entry{Time: j.now(), Transition: t}:
	default:
		j.dropped++
		debug.Error(fmt.Errorf("journal queue full, dropped %s event (%d dropped)", t.Event, j.dropped))
	}
}

// Dropped returns the number of entries lost to a full queue.
func (j *Journal) Dropped() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

func (j *Journal) writer() {
	defer close(j.done)
	for e := range j.queue {
		if err := j.append(e); err != nil {
			debug.Error(fmt.Errorf("journal write: %w", err))
		}
	}
}

func (j *Journal) append(e Entry) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = seq
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, errors.New("journal: n must be positive")
	}
	entries := make([]Entry, 0, n)
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < n; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Close drains the queue and closes the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	<-j.done
	return j.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
