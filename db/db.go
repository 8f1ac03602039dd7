// Package db implements a service that keeps per-path hit counts in a
// bolt database.
package db

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/boltdb/bolt"
	"github.com/charmbracelet/log"
)

const (
	hitsBucket = "hits"

	queueSize = 1024
	batchSize = 128
)

// ErrNotConnected is returned when the service is used before Connect.
var ErrNotConnected = errors.New("database is not connected")

// Service is a service that interacts with the database.
//
// Record never blocks: hits are queued and written by a single goroutine
// started in Connect. When the queue is full the hit is dropped and the
// drop callback is called.
type Service struct {
	db     *bolt.DB
	logger *log.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan string
	done   chan struct{}
	onDrop func()
}

// Connect opens the database, creates the hits bucket and starts the writer.
func (s *Service) Connect(dbName string, mode os.FileMode, options *bolt.Options) (err error) {
	s.db, err = bolt.Open(dbName, mode, options)
	if err != nil {
		return fmt.Errorf("open %s: %w", dbName, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(hitsBucket))
		return err
	})
	if err != nil {
		_ = s.db.Close()
		return fmt.Errorf("create bucket %q: %w", hitsBucket, err)
	}

	if s.logger == nil {
		s.logger = log.Default()
	}
	s.queue = make(chan string, queueSize)
	s.done = make(chan struct{})
	go s.write()
	return nil
}

// Close stops accepting hits, writes the queued ones and closes the database.
func (s *Service) Close() (err error) {
	if s.db == nil {
		return ErrNotConnected
	}

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}

// SetLogger sets the logger.
func (s *Service) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// OnDrop sets a function called for every hit lost to a full queue.
func (s *Service) OnDrop(f func()) {
	s.onDrop = f
}

// Record queues a hit of path.
func (s *Service) Record(path string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.queue == nil {
		return
	}

	select {
	case s.queue <- path:
	default:
		if s.onDrop != nil {
			s.onDrop()
		}
	}
}

// Increment adds one hit to every path in a single transaction.
func (s *Service) Increment(paths ...string) error {
	if s.db == nil {
		return ErrNotConnected
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(hitsBucket))
		for _, p := range paths {
			n := decode(b.Get([]byte(p))) + 1
			if err := b.Put([]byte(p), encode(n)); err != nil {
				return fmt.Errorf("put %q: %w", p, err)
			}
		}
		return nil
	})
}

// Hit returns the number of hits of path.
func (s *Service) Hit(path string) (n uint64, err error) {
	if s.db == nil {
		return 0, ErrNotConnected
	}
	err = s.db.View(func(tx *bolt.Tx) error {
		n = decode(tx.Bucket([]byte(hitsBucket)).Get([]byte(path)))
		return nil
	})
	return
}

// Hits returns all paths and their hit counts.
func (s *Service) Hits() (hits map[string]uint64, err error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}
	hits = make(map[string]uint64)
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(hitsBucket)).ForEach(func(k, v []byte) error {
			hits[string(k)] = decode(v)
			return nil
		})
	})
	return
}

func (s *Service) write() {
	defer close(s.done)

	batch := make([]string, 0, batchSize)
	for p := range s.queue {
		batch = append(batch[:0], p)
	fill:
		for len(batch) < batchSize {
			select {
			case p, ok := <-s.queue:
				if !ok {
					break fill
				}
				batch = append(batch, p)
			default:
				break fill
			}
		}

		if err := s.Increment(batch...); err != nil {
			s.logger.Error("Failed to save hits", "count", len(batch), "err", err)
		}
	}
}

func encode(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func decode(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
