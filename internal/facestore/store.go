// Package facestore persists the mapping from student identifier to
// stored face embedding. Records live in an in-memory map for the process
// lifetime and are mirrored to a durable key-value backend under
// "face_<studentId>" keys so they survive restarts.
package facestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/facegate/internal/embedding"
)

// KeyPrefix namespaces face records in the durable backend.
const KeyPrefix = "face_"

// ErrNotFound is returned when no record exists for a student. The caller
// should route to the enrollment flow.
var ErrNotFound = errors.New("no stored face record for student")

// Record is one student's stored biometric template. At most one active
// record exists per student; a later Put overwrites (last write wins).
type Record struct {
	StudentID  string
	Embedding  embedding.Vector
	CapturedAt time.Time
	ImageRef   string
}

// persistedRecord is the JSON shape written to the durable backend.
type persistedRecord struct {
	StudentID string    `json:"studentId"`
	Embedding []float32 `json:"embedding"`
	Timestamp time.Time `json:"timestamp"`
	ImageURI  string    `json:"imageUri,omitempty"`
}

// Key returns the durable key for a student id.
func Key(studentID string) string {
	return KeyPrefix + studentID
}

// Store keeps the in-memory map consistent with the durable backend.
// LoadAll must complete before lookups are served; the orchestrator makes
// that part of its Ready gate.
type Store struct {
	kv     KV
	logger *zap.Logger

	mu      sync.RWMutex
	records map[string]Record
}

// New creates a Store over the given backend.
func New(kv KV, logger *zap.Logger) *Store {
	return &Store{
		kv:      kv,
		logger:  logger.Named("facestore"),
		records: make(map[string]Record),
	}
}

// Put writes the record durably, then updates the in-memory copy. On a
// durable-write failure neither copy is considered committed.
func (s *Store) Put(ctx context.Context, rec Record) error {
	if rec.StudentID == "" {
		return fmt.Errorf("student id required")
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("embedding required")
	}
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(persistedRecord{
		StudentID: rec.StudentID,
		Embedding: rec.Embedding,
		Timestamp: rec.CapturedAt,
		ImageURI:  rec.ImageRef,
	})
	if err != nil {
		return fmt.Errorf("encode face record: %w", err)
	}

	if err := s.kv.Set(ctx, Key(rec.StudentID), string(payload)); err != nil {
		return fmt.Errorf("persist face record: %w", err)
	}

	rec.Embedding = rec.Embedding.Clone()
	s.mu.Lock()
	s.records[rec.StudentID] = rec
	s.mu.Unlock()

	s.logger.Info("face record stored",
		zap.String("student_id", rec.StudentID),
		zap.Int("embedding_len", len(rec.Embedding)),
	)
	return nil
}

// Lookup returns the stored record for a student, or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, studentID string) (Record, error) {
	s.mu.RLock()
	rec, ok := s.records[studentID]
	s.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, studentID)
	}
	return rec, nil
}

// Remove deletes both the durable and in-memory copies.
func (s *Store) Remove(ctx context.Context, studentID string) error {
	if err := s.kv.Del(ctx, Key(studentID)); err != nil {
		return fmt.Errorf("delete face record: %w", err)
	}

	s.mu.Lock()
	delete(s.records, studentID)
	s.mu.Unlock()

	s.logger.Info("face record removed", zap.String("student_id", studentID))
	return nil
}

// LoadAll scans the durable namespace and rehydrates the in-memory map.
// Called once during initialization. Undecodable entries are skipped with
// a warning rather than failing the whole load.
func (s *Store) LoadAll(ctx context.Context) error {
	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return fmt.Errorf("scan face records: %w", err)
	}

	loaded := make(map[string]Record, len(keys))
	for _, key := range keys {
		value, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				continue
			}
			return fmt.Errorf("read face record %s: %w", key, err)
		}

		var p persistedRecord
		if err := json.Unmarshal([]byte(value), &p); err != nil {
			s.logger.Warn("skipping undecodable face record",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}

		studentID := p.StudentID
		if studentID == "" {
			studentID = strings.TrimPrefix(key, KeyPrefix)
		}
		loaded[studentID] = Record{
			StudentID:  studentID,
			Embedding:  p.Embedding,
			CapturedAt: p.Timestamp,
			ImageRef:   p.ImageURI,
		}
	}

	s.mu.Lock()
	s.records = loaded
	s.mu.Unlock()

	s.logger.Info("face records loaded", zap.Int("count", len(loaded)))
	return nil
}

// Students returns the sorted ids of all enrolled students.
func (s *Store) Students() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of enrolled students.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
