package server

import (
	"sync"
	"time"
)

// UploadRecord is the backend's bookkeeping row for one in-flight upload.
// The parts map is best-effort (fed by chunk reports); the authoritative
// parts list arrives with the complete request.
type UploadRecord struct {
	ID              string
	ReinitKey       string
	StorageUploadID string
	Path            string
	Filename        string
	ContentType     string
	TotalSize       int64
	ChunkSize       int64
	TotalChunks     int
	Parts           map[int]PartRecord
	CreatedAt       time.Time
	ExpiresAt       time.Time
	Completed       bool
}

// PartRecord is one reported part.
type PartRecord struct {
	PartNumber int
	ETag       string
	Size       int64
	ReportedAt time.Time
}

// Store is the in-memory upload registry. A relational metadata store would
// sit behind the same surface in production; the registry only needs to
// survive for the lifetime of an upload.
type Store struct {
	mu    sync.Mutex
	byID  map[string]*UploadRecord
	byKey map[string]string
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{
		byID:  make(map[string]*UploadRecord),
		byKey: make(map[string]string),
	}
}

// Create registers a new upload.
func (s *Store) Create(rec *UploadRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Parts == nil {
		rec.Parts = make(map[int]PartRecord)
	}
	s.byID[rec.ID] = rec
	if rec.ReinitKey != "" {
		s.byKey[rec.ReinitKey] = rec.ID
	}
}

// Get returns the upload with the given identifier.
func (s *Store) Get(id string) (*UploadRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	return rec, ok
}

// Lookup finds a live upload by its re-init key. A client re-running init
// after its part URLs expired lands on the same storage-layer upload, so
// parts it already stored stay valid.
func (s *Store) Lookup(key string) (*UploadRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	rec, ok := s.byID[id]
	if !ok || rec.Completed {
		return nil, false
	}
	return rec, true
}

// RecordPart stores a reported part. Duplicate reports for the same part
// number overwrite, never duplicate.
func (s *Store) RecordPart(id string, part PartRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return false
	}
	part.ReportedAt = time.Now()
	rec.Parts[part.PartNumber] = part
	return true
}

// MarkCompleted flags the upload finished and releases its re-init key.
func (s *Store) MarkCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return
	}
	rec.Completed = true
	delete(s.byKey, rec.ReinitKey)
}

// Delete removes an upload from the registry.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.byID[id]; ok {
		delete(s.byKey, rec.ReinitKey)
		delete(s.byID, id)
	}
}
