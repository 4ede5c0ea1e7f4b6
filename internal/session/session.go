// Package session implements the per-file upload state machine and the
// uploaded-parts ledger.
//
// A session moves pending -> uploading <-> paused -> processing -> completed,
// with error reachable from uploading or processing and retry returning the
// session to pending. The ledger is the sole source of truth for completion
// and resumption: it is keyed by part number, grows monotonically, and an
// entry is recorded at most once per part.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/stillframe/uploadpipe/errors"
	"github.com/stillframe/uploadpipe/uptypes"
)

// Session is the per-file upload state. All methods are safe for concurrent
// use; the ledger is mutated only through RecordPart.
type Session struct {
	mu sync.Mutex

	id     string
	source uptypes.Source
	info   uptypes.FileInfo

	status uptypes.Status
	plan   *uptypes.ChunkPlan
	parts  map[int]uptypes.UploadedPart

	lastErr   error
	startedAt time.Time
	result    *uptypes.CompleteResult

	// gen is the run generation. It is bumped whenever the current run is
	// interrupted (pause, cancel, retry). A ledger write carrying a stale
	// generation is discarded, so a transfer finishing after its run was
	// torn down cannot mutate the ledger.
	gen uint64
}

// New creates a pending session for one admitted file.
func New(id string, source uptypes.Source, info uptypes.FileInfo) *Session {
	return &Session{
		id:     id,
		source: source,
		info:   info,
		status: uptypes.StatusPending,
		parts:  make(map[int]uptypes.UploadedPart),
	}
}

// ID returns the session's local identifier.
func (s *Session) ID() string { return s.id }

// Source returns the file handle the session reads from.
func (s *Session) Source() uptypes.Source { return s.source }

// Info returns the file metadata captured at admission.
func (s *Session) Info() uptypes.FileInfo { return s.info }

// Status returns the session's current state.
func (s *Session) Status() uptypes.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the most recent failure, or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Result returns the finalize result once the session completed.
func (s *Session) Result() *uptypes.CompleteResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// SetPlan assigns the chunk plan returned by init. A plan is assigned at
// most once per session lifetime; a second assignment while the existing
// plan is live is rejected.
func (s *Session) SetPlan(plan *uptypes.ChunkPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan != nil {
		return errors.NewError("setPlan", errors.ClassInit, errors.ErrPlanAlreadyIssued).
			WithUpload(s.plan.UploadID)
	}
	s.plan = plan
	return nil
}

// ReissuePlan replaces an expired plan with a fresh one. The ledger is kept:
// parts already stored at the storage layer stay valid and are not re-sent.
func (s *Session) ReissuePlan(plan *uptypes.ChunkPlan, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		s.plan = plan
		return nil
	}
	if !s.plan.Expired(now) {
		return errors.NewError("reissuePlan", errors.ClassInit, errors.ErrPlanAlreadyIssued).
			WithUpload(s.plan.UploadID)
	}
	s.plan = plan
	return nil
}

// Plan returns the current chunk plan, or nil before init.
func (s *Session) Plan() *uptypes.ChunkPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// Begin transitions the session into uploading and returns the run
// generation chunk transfers of this run must carry. Valid from pending,
// paused, and uploading (a resumed run re-entering is a no-op transition).
func (s *Session) Begin(now time.Time) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case uptypes.StatusPending, uptypes.StatusPaused, uptypes.StatusUploading:
	default:
		return 0, errors.NewError("begin", errors.ClassInit, errors.ErrInvalidTransition).
			WithMessage(string(s.status))
	}
	s.status = uptypes.StatusUploading
	if s.startedAt.IsZero() {
		// Set on the first transition into uploading only; pause and resume
		// keep the original start time so the ETA stays honest.
		s.startedAt = now
	}
	return s.gen, nil
}

// Pause suspends an uploading session. Confirmed parts are retained and the
// run generation is bumped so in-flight transfers cannot land late writes.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != uptypes.StatusUploading {
		return errors.NewError("pause", errors.ClassCancelled, errors.ErrInvalidTransition).
			WithMessage(string(s.status))
	}
	s.status = uptypes.StatusPaused
	s.gen++
	return nil
}

// Invalidate tears the session down for cancellation or removal. Any
// transfer still in flight is fenced off from the ledger.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
}

// Fail moves the session to the error state with the given cause.
// A session already terminal keeps its state.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == uptypes.StatusCompleted {
		return
	}
	s.status = uptypes.StatusError
	s.lastErr = err
	s.gen++
}

// FailProcessing records a finalize failure but keeps the session in
// processing: the parts ledger is complete and re-issuing complete with the
// same list is a valid retry.
func (s *Session) FailProcessing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != uptypes.StatusProcessing {
		return
	}
	s.lastErr = err
}

// ResetForRetry clears the error state and re-admits the session. Valid from
// error only; a processing session retries by re-issuing complete instead.
func (s *Session) ResetForRetry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != uptypes.StatusError {
		return errors.NewError("retry", errors.ClassInit, errors.ErrInvalidTransition).
			WithMessage(string(s.status))
	}
	s.status = uptypes.StatusPending
	s.lastErr = nil
	s.gen++
	return nil
}

// RecordPart adds a confirmed part to the ledger. The write is discarded
// when gen is stale (the run was paused, cancelled, or failed since the
// transfer started) so cancellation never corrupts the ledger. Recording the
// same part number twice overwrites, never duplicates.
func (s *Session) RecordPart(gen uint64, part uptypes.UploadedPart) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.status != uptypes.StatusUploading {
		return false
	}
	s.parts[part.PartNumber] = part
	return true
}

// PartsDone returns the number of confirmed parts.
func (s *Session) PartsDone() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parts)
}

// Parts returns the ledger sorted by part number.
func (s *Session) Parts() []uptypes.UploadedPart {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := lo.Values(s.parts)
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts
}

// RemainingTargets returns the plan's part targets not yet in the ledger,
// in part order. This is the resume set: no confirmed byte is re-sent.
func (s *Session) RemainingTargets() []uptypes.PartTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return nil
	}
	return lo.Filter(s.plan.PartTargets, func(t uptypes.PartTarget, _ int) bool {
		_, done := s.parts[t.PartNumber]
		return !done
	})
}

// MarkProcessing transitions uploading -> processing. It refuses to move
// until every part of the plan is in the ledger.
func (s *Session) MarkProcessing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == uptypes.StatusProcessing {
		return nil
	}
	if s.status != uptypes.StatusUploading {
		return errors.NewError("markProcessing", errors.ClassComplete, errors.ErrInvalidTransition).
			WithMessage(string(s.status))
	}
	if s.plan == nil || len(s.parts) != s.plan.TotalChunks {
		return errors.NewError("markProcessing", errors.ClassComplete, errors.ErrIncompleteParts)
	}
	s.status = uptypes.StatusProcessing
	return nil
}

// Complete records the finalize result and moves the session to completed.
func (s *Session) Complete(result *uptypes.CompleteResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != uptypes.StatusProcessing {
		return errors.NewError("complete", errors.ClassComplete, errors.ErrInvalidTransition).
			WithMessage(string(s.status))
	}
	s.status = uptypes.StatusCompleted
	s.result = result
	s.lastErr = nil
	return nil
}

// Progress returns a snapshot of the session. Byte counts are derived from
// the ledger, so progress never regresses and a paused session freezes at
// its last confirmed byte.
func (s *Session) Progress(now time.Time) uptypes.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := uptypes.Progress{
		SessionID:  s.id,
		Filename:   s.info.Name,
		Status:     s.status,
		TotalBytes: s.info.TotalSize,
	}
	if s.lastErr != nil {
		p.LastError = s.lastErr.Error()
	}
	if s.plan == nil {
		return p
	}
	p.TotalParts = s.plan.TotalChunks
	p.PartsDone = len(s.parts)
	for _, part := range s.parts {
		p.BytesUploaded += part.Size
	}
	if s.info.TotalSize > 0 {
		p.Percent = float64(p.BytesUploaded) / float64(s.info.TotalSize) * 100
	}
	if s.status == uptypes.StatusCompleted {
		p.Percent = 100
	}

	// ETA: elapsed * remaining / uploaded, unknown until a byte is confirmed.
	if p.BytesUploaded > 0 && !s.startedAt.IsZero() && p.BytesUploaded < p.TotalBytes {
		elapsed := now.Sub(s.startedAt)
		p.ETA = time.Duration(float64(elapsed) *
			float64(p.TotalBytes-p.BytesUploaded) / float64(p.BytesUploaded))
		p.ETAKnown = true
	}
	return p
}
