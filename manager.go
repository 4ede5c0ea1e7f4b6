// Package uploadpipe moves large media files into cloud object storage as
// chunked, resumable multipart uploads.
//
// The Manager owns the working set of upload sessions: it validates and
// admits files, drives their chunk transfers through a bounded-concurrency
// scheduler, and exposes the lifecycle commands (pause, resume, retry,
// cancel) and aggregate progress the caller builds UI on.
package uploadpipe

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/stillframe/uploadpipe/errors"
	"github.com/stillframe/uploadpipe/internal/api"
	"github.com/stillframe/uploadpipe/internal/protocol"
	"github.com/stillframe/uploadpipe/internal/scheduler"
	"github.com/stillframe/uploadpipe/internal/session"
	"github.com/stillframe/uploadpipe/internal/transport"
	"github.com/stillframe/uploadpipe/internal/validation"
	"github.com/stillframe/uploadpipe/uptypes"
)

// Default admission limits.
const (
	defaultMaxFiles    = 20
	defaultMaxFileSize = 50 << 30 // 50 GiB
)

// FileUpload is one file submitted for admission. ContentType is an
// optional hint (the browser's File.type equivalent); when empty the type
// is sniffed from the file's leading bytes.
type FileUpload struct {
	Source      uptypes.Source
	ContentType string
}

// Manager orchestrates one-to-many upload sessions. The working set is
// owned by the manager and only reachable through its methods, which keeps
// the concurrency invariants enforceable.
type Manager struct {
	mu sync.Mutex

	cfg   uptypes.ManagerConfig
	sched *scheduler.Scheduler

	sessions map[string]*managed
	order    []string

	// batchFired prevents the aggregate completion event from firing more
	// than once per admitted batch; a new admission re-arms it.
	batchFired bool

	wg sync.WaitGroup
}

// managed pairs a session with its run control.
type managed struct {
	sess   *session.Session
	uctx   uptypes.UploadContext
	cancel context.CancelFunc
}

// New creates a manager that talks to the upload backend at baseURL.
//
// Example:
//
//	mgr := uploadpipe.New("https://studio.example.com",
//	    uploadpipe.WithConcurrency(3),
//	    uploadpipe.WithCategory(uptypes.CategoryRaw),
//	)
func New(baseURL string, opts ...uptypes.Option) *Manager {
	cfg := defaultConfig(opts)
	proto := protocol.New(baseURL, cfg.HTTPClient)
	trans := transport.New(cfg.HTTPClient, cfg.ChunkTimeout)
	return newManager(proto, trans, cfg)
}

// NewWithClients creates a manager with custom protocol and transport
// implementations. This is primarily used for testing with mocks.
func NewWithClients(proto api.Protocol, trans api.ChunkTransport, opts ...uptypes.Option) *Manager {
	return newManager(proto, trans, defaultConfig(opts))
}

func defaultConfig(opts []uptypes.Option) uptypes.ManagerConfig {
	cfg := uptypes.ManagerConfig{
		MaxFiles:    defaultMaxFiles,
		MaxFileSize: defaultMaxFileSize,
		Category:    uptypes.CategoryDeliverable,
		Concurrency: scheduler.DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func newManager(proto api.Protocol, trans api.ChunkTransport, cfg uptypes.ManagerConfig) *Manager {
	m := &Manager{
		cfg:      cfg,
		sessions: make(map[string]*managed),
	}
	m.sched = scheduler.New(proto, trans, scheduler.Config{
		Concurrency:   cfg.Concurrency,
		ChunkRetries:  cfg.ChunkRetries,
		ReportRetries: cfg.ReportRetries,
		RetryBackoff:  cfg.RetryBackoff,
		Notify:        m.notifyProgress,
	})
	return m
}

// Admit validates a batch of files and creates a pending session for each
// file that passes. Accepted sessions start uploading immediately.
// Rejections are per-file: one invalid file never blocks the valid files
// admitted alongside it.
func (m *Manager) Admit(files []FileUpload, uctx uptypes.UploadContext) uptypes.AdmissionResult {
	limits := validation.Limits{
		MaxFileSize:   m.cfg.MaxFileSize,
		AcceptedTypes: m.cfg.AcceptedTypes,
		Category:      m.categoryFor(uctx),
	}

	var result uptypes.AdmissionResult
	for _, f := range files {
		contentType, err := validation.ValidateFile(f.Source, f.ContentType, limits)
		if err != nil {
			result.Rejected = append(result.Rejected, uptypes.RejectedFile{
				Filename: f.Source.Name(),
				Reason:   err,
			})
			continue
		}

		m.mu.Lock()
		if m.cfg.MaxFiles > 0 && len(m.sessions) >= m.cfg.MaxFiles {
			m.mu.Unlock()
			result.Rejected = append(result.Rejected, uptypes.RejectedFile{
				Filename: f.Source.Name(),
				Reason: errors.NewError("admit", errors.ClassValidation, errors.ErrQueueFull).
					WithMessage(f.Source.Name()),
			})
			continue
		}

		sess := session.New(uuid.NewString(), f.Source, uptypes.FileInfo{
			Name:        f.Source.Name(),
			ContentType: contentType,
			TotalSize:   f.Source.Size(),
		})
		ms := &managed{sess: sess, uctx: uctx}
		m.sessions[sess.ID()] = ms
		m.order = append(m.order, sess.ID())
		m.batchFired = false
		m.startRunLocked(ms)
		m.mu.Unlock()

		result.Accepted = append(result.Accepted, sess.ID())
	}
	return result
}

func (m *Manager) categoryFor(uctx uptypes.UploadContext) uptypes.FileCategory {
	if uctx.Category != "" {
		return uctx.Category
	}
	return m.cfg.Category
}

// startRunLocked launches the session's run goroutine. Caller holds m.mu.
func (m *Manager) startRunLocked(ms *managed) {
	ctx, cancel := context.WithCancel(context.Background())
	ms.cancel = cancel
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer cancel()

		err := m.sched.Run(ctx, ms.sess, ms.uctx)
		switch {
		case err == nil:
			if m.cfg.Tracker != nil {
				m.cfg.Tracker.Complete(ms.sess.ID())
			}
			m.maybeFireBatchComplete()
		case errors.IsCancelled(err) || stderrors.Is(err, context.Canceled):
			// Pause or cancel tore the run down; session state is already
			// what the user asked for.
		default:
			if m.cfg.Tracker != nil {
				m.cfg.Tracker.Error(ms.sess.ID(), err)
			}
		}
	}()
}

// Pause suspends an uploading session. In-flight chunk transfers are
// aborted and their results discarded; confirmed parts stay in the ledger.
func (m *Manager) Pause(sessionID string) error {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return errors.NewError("pause", errors.ClassValidation, errors.ErrSessionNotFound)
	}
	if err := ms.sess.Pause(); err != nil {
		return err
	}
	if ms.cancel != nil {
		ms.cancel()
	}
	return nil
}

// Resume continues a paused session. Only the parts missing from the ledger
// are transferred; no confirmed byte is re-sent.
func (m *Manager) Resume(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return errors.NewError("resume", errors.ClassValidation, errors.ErrSessionNotFound)
	}
	if ms.sess.Status() != uptypes.StatusPaused {
		return errors.NewError("resume", errors.ClassValidation, errors.ErrInvalidTransition).
			WithMessage(string(ms.sess.Status()))
	}
	m.startRunLocked(ms)
	return nil
}

// Retry re-admits a failed session, clearing its error. A session stuck on
// a finalize failure stays in processing and retries the complete call only.
// If the chunk plan expired in the meantime, init runs again and the
// already-uploaded parts are preserved.
func (m *Manager) Retry(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return errors.NewError("retry", errors.ClassValidation, errors.ErrSessionNotFound)
	}
	switch ms.sess.Status() {
	case uptypes.StatusError:
		if err := ms.sess.ResetForRetry(); err != nil {
			return err
		}
	case uptypes.StatusProcessing:
		// Ledger is complete; the run re-issues complete.
	default:
		return errors.NewError("retry", errors.ClassValidation, errors.ErrInvalidTransition).
			WithMessage(string(ms.sess.Status()))
	}
	m.startRunLocked(ms)
	return nil
}

// Cancel aborts a session and removes it from the working set. In-flight
// transfers are discarded, not counted as failures. Server-side cleanup of
// a partially-uploaded multipart object is left to the backend's expiry
// policy.
func (m *Manager) Cancel(sessionID string) error {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		m.order = lo.Without(m.order, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return errors.NewError("cancel", errors.ClassValidation, errors.ErrSessionNotFound)
	}

	ms.sess.Invalidate()
	if ms.cancel != nil {
		ms.cancel()
	}

	// Dropping the last incomplete session can leave a fully-completed set.
	m.maybeFireBatchComplete()
	return nil
}

// Remove dismisses a terminal session (completed or error) from the
// working set. Use Cancel for sessions still in flight.
func (m *Manager) Remove(sessionID string) error {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return errors.NewError("remove", errors.ClassValidation, errors.ErrSessionNotFound)
	}
	switch ms.sess.Status() {
	case uptypes.StatusCompleted, uptypes.StatusError:
		delete(m.sessions, sessionID)
		m.order = lo.Without(m.order, sessionID)
		m.mu.Unlock()

		// Dismissing a failed session can leave a fully-completed set.
		m.maybeFireBatchComplete()
		return nil
	default:
		m.mu.Unlock()
		return errors.NewError("remove", errors.ClassValidation, errors.ErrInvalidTransition).
			WithMessage(string(ms.sess.Status()))
	}
}

// Progress returns a snapshot of one session.
func (m *Manager) Progress(sessionID string) (uptypes.Progress, error) {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return uptypes.Progress{}, errors.NewError("progress", errors.ClassValidation, errors.ErrSessionNotFound)
	}
	return ms.sess.Progress(time.Now()), nil
}

// Snapshot returns progress for every session in admission order.
func (m *Manager) Snapshot() []uptypes.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := make([]uptypes.Progress, 0, len(m.order))
	for _, id := range m.order {
		if ms, ok := m.sessions[id]; ok {
			out = append(out, ms.sess.Progress(now))
		}
	}
	return out
}

// Result returns the finalize result for a completed session.
func (m *Manager) Result(sessionID string) (*uptypes.CompleteResult, error) {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, errors.NewError("result", errors.ClassValidation, errors.ErrSessionNotFound)
	}
	res := ms.sess.Result()
	if res == nil {
		return nil, errors.NewError("result", errors.ClassValidation, errors.ErrInvalidTransition).
			WithMessage(string(ms.sess.Status()))
	}
	return res, nil
}

// Wait blocks until every launched run goroutine has returned. Paused and
// failed sessions count as returned; Wait does not wait for user action.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// notifyProgress forwards a confirmed part to the configured tracker.
func (m *Manager) notifyProgress(sess *session.Session) {
	if m.cfg.Tracker == nil {
		return
	}
	p := sess.Progress(time.Now())
	m.cfg.Tracker.Update(sess.ID(), p.BytesUploaded, p.TotalBytes)
}

// maybeFireBatchComplete emits the aggregate completion event once every
// session still in the working set has completed. Cancelled and removed
// sessions do not hold the batch open.
func (m *Manager) maybeFireBatchComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.OnBatchComplete == nil || m.batchFired || len(m.sessions) == 0 {
		return
	}
	for _, ms := range m.sessions {
		if ms.sess.Status() != uptypes.StatusCompleted {
			return
		}
	}

	completed := make([]uptypes.CompletedUpload, 0, len(m.order))
	for _, id := range m.order {
		ms, ok := m.sessions[id]
		if !ok {
			continue
		}
		res := ms.sess.Result()
		completed = append(completed, uptypes.CompletedUpload{
			AssetID:     res.AssetID,
			Filename:    ms.sess.Info().Name,
			StoragePath: res.StoragePath,
		})
	}
	m.batchFired = true

	go m.cfg.OnBatchComplete(completed)
}
