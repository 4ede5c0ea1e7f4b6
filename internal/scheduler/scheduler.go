// Package scheduler drives chunk dispatch for upload sessions under a
// bounded-parallelism policy.
//
// The bound is global: at most Concurrency chunk transfers are in flight
// across all sessions at any instant, enforced by a weighted semaphore
// shared by every run. Within one session, parts are dispatched in part
// order in batches of the same size; a session finishes its current batch
// before the next is cut. Per-chunk transient failures are absorbed here by
// a bounded retry loop and never surface unless the budget is exhausted.
package scheduler

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/stillframe/uploadpipe/errors"
	"github.com/stillframe/uploadpipe/internal/api"
	"github.com/stillframe/uploadpipe/internal/session"
	"github.com/stillframe/uploadpipe/uptypes"
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultConcurrency   = 3
	DefaultChunkRetries  = 3
	DefaultReportRetries = 3
	DefaultRetryBackoff  = 500 * time.Millisecond
)

// Config holds scheduler tuning.
type Config struct {
	// Concurrency is the global in-flight chunk cap K
	Concurrency int

	// ChunkRetries is the per-chunk attempt budget
	ChunkRetries int

	// ReportRetries is the attempt budget for the bookkeeping report
	ReportRetries int

	// RetryBackoff is the base delay between attempts; grows linearly
	RetryBackoff time.Duration

	// Notify, when set, is called after every confirmed part
	Notify func(*session.Session)
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ChunkRetries <= 0 {
		c.ChunkRetries = DefaultChunkRetries
	}
	if c.ReportRetries <= 0 {
		c.ReportRetries = DefaultReportRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
}

// Scheduler owns the global concurrency budget and runs sessions against the
// protocol and transport implementations it was built with.
type Scheduler struct {
	protocol  api.Protocol
	transport api.ChunkTransport
	cfg       Config
	sem       *semaphore.Weighted
}

// New creates a scheduler. The semaphore is shared across every session the
// scheduler runs, which is what makes the concurrency bound global.
func New(protocol api.Protocol, transport api.ChunkTransport, cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		protocol:  protocol,
		transport: transport,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Run drives one session from its current ledger state to completion.
// It returns nil when the session completed, a cancellation error when the
// run's context was cancelled (pause/cancel; session state is the caller's
// concern), and the terminal failure otherwise, with the session already
// moved to its failure state.
func (s *Scheduler) Run(ctx context.Context, sess *session.Session, uctx uptypes.UploadContext) error {
	// A processing session retries by re-issuing complete with the same
	// parts list; its ledger is already full.
	if sess.Status() == uptypes.StatusProcessing {
		return s.finalize(ctx, sess)
	}

	gen, err := sess.Begin(time.Now())
	if err != nil {
		return err
	}

	plan, err := s.ensurePlan(ctx, sess, uctx)
	if err != nil {
		if isContextCancel(err) {
			return err
		}
		sess.Fail(err)
		return err
	}

	if err := s.transferRemaining(ctx, sess, gen, plan); err != nil {
		if isContextCancel(err) || errors.IsCancelled(err) {
			return err
		}
		sess.Fail(err)
		return err
	}

	return s.finalize(ctx, sess)
}

// ensurePlan obtains the session's chunk plan, running init when the session
// has none and re-running it when the part targets expired. Re-init keeps
// the ledger: parts already stored at the storage layer are replayed into
// complete, never re-sent.
func (s *Scheduler) ensurePlan(
	ctx context.Context,
	sess *session.Session,
	uctx uptypes.UploadContext,
) (*uptypes.ChunkPlan, error) {
	now := time.Now()
	plan := sess.Plan()

	switch {
	case plan == nil:
		plan, err := s.protocol.Init(ctx, sess.Info(), uctx)
		if err != nil {
			return nil, err
		}
		if err := sess.SetPlan(plan); err != nil {
			return nil, err
		}
		return plan, nil

	case plan.Expired(now):
		fresh, err := s.protocol.Init(ctx, sess.Info(), uctx)
		if err != nil {
			return nil, err
		}
		if err := sess.ReissuePlan(fresh, now); err != nil {
			return nil, err
		}
		return fresh, nil

	default:
		return plan, nil
	}
}

// transferRemaining uploads every part not yet in the ledger, in part order,
// in batches of at most K.
func (s *Scheduler) transferRemaining(
	ctx context.Context,
	sess *session.Session,
	gen uint64,
	plan *uptypes.ChunkPlan,
) error {
	remaining := sess.RemainingTargets()
	batch := s.cfg.Concurrency

	for start := 0; start < len(remaining); start += batch {
		end := start + batch
		if end > len(remaining) {
			end = len(remaining)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, target := range remaining[start:end] {
			g.Go(func() error {
				if err := s.sem.Acquire(gctx, 1); err != nil {
					return errors.NewError("dispatch", errors.ClassCancelled, err).
						WithPart(target.PartNumber)
				}
				defer s.sem.Release(1)
				return s.uploadOne(gctx, sess, gen, plan, target)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// uploadOne transfers a single part under the per-chunk retry budget, then
// records it in the ledger and reports it to the backend.
func (s *Scheduler) uploadOne(
	ctx context.Context,
	sess *session.Session,
	gen uint64,
	plan *uptypes.ChunkPlan,
	target uptypes.PartTarget,
) error {
	offset := int64(target.PartNumber-1) * plan.ChunkSize
	length := plan.ChunkSize
	if offset+length > sess.Info().TotalSize {
		length = sess.Info().TotalSize - offset
	}

	var etag string
	var lastErr error
	for attempt := 1; attempt <= s.cfg.ChunkRetries; attempt++ {
		reader := &sourceReader{r: io.NewSectionReader(sess.Source(), offset, length)}

		etag, lastErr = s.transport.PutChunk(ctx, target, reader, length)
		if lastErr == nil {
			break
		}
		if errors.IsCancelled(lastErr) || isContextCancel(lastErr) {
			return lastErr
		}
		if reader.readErr != nil {
			// The local file handle went away; no amount of retrying a
			// network transfer fixes that.
			return errors.NewError("uploadChunk", errors.ClassChunk, errors.ErrSourceUnavailable).
				WithUpload(plan.UploadID).
				WithPart(target.PartNumber)
		}
		if attempt == s.cfg.ChunkRetries {
			return errors.NewError("uploadChunk", errors.ClassChunk, errors.ErrRetriesExhausted).
				WithUpload(plan.UploadID).
				WithPart(target.PartNumber).
				WithMessage(lastErr.Error())
		}
		if err := sleepCtx(ctx, s.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
			return err
		}
	}

	part := uptypes.UploadedPart{
		PartNumber: target.PartNumber,
		ETag:       etag,
		Size:       length,
	}
	if !sess.RecordPart(gen, part) {
		// The run was torn down while this transfer was in flight. The
		// bytes may have landed in storage, but they must not count here.
		return nil
	}
	if s.cfg.Notify != nil {
		s.cfg.Notify(sess)
	}

	s.reportPart(ctx, plan.UploadID, part)
	return nil
}

// reportPart retries the bookkeeping report on its own budget, independently
// of the transfer. Completion is driven by the local ledger, so a report
// that keeps failing is dropped after the budget rather than failing the
// session; the server ack is best-effort bookkeeping.
func (s *Scheduler) reportPart(ctx context.Context, uploadID string, part uptypes.UploadedPart) {
	for attempt := 1; attempt <= s.cfg.ReportRetries; attempt++ {
		err := s.protocol.ReportChunk(ctx, uploadID, part)
		if err == nil || errors.IsCancelled(err) || isContextCancel(err) {
			return
		}
		if attempt < s.cfg.ReportRetries {
			if sleepCtx(ctx, s.cfg.RetryBackoff*time.Duration(attempt)) != nil {
				return
			}
		}
	}
}

// finalize moves the session to processing and issues complete. The
// completion precondition is enforced by the session itself: MarkProcessing
// refuses while the ledger is short of the plan.
func (s *Scheduler) finalize(ctx context.Context, sess *session.Session) error {
	if err := sess.MarkProcessing(); err != nil {
		// A pause can land between the final ledger write and this point.
		// The session is already in the state the user asked for; tearing
		// the run down is a cancellation, not a failure.
		if sess.Status() == uptypes.StatusPaused {
			return errors.NewError("finalize", errors.ClassCancelled, err)
		}
		sess.Fail(err)
		return err
	}

	plan := sess.Plan()
	result, err := s.protocol.Complete(ctx, plan.UploadID, sess.Parts())
	if err != nil {
		if isContextCancel(err) {
			return err
		}
		// The session stays in processing: re-issuing complete with the
		// same parts list is a valid retry.
		sess.FailProcessing(err)
		return err
	}
	return sess.Complete(result)
}

func isContextCancel(err error) bool {
	return stderrors.Is(err, context.Canceled)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.NewError("backoff", errors.ClassCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// sourceReader distinguishes local read failures from network failures: the
// HTTP client folds a body read error into its own error, so the scheduler
// checks readErr after a failed attempt to classify it.
type sourceReader struct {
	r       *io.SectionReader
	readErr error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.readErr = err
	}
	return n, err
}
