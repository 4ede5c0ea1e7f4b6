// Package uploadpipe provides functional options for configuring the upload
// manager. These options follow the functional options pattern for clean,
// composable configuration.
package uploadpipe

import (
	"net/http"
	"time"

	"github.com/stillframe/uploadpipe/uptypes"
)

// WithMaxFiles sets the queue-level cap on concurrent sessions.
// Default is 20. Set to 0 to disable the cap.
func WithMaxFiles(maxFiles int) uptypes.Option {
	return func(c *uptypes.ManagerConfig) {
		c.MaxFiles = maxFiles
	}
}

// WithMaxFileSize sets the per-file size limit in bytes.
// Default is 50 GiB. Set to 0 to disable the check.
func WithMaxFileSize(maxFileSize int64) uptypes.Option {
	return func(c *uptypes.ManagerConfig) {
		c.MaxFileSize = maxFileSize
	}
}

// WithAcceptedTypes overrides the accepted-types allow list. Entries are
// MIME patterns ("image/*", "video/mp4") or extensions (".cr2"). When not
// set, the file category's default set applies.
func WithAcceptedTypes(types []string) uptypes.Option {
	return func(c *uptypes.ManagerConfig) {
		c.AcceptedTypes = types
	}
}

// WithCategory sets the default file category for admissions that don't
// carry one in their upload context. Default is deliverable.
func WithCategory(category uptypes.FileCategory) uptypes.Option {
	return func(c *uptypes.ManagerConfig) {
		c.Category = category
	}
}

// WithConcurrency sets the global cap on chunk transfers in flight across
// all sessions. Default is 3.
func WithConcurrency(concurrency int) uptypes.Option {
	return func(c *uptypes.ManagerConfig) {
		if concurrency > 0 {
			c.Concurrency = concurrency
		}
	}
}

// WithChunkRetries sets the per-chunk attempt budget before the session
// moves to the error state. Default is 3.
func WithChunkRetries(retries int) uptypes.Option {
	return func(c *uptypes.ManagerConfig) {
		if retries > 0 {
			c.ChunkRetries = retries
		}
	}
}

// WithReportRetries sets the attempt budget for the per-part bookkeeping
// report. Default is 3.
func WithReportRetries(retries int) uptypes.Option {
	return func(c *uptypes.ManagerConfig) {
		if retries > 0 {
			c.ReportRetries = retries
		}
	}
}

// WithChunkTimeout sets the per-attempt deadline for a single chunk
// transfer. A transfer hitting it is retried like a network failure.
// Default is no deadline.
func WithChunkTimeout(timeout time.Duration) uptypes.Option {
	return func(c *uptypes.ManagerConfig) {
		c.ChunkTimeout = timeout
	}
}

// WithRetryBackoff sets the base delay between chunk retry attempts.
// Default is 500ms, growing linearly per attempt.
func WithRetryBackoff(backoff time.Duration) uptypes.Option {
	return func(c *uptypes.ManagerConfig) {
		c.RetryBackoff = backoff
	}
}

// WithHTTPClient allows providing a custom HTTP client for both the
// protocol calls and the chunk transfers.
func WithHTTPClient(client *http.Client) uptypes.Option {
	return func(c *uptypes.ManagerConfig) {
		c.HTTPClient = client
	}
}

// WithProgressTracker sets a tracker receiving per-session transfer updates.
func WithProgressTracker(tracker uptypes.ProgressTracker) uptypes.Option {
	return func(c *uptypes.ManagerConfig) {
		c.Tracker = tracker
	}
}

// WithBatchCompletion sets the callback fired once every session in the
// working set has completed. It runs on its own goroutine.
func WithBatchCompletion(fn func([]uptypes.CompletedUpload)) uptypes.Option {
	return func(c *uptypes.ManagerConfig) {
		c.OnBatchComplete = fn
	}
}
