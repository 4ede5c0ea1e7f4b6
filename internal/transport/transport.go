// Package transport performs single-chunk transfers against presigned
// destination URLs.
package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stillframe/uploadpipe/errors"
	"github.com/stillframe/uploadpipe/uptypes"
)

// Transport issues one HTTP PUT per chunk and extracts the integrity token
// from the response. Each attempt runs under its own timeout; hitting it is
// a retryable chunk failure, not a session failure.
type Transport struct {
	client  *http.Client
	timeout time.Duration
}

// New creates a chunk transport. A nil client falls back to
// http.DefaultClient; a zero timeout disables the per-attempt deadline.
func New(client *http.Client, timeout time.Duration) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return &Transport{client: client, timeout: timeout}
}

// PutChunk uploads size bytes from body to the part's presigned URL and
// returns the ETag the storage backend answered with.
func (t *Transport) PutChunk(
	ctx context.Context,
	target uptypes.PartTarget,
	body io.Reader,
	size int64,
) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.URL, body)
	if err != nil {
		return "", errors.NewError("putChunk", errors.ClassChunk, err).WithPart(target.PartNumber)
	}
	req.ContentLength = size

	resp, err := t.client.Do(req)
	if err != nil {
		return "", classifyTransferError(ctx, target.PartNumber, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.NewError("putChunk", errors.ClassChunk,
			fmt.Errorf("unexpected status %d", resp.StatusCode)).WithPart(target.PartNumber)
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		return "", errors.NewError("putChunk", errors.ClassChunk,
			fmt.Errorf("response missing ETag header")).WithPart(target.PartNumber)
	}
	return etag, nil
}

// classifyTransferError separates user-initiated aborts from network
// failures. A cancelled parent context is a discard, not a failure; an
// attempt deadline is an ordinary retryable chunk error.
func classifyTransferError(ctx context.Context, part int, err error) error {
	if stderrors.Is(err, context.Canceled) {
		return errors.NewError("putChunk", errors.ClassCancelled, err).WithPart(part)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewError("putChunk", errors.ClassChunk,
			fmt.Errorf("chunk transfer timed out: %w", err)).WithPart(part)
	}
	return errors.NewError("putChunk", errors.ClassChunk, err).WithPart(part)
}
