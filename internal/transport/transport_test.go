package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillframe/uploadpipe/errors"
	"github.com/stillframe/uploadpipe/uptypes"
)

func TestTransport_PutChunk(t *testing.T) {
	var gotMethod string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(srv.Client(), 0)
	etag, err := tr.PutChunk(context.Background(),
		uptypes.PartTarget{PartNumber: 1, URL: srv.URL},
		io.NopCloser(io.LimitReader(neverEnding('x'), 10)), 10)

	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Len(t, gotBody, 10)
	// Quotes are stripped from the header value.
	assert.Equal(t, "abc123", etag)
}

func TestTransport_PutChunk_MissingETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(srv.Client(), 0)
	_, err := tr.PutChunk(context.Background(),
		uptypes.PartTarget{PartNumber: 2, URL: srv.URL}, nil, 0)

	require.Error(t, err)
	assert.Equal(t, errors.ClassChunk, errors.ClassOf(err))
	assert.Contains(t, err.Error(), "ETag")
	assert.Contains(t, err.Error(), "part 2")
}

func TestTransport_PutChunk_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := New(srv.Client(), 0)
	_, err := tr.PutChunk(context.Background(),
		uptypes.PartTarget{PartNumber: 1, URL: srv.URL}, nil, 0)

	require.Error(t, err)
	assert.Equal(t, errors.ClassChunk, errors.ClassOf(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestTransport_PutChunk_Cancelled(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	tr := New(srv.Client(), 0)
	_, err := tr.PutChunk(ctx, uptypes.PartTarget{PartNumber: 1, URL: srv.URL}, nil, 0)

	require.Error(t, err)
	// A user abort is a discard, not a chunk failure.
	assert.True(t, errors.IsCancelled(err))
	assert.False(t, errors.IsRetryable(err))
}

func TestTransport_PutChunk_AttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	tr := New(srv.Client(), 20*time.Millisecond)
	_, err := tr.PutChunk(context.Background(),
		uptypes.PartTarget{PartNumber: 3, URL: srv.URL}, nil, 0)

	require.Error(t, err)
	// Hitting the per-attempt deadline stays retryable.
	assert.Equal(t, errors.ClassChunk, errors.ClassOf(err))
	assert.True(t, errors.IsRetryable(err))
}

// neverEnding is an infinite reader of one repeated byte.
type neverEnding byte

func (b neverEnding) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(b)
	}
	return len(p), nil
}
