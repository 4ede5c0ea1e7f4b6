package protocol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillframe/uploadpipe/errors"
	"github.com/stillframe/uploadpipe/uptypes"
)

func TestClient_Init(t *testing.T) {
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/uploads/init", r.URL.Path)

		var req initRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "wedding.mp4", req.Filename)
		assert.Equal(t, "video/mp4", req.ContentType)
		assert.Equal(t, int64(1000), req.TotalSize)
		assert.Equal(t, "deliverable", req.Category)
		assert.Equal(t, "proj-7", req.ProjectID)

		writeJSON(t, w, initResponse{
			UploadID:    "up-1",
			R2UploadID:  "mp-abc",
			R2Path:      "projects/proj-7/deliverable/wedding.mp4",
			ChunkSize:   400,
			TotalChunks: 3,
			ChunkURLs: []chunkURL{
				{PartNumber: 1, URL: "https://storage.test/1"},
				{PartNumber: 2, URL: "https://storage.test/2"},
				{PartNumber: 3, URL: "https://storage.test/3"},
			},
			ExpiresAt: expiry,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	plan, err := c.Init(context.Background(),
		uptypes.FileInfo{Name: "wedding.mp4", ContentType: "video/mp4", TotalSize: 1000},
		uptypes.UploadContext{ProjectID: "proj-7", Category: uptypes.CategoryDeliverable})

	require.NoError(t, err)
	assert.Equal(t, "up-1", plan.UploadID)
	assert.Equal(t, "mp-abc", plan.StorageUploadID)
	assert.Equal(t, int64(400), plan.ChunkSize)
	assert.Equal(t, 3, plan.TotalChunks)
	require.Len(t, plan.PartTargets, 3)
	assert.Equal(t, 2, plan.PartTargets[1].PartNumber)
	assert.Equal(t, "https://storage.test/2", plan.PartTargets[1].URL)
	assert.True(t, plan.ExpiresAt.Equal(expiry))
}

func TestClient_Init_EmptyFileRejectedLocally(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.Init(context.Background(),
		uptypes.FileInfo{Name: "empty.jpg", TotalSize: 0}, uptypes.UploadContext{})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEmptyFile)
	assert.Equal(t, errors.ClassInit, errors.ClassOf(err))
	assert.False(t, called)
}

func TestClient_Init_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"filename and a positive totalSize are required"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.Init(context.Background(),
		uptypes.FileInfo{Name: "x.jpg", TotalSize: 10}, uptypes.UploadContext{})

	require.Error(t, err)
	assert.Equal(t, errors.ClassInit, errors.ClassOf(err))
	// The backend's message is surfaced, not swallowed.
	assert.Contains(t, err.Error(), "positive totalSize")
}

func TestClient_ReportChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/api/uploads/chunk", r.URL.Path)

		var req reportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "up-1", req.UploadID)
		assert.Equal(t, 2, req.PartNumber)
		assert.Equal(t, "etag-2", req.ETag)
		assert.Equal(t, int64(400), req.BytesUploaded)

		writeJSON(t, w, map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	err := c.ReportChunk(context.Background(), "up-1",
		uptypes.UploadedPart{PartNumber: 2, ETag: "etag-2", Size: 400})
	require.NoError(t, err)
}

func TestClient_ReportChunk_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"unknown upload"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	err := c.ReportChunk(context.Background(), "gone",
		uptypes.UploadedPart{PartNumber: 1, ETag: "e", Size: 1})

	require.Error(t, err)
	assert.Equal(t, errors.ClassReport, errors.ClassOf(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/uploads/complete", r.URL.Path)

		var req completeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "up-1", req.UploadID)
		require.Len(t, req.Parts, 2)
		assert.Equal(t, completedPart{PartNumber: 1, ETag: "e1"}, req.Parts[0])
		assert.Equal(t, completedPart{PartNumber: 2, ETag: "e2"}, req.Parts[1])

		writeJSON(t, w, completeResponse{AssetID: "asset-9", R2Path: "projects/p/f.jpg"})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	result, err := c.Complete(context.Background(), "up-1", []uptypes.UploadedPart{
		{PartNumber: 1, ETag: "e1", Size: 400},
		{PartNumber: 2, ETag: "e2", Size: 200},
	})

	require.NoError(t, err)
	assert.Equal(t, "asset-9", result.AssetID)
	assert.Equal(t, "projects/p/f.jpg", result.StoragePath)
}

func TestClient_Complete_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"parts missing from completion request","missingChunks":[3]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.Complete(context.Background(), "up-1", []uptypes.UploadedPart{
		{PartNumber: 1, ETag: "e1", Size: 400},
	})

	require.Error(t, err)
	assert.Equal(t, errors.ClassComplete, errors.ClassOf(err))
	assert.Contains(t, err.Error(), "parts missing")
}

func writeJSON(t *testing.T, w http.ResponseWriter, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(body))
}
