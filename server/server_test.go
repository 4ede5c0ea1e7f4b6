package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStorage records multipart calls without touching a real bucket.
type mockStorage struct {
	createCalls   []*s3.CreateMultipartUploadInput
	completeCalls []*s3.CompleteMultipartUploadInput
	abortCalls    []*s3.AbortMultipartUploadInput
	createErr     error
	completeErr   error
	abortErr      error
}

func (m *mockStorage) CreateMultipartUpload(
	_ context.Context,
	params *s3.CreateMultipartUploadInput,
	_ ...func(*s3.Options),
) (*s3.CreateMultipartUploadOutput, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.createCalls = append(m.createCalls, params)
	return &s3.CreateMultipartUploadOutput{
		UploadId: aws.String(fmt.Sprintf("mp-%d", len(m.createCalls))),
	}, nil
}

func (m *mockStorage) CompleteMultipartUpload(
	_ context.Context,
	params *s3.CompleteMultipartUploadInput,
	_ ...func(*s3.Options),
) (*s3.CompleteMultipartUploadOutput, error) {
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	m.completeCalls = append(m.completeCalls, params)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (m *mockStorage) AbortMultipartUpload(
	_ context.Context,
	params *s3.AbortMultipartUploadInput,
	_ ...func(*s3.Options),
) (*s3.AbortMultipartUploadOutput, error) {
	if m.abortErr != nil {
		return nil, m.abortErr
	}
	m.abortCalls = append(m.abortCalls, params)
	return &s3.AbortMultipartUploadOutput{}, nil
}

// mockPresign mints predictable URLs instead of signing.
type mockPresign struct{}

func (mockPresign) PresignUploadPart(
	_ context.Context,
	params *s3.UploadPartInput,
	_ ...func(*s3.PresignOptions),
) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{
		URL: fmt.Sprintf("https://storage.test/%s/%s/%d",
			aws.ToString(params.UploadId), aws.ToString(params.Key), aws.ToInt32(params.PartNumber)),
		Method: http.MethodPut,
	}, nil
}

func newTestServer(t *testing.T) (*Server, *mockStorage) {
	t.Helper()
	storage := &mockStorage{}
	srv := New(storage, mockPresign{}, Config{Bucket: "studio-media", ChunkSize: 100}, nil)
	return srv, storage
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func initUpload(t *testing.T, h http.Handler, filename string, totalSize int64) initResponse {
	t.Helper()
	rr := doJSON(t, h, http.MethodPost, "/api/uploads/init", initRequest{
		Filename:    filename,
		ContentType: "video/mp4",
		TotalSize:   totalSize,
		Category:    "deliverable",
		ProjectID:   "proj-1",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp initResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func TestServer_Init(t *testing.T) {
	srv, storage := newTestServer(t)
	h := srv.Router()

	resp := initUpload(t, h, "wedding.mp4", 250)

	assert.NotEmpty(t, resp.UploadID)
	assert.Equal(t, "mp-1", resp.R2UploadID)
	assert.Equal(t, int64(100), resp.ChunkSize)
	assert.Equal(t, 3, resp.TotalChunks)
	require.Len(t, resp.ChunkURLs, 3)
	for i, u := range resp.ChunkURLs {
		assert.Equal(t, i+1, u.PartNumber)
		assert.Contains(t, u.URL, "mp-1")
	}
	assert.False(t, resp.ExpiresAt.IsZero())

	// The object key is scoped to project and category.
	require.Len(t, storage.createCalls, 1)
	key := aws.ToString(storage.createCalls[0].Key)
	assert.Contains(t, key, "projects/proj-1/deliverable/")
	assert.Contains(t, key, "wedding.mp4")
	assert.Equal(t, "studio-media", aws.ToString(storage.createCalls[0].Bucket))
}

func TestServer_Init_Validation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	rr := doJSON(t, h, http.MethodPost, "/api/uploads/init", initRequest{
		Filename: "x.mp4", TotalSize: 0,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/api/uploads/init", initRequest{
		TotalSize: 100,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServer_Init_ReusesStorageUploadOnReinit(t *testing.T) {
	srv, storage := newTestServer(t)
	h := srv.Router()

	first := initUpload(t, h, "wedding.mp4", 250)
	second := initUpload(t, h, "wedding.mp4", 250)

	// Same upload, fresh URLs: parts stored under the first plan stay valid.
	assert.Equal(t, first.UploadID, second.UploadID)
	assert.Equal(t, first.R2UploadID, second.R2UploadID)
	assert.Equal(t, first.R2Path, second.R2Path)
	assert.Len(t, storage.createCalls, 1)

	// A different file is a different upload.
	other := initUpload(t, h, "teaser.mp4", 250)
	assert.NotEqual(t, first.UploadID, other.UploadID)
	assert.Len(t, storage.createCalls, 2)
}

func TestServer_ReportChunk(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	resp := initUpload(t, h, "wedding.mp4", 250)

	rr := doJSON(t, h, http.MethodPatch, "/api/uploads/chunk", reportRequest{
		UploadID:      resp.UploadID,
		PartNumber:    1,
		ETag:          "etag-1",
		BytesUploaded: 100,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rec, ok := srv.Store().Get(resp.UploadID)
	require.True(t, ok)
	require.Contains(t, rec.Parts, 1)
	assert.Equal(t, "etag-1", rec.Parts[1].ETag)
}

func TestServer_ReportChunk_UnknownUpload(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	rr := doJSON(t, h, http.MethodPatch, "/api/uploads/chunk", reportRequest{
		UploadID: "nope", PartNumber: 1, ETag: "e",
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_Complete(t *testing.T) {
	srv, storage := newTestServer(t)
	h := srv.Router()

	resp := initUpload(t, h, "wedding.mp4", 250)

	rr := doJSON(t, h, http.MethodPost, "/api/uploads/complete", completeRequest{
		UploadID: resp.UploadID,
		Parts: []completedPart{
			{PartNumber: 3, ETag: "e3"},
			{PartNumber: 1, ETag: "e1"},
			{PartNumber: 2, ETag: "e2"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var result completeResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
	assert.NotEmpty(t, result.AssetID)
	assert.Equal(t, resp.R2Path, result.R2Path)

	// Parts are handed to storage sorted by part number.
	require.Len(t, storage.completeCalls, 1)
	parts := storage.completeCalls[0].MultipartUpload.Parts
	require.Len(t, parts, 3)
	for i, p := range parts {
		assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
	}

	// The re-init key is released; a new init creates a new upload.
	again := initUpload(t, h, "wedding.mp4", 250)
	assert.NotEqual(t, resp.UploadID, again.UploadID)
}

func TestServer_Complete_MissingParts(t *testing.T) {
	srv, storage := newTestServer(t)
	h := srv.Router()

	resp := initUpload(t, h, "wedding.mp4", 250)

	rr := doJSON(t, h, http.MethodPost, "/api/uploads/complete", completeRequest{
		UploadID: resp.UploadID,
		Parts:    []completedPart{{PartNumber: 2, ETag: "e2"}},
	})
	require.Equal(t, http.StatusConflict, rr.Code)

	var body struct {
		Error         string `json:"error"`
		MissingChunks []int  `json:"missingChunks"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, []int{1, 3}, body.MissingChunks)

	// Nothing was finalized.
	assert.Empty(t, storage.completeCalls)
}

func TestServer_Complete_UnknownUpload(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	rr := doJSON(t, h, http.MethodPost, "/api/uploads/complete", completeRequest{
		UploadID: "nope",
		Parts:    []completedPart{{PartNumber: 1, ETag: "e"}},
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_Abort(t *testing.T) {
	srv, storage := newTestServer(t)
	h := srv.Router()

	resp := initUpload(t, h, "wedding.mp4", 250)

	req := httptest.NewRequest(http.MethodDelete, "/api/uploads/"+resp.UploadID, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// The storage-layer upload is aborted and the registry row dropped.
	require.Len(t, storage.abortCalls, 1)
	assert.Equal(t, "mp-1", aws.ToString(storage.abortCalls[0].UploadId))
	_, ok := srv.Store().Get(resp.UploadID)
	assert.False(t, ok)

	// The re-init key went with the record; a new init is a new upload.
	again := initUpload(t, h, "wedding.mp4", 250)
	assert.NotEqual(t, resp.UploadID, again.UploadID)
}

func TestServer_Abort_UnknownUpload(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	req := httptest.NewRequest(http.MethodDelete, "/api/uploads/nope", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_Abort_CompletedUpload(t *testing.T) {
	srv, storage := newTestServer(t)
	h := srv.Router()

	resp := initUpload(t, h, "wedding.mp4", 250)
	rr := doJSON(t, h, http.MethodPost, "/api/uploads/complete", completeRequest{
		UploadID: resp.UploadID,
		Parts: []completedPart{
			{PartNumber: 1, ETag: "e1"},
			{PartNumber: 2, ETag: "e2"},
			{PartNumber: 3, ETag: "e3"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/uploads/"+resp.UploadID, nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Empty(t, storage.abortCalls)
}

func TestServer_Init_StorageUnavailable(t *testing.T) {
	storage := &mockStorage{createErr: fmt.Errorf("dial tcp: connection refused")}
	srv := New(storage, mockPresign{}, Config{Bucket: "studio-media"}, nil)
	h := srv.Router()

	rr := doJSON(t, h, http.MethodPost, "/api/uploads/init", initRequest{
		Filename: "x.mp4", ContentType: "video/mp4", TotalSize: 100,
	})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestStore_Lifecycle(t *testing.T) {
	store := NewStore()
	store.Create(&UploadRecord{ID: "u1", ReinitKey: "p|f|100", TotalChunks: 2})

	rec, ok := store.Lookup("p|f|100")
	require.True(t, ok)
	assert.Equal(t, "u1", rec.ID)

	// Duplicate reports overwrite.
	require.True(t, store.RecordPart("u1", PartRecord{PartNumber: 1, ETag: "a"}))
	require.True(t, store.RecordPart("u1", PartRecord{PartNumber: 1, ETag: "b"}))
	rec, _ = store.Get("u1")
	require.Len(t, rec.Parts, 1)
	assert.Equal(t, "b", rec.Parts[1].ETag)

	assert.False(t, store.RecordPart("missing", PartRecord{PartNumber: 1}))

	// Completion releases the re-init key.
	store.MarkCompleted("u1")
	_, ok = store.Lookup("p|f|100")
	assert.False(t, ok)

	store.Delete("u1")
	_, ok = store.Get("u1")
	assert.False(t, ok)
}
