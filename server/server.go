// Package server implements the backend side of the three-phase upload
// protocol: init creates a storage-layer multipart upload and presigns one
// destination URL per part, chunk reports feed best-effort bookkeeping, and
// complete finalizes the object from the caller's parts ledger.
//
// Bucket provisioning, access-control policy, and the downstream
// thumbnail/transcode pipeline are outside this package; completing an
// upload is the only signal the processing pipeline needs.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultChunkSize = 5 << 20 // 5 MiB, the S3 minimum part size
	DefaultURLTTL    = time.Hour
)

// Config holds server tuning.
type Config struct {
	// Bucket is the destination bucket
	Bucket string

	// ChunkSize is the part size handed to clients in chunk plans
	ChunkSize int64

	// URLTTL is how long presigned part URLs stay valid
	URLTTL time.Duration
}

// Server handles the upload protocol endpoints.
type Server struct {
	store   *Store
	storage StorageAPI
	presign PresignAPI
	cfg     Config
	log     *logrus.Logger
}

// New creates a server. A nil logger falls back to the logrus standard logger.
func New(storage StorageAPI, presign PresignAPI, cfg Config, log *logrus.Logger) *Server {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = DefaultURLTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		store:   NewStore(),
		storage: storage,
		presign: presign,
		cfg:     cfg,
		log:     log,
	}
}

// Store exposes the upload registry, mainly for tests.
func (s *Server) Store() *Store { return s.store }

// Router returns the HTTP handler for the upload protocol.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/uploads/init", s.handleInit)
	r.Patch("/api/uploads/chunk", s.handleReportChunk)
	r.Post("/api/uploads/complete", s.handleComplete)
	r.Delete("/api/uploads/{uploadID}", s.handleAbort)
	return r
}

// Wire types, mirroring the client's protocol package.

type initRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	TotalSize   int64  `json:"totalSize"`
	Category    string `json:"category"`
	ProjectID   string `json:"projectId"`
}

type chunkURL struct {
	PartNumber int    `json:"partNumber"`
	URL        string `json:"url"`
}

type initResponse struct {
	UploadID    string     `json:"uploadId"`
	R2UploadID  string     `json:"r2UploadId"`
	R2Path      string     `json:"r2Path"`
	ChunkSize   int64      `json:"chunkSize"`
	TotalChunks int        `json:"totalChunks"`
	ChunkURLs   []chunkURL `json:"chunkUrls"`
	ExpiresAt   time.Time  `json:"expiresAt"`
}

type reportRequest struct {
	UploadID      string `json:"uploadId"`
	PartNumber    int    `json:"partNumber"`
	ETag          string `json:"etag"`
	BytesUploaded int64  `json:"bytesUploaded"`
}

type completedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type completeRequest struct {
	UploadID string          `json:"uploadId"`
	Parts    []completedPart `json:"parts"`
}

type completeResponse struct {
	AssetID string `json:"assetId"`
	R2Path  string `json:"r2Path"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Filename == "" || req.TotalSize <= 0 {
		writeError(w, http.StatusBadRequest, "filename and a positive totalSize are required")
		return
	}

	// A re-init for a file whose part URLs expired must land on the same
	// storage-layer upload so already-stored parts stay valid.
	reinitKey := fmt.Sprintf("%s|%s|%d", req.ProjectID, req.Filename, req.TotalSize)
	if rec, ok := s.store.Lookup(reinitKey); ok {
		s.log.WithFields(logrus.Fields{
			"uploadId": rec.ID,
			"filename": req.Filename,
		}).Info("re-issuing part urls for existing upload")
		s.respondWithPlan(w, r, rec)
		return
	}

	storagePath := path.Join("projects", req.ProjectID, req.Category, uuid.NewString(), req.Filename)

	created, err := s.storage.CreateMultipartUpload(r.Context(), &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(storagePath),
		ContentType: aws.String(req.ContentType),
	})
	if err != nil {
		s.log.WithError(err).WithField("filename", req.Filename).Error("create multipart upload failed")
		writeError(w, http.StatusBadGateway, "storage backend unavailable")
		return
	}

	totalChunks := int((req.TotalSize + s.cfg.ChunkSize - 1) / s.cfg.ChunkSize)
	rec := &UploadRecord{
		ID:              uuid.NewString(),
		ReinitKey:       reinitKey,
		StorageUploadID: aws.ToString(created.UploadId),
		Path:            storagePath,
		Filename:        req.Filename,
		ContentType:     req.ContentType,
		TotalSize:       req.TotalSize,
		ChunkSize:       s.cfg.ChunkSize,
		TotalChunks:     totalChunks,
		CreatedAt:       time.Now(),
	}
	s.store.Create(rec)

	s.log.WithFields(logrus.Fields{
		"uploadId":    rec.ID,
		"filename":    req.Filename,
		"totalSize":   req.TotalSize,
		"totalChunks": totalChunks,
	}).Info("upload initialized")

	s.respondWithPlan(w, r, rec)
}

// respondWithPlan presigns one UploadPart URL per part and writes the chunk
// plan. Presigning is local signing work, no storage round trips.
func (s *Server) respondWithPlan(w http.ResponseWriter, r *http.Request, rec *UploadRecord) {
	expiresAt := time.Now().Add(s.cfg.URLTTL)
	urls := make([]chunkURL, 0, rec.TotalChunks)
	for part := 1; part <= rec.TotalChunks; part++ {
		signed, err := s.presign.PresignUploadPart(r.Context(), &s3.UploadPartInput{
			Bucket:     aws.String(s.cfg.Bucket),
			Key:        aws.String(rec.Path),
			UploadId:   aws.String(rec.StorageUploadID),
			PartNumber: aws.Int32(int32(part)),
		}, func(o *s3.PresignOptions) {
			o.Expires = s.cfg.URLTTL
		})
		if err != nil {
			s.log.WithError(err).WithField("uploadId", rec.ID).Error("presign part failed")
			writeError(w, http.StatusBadGateway, "failed to presign part urls")
			return
		}
		urls = append(urls, chunkURL{PartNumber: part, URL: signed.URL})
	}

	rec.ExpiresAt = expiresAt
	writeJSON(w, http.StatusOK, initResponse{
		UploadID:    rec.ID,
		R2UploadID:  rec.StorageUploadID,
		R2Path:      rec.Path,
		ChunkSize:   rec.ChunkSize,
		TotalChunks: rec.TotalChunks,
		ChunkURLs:   urls,
		ExpiresAt:   expiresAt,
	})
}

func (s *Server) handleReportChunk(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.store.RecordPart(req.UploadID, PartRecord{
		PartNumber: req.PartNumber,
		ETag:       req.ETag,
		Size:       req.BytesUploaded,
	}) {
		writeError(w, http.StatusNotFound, "unknown upload")
		return
	}

	s.log.WithFields(logrus.Fields{
		"uploadId": req.UploadID,
		"part":     req.PartNumber,
		"bytes":    req.BytesUploaded,
	}).Debug("chunk reported")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, ok := s.store.Get(req.UploadID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown upload")
		return
	}

	// A partial parts list is a caller bug, not a retryable condition.
	if missing := missingParts(rec.TotalChunks, req); len(missing) > 0 {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":         "parts missing from completion request",
			"missingChunks": missing,
		})
		return
	}

	parts := lo.Map(req.Parts, func(p completedPart, _ int) s3types.CompletedPart {
		return s3types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		}
	})
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	_, err := s.storage.CompleteMultipartUpload(r.Context(), &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.cfg.Bucket),
		Key:             aws.String(rec.Path),
		UploadId:        aws.String(rec.StorageUploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		s.log.WithError(err).WithField("uploadId", rec.ID).Error("complete multipart upload failed")
		writeError(w, http.StatusBadGateway, "failed to finalize upload")
		return
	}

	s.store.MarkCompleted(rec.ID)
	assetID := uuid.NewString()

	s.log.WithFields(logrus.Fields{
		"uploadId": rec.ID,
		"assetId":  assetID,
		"path":     rec.Path,
	}).Info("upload completed")

	writeJSON(w, http.StatusOK, completeResponse{
		AssetID: assetID,
		R2Path:  rec.Path,
	})
}

// handleAbort tears down an abandoned upload: the storage-layer multipart
// upload is aborted so its stored parts stop accruing, and the registry row
// is dropped together with its re-init key.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uploadID")
	rec, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown upload")
		return
	}
	if rec.Completed {
		writeError(w, http.StatusConflict, "upload already completed")
		return
	}

	_, err := s.storage.AbortMultipartUpload(r.Context(), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.cfg.Bucket),
		Key:      aws.String(rec.Path),
		UploadId: aws.String(rec.StorageUploadID),
	})
	if err != nil {
		s.log.WithError(err).WithField("uploadId", rec.ID).Error("abort multipart upload failed")
		writeError(w, http.StatusBadGateway, "failed to abort upload")
		return
	}
	s.store.Delete(rec.ID)

	s.log.WithFields(logrus.Fields{
		"uploadId": rec.ID,
		"path":     rec.Path,
	}).Info("upload aborted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// missingParts returns the 1..totalChunks part numbers absent from the
// completion request, in order.
func missingParts(totalChunks int, req completeRequest) []int {
	seen := make(map[int]bool, len(req.Parts))
	for _, p := range req.Parts {
		seen[p.PartNumber] = true
	}
	var missing []int
	for part := 1; part <= totalChunks; part++ {
		if !seen[part] {
			missing = append(missing, part)
		}
	}
	return missing
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
