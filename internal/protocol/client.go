// Package protocol implements the client side of the three-phase upload
// protocol: init obtains a chunk plan, report records a landed part with the
// backend's bookkeeping layer, and complete finalizes the multipart object.
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/stillframe/uploadpipe/errors"
	"github.com/stillframe/uploadpipe/uptypes"
)

const (
	initPath     = "/api/uploads/init"
	reportPath   = "/api/uploads/chunk"
	completePath = "/api/uploads/complete"
)

// Client talks JSON over HTTP to the upload backend.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a protocol client for the backend at baseURL.
func New(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Wire types. Field names follow the backend contract, including the
// storage-layer r2UploadId/r2Path passthrough.

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

// Init registers the file and returns its chunk plan. Init failures are
// never retried automatically; the user re-runs init through an explicit
// retry.
func (c *Client) Init(
	ctx context.Context,
	file uptypes.FileInfo,
	uctx uptypes.UploadContext,
) (*uptypes.ChunkPlan, error) {
	if file.TotalSize <= 0 {
		return nil, errors.NewError("init", errors.ClassInit, errors.ErrEmptyFile).
			WithMessage(file.Name)
	}

	req := initRequest{
		Filename:    file.Name,
		ContentType: file.ContentType,
		TotalSize:   file.TotalSize,
		Category:    string(uctx.Category),
		ProjectID:   uctx.ProjectID,
	}
	var resp initResponse
	if err := c.post(ctx, initPath, req, &resp); err != nil {
		return nil, errors.NewError("init", errors.ClassInit, err).WithMessage(file.Name)
	}

	return &uptypes.ChunkPlan{
		UploadID:        resp.UploadID,
		StorageUploadID: resp.R2UploadID,
		StoragePath:     resp.R2Path,
		ChunkSize:       resp.ChunkSize,
		TotalChunks:     resp.TotalChunks,
		PartTargets: lo.Map(resp.ChunkURLs, func(u chunkURL, _ int) uptypes.PartTarget {
			return uptypes.PartTarget{PartNumber: u.PartNumber, URL: u.URL}
		}),
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// ReportChunk records a landed part with the backend. Fire-and-forget is not
// safe here: a missed report can stall server-side bookkeeping, so callers
// retry failures independently of the chunk transfer having succeeded.
func (c *Client) ReportChunk(ctx context.Context, uploadID string, part uptypes.UploadedPart) error {
	req := reportRequest{
		UploadID:      uploadID,
		PartNumber:    part.PartNumber,
		ETag:          part.ETag,
		BytesUploaded: part.Size,
	}
	if err := c.patch(ctx, reportPath, req); err != nil {
		return errors.NewError("reportChunk", errors.ClassReport, err).
			WithUpload(uploadID).
			WithPart(part.PartNumber)
	}
	return nil
}

// Complete finalizes the multipart object. Calling it with a partial parts
// list is a caller bug; the scheduler only issues it once the local ledger
// holds every part.
func (c *Client) Complete(
	ctx context.Context,
	uploadID string,
	parts []uptypes.UploadedPart,
) (*uptypes.CompleteResult, error) {
	req := completeRequest{
		UploadID: uploadID,
		Parts: lo.Map(parts, func(p uptypes.UploadedPart, _ int) completedPart {
			return completedPart{PartNumber: p.PartNumber, ETag: p.ETag}
		}),
	}
	var resp completeResponse
	if err := c.post(ctx, completePath, req, &resp); err != nil {
		return nil, errors.NewError("complete", errors.ClassComplete, err).WithUpload(uploadID)
	}
	return &uptypes.CompleteResult{
		AssetID:     resp.AssetID,
		StoragePath: resp.R2Path,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) patch(ctx context.Context, path string, body any) error {
	return c.do(ctx, http.MethodPatch, path, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeAPIError extracts the backend's error message when it sent one.
func decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
