// Package uploadpipe provides chunked, resumable uploads of large media
// files into cloud object storage. It implements the client side of a
// three-phase protocol: init obtains a chunk plan with presigned part URLs,
// chunks are PUT directly to storage, and complete finalizes the object.
//
// The package is built for studio workflows where a batch of multi-gigabyte
// camera files is queued at once and individual uploads are paused, resumed,
// retried, and cancelled while the batch runs.
//
// Key features:
//   - Chunked multipart transfers with a global concurrency cap
//   - Pause and resume without re-sending confirmed bytes
//   - Bounded per-chunk retries with backoff
//   - Admission validation by size and per-category type allow lists
//   - Progress snapshots with byte counts and ETA
//   - Re-init after plan expiry preserving already-uploaded parts
//
// Example usage:
//
//	mgr := uploadpipe.New("https://studio.example.com",
//	    uploadpipe.WithCategory(uptypes.CategoryRaw),
//	    uploadpipe.WithConcurrency(3),
//	)
//
//	src, err := uploadpipe.OpenFile("/cards/IMG_0001.CR2")
//	if err != nil {
//	    return err
//	}
//	res := mgr.Admit([]uploadpipe.FileUpload{{Source: src}},
//	    uptypes.UploadContext{ProjectID: "proj-42"})
//	for _, rej := range res.Rejected {
//	    log.Printf("rejected %s: %v", rej.Filename, rej.Reason)
//	}
//	mgr.Wait()
package uploadpipe
