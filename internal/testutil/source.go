package testutil

import (
	"bytes"
	"errors"
)

// BytesSource is an in-memory file handle for tests.
type BytesSource struct {
	FileName string
	Data     []byte
}

// NewBytesSource creates a source named name holding data.
func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{FileName: name, Data: data}
}

// PatternSource creates a source of the given size filled with a repeating
// byte pattern, for tests that need multi-chunk files without real content.
func PatternSource(name string, size int) *BytesSource {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return &BytesSource{FileName: name, Data: data}
}

// Name returns the source's filename.
func (s *BytesSource) Name() string { return s.FileName }

// Size returns the source's length in bytes.
func (s *BytesSource) Size() int64 { return int64(len(s.Data)) }

// ReadAt implements io.ReaderAt over the in-memory data.
func (s *BytesSource) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(s.Data).ReadAt(p, off)
}

// BrokenSource reports a size but fails every read, simulating a local file
// handle that was revoked after admission.
type BrokenSource struct {
	FileName string
	FileSize int64
}

// ErrSourceGone is the read failure BrokenSource returns.
var ErrSourceGone = errors.New("testutil: source gone")

// Name returns the source's filename.
func (s *BrokenSource) Name() string { return s.FileName }

// Size returns the declared size.
func (s *BrokenSource) Size() int64 { return s.FileSize }

// ReadAt always fails.
func (s *BrokenSource) ReadAt(p []byte, off int64) (int, error) {
	return 0, ErrSourceGone
}
