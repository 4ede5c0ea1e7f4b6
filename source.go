package uploadpipe

import (
	"os"
	"path/filepath"
)

// FileSource is an OS-file backed upload source.
type FileSource struct {
	f    *os.File
	name string
	size int64
}

// OpenFile opens a local file as an upload source. The caller owns the
// handle and should Close it once the session is terminal.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSource{
		f:    f,
		name: filepath.Base(path),
		size: info.Size(),
	}, nil
}

// Name returns the file's base name.
func (s *FileSource) Name() string { return s.name }

// Size returns the file size captured at open time.
func (s *FileSource) Size() int64 { return s.size }

// ReadAt implements io.ReaderAt over the underlying file.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Close releases the file handle.
func (s *FileSource) Close() error {
	return s.f.Close()
}
