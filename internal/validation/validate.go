// Package validation provides admission-time file validation.
// This includes size limits, queue caps, and MIME/extension allow-listing
// per file category.
//
// Files are validated before a session exists for them: a rejected file
// never enters the scheduler's working set.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/stillframe/uploadpipe/errors"
	"github.com/stillframe/uploadpipe/uptypes"
)

// sniffLen bounds how much of the file is read for content-type detection.
const sniffLen = 3072

// categoryTypes maps each file category to its default accepted-types set.
// Entries are either MIME patterns ("image/*", "video/mp4") or extensions
// (".cr2"). Camera raw formats sniff as application/octet-stream, so the
// raw category leans on extensions.
var categoryTypes = map[uptypes.FileCategory][]string{
	uptypes.CategoryRaw: {
		"image/*", "video/*",
		".cr2", ".cr3", ".nef", ".arw", ".dng", ".raf", ".orf", ".rw2", ".braw", ".r3d",
	},
	uptypes.CategoryDeliverable: {
		"image/jpeg", "image/png", "image/webp", "image/tiff",
		"video/mp4", "video/quicktime", "application/pdf",
	},
	uptypes.CategoryPortfolio: {
		"image/jpeg", "image/png", "image/webp", "video/mp4",
	},
	uptypes.CategoryTeamWIP: {
		"image/*", "video/*", "application/pdf", "application/zip", ".psd", ".xmp",
	},
}

// AcceptedTypes returns the default accepted-types set for a category.
// Unknown categories accept nothing.
func AcceptedTypes(category uptypes.FileCategory) []string {
	return categoryTypes[category]
}

// Limits carries the admission constraints the manager enforces per file.
type Limits struct {
	// MaxFileSize is the per-file byte cap; zero disables the check
	MaxFileSize int64

	// AcceptedTypes is the allow list; empty falls back to the category default
	AcceptedTypes []string

	// Category selects the default accepted-types set
	Category uptypes.FileCategory
}

// ValidateFile checks one file against the limits and returns its resolved
// content type. The hint is the caller-supplied MIME type; when absent, the
// type is sniffed from the file's leading bytes.
func ValidateFile(source uptypes.Source, hint string, limits Limits) (string, error) {
	size := source.Size()
	if size <= 0 {
		return "", errors.NewError("validateFile", errors.ClassValidation, errors.ErrEmptyFile).
			WithMessage(source.Name())
	}
	if limits.MaxFileSize > 0 && size > limits.MaxFileSize {
		return "", errors.NewError("validateFile", errors.ClassValidation, errors.ErrFileTooLarge).
			WithMessage(fmt.Sprintf("%s is %d bytes, limit %d", source.Name(), size, limits.MaxFileSize))
	}

	contentType := hint
	if contentType == "" {
		contentType = detectContentType(source)
	}

	accepted := limits.AcceptedTypes
	if len(accepted) == 0 {
		accepted = AcceptedTypes(limits.Category)
	}
	if !Matches(contentType, source.Name(), accepted) {
		return "", errors.NewError("validateFile", errors.ClassValidation, errors.ErrUnsupportedType).
			WithMessage(fmt.Sprintf("%s (%s)", source.Name(), contentType))
	}
	return contentType, nil
}

// Matches reports whether a file passes the allow list by MIME type or
// extension. Patterns of the form "type/*" match the whole major type;
// patterns starting with "." match the filename extension.
func Matches(contentType, filename string, accepted []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))

	for _, pattern := range accepted {
		pattern = strings.ToLower(pattern)
		switch {
		case strings.HasPrefix(pattern, "."):
			if ext == pattern {
				return true
			}
		case strings.HasSuffix(pattern, "/*"):
			if strings.HasPrefix(base, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		default:
			if base == pattern {
				return true
			}
		}
	}
	return false
}

// detectContentType determines the content type from the file's leading
// bytes, falling back to the extension and finally to octet-stream.
func detectContentType(source uptypes.Source) string {
	buf := make([]byte, sniffLen)
	n, _ := source.ReadAt(buf, 0)
	if n > 0 {
		if mt := mimetype.Detect(buf[:n]); mt != nil && mt.String() != "application/octet-stream" {
			return mt.String()
		}
	}
	switch strings.ToLower(filepath.Ext(source.Name())) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}
