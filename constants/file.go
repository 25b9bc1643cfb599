package constants

import (
	"path/filepath"
	"strings"
)

// Blob containers used by the pipeline.
const (
	ContainerUploads   = "uploads"
	ContainerProcessed = "processed"
)

// AllowedExtensions holds the upload extensions the analysis service accepts.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"bmp":  {},
	"tif":  {},
	"tiff": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether ext (with or without dot) is accepted.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// IsAllowedFile reports whether name carries an accepted extension.
func IsAllowedFile(name string) bool {
	return IsAllowedExt(filepath.Ext(name))
}
