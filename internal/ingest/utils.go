package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/survey-docparser/constants"
)

// Eligible reports whether name is a visible upload with an allowed extension.
func Eligible(name string) bool {
	return !IsHidden(name) && constants.IsAllowedFile(name)
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}
