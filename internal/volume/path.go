package volume

import (
	"strings"

	kerrors "kurpod/internal/errors"
)

// validatePath enforces the virtual path rules from the data model: a
// UTF-8 string using "/" as separator, no leading slash, no empty
// segments.
func validatePath(path string) error {
	if path == "" {
		return kerrors.NewValidationError("path", "must not be empty")
	}
	if strings.HasPrefix(path, "/") {
		return kerrors.NewValidationError("path", "must not have a leading slash")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return kerrors.NewValidationError("path", "must not contain empty segments")
		}
		if seg == "." || seg == ".." {
			return kerrors.NewValidationError("path", "must not contain . or .. segments")
		}
	}
	return nil
}
