package request

import (
	"fmt"
	"strings"
)

// ValidationError reports every mandatory field missing from a request.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// UnsupportedURLError is returned for remote URLs other than https://. URL
// never carries credentials.
type UnsupportedURLError struct {
	URL    string
	Reason string
}

func (e *UnsupportedURLError) Error() string {
	return fmt.Sprintf("unsupported git remote URL %q: %s (only https:// remotes are supported)", e.URL, e.Reason)
}
