package opencode

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is returned when the upstream answers with a non-2xx status.
type HTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.Status, e.Body)
}

// PromptError is the error envelope returned by a prompt ({name, data.message}).
type PromptError struct {
	Name    string
	Message string
}

func (e *PromptError) Error() string {
	return fmt.Sprintf("prompt error: %s: %s", e.Name, e.Message)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}
