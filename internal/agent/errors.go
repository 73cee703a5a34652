package agent

import (
	"fmt"
	"strings"
)

// DataError is a fatal condition in the conversation flow: a protocol shape
// violation, an unusable run outcome, or invalid assistant data. It is never
// retried; the caller aborts the current send cycle.
type DataError struct {
	Message string
	Status  string   // terminal run status, when one exists
	Code    string   // backend error code, when one exists
	Missing []string // forecast labels absent from the response, when relevant
}

func (e *DataError) Error() string {
	parts := []string{e.Message}
	if e.Status != "" {
		parts = append(parts, fmt.Sprintf("status=%s", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing=%s", strings.Join(e.Missing, ",")))
	}
	return strings.Join(parts, " ")
}

func dataErrorf(format string, args ...any) *DataError {
	return &DataError{Message: fmt.Sprintf(format, args...)}
}
