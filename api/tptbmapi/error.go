package tptbmapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type StatusError struct {
	Code    int
	Err     error
	Display error
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func (e *StatusError) StatusCode() int {
	return e.Code
}

func (e *StatusError) DisplayError() error {
	if err := e.Display; err != nil {
		return err
	}
	return e.Err
}

func (e *StatusError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"error": e.DisplayError().Error(),
	})
}

func ErrorNotFound(err error) *StatusError {
	return &StatusError{http.StatusNotFound, err, nil}
}

// ConfigError reports an invalid benchmark configuration. It is raised
// before any connection is opened.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func ConfigErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func ErrorBadRequest(err error) *StatusError {
	return &StatusError{http.StatusBadRequest, err, nil}
}
