package server

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

func getErrorStatusCode(err error) int {
	var se interface{ StatusCode() int }
	if errors.As(err, &se) {
		return se.StatusCode()
	}
	return http.StatusInternalServerError
}

func getDisplayError(err error) error {
	var se interface{ DisplayError() error }
	if errors.As(err, &se) {
		return se.DisplayError()
	}
	return err
}
