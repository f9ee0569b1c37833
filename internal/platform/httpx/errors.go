// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for transport-level failures.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
)

// ErrorMapping binds a domain error to an RFC7807 status and title.
type ErrorMapping struct {
	Target error
	Status int
	Title  string
}

var defaultMappings = []ErrorMapping{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrDuplicate, Status: http.StatusConflict, Title: "Duplicate"},
	{Target: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrConflict, Status: http.StatusConflict, Title: "Conflict"},
}

// RespondError maps domain errors to HTTP responses using RFC7807. Mappings
// supplied by the caller take precedence over the defaults. Unmapped errors
// become a 500 without leaking the message.
func RespondError(w http.ResponseWriter, err error, mappings ...ErrorMapping) {
	for _, set := range [][]ErrorMapping{mappings, defaultMappings} {
		for _, m := range set {
			if errors.Is(err, m.Target) {
				Problem(w, m.Status, m.Title, err.Error())
				return
			}
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
