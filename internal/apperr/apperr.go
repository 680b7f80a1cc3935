// Package apperr holds the error kinds shared by the ipam, lookup and inventory
// packages and their translation to HTTP responses.
package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	ErrInvalidNetwork  = errors.New("invalid network")
	ErrDuplicateName   = errors.New("duplicate name")
	ErrAlreadyAssigned = errors.New("address already assigned")
	ErrOutOfRange      = errors.New("address out of range")
	ErrReservedByOther = errors.New("address reserved by another user")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrUnknownCategory = errors.New("unknown category")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Status maps an error kind onto an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownCategory):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateName),
		errors.Is(err, ErrAlreadyAssigned),
		errors.Is(err, ErrReservedByOther):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidNetwork),
		errors.Is(err, ErrOutOfRange),
		errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError пишет {"error": "..."} со статусом, выбранным по виду ошибки.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, Status(err), map[string]string{"error": err.Error()})
}
