package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound is returned when a donor report or match set is missing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for rejected input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUpstreamUnavailable is returned when the candidate listing cannot be used.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrStorage wraps any failed read or write against the relational store.
	ErrStorage = errors.New("storage failure")
	// ErrUnauthorized is returned when a bearer credential is missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when another matching run holds the donor lock.
	ErrConflict = errors.New("conflict")
)

// Status maps err onto an HTTP status code and a short machine code.
func Status(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, ErrStorage):
		return http.StatusInternalServerError, "storage_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
