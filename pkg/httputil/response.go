// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, pagination and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
	// Errors holds per-field messages for validation failures.
	Errors map[string][]string `json:"errors,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a {"detail": message} body.
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Detail: message})
}

// StatusFor maps a juju error class onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.AlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.BadRequest), errors.Is(err, errors.NotSupported):
		return http.StatusBadRequest
	case errors.Is(err, errors.Unauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errors.Forbidden):
		return http.StatusForbidden
	case errors.Is(err, errors.QuotaLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, errors.Timeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteErr classifies err and writes the matching status. Internal errors
// are logged and their text is not sent to the client.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		WriteErrorMessage(w, status, "A server error occurred.")
		return
	}
	if status == http.StatusUnauthorized {
		WriteUnauthorized(w, err.Error())
		return
	}
	WriteErrorMessage(w, status, err.Error())
}

// WriteValidationErrors writes a 400 with per-field messages.
func WriteValidationErrors(w http.ResponseWriter, fields map[string][]string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Detail: "Invalid input.", Errors: fields})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Token realm="api"`)
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusNotFound, "Not found.")
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteAccepted writes 202 with data, used when work was queued.
func WriteAccepted(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusAccepted, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// NewPage builds the list envelope with absolute next/previous links that
// keep every other query parameter of r.
func NewPage[T any](r *http.Request, results []T, total int64, page models.PageRequest) models.Page[T] {
	if results == nil {
		results = []T{}
	}
	out := models.Page[T]{Count: total, Results: results}
	if int64(page.Page*page.PageSize) < total {
		out.Next = pageLink(r, page.Page+1)
	}
	if page.Page > 1 {
		out.Previous = pageLink(r, page.Page-1)
	}
	return out
}

func pageLink(r *http.Request, n int) *string {
	u := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path}
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		u.Scheme = "https"
	}
	q := r.URL.Query()
	if n == 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(n))
	}
	u.RawQuery = q.Encode()
	s := u.String()
	return &s
}

// WritePage writes a paginated list.
func WritePage[T any](w http.ResponseWriter, r *http.Request, results []T, total int64, page models.PageRequest) {
	WriteSuccess(w, NewPage(r, results, total, page))
}
