package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return errors.NotValidf("JSON body (%v)", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, errors.BadRequestf("missing path parameter: %s", key)
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil || val <= 0 {
		return 0, errors.BadRequestf("invalid id for %s: %s", key, str)
	}
	return val, nil
}

// ParsePathInt64OrError extracts an int64 path parameter and writes error on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return 0, false
	}
	return val, true
}

// PathString returns a path variable, empty when absent.
func PathString(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, errors.BadRequestf("invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryInt64 extracts and parses an int64 query parameter
func ParseQueryInt64(r *http.Request, key string, defaultVal int64) (int64, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, errors.BadRequestf("invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryBool extracts an optional boolean query parameter; nil when absent.
func ParseQueryBool(r *http.Request, key string) (*bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return nil, errors.BadRequestf("invalid boolean for query param %s: %s", key, str)
	}
	return &val, nil
}

// ParseQueryList collects repeated and comma separated values of key.
func ParseQueryList(r *http.Request, key string) []string {
	var out []string
	for _, raw := range r.URL.Query()[key] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// ParsePage reads page and page_size. Out-of-range values are clamped, but
// non-numeric values are rejected.
func ParsePage(r *http.Request) (models.PageRequest, error) {
	page, err := ParseQueryInt(r, "page", 1)
	if err != nil {
		return models.PageRequest{}, err
	}
	size, err := ParseQueryInt(r, "page_size", models.DefaultPageSize)
	if err != nil {
		return models.PageRequest{}, err
	}
	return models.NewPageRequest(page, size), nil
}

// FieldErrors accumulates per-field validation messages.
type FieldErrors map[string][]string

// Add records msg for field.
func (f FieldErrors) Add(field, format string, args ...interface{}) {
	f[field] = append(f[field], fmt.Sprintf(format, args...))
}

// Require adds "This field is required." when value is blank.
func (f FieldErrors) Require(field, value string) {
	if strings.TrimSpace(value) == "" {
		f.Add(field, "This field is required.")
	}
}

// WriteIfAny writes a 400 and reports true when any errors were recorded.
func (f FieldErrors) WriteIfAny(w http.ResponseWriter) bool {
	if len(f) == 0 {
		return false
	}
	WriteValidationErrors(w, f)
	return true
}
