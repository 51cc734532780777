package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

func TestParseJSON(t *testing.T) {
	var dst struct{ Name string }
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"acme"}`))
	require.NoError(t, ParseJSON(r, &dst))
	assert.Equal(t, "acme", dst.Name)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{invalid}`))
	assert.True(t, errors.Is(ParseJSON(r, &dst), errors.NotValid))
}

func TestParsePathInt64(t *testing.T) {
	r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "42", "bad": "x", "neg": "-1"})
	id, err := ParsePathInt64(r, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, key := range []string{"bad", "neg", "missing"} {
		_, err := ParsePathInt64(r, key)
		assert.True(t, errors.Is(err, errors.BadRequest), key)
	}

	w := httptest.NewRecorder()
	_, ok := ParsePathInt64OrError(w, r, "bad")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?tag=web,db&tag=cache&deprecated=true&vendor=nope&n=7", nil)
	assert.Equal(t, []string{"web", "db", "cache"}, ParseQueryList(r, "tag"))

	dep, err := ParseQueryBool(r, "deprecated")
	require.NoError(t, err)
	require.NotNil(t, dep)
	assert.True(t, *dep)

	_, err = ParseQueryBool(r, "vendor")
	assert.Error(t, err)

	missing, err := ParseQueryBool(r, "absent")
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := ParseQueryInt64(r, "n", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestParsePage(t *testing.T) {
	page, err := ParsePage(httptest.NewRequest(http.MethodGet, "/?page=3&page_size=500", nil))
	require.NoError(t, err)
	assert.Equal(t, models.PageRequest{Page: 3, PageSize: models.MaxPageSize}, page)

	page, err = ParsePage(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, models.PageRequest{Page: 1, PageSize: models.DefaultPageSize}, page)

	_, err = ParsePage(httptest.NewRequest(http.MethodGet, "/?page=two", nil))
	assert.Error(t, err)
}

func TestFieldErrors(t *testing.T) {
	fe := FieldErrors{}
	fe.Require("name", "  ")
	fe.Add("name", "must match %s", "^[a-z0-9_]+$")

	w := httptest.NewRecorder()
	assert.True(t, fe.WriteIfAny(w))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "This field is required.")

	assert.False(t, FieldErrors{}.WriteIfAny(httptest.NewRecorder()))
}
