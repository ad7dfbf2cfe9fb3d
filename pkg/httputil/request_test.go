package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePathInt64(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest("GET", "/x", nil), map[string]string{"id": "42", "bad": "abc"})

	id, err := ParsePathInt64(req, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = ParsePathInt64(req, "bad")
	assert.Error(t, err)

	_, err = ParsePathInt64(req, "missing")
	assert.Error(t, err)
}

func TestParsePathInt64OrError(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest("GET", "/x", nil), map[string]string{"id": "abc"})
	w := httptest.NewRecorder()

	_, ok := ParsePathInt64OrError(w, req, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathString(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest("GET", "/x", nil), map[string]string{"type": "Product"})

	v, err := ParsePathString(req, "type")
	require.NoError(t, err)
	assert.Equal(t, "Product", v)

	_, err = ParsePathString(req, "other")
	assert.Error(t, err)
}

func TestQueryHelpersIgnoreMalformedValues(t *testing.T) {
	req := httptest.NewRequest("GET", "/x?page=2&size=abc&userId=7&bad=x&name=%20Ali%20", nil)

	assert.Equal(t, 2, QueryInt(req, "page", 0))
	assert.Equal(t, 20, QueryInt(req, "size", 20))
	assert.Equal(t, 5, QueryInt(req, "missing", 5))

	require.NotNil(t, QueryInt64Ptr(req, "userId"))
	assert.Equal(t, int64(7), *QueryInt64Ptr(req, "userId"))
	assert.Nil(t, QueryInt64Ptr(req, "bad"))
	assert.Nil(t, QueryInt64Ptr(req, "missing"))

	assert.Equal(t, "Ali", QueryString(req, "name"))
}
