package dalmock

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ismailtsdln/dalmock/fixtures"
	"github.com/ismailtsdln/dalmock/internal/logging"
)

func newTestResponder() *responder {
	return &responder{
		store: fixtures.MapStore{"small.xml": []byte("<VOTABLE/>\n")},
		log:   logging.Nop(),
	}
}

func TestRespondEchoPath(t *testing.T) {
	rs := newTestResponder()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/path?x=1", nil)

	status, n := rs.respond(w, r, EchoPath())

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/path?x=1\n", w.Body.String())
	assert.Equal(t, "10", w.Header().Get("Content-Length"))
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.EqualValues(t, 10, n)
}

func TestRespondFixture(t *testing.T) {
	rs := newTestResponder()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/dal/small.xml", nil)

	status, n := rs.respond(w, r, ServeFixture("small.xml"))

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "<VOTABLE/>\n", w.Body.String())
	assert.Equal(t, "11", w.Header().Get("Content-Length"))
	assert.Equal(t, "text/xml", w.Header().Get("Content-Type"))
	assert.EqualValues(t, 11, n)
}

func TestRespondEmptyOK(t *testing.T) {
	rs := newTestResponder()
	w := httptest.NewRecorder()

	status, n := rs.respond(w, httptest.NewRequest(http.MethodGet, "/shutdown", nil), EmptyOK())

	assert.Equal(t, http.StatusOK, status)
	assert.Zero(t, n)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "0", w.Header().Get("Content-Length"))
	assert.Equal(t, "text/xml", w.Header().Get("Content-Type"))
}

func TestRespondNotFound(t *testing.T) {
	rs := newTestResponder()
	w := httptest.NewRecorder()

	status, _ := rs.respond(w, httptest.NewRequest(http.MethodGet, "/nope", nil), NotFound())

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))
	assert.Equal(t, notFoundBody, w.Body.String())
}

func TestRespondMissingFixtureAborts(t *testing.T) {
	rs := newTestResponder()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/dal/absent.xml", nil)

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		rs.respond(w, r, ServeFixture("absent.xml"))
	})
	assert.False(t, w.Flushed)
	assert.Empty(t, w.Body.String())
}

func TestRespondNotImplemented(t *testing.T) {
	rs := newTestResponder()
	w := httptest.NewRecorder()

	status, _ := rs.notImplemented(w, httptest.NewRequest(http.MethodPost, "/sia", nil))

	assert.Equal(t, http.StatusNotImplemented, status)
	assert.Equal(t, "GET", w.Header().Get("Allow"))
}

type brokenWriter struct {
	header http.Header
	status int
}

func (b *brokenWriter) Header() http.Header { return b.header }
func (b *brokenWriter) WriteHeader(status int) { b.status = status }
func (b *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset by peer") }

func TestRespondSwallowsWriteErrors(t *testing.T) {
	rs := newTestResponder()
	r := httptest.NewRequest(http.MethodGet, "/path", nil)

	for _, a := range []Action{EchoPath(), ServeFixture("small.xml"), NotFound()} {
		w := &brokenWriter{header: make(http.Header)}
		require.NotPanics(t, func() {
			status, n := rs.respond(w, r, a)
			assert.Equal(t, w.status, status)
			assert.Zero(t, n)
		}, a.String())
	}
}
