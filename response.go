package dalmock

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ismailtsdln/dalmock/fixtures"
)

const (
	contentTypeXML  = "text/xml"
	contentTypeText = "text/plain"
	notFoundBody    = "404 page not found\n"
	notImplBody     = "501 method not implemented\n"
)

type responder struct {
	store fixtures.Store
	log   *slog.Logger
}

// respond writes the response for a and returns the status code and body
// bytes written. A missing fixture aborts the response with
// http.ErrAbortHandler so the client sees the connection drop.
func (rs *responder) respond(w http.ResponseWriter, r *http.Request, a Action) (int, int64) {
	switch a.Kind {
	case ActionEchoPath:
		return rs.write(w, r, http.StatusOK, contentTypeText, r.RequestURI+"\n")
	case ActionServeFixture:
		return rs.serveFixture(w, r, a.Fixture)
	case ActionEmptyOK:
		return rs.write(w, r, http.StatusOK, contentTypeXML, "")
	default:
		w.Header().Set("Connection", "close")
		return rs.write(w, r, http.StatusNotFound, contentTypeText, notFoundBody)
	}
}

// notImplemented answers any method other than GET.
func (rs *responder) notImplemented(w http.ResponseWriter, r *http.Request) (int, int64) {
	w.Header().Set("Connection", "close")
	w.Header().Set("Allow", http.MethodGet)
	return rs.write(w, r, http.StatusNotImplemented, contentTypeText, notImplBody)
}

func (rs *responder) write(w http.ResponseWriter, r *http.Request, status int, contentType, body string) (int, int64) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if body == "" {
		return status, 0
	}
	n, err := io.WriteString(w, body)
	if err != nil {
		rs.transportError(r, err)
	}
	return status, int64(n)
}

func (rs *responder) serveFixture(w http.ResponseWriter, r *http.Request, name string) (int, int64) {
	size, err := rs.store.Size(name)
	if err != nil {
		rs.abort(r, name, err)
	}
	f, err := rs.store.Open(name)
	if err != nil {
		rs.abort(r, name, err)
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", contentTypeXML)
	h.Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, f)
	if err != nil {
		rs.transportError(r, err)
	}
	return http.StatusOK, n
}

func (rs *responder) abort(r *http.Request, name string, err error) {
	rs.log.Error("fixture unavailable, aborting response",
		"fixture", name, "path", r.RequestURI, "error", err)
	panic(http.ErrAbortHandler)
}

// transportError logs a failed write. The peer has usually gone away and
// there is nobody left to tell.
func (rs *responder) transportError(r *http.Request, err error) {
	rs.log.Debug("write failed", "path", r.RequestURI, "remote", r.RemoteAddr, "error", err)
}
