package server

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pelageech/aether/contenttype"
	"github.com/pelageech/aether/docroot"
	"github.com/pelageech/aether/timer"
)

// sendChunk is how much of a file is written under one write deadline.
const sendChunk = 64 << 10

// fileHandler answers GET and HEAD requests with files from root.
type fileHandler struct {
	root       *docroot.Root
	listing    bool
	indexFiles []string
	logger     *log.Logger

	// writeTimeout bounds each chunk of a response body, not the whole
	// response. Zero disables it.
	writeTimeout time.Duration
	// hit, if set, is called with the root-relative key of every file or
	// listing answered with 200.
	hit func(key string)
}

func (h *fileHandler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		rw.Header().Set("Allow", "GET, HEAD")
		http.Error(rw, "Only GET and HEAD requests are supported", http.StatusMethodNotAllowed)
		return
	}

	urlPath := req.URL.Path
	p, err := h.root.Resolve(urlPath)
	if err != nil {
		h.rejectPath(rw, req, err)
		return
	}

	real, err := h.root.Confine(p)
	if err != nil {
		h.rejectPath(rw, req, err)
		return
	}

	info, err := os.Stat(real)
	if err != nil {
		h.notFound(rw, req, err)
		return
	}

	if info.IsDir() {
		if !strings.HasSuffix(urlPath, "/") {
			redirectToDir(rw, req)
			return
		}
		h.serveDir(rw, req, real)
		return
	}

	h.serveFile(rw, req, real, filepath.Base(p))
}

// rejectPath maps a path resolution error onto a status code.
func (h *fileHandler) rejectPath(rw http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, docroot.ErrEscapesRoot):
		h.logger.Warn("Path escapes document root",
			"id", timer.RequestID(req.Context()),
			"remote", req.RemoteAddr,
			"path", req.URL.Path,
		)
		http.Error(rw, "Forbidden", http.StatusForbidden)
	case errors.Is(err, docroot.ErrInvalidPath):
		http.Error(rw, "Bad Request", http.StatusBadRequest)
	default:
		h.notFound(rw, req, err)
	}
}

func (h *fileHandler) notFound(rw http.ResponseWriter, req *http.Request, err error) {
	h.logger.Debug("Not found",
		"id", timer.RequestID(req.Context()),
		"path", req.URL.Path,
		"err", err,
	)
	http.Error(rw, "File not found", http.StatusNotFound)
}

// redirectToDir sends a directory requested without its trailing slash to
// the slashed URL. Leading slashes are collapsed so the Location can never
// be read as a network-path reference ("//host/...").
func redirectToDir(rw http.ResponseWriter, req *http.Request) {
	u := url.URL{
		Path:     "/" + strings.TrimLeft(req.URL.Path, "/") + "/",
		RawQuery: req.URL.RawQuery,
	}
	if u.Path == "//" {
		u.Path = "/"
	}
	http.Redirect(rw, req, u.String(), http.StatusMovedPermanently)
}

func (h *fileHandler) serveDir(rw http.ResponseWriter, req *http.Request, dir string) {
	for _, name := range h.indexFiles {
		index := filepath.Join(dir, name)
		real, err := h.root.Confine(index)
		if err != nil {
			continue
		}
		if info, err := os.Stat(real); err != nil || info.IsDir() {
			continue
		}
		h.serveFile(rw, req, real, name)
		return
	}

	if !h.listing {
		h.notFound(rw, req, errors.New("no index file and listing is disabled"))
		return
	}
	h.serveListing(rw, req, dir)
}

// serveFile sends the file at path with the Content-Type derived from name.
func (h *fileHandler) serveFile(rw http.ResponseWriter, req *http.Request, path, name string) {
	f, err := os.Open(path)
	if err != nil {
		h.notFound(rw, req, err)
		return
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			h.logger.Error("Failed to close file", "path", path, "err", err)
		}
	}(f)

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		h.notFound(rw, req, err)
		return
	}

	modTime := info.ModTime()
	if notModified(req, modTime) {
		rw.Header().Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
		rw.WriteHeader(http.StatusNotModified)
		return
	}

	size := info.Size()
	header := rw.Header()
	header.Set("Content-Type", contenttype.ForName(name))
	header.Set("Content-Length", strconv.FormatInt(size, 10))
	header.Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	rw.WriteHeader(http.StatusOK)
	h.recordHit(path)

	if req.Method == http.MethodHead {
		return
	}

	if err := h.send(rw, f, size); err != nil {
		h.logger.Warn("Failed to send file",
			"id", timer.RequestID(req.Context()),
			"path", req.URL.Path,
			"err", err,
		)
	}
}

func (h *fileHandler) recordHit(real string) {
	if h.hit != nil {
		h.hit(h.root.Key(real))
	}
}

// send copies size bytes of f to rw. Every chunk gets a fresh write
// deadline, so a slow but steady client can download any size while a
// stalled one is cut off.
func (h *fileHandler) send(rw http.ResponseWriter, f *os.File, size int64) error {
	rc := http.NewResponseController(rw)
	if h.writeTimeout > 0 {
		defer func() { _ = rc.SetWriteDeadline(time.Time{}) }()
	}

	for size > 0 {
		if h.writeTimeout > 0 {
			if err := rc.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		n, err := io.CopyN(rw, f, min(size, sendChunk))
		size -= n
		if err != nil {
			return err
		}
	}
	return nil
}

// notModified reports whether If-Modified-Since is at or after modTime.
// If-None-Match takes precedence and is never satisfied since no ETags are
// sent.
func notModified(req *http.Request, modTime time.Time) bool {
	if req.Header.Get("If-None-Match") != "" {
		return false
	}
	ims := req.Header.Get("If-Modified-Since")
	if ims == "" {
		return false
	}
	t, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	return !modTime.Truncate(time.Second).After(t)
}
