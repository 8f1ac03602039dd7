package timer

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

type Key int

// RequestIDKey is the context key holding the request id string.
const RequestIDKey = Key(iota)

// Record is what the tracker learned about one request.
type Record struct {
	ID       string
	Method   string
	Path     string
	Status   int
	Bytes    int64
	Duration time.Duration
}

// Saver is called once per request after the handler returned.
type Saver func(req *http.Request, rec Record)

// MakeRequestTimeTracker wraps handler and measures how long it takes to
// process a request. Every request gets a fresh id that is stored in its
// context under RequestIDKey. The status code and the number of body bytes
// written are captured and passed to all savers together with the time.
func MakeRequestTimeTracker(handler http.Handler, savers ...Saver) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		start := time.Now()

		id := uuid.NewString()
		req = req.WithContext(context.WithValue(req.Context(), RequestIDKey, id))

		rec := &recorder{ResponseWriter: rw}
		handler.ServeHTTP(rec, req)

		r := Record{
			ID:       id,
			Method:   req.Method,
			Path:     req.URL.Path,
			Status:   rec.status(),
			Bytes:    rec.bytes,
			Duration: time.Since(start),
		}
		for _, save := range savers {
			save(req, r)
		}
	})
}

// RequestID returns the id stored by MakeRequestTimeTracker, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// LogSaver writes an access log line per request.
func LogSaver(logger *log.Logger) Saver {
	return func(req *http.Request, rec Record) {
		logger.Info("request",
			"id", rec.ID,
			"remote", req.RemoteAddr,
			"method", rec.Method,
			"path", rec.Path,
			"status", rec.Status,
			"bytes", rec.Bytes,
			"duration", rec.Duration,
		)
	}
}

type recorder struct {
	http.ResponseWriter
	code  int
	bytes int64
}

func (r *recorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// ReadFrom keeps io.Copy on the underlying writer's fast path.
func (r *recorder) ReadFrom(src io.Reader) (int64, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	n, err := io.Copy(r.ResponseWriter, src)
	r.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}
