package timer

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeRequestTimeTracker(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantBytes  int64
	}{
		{
			name: "implicit ok",
			handler: func(rw http.ResponseWriter, req *http.Request) {
				_, _ = rw.Write([]byte("hello"))
			},
			wantStatus: http.StatusOK,
			wantBytes:  5,
		},
		{
			name: "explicit status",
			handler: func(rw http.ResponseWriter, req *http.Request) {
				http.Error(rw, "nope", http.StatusNotFound)
			},
			wantStatus: http.StatusNotFound,
			wantBytes:  int64(len("nope\n")),
		},
		{
			name:       "nothing written",
			handler:    func(rw http.ResponseWriter, req *http.Request) {},
			wantStatus: http.StatusOK,
			wantBytes:  0,
		},
		{
			name: "copied body",
			handler: func(rw http.ResponseWriter, req *http.Request) {
				_, _ = io.Copy(rw, strings.NewReader("0123456789"))
			},
			wantStatus: http.StatusOK,
			wantBytes:  10,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var got []Record
			saver := func(req *http.Request, rec Record) {
				got = append(got, rec)
			}

			h := MakeRequestTimeTracker(test.handler, saver, saver)
			rw := httptest.NewRecorder()
			h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/some/path", nil))

			require.Len(t, got, 2)
			rec := got[0]
			assert.Equal(t, test.wantStatus, rec.Status)
			assert.Equal(t, test.wantBytes, rec.Bytes)
			assert.Equal(t, http.MethodGet, rec.Method)
			assert.Equal(t, "/some/path", rec.Path)
			assert.NotEmpty(t, rec.ID)
			assert.GreaterOrEqual(t, int64(rec.Duration), int64(0))
			assert.Equal(t, rec, got[1])
		})
	}
}

func TestRequestIDInContext(t *testing.T) {
	var seen string
	h := MakeRequestTimeTracker(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		seen = RequestID(req.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	first := seen
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, seen)
	assert.Empty(t, RequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestLogSaver(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)

	h := MakeRequestTimeTracker(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusForbidden)
	}), LogSaver(logger))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodHead, "/secret", nil))

	out := buf.String()
	assert.Contains(t, out, "request")
	assert.Contains(t, out, "/secret")
	assert.Contains(t, out, "403")
	assert.Contains(t, out, "HEAD")
}
