package web

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimitRejectsWhenBucketIsEmpty(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0.001), 2)
	handler := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books", nil))
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotAcceptable)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/users/1/borrow/2", nil))

	assert.Contains(t, buf.String(), `"status":406`)
	assert.Contains(t, buf.String(), `"path":"/users/1/borrow/2"`)
}

func TestIDParam(t *testing.T) {
	r := chi.NewRouter()
	var (
		got int64
		ok  bool
	)
	r.Get("/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		got, ok = IDParam(r, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/books/42", nil))
	require.True(t, ok)
	assert.Equal(t, int64(42), got)

	for _, path := range []string{"/books/abc", "/books/0", "/books/-3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		assert.False(t, ok, path)
	}
}
