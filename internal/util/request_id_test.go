package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRequestIDPropagatesIncomingHeader(t *testing.T) {
	const incoming = "req-incoming-123"
	var seen string
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
		assert.NotNil(t, LoggerFromContext(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", incoming)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, incoming, seen)
	assert.Equal(t, incoming, rec.Header().Get("X-Request-Id"))
}

func TestWithRequestIDReplacesUnsafeOrMissing(t *testing.T) {
	for _, incoming := range []string{"", "bad id\nwith newline", strings.Repeat("a", 65)} {
		var seen string
		handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromRequest(r)
		}))
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		if incoming != "" {
			req.Header.Set("X-Request-Id", incoming)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.NotEmpty(t, seen, "incoming %q", incoming)
		assert.NotEqual(t, incoming, seen)
		assert.True(t, IsID(seen), "generated id %q is not a hex id", seen)
		assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))
	}
}

func TestRequestIDFromContextWithoutMiddleware(t *testing.T) {
	assert.Empty(t, RequestIDFromRequest(nil))
	assert.Empty(t, RequestIDFromRequest(httptest.NewRequest(http.MethodGet, "/", nil)))
}
