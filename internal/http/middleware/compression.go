package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForStreaming wraps a compression middleware so the
// open-ended responses bypass it. Both the MJPEG stream (its parts are
// already JPEG-compressed) and SSE (requires an unbuffered writer so
// flushes reach the client) break under response compression.
func SkipCompressionForStreaming(compress func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compress(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}
			if strings.HasPrefix(r.URL.Path, "/api/stream/") || strings.HasPrefix(r.URL.Path, "/api/events/") {
				next.ServeHTTP(w, r)
				return
			}

			compressed.ServeHTTP(w, r)
		})
	}
}
