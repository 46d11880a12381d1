package middleware

import (
	"log"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/keisium/ccrelay/internal/logging"
)

// RequestLog tags each request with a short correlation id and logs method,
// path, status and duration once the handler returns. For streams that means
// after the last event, which is the duration worth knowing.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, reqID := logging.EnsureRequestID(r.Context())
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		log.Printf("📨 [%s] %s %s → %d (%dms, %dB)",
			reqID, r.Method, r.URL.Path, ww.Status(), time.Since(start).Milliseconds(), ww.BytesWritten())
	})
}
