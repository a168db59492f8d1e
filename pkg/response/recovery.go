package response

import (
	"log"
	"net/http"
	"runtime/debug"

	apperrors "github.com/plazmica10/fitness-center/pkg/errors"
)

type headerTrackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *headerTrackingWriter) WriteHeader(code int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware 捕获 handler panic，未写响应头时补一个 500。
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &headerTrackingWriter{ResponseWriter: w}
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			log.Printf("panic recovered: %v request_id=%s\n%s", v, RequestIDFromRequest(r), debug.Stack())
			if !tw.wroteHeader {
				WriteErrorCode(tw, r, apperrors.CodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(tw, r)
	})
}
