package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/mnemo/internal/monitoring"
)

const (
	ansiReset = "\033[0m"
	ansiCyan  = "\033[36m"
)

// statusWriter records the status and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.size += n
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// colorStatus paints 2xx green, 3xx yellow and errors red.
func colorStatus(code int) string {
	var color string
	switch {
	case code >= 400:
		color = "\033[1;31m"
	case code >= 300:
		color = "\033[33m"
	case code >= 200:
		color = "\033[1;32m"
	default:
		return fmt.Sprint(code)
	}
	return fmt.Sprintf("%s%d%s", color, code, ansiReset)
}

// LoggingMiddleware logs one line per request: status, method, URI, response
// size and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		monitoring.Logf("[%s] %s %s%s%s %dB %.1fms",
			colorStatus(sw.status), r.Method,
			ansiCyan, r.RequestURI, ansiReset,
			sw.size, float64(time.Since(start).Microseconds())/1000)
	})
}
