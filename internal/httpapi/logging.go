package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// logRequest records one completed request, preferring the structured logger.
func logRequest(r *http.Request, status int, start time.Time) {
	if zlog != nil {
		z := zlog.Info().Str("path", r.URL.Path).Str("method", r.Method).
			Int("status", status).Dur("dur", time.Since(start))
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg("request")
		return
	}
	log.Printf("%s %s status=%d dur=%s", r.Method, r.URL.Path, status, time.Since(start))
}
