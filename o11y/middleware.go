package o11y

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/traceid"
)

const SpanHeader = "X-Identity-Flow-Span"

// Middleware opens a server span per request and returns it serialized in the
// SpanHeader response header. The response body is buffered until the span ends.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			ww.Discard()

			tid := traceid.FromContext(r.Context())
			ctx, span := Trace(
				r.Context(),
				r.URL.Path,
				WithSpanKind(SpanKindServer),
				WithTraceID(tid),
				WithMetadata(map[string]any{
					"net.host.name": r.Host,
					"http.method":   r.Method,
					"http.url":      r.URL.String(),
					"url.path":      r.URL.Path,
					"url.query":     r.URL.RawQuery,
				}),
			)
			if stage := stageFromPath(r.URL.Path); stage != "" {
				span.SetAnnotation("stage", stage)
			}

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			span.SetStatus(status)
			span.End()
			spanJSON, err := json.Marshal(span)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			w.Header().Set(SpanHeader, string(spanJSON))

			w.WriteHeader(status)
			_, _ = body.WriteTo(w)
		})
	}
}
