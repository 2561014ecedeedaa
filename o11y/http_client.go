package o11y

import (
	"net/http"
	"strings"
)

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

type wrappedClient struct {
	HTTPClient
}

// WrapClient traces every request made through c as a client span.
func WrapClient(c HTTPClient) HTTPClient {
	return &wrappedClient{HTTPClient: c}
}

func (c *wrappedClient) Do(req *http.Request) (res *http.Response, err error) {
	ctx, span := Trace(req.Context(), req.Method+" "+req.URL.Path, WithSpanKind(SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
		} else {
			span.SetMetadata(map[string]any{
				"http.status_code":             res.StatusCode,
				"http.response_content_length": res.ContentLength,
			})
			span.SetStatus(res.StatusCode)
		}
		span.End()
	}()

	span.SetMetadata(map[string]any{
		"http.method":                 req.Method,
		"http.url":                    req.URL.String(),
		"http.scheme":                 req.URL.Scheme,
		"http.path":                   req.URL.Path,
		"http.request_content_length": req.ContentLength,
	})
	if stage := stageFromPath(req.URL.Path); stage != "" {
		span.SetAnnotation("stage", stage)
	}

	return c.HTTPClient.Do(req.WithContext(ctx))
}

// stageFromPath extracts the stage name from "/api/login/<stage>/".
func stageFromPath(path string) string {
	const prefix = "/api/login/"
	i := strings.Index(path, prefix)
	if i < 0 {
		return ""
	}
	rest := strings.Trim(path[i+len(prefix):], "/")
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
