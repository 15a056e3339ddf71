package driftgate

import (
	"encoding/json"
	"net/http"
	"strings"
)

// SubjectFunc derives the drift subject from a request, e.g. an API
// key, a user ID header, or the client address.
type SubjectFunc func(r *http.Request) string

// Middleware returns an http.Handler that submits each request as an
// observation before passing to the next handler. Blocked requests
// receive a 403 with a JSON body; daemon outages fail open.
func (c *Client) Middleware(subject SubjectFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report, err := c.Submit(r.Context(), subject(r), payloadFromRequest(r))
		if err != nil {
			if IsRateLimited(err) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"blocked": true,
					"reason":  "submission rate limit exceeded",
				})
				return
			}
			// Validation rejections and transport failures must not
			// take the protected service down with them.
			next.ServeHTTP(w, r)
			return
		}

		if report.Blocked() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{
				"blocked":   true,
				"decision":  string(report.Decision()),
				"reason":    report.Reason,
				"report_id": report.ReportID,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// payloadFromRequest maps an HTTP request to an observation payload.
func payloadFromRequest(r *http.Request) Payload {
	resource := r.URL.String()
	if r.URL.Host == "" && r.Host != "" {
		resource = r.Host + r.URL.RequestURI()
	}

	contentLength := 0
	if r.ContentLength > 0 {
		contentLength = int(r.ContentLength)
	}

	return Payload{
		{Name: "content", Value: resource},
		{Name: "method", Value: strings.ToLower(r.Method)},
		{Name: "length", Value: contentLength},
	}
}
