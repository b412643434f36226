package server

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

const (
	redacted = "[redacted]"

	maxRequestBody = 1 << 20
)

// Routes whose request bodies carry passwords.
var redactedRoutes = map[string]bool{
	"register":      true,
	"updateProfile": true,
}

var transitionRoutes = map[string]bool{
	"approveOrder": true,
	"denyOrder":    true,
	"returnOrder":  true,
}

func (s *Server) auditLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		handler := routeName(r)
		entry := AuditLogEntry{
			Timestamp: start,
			Method:    r.Method,
			Path:      r.URL.Path,
			Handler:   handler,
		}

		if login, _, ok := r.BasicAuth(); ok {
			entry.Login = login
		}

		if strings.HasPrefix(r.URL.Path, "/orders/") {
			entry.OrderID = mux.Vars(r)["id"]
		}

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		}
		skipRequestBody := strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data")
		if !skipRequestBody && r.Body != nil {
			entry.Request = peekRequestBody(r)
			if redactedRoutes[handler] && entry.Request != "" {
				entry.Request = redacted
			}
		}

		if transitionRoutes[handler] {
			if orderID, ok := pathID(r); ok {
				if order, err := s.storage.GetOrder(r.Context(), orderID); err == nil {
					entry.OldStatus = string(order.Status)
				}
			}
		}

		rec := newAuditRecorder(w)

		next.ServeHTTP(rec, r)

		body, complete := rec.Body()
		entry.StatusCode = rec.Status()
		entry.Response = string(body)
		if !complete {
			entry.Response += "...(truncated)"
		}
		entry.Duration = time.Since(start)

		if entry.OldStatus != "" && entry.StatusCode == http.StatusOK && complete {
			var changed struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &changed); err == nil {
				entry.NewStatus = changed.Status
			}
		}

		s.AuditManager.LogEntry(r.Context(), entry)
	})
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil && route.GetName() != "" {
		return route.GetName()
	}
	return "unknown"
}

// peekRequestBody reads at most maxAuditBody bytes for the audit entry and
// puts them back in front of the rest of the body.
func peekRequestBody(r *http.Request) string {
	head, _ := io.ReadAll(io.LimitReader(r.Body, maxAuditBody+1))
	r.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(head), r.Body),
		Closer: r.Body,
	}

	truncated := len(head) > maxAuditBody
	if truncated {
		head = head[:maxAuditBody]
	}
	logged := string(bytes.TrimSpace(head))
	if truncated {
		logged += "...(truncated)"
	}
	return logged
}

type readCloser struct {
	io.Reader
	io.Closer
}
