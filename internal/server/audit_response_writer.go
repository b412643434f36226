package server

import (
	"bytes"
	"net/http"
)

// maxAuditBody caps how much of a response is kept for the audit log.
const maxAuditBody = 8 << 10

// auditRecorder passes writes through to the client and keeps the status and
// the first maxAuditBody bytes of the body.
type auditRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
	truncated   bool
}

func newAuditRecorder(w http.ResponseWriter) *auditRecorder {
	return &auditRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *auditRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *auditRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	if room := maxAuditBody - r.body.Len(); room > 0 {
		if len(b) > room {
			r.body.Write(b[:room])
			r.truncated = true
		} else {
			r.body.Write(b)
		}
	} else if len(b) > 0 {
		r.truncated = true
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *auditRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *auditRecorder) Status() int {
	return r.status
}

// Body returns the recorded body; complete is false when it was cut at maxAuditBody.
func (r *auditRecorder) Body() (body []byte, complete bool) {
	return bytes.TrimSpace(r.body.Bytes()), !r.truncated
}
