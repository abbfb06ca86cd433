package rtsp

import (
	"fmt"
	"strings"
)

// ServerAgent identifies the server in every response (RFC 2326 §12.36).
const ServerAgent = "rapidrtsp/0.1"

// RTSP status codes used by the handler (RFC 2326 §7.1.1). The client- and
// server-error ranges follow HTTP semantics; 454/455/461 are RTSP-specific.
const (
	StatusOK                    = 200
	StatusBadRequest            = 400
	StatusNotFound              = 404
	StatusSessionNotFound       = 454
	StatusMethodNotValidInState = 455
	StatusUnsupportedTransport  = 461
	StatusInternalServerError   = 500
	StatusNotImplemented        = 501
)

var statusText = map[int]string{
	StatusOK:                    "OK",
	StatusBadRequest:            "Bad Request",
	StatusNotFound:              "Not Found",
	StatusSessionNotFound:       "Session Not Found",
	StatusMethodNotValidInState: "Method Not Valid in This State",
	StatusUnsupportedTransport:  "Unsupported Transport",
	StatusInternalServerError:   "Internal Server Error",
	StatusNotImplemented:        "Not Implemented",
}

// Response is an RTSP response under construction (RFC 2326 §7).
// Chain AddHeader/WithBody, then Serialize. Content-Length is computed
// automatically when a body is present.
type Response struct {
	StatusCode int
	StatusText string
	Headers    []Header
	Body       string
}

// NewResponse starts a response with the given status code. The Server
// header is always included.
func NewResponse(code int) *Response {
	text, ok := statusText[code]
	if !ok {
		text = "Unknown"
	}
	return &Response{
		StatusCode: code,
		StatusText: text,
		Headers:    []Header{{Name: "Server", Value: ServerAgent}},
	}
}

// OK starts a 200 response.
func OK() *Response {
	return NewResponse(StatusOK)
}

// AddHeader appends a header and returns the response for chaining.
func (r *Response) AddHeader(name, value string) *Response {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
	return r
}

// WithBody sets the response body.
func (r *Response) WithBody(body string) *Response {
	r.Body = body
	return r
}

// Serialize renders the RTSP text wire format. Content-Length is appended
// when a body is present (RFC 2326 §12.14).
func (r *Response) Serialize() string {
	var b strings.Builder
	fmt.Fprintf(&b, "RTSP/1.0 %d %s\r\n", r.StatusCode, r.StatusText)
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	if r.Body != "" {
		fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n%s", len(r.Body), r.Body)
	} else {
		b.WriteString("\r\n")
	}
	return b.String()
}
