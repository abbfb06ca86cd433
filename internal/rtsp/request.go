package rtsp

import (
	"errors"
	"strings"
)

// Request parse errors. Malformed requests get a 400 response; the
// connection stays open.
var (
	ErrEmptyRequest       = errors.New("empty request")
	ErrInvalidRequestLine = errors.New("invalid request line")
	ErrInvalidHeader      = errors.New("invalid header line")
)

// Request is a parsed RTSP request (RFC 2326 §6). RTSP follows HTTP/1.1
// syntax: a request line, CRLF-separated headers, and a blank line.
//
//	Method SP Request-URI SP RTSP-Version CRLF
//	*(Header: Value CRLF)
//	CRLF
type Request struct {
	// Method is the RTSP method (OPTIONS, DESCRIBE, SETUP, PLAY, ...).
	Method string
	// URI is the request target, e.g. rtsp://host:8554/stream/track1.
	URI string
	// Version is the protocol version; RTSP/1.0 is expected.
	Version string
	// Headers preserves arrival order; lookups are case-insensitive per
	// RFC 2326 §4.2.
	Headers []Header
}

// Header is one name/value pair.
type Header struct {
	Name  string
	Value string
}

// ParseRequest parses an RTSP request from its text form: request line,
// headers, and trailing blank line. Body parsing is not implemented; no
// supported method carries one.
func ParseRequest(raw string) (*Request, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, ErrEmptyRequest
	}

	parts := strings.Fields(strings.TrimRight(lines[0], "\r"))
	if len(parts) != 3 {
		return nil, ErrInvalidRequestLine
	}

	req := &Request{
		Method:  parts[0],
		URI:     parts[1],
		Version: parts[2],
	}

	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, ErrInvalidHeader
		}
		req.Headers = append(req.Headers, Header{
			Name:  strings.TrimSpace(line[:colon]),
			Value: strings.TrimSpace(line[colon+1:]),
		})
	}

	return req, nil
}

// Header looks up a header value by name, case-insensitively.
func (r *Request) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// CSeq returns the CSeq header value, which numbers request/response pairs
// (RFC 2326 §12.17). Responses must echo it.
func (r *Request) CSeq() string {
	v, _ := r.Header("CSeq")
	return v
}

// SessionID extracts the session identifier from the Session header,
// stripping a timeout suffix: "ID;timeout=60" -> "ID".
func (r *Request) SessionID() (string, bool) {
	v, ok := r.Header("Session")
	if !ok {
		return "", false
	}
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v), true
}
