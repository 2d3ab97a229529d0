package reactorhttp

import (
	"bytes"
	"errors"
	"fmt"
	"net/http" // for http.StatusText only
	"strings"
)

// region Request

var (
	crlf     = []byte("\r\n")
	crlfCRLF = []byte("\r\n\r\n")
)

// Methods accepted on a request line. Anything else never matches.
var methods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"POST":    true,
	"PUT":     true,
	"DELETE":  true,
	"CONNECT": true,
	"OPTIONS": true,
	"TRACE":   true,
}

// ErrMalformedRequest is reported by Parser when the front of the buffer
// holds a complete header block that does not match the request grammar.
var ErrMalformedRequest = errors.New("malformed request")

// DecodeError means the stream holds a byte that is not 7-bit ASCII.
type DecodeError struct {
	Offset int
	Byte   byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("non-ascii byte 0x%02x at offset %d", e.Byte, e.Offset)
}

// Request is an HTTP request line plus its headers.
// Bodies are never read.
type Request struct {
	Method  string
	Url     string
	Version string // "1.0" or "1.1"

	// Headers keeps the last value seen for each field name.
	Headers map[string]string

	// Len is the number of raw bytes the request occupied in the stream.
	Len int
}

func NewRequest() *Request {
	return &Request{
		Headers: make(map[string]string),
	}
}

// Parse decodes every complete request at the front of buf and returns
// them in arrival order, together with the number of bytes they occupy.
//
// An incomplete or unrecognised prefix is not an error: Parse returns
// (nil, 0, nil) and the caller should try again with more bytes.
// The only error is a *DecodeError.
func Parse(buf []byte) ([]*Request, int, error) {
	if err := checkASCII(buf, 0); err != nil {
		return nil, 0, err
	}
	requests, consumed, _ := parseBlocks(buf)
	return requests, consumed, nil
}

// Parser is the streaming form of Parse. It remembers how much of the
// pending buffer it already validated, so bytes of an incomplete request
// are scanned once no matter how many reads it takes to complete it.
//
// Each call must be given the buffer left after removing the bytes the
// previous call consumed, with new data appended at the tail.
type Parser struct {
	checked int
}

// Parse has the same contract as the package level Parse, except that it
// reports ErrMalformedRequest for a complete header block that can never
// become a request.
func (p *Parser) Parse(buf []byte) ([]*Request, int, error) {
	if p.checked > len(buf) { // caller reset the buffer
		p.checked = 0
	}

	if err := checkASCII(buf, p.checked); err != nil {
		return nil, 0, err
	}

	// a terminator may straddle the old tail and the new data
	from := p.checked - len(crlfCRLF) + 1
	if from < 0 {
		from = 0
	}
	if bytes.Index(buf[from:], crlfCRLF) < 0 {
		p.checked = len(buf)
		return nil, 0, nil
	}

	requests, consumed, stuck := parseBlocks(buf)
	p.checked = len(buf) - consumed
	if stuck {
		return requests, consumed, ErrMalformedRequest
	}
	return requests, consumed, nil
}

// Reset forgets the scan position.
func (p *Parser) Reset() {
	p.checked = 0
}

func checkASCII(buf []byte, from int) error {
	for i := from; i < len(buf); i++ {
		if buf[i] > 0x7f {
			return &DecodeError{Offset: i, Byte: buf[i]}
		}
	}
	return nil
}

// parseBlocks walks the header blocks at the front of buf.
// No request line or header line may contain CRLFCRLF, so the first one
// in the buffer always ends the first request. stuck reports a complete
// block that failed to match.
func parseBlocks(buf []byte) (requests []*Request, consumed int, stuck bool) {
	for {
		end := bytes.Index(buf[consumed:], crlfCRLF)
		if end < 0 {
			return requests, consumed, false
		}
		block := buf[consumed : consumed+end+len(crlfCRLF)]

		r, ok := parseBlock(block)
		if !ok {
			return requests, consumed, true
		}
		requests = append(requests, r)
		consumed += len(block)
	}
}

// parseBlock parses one request: a request line, zero or more header lines,
// and the blank line. block includes the final CRLFCRLF.
func parseBlock(block []byte) (*Request, bool) {
	lines := bytes.Split(block[:len(block)-len(crlfCRLF)], crlf)

	r := NewRequest()
	if !r.parseRequestLine(lines[0]) {
		return nil, false
	}
	for _, line := range lines[1:] {
		if !r.parseHeaderLine(line) {
			return nil, false
		}
	}
	r.Len = len(block)
	return r, true
}

// parseRequestLine: <METHOD> SP <URL> SP HTTP/1.<0|1>
func (r *Request) parseRequestLine(line []byte) bool {
	method, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok || !methods[string(method)] {
		return false
	}

	url, proto, ok := bytes.Cut(rest, []byte{' '})
	if !ok || len(url) == 0 || bytes.IndexFunc(url, isSpace) >= 0 {
		return false
	}

	switch string(proto) {
	case "HTTP/1.0":
		r.Version = "1.0"
	case "HTTP/1.1":
		r.Version = "1.1"
	default:
		return false
	}

	r.Method = string(method)
	r.Url = string(url)
	return true
}

// parseHeaderLine accepts `name ":" value` where value is any run of
// bytes but LF. The field is recorded only when its trimmed value is
// visible ASCII; other values keep the request valid but are dropped.
func (r *Request) parseHeaderLine(line []byte) bool {
	name, value, ok := bytes.Cut(line, []byte{':'})
	if !ok || len(name) == 0 || len(value) == 0 || bytes.IndexByte(value, '\n') >= 0 {
		return false
	}
	for _, c := range name {
		if !isFieldNameByte(c) {
			return false
		}
	}

	value = bytes.Trim(value, " \t")
	if len(value) == 0 {
		return true
	}
	for _, c := range value {
		if c < 0x21 || c > 0x7e {
			return true
		}
	}

	r.Headers[string(name)] = string(value)
	return true
}

func isFieldNameByte(c byte) bool {
	return c == '-' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isSpace(c rune) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v', 0x1c, 0x1d, 0x1e, 0x1f:
		return true
	}
	return false
}

// endregion Request

// region Response

// Header is one response header field. Responses keep their headers in a
// slice so the bytes on the wire do not depend on map order.
type Header struct {
	Name  string
	Value string
}

// Response is the HTTP response status line and headers.
// The zero value is NOT valid, call NewResponse() or NewAckResponse().
type Response struct {
	Version string
	Status  int
	Reason  string

	Headers []Header
}

func NewResponse() *Response {
	return &Response{}
}

// NewAckResponse is the response sent for every request:
//
//	HTTP/1.1 200 OK
//	Connection: Close
func NewAckResponse() *Response {
	r := NewResponse()
	r.SetStateLine("HTTP/1.1", http.StatusOK)
	r.Headers = append(r.Headers, Header{Name: "Connection", Value: "Close"})
	return r
}

// SetStateLine set the state line of the response.
// e.g. HTTP/1.1 200 OK
// The status reason is inferred from the status code.
func (r *Response) SetStateLine(version string, status int) {
	r.Version = version
	r.Status = status
	r.Reason = http.StatusText(status)
}

// Bytes renders the response as it goes on the wire.
func (r *Response) Bytes() []byte {
	var b bytes.Buffer
	_, _ = fmt.Fprintf(&b, "%s %d %s\r\n", r.Version, r.Status, r.Reason)
	for _, h := range r.Headers {
		_, _ = fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.Write(crlf)
	return b.Bytes()
}

// ClosesConnection reports whether the response declares Connection: close,
// i.e. the server hangs up once it has been sent.
func (r *Response) ClosesConnection() bool {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, "Connection") && strings.EqualFold(h.Value, "close") {
			return true
		}
	}
	return false
}

// endregion Response
