// Package tee records what a handler writes so that it can be turned into a
// *http.Response, optionally passing everything through to a client as well.
package tee

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

// ResponseSaver is an http.ResponseWriter that keeps status, headers and body.
// Only the first WriteHeader call counts, as with net/http.
type ResponseSaver struct {
	client  http.ResponseWriter
	header  http.Header
	body    bytes.Buffer
	code    int
	started bool
}

// NewResponseSaver returns a new ResponseSaver.
// If client is not nil, the response is passed through to it as it is written.
func NewResponseSaver(client http.ResponseWriter) *ResponseSaver {
	return &ResponseSaver{client: client, header: http.Header{}, code: http.StatusOK}
}

func (s *ResponseSaver) Header() http.Header {
	return s.header
}

func (s *ResponseSaver) WriteHeader(code int) {
	if s.started {
		return
	}
	s.started = true
	s.code = code
	if s.client != nil {
		dst := s.client.Header()
		for name, values := range s.header {
			dst[name] = append(dst[name], values...)
		}
		s.client.WriteHeader(code)
	}
}

func (s *ResponseSaver) Write(b []byte) (int, error) {
	s.WriteHeader(http.StatusOK)
	if s.client != nil {
		if _, err := s.client.Write(b); err != nil {
			return 0, err
		}
	}
	return s.body.Write(b)
}

// Body returns the body written so far.
func (s *ResponseSaver) Body() []byte {
	return s.body.Bytes()
}

// StatusCode returns the status written by the handler, 200 if none was.
func (s *ResponseSaver) StatusCode() int {
	return s.code
}

// Response converts the recording into a response to req.
// Header and body are copies, later writes do not affect it.
func (s *ResponseSaver) Response(req *http.Request) *http.Response {
	body := bytes.Clone(s.body.Bytes())
	header := s.header.Clone()
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        strconv.Itoa(s.code) + " " + http.StatusText(s.code),
		StatusCode:    s.code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
