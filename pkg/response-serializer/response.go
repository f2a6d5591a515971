package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
)

// hop-by-hop headers are meaningful only for the connection they arrived on
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
}

// ResponseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response with an explicit Content-Length.
// The response body is consumed and replaced with an identical, unread one.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	var body []byte
	if res.Body != nil {
		var err error
		body, err = io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, err
		}
	}
	res.Body = io.NopCloser(bytes.NewReader(body))

	stored := *res
	stored.Header = res.Header.Clone()
	if stored.Header == nil {
		stored.Header = http.Header{}
	}
	for _, h := range hopHeaders {
		stored.Header.Del(h)
	}
	stored.Proto, stored.ProtoMajor, stored.ProtoMinor = "HTTP/1.1", 1, 1
	stored.TransferEncoding = nil
	stored.Close = false
	stored.Uncompressed = false
	stored.Trailer = nil
	stored.ContentLength = int64(len(body))
	stored.Body = io.NopCloser(bytes.NewReader(body))

	buf := &bytes.Buffer{}
	if err := stored.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BytesToResponse converts a byte slice created by ResponseToBytes to a http.Response.
// The request is attached to the response and may be nil.
func BytesToResponse(b []byte, req *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
}
