package offlinecache

import (
	"crypto/tls"
	"net/http"
	"net/url"

	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"
	responsetransformer "github.com/always-cache/offline-cache/pkg/response-transformer"
)

// OriginTransport sends requests to the origin server.
// Every request is rewritten to the origin URL, whatever host it names,
// so absolute-form request lines cannot reach other hosts.
type OriginTransport struct {
	Origin url.URL
	// Hostname to use for the Host header and TLS negotiation, if set.
	Host      string
	Transport http.RoundTripper
}

// NewOriginTransport creates a transport for the given origin.
// If host is given, it is used for TLS negotiation instead of the origin host.
func NewOriginTransport(origin url.URL, host string) *OriginTransport {
	var transport http.RoundTripper = http.DefaultTransport
	if host != "" {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: host,
			},
		}
	}
	return &OriginTransport{Origin: origin, Host: host, Transport: transport}
}

func (o *OriginTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	out := r.Clone(r.Context())
	// client requests must not have RequestURI set
	out.RequestURI = ""
	out.URL.Scheme = o.Origin.Scheme
	out.URL.Host = o.Origin.Host
	out.URL.User = nil
	out.Host = o.Origin.Host
	if o.Host != "" {
		out.Host = o.Host
	}
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	if r.ContentLength == 0 {
		out.Body = nil
	}
	// do not forward connection header, this causes trouble
	out.Header.Del("Connection")
	return o.Transport.RoundTrip(out)
}

// HandlerTransport uses an in-process handler as the network.
// It lets the cache be used as middleware in front of the web application itself.
type HandlerTransport struct {
	Handler http.Handler
}

func (h HandlerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	in := r.Clone(r.Context())
	if in.RequestURI == "" {
		in.RequestURI = in.URL.RequestURI()
	}
	if in.Body == nil {
		in.Body = http.NoBody
	}
	rs := tee.NewResponseSaver(nil)
	h.Handler.ServeHTTP(rs, in)
	return rs.Response(r), nil
}

// rulesTransport applies response rules to every response of the wrapped network.
// It is used for populating snapshots only, misses are always served verbatim.
type rulesTransport struct {
	next  http.RoundTripper
	rules responsetransformer.Rules
}

func (t rulesTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	res, err := t.next.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if res.Request == nil {
		res.Request = r
	}
	t.rules.Apply(res)
	return res, nil
}
