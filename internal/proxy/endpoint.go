package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
)

// Transport is the wire security of an endpoint
type Transport int

const (
	Plain Transport = iota
	TLS
)

func (t Transport) String() string {
	switch t {
	case Plain:
		return "plain"
	case TLS:
		return "tls"
	default:
		return "unknown"
	}
}

// Scheme returns the URL scheme requests to the endpoint use.
func (t Transport) Scheme() string {
	switch t {
	case Plain:
		return "http"
	case TLS:
		return "https"
	default:
		return ""
	}
}

// TransportForScheme maps "http" and "https" to a Transport.
func TransportForScheme(scheme string) (Transport, error) {
	switch scheme {
	case "http":
		return Plain, nil
	case "https":
		return TLS, nil
	default:
		return 0, fmt.Errorf("unsupported scheme %q", scheme)
	}
}

// Client sends a request upstream. *http.Client and circuit breakers satisfy it.
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

// Endpoint is one upstream target. It is immutable and shared by every
// request routed to it.
type Endpoint struct {
	address   string
	transport Transport
	client    Client
}

// NewEndpoint creates an endpoint. TLS endpoints default to port 443; plain
// endpoints must name a port.
func NewEndpoint(host string, port int, transport Transport, client Client) (*Endpoint, error) {
	if host == "" {
		return nil, fmt.Errorf("endpoint host is required")
	}
	if client == nil {
		return nil, fmt.Errorf("endpoint %s: client is required", host)
	}

	switch transport {
	case Plain:
		if port == 0 {
			return nil, fmt.Errorf("endpoint %s: port is required for plain transport", host)
		}
	case TLS:
		if port == 0 {
			port = 443
		}
	default:
		return nil, fmt.Errorf("endpoint %s: unknown transport %d", host, transport)
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("endpoint %s: port %d out of range", host, port)
	}

	return &Endpoint{
		address:   net.JoinHostPort(host, strconv.Itoa(port)),
		transport: transport,
		client:    client,
	}, nil
}

// Address returns host:port.
func (e *Endpoint) Address() string { return e.address }

// Transport returns the endpoint's transport kind.
func (e *Endpoint) Transport() Transport { return e.transport }

// Client returns the shared outbound client.
func (e *Endpoint) Client() Client { return e.client }

// TargetURL builds the absolute upstream URL for an escaped path and query.
func (e *Endpoint) TargetURL(pathAndQuery string) (*url.URL, error) {
	u, err := url.Parse(e.transport.Scheme() + "://" + e.address + pathAndQuery)
	if err != nil {
		return nil, fmt.Errorf("building upstream url: %w", err)
	}
	return u, nil
}
