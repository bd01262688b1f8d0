package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wudi/prefixgate/internal/config"
	"github.com/wudi/prefixgate/internal/pipeline"
)

func mustEndpoint(t *testing.T, rawURL string) *Endpoint {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := TransportForScheme(u.Scheme)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	client, err := NewClient(DefaultTransportConfig)
	if err != nil {
		t.Fatal(err)
	}
	ep, err := NewEndpoint(u.Hostname(), port, tr, client)
	if err != nil {
		t.Fatal(err)
	}
	return ep
}

func mustRoute(t *testing.T, prefix string, ep *Endpoint, p *pipeline.Pipeline) *Route {
	t.Helper()
	r, err := NewRoute("test", prefix, []*Endpoint{ep}, p)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestUpstreamURL(t *testing.T) {
	plain := &Endpoint{address: "127.0.0.1:8000", transport: Plain}
	secure := &Endpoint{address: "api.example.com:443", transport: TLS}

	tests := []struct {
		name   string
		prefix string
		uri    string
		ep     *Endpoint
		want   string
	}{
		{"strip prefix", "/first", "/first/users/1", plain, "http://127.0.0.1:8000/users/1"},
		{"keeps query", "/first", "/first/search?q=a&b=2", plain, "http://127.0.0.1:8000/search?q=a&b=2"},
		{"exact prefix", "/first", "/first", plain, "http://127.0.0.1:8000"},
		{"query right after prefix", "/first", "/first?x=1", plain, "http://127.0.0.1:8000?x=1"},
		{"remainder without slash", "/first", "/firstabc", plain, "http://127.0.0.1:8000/abc"},
		{"root prefix", "/", "/a/b", plain, "http://127.0.0.1:8000/a/b"},
		{"tls scheme", "/api", "/api/v1", secure, "https://api.example.com:443/v1"},
		{"escaped path preserved", "/files", "/files/a%2Fb", plain, "http://127.0.0.1:8000/a%2Fb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.ParseRequestURI(tt.uri)
			if err != nil {
				t.Fatal(err)
			}
			got, err := UpstreamURL(tt.prefix, u, tt.ep)
			if err != nil {
				t.Fatalf("UpstreamURL: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUpstreamURL_PrefixLongerThanPath(t *testing.T) {
	ep := &Endpoint{address: "127.0.0.1:8000", transport: Plain}
	got, err := UpstreamURL("/first/", &url.URL{Path: "/first"}, ep)
	if err != nil {
		t.Fatalf("UpstreamURL: %v", err)
	}
	if got.String() != "http://127.0.0.1:8000" {
		t.Errorf("got %s, want empty remainder", got)
	}
}

func TestNewEndpoint(t *testing.T) {
	client := &http.Client{}

	ep, err := NewEndpoint("api.example.com", 0, TLS, client)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	if ep.Address() != "api.example.com:443" {
		t.Errorf("expected default port 443, got %s", ep.Address())
	}

	if _, err := NewEndpoint("localhost", 0, Plain, client); err == nil {
		t.Error("plain endpoint without port should fail")
	}
	if _, err := NewEndpoint("", 80, Plain, client); err == nil {
		t.Error("empty host should fail")
	}
	if _, err := NewEndpoint("localhost", 80, Plain, nil); err == nil {
		t.Error("nil client should fail")
	}
	if _, err := NewEndpoint("localhost", 70000, Plain, client); err == nil {
		t.Error("port out of range should fail")
	}

	v6, err := NewEndpoint("::1", 8080, Plain, client)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	if v6.Address() != "[::1]:8080" {
		t.Errorf("got %s, want [::1]:8080", v6.Address())
	}
}

func TestTransportScheme(t *testing.T) {
	if Plain.Scheme() != "http" || TLS.Scheme() != "https" {
		t.Errorf("unexpected schemes %q %q", Plain.Scheme(), TLS.Scheme())
	}
	if _, err := TransportForScheme("ws"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestNewRouteValidation(t *testing.T) {
	ep := &Endpoint{address: "a:1", transport: Plain, client: &http.Client{}}

	if _, err := NewRoute("r", "api", []*Endpoint{ep}, nil); err == nil {
		t.Error("prefix without / should fail")
	}
	if _, err := NewRoute("r", "/api", nil, nil); err == nil {
		t.Error("route without endpoints should fail")
	}
	r, err := NewRoute("r", "/api", []*Endpoint{ep}, nil)
	if err != nil {
		t.Fatalf("NewRoute: %v", err)
	}
	if r.Pipeline() == nil {
		t.Error("nil pipeline should default to an empty one")
	}
}

func TestRouteMatches(t *testing.T) {
	r := &Route{prefix: "/first"}
	tests := map[string]bool{
		"/first":        true,
		"/first/x":      true,
		"/firstly":      true,
		"/second/first": false,
		"/":             false,
	}
	for path, want := range tests {
		if got := r.Matches(httptest.NewRequest("GET", path, nil)); got != want {
			t.Errorf("Matches(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestRouteSelectEndpointIsFirst(t *testing.T) {
	a := &Endpoint{address: "a:1", client: &http.Client{}}
	b := &Endpoint{address: "b:1", client: &http.Client{}}
	r, err := NewRoute("r", "/", []*Endpoint{a, b}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if r.SelectEndpoint(httptest.NewRequest("GET", "/", nil)) != a {
			t.Fatal("expected first endpoint")
		}
	}
}

func TestRouteProxy_PassThrough(t *testing.T) {
	var gotMethod, gotURI, gotBody, gotHost, gotXFF, gotCustom string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotURI = r.RequestURI
		gotHost = r.Host
		gotXFF = r.Header.Get("X-Forwarded-For")
		gotCustom = r.Header.Get("X-Custom")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "created")
	}))
	defer backend.Close()

	route := mustRoute(t, "/first", mustEndpoint(t, backend.URL), nil)

	req := httptest.NewRequest("POST", "http://gateway.local/first/orders?dry=1", strings.NewReader(`{"id":1}`))
	req.Header.Set("X-Custom", "kept")

	res, err := route.Proxy(req)
	if err != nil {
		t.Fatalf("Proxy: %v", err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusCreated || string(body) != "created" {
		t.Errorf("got %d %q", res.StatusCode, body)
	}
	if res.Header.Get("X-Upstream") != "yes" {
		t.Error("upstream header lost")
	}
	if gotMethod != "POST" {
		t.Errorf("method = %s", gotMethod)
	}
	if gotURI != "/orders?dry=1" {
		t.Errorf("forwarded uri = %s, want /orders?dry=1", gotURI)
	}
	if gotBody != `{"id":1}` {
		t.Errorf("body = %q", gotBody)
	}
	if gotHost != "gateway.local" {
		t.Errorf("host = %q, want original host", gotHost)
	}
	if gotCustom != "kept" {
		t.Errorf("custom header = %q", gotCustom)
	}
	if gotXFF != "" {
		t.Errorf("unexpected X-Forwarded-For %q", gotXFF)
	}
}

func TestRouteProxy_TLSEndpoint(t *testing.T) {
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.URL.Path)
	}))
	defer backend.Close()

	u, _ := url.Parse(backend.URL)
	port, _ := strconv.Atoi(u.Port())
	cfg := DefaultTransportConfig
	cfg.InsecureSkipVerify = true
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ep, err := NewEndpoint(u.Hostname(), port, TLS, client)
	if err != nil {
		t.Fatal(err)
	}

	res, err := mustRoute(t, "/secure", ep, nil).Proxy(httptest.NewRequest("GET", "/secure/ping", nil))
	if err != nil {
		t.Fatalf("Proxy: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if string(body) != "/ping" {
		t.Errorf("got %q, want /ping", body)
	}
}

func TestRouteProxy_UnreachableEndpoint(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	addr := backend.URL
	backend.Close()

	_, err := mustRoute(t, "/down", mustEndpoint(t, addr), nil).Proxy(httptest.NewRequest("GET", "/down/x", nil))
	if err == nil {
		t.Fatal("expected dispatch error")
	}
	if !errors.Is(err, ErrUpstreamDispatch) {
		t.Errorf("expected ErrUpstreamDispatch, got %v", err)
	}
	var de *DispatchError
	if !errors.As(err, &de) || de.Route != "test" {
		t.Errorf("expected *DispatchError for route test, got %#v", err)
	}
}

func TestRouteProxy_RequestBreakSkipsUpstream(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer backend.Close()

	p := pipeline.New().Use(denyAll{})
	res, err := mustRoute(t, "/", mustEndpoint(t, backend.URL), p).Proxy(httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("Proxy: %v", err)
	}
	if res.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", res.StatusCode)
	}
	if hits.Load() != 0 {
		t.Errorf("upstream was contacted %d times", hits.Load())
	}
}

type denyAll struct{ pipeline.RequestOnly }

func (denyAll) HandleRequest(*http.Request) pipeline.Outcome {
	return pipeline.BreakWithStatus(http.StatusForbidden)
}

// stamp writes the next value of a shared counter into its header.
type stamp struct {
	pipeline.ResponseOnly
	header string
	seq    *atomic.Int64
}

func (s stamp) HandleResponse(res *http.Response) pipeline.Outcome {
	res.Header.Set(s.header, strconv.FormatInt(s.seq.Add(1), 10))
	return pipeline.Continue
}

func TestRouteProxy_ResponseHandlerOrder(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	seq := &atomic.Int64{}
	p := pipeline.New().
		Use(stamp{header: "X-Stamp-A", seq: seq}).
		Use(stamp{header: "X-Stamp-B", seq: seq})
	route := mustRoute(t, "/", mustEndpoint(t, backend.URL), p)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := route.Proxy(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				errs <- err
				return
			}
			res.Body.Close()
			a, _ := strconv.ParseInt(res.Header.Get("X-Stamp-A"), 10, 64)
			b, _ := strconv.ParseInt(res.Header.Get("X-Stamp-B"), 10, 64)
			if !(a < b) {
				errs <- fmt.Errorf("stamp A=%d not before B=%d", a, b)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// idHook remembers the X-Id it saw on the request and checks the response
// carries the same one.
type idHook struct {
	seen       string
	mismatches *atomic.Int32
	checked    *atomic.Int32
}

func (h *idHook) OnRequest(req *http.Request) { h.seen = req.Header.Get("X-Id") }

func (h *idHook) OnResponse(res *http.Response) {
	h.checked.Add(1)
	if res.Header.Get("X-Id") != h.seen {
		h.mismatches.Add(1)
	}
}

func TestRouteProxy_ScopedHooksAreIsolated(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Id", r.Header.Get("X-Id"))
	}))
	defer backend.Close()

	var mismatches, checked atomic.Int32
	p := pipeline.New().UseHook(pipeline.HookFactoryFunc(func() pipeline.ScopedHook {
		return &idHook{mismatches: &mismatches, checked: &checked}
	}))
	route := mustRoute(t, "/", mustEndpoint(t, backend.URL), p)

	var wg sync.WaitGroup
	for i := 1; i <= 9; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("X-Id", strconv.Itoa(id))
			res, err := route.Proxy(req)
			if err != nil {
				t.Errorf("Proxy: %v", err)
				return
			}
			res.Body.Close()
		}(i)
	}
	wg.Wait()

	if checked.Load() != 9 {
		t.Errorf("expected 9 hook responses, got %d", checked.Load())
	}
	if mismatches.Load() != 0 {
		t.Errorf("%d hooks saw another request's id", mismatches.Load())
	}
}

func TestWriteResponse(t *testing.T) {
	res := &http.Response{
		StatusCode: http.StatusAccepted,
		Header: http.Header{
			"Content-Type": {"text/plain"},
			"Connection":   {"close"},
			"Keep-Alive":   {"timeout=5"},
		},
		Body: io.NopCloser(strings.NewReader("ok")),
	}

	rec := httptest.NewRecorder()
	n, err := WriteResponse(rec, res)
	if err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	if n != 2 || rec.Body.String() != "ok" || rec.Code != http.StatusAccepted {
		t.Errorf("got %d %q (%d bytes)", rec.Code, rec.Body.String(), n)
	}
	if rec.Header().Get("Connection") != "" || rec.Header().Get("Keep-Alive") != "" {
		t.Error("hop-by-hop headers should be removed")
	}
	if rec.Header().Get("Content-Type") != "text/plain" {
		t.Error("end-to-end header lost")
	}
}

func TestMergeTransportConfigs(t *testing.T) {
	if got := MergeTransportConfigs(DefaultTransportConfig); got != DefaultTransportConfig {
		t.Error("no overlays should return base")
	}

	got := MergeTransportConfigs(DefaultTransportConfig,
		config.TransportConfig{MaxIdleConns: 7, DialTimeout: time.Second},
		config.TransportConfig{MaxIdleConns: 9, InsecureSkipVerify: true},
	)
	if got.MaxIdleConns != 9 {
		t.Errorf("MaxIdleConns = %d, want last overlay 9", got.MaxIdleConns)
	}
	if got.DialTimeout != time.Second {
		t.Errorf("DialTimeout = %v, want 1s", got.DialTimeout)
	}
	if !got.InsecureSkipVerify {
		t.Error("InsecureSkipVerify should be on")
	}
	if got.IdleConnTimeout != DefaultTransportConfig.IdleConnTimeout {
		t.Error("unset fields should keep base values")
	}
}

func TestNewTransportBadCAFile(t *testing.T) {
	cfg := DefaultTransportConfig
	cfg.CAFile = "/nonexistent/ca.pem"
	if _, err := NewTransport(cfg); err == nil {
		t.Error("expected error for missing CA file")
	}
}
