package proxy

import (
	"io"
	"net/http"
)

// Hop-by-hop headers that should be removed
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopHeaders deletes connection-scoped headers.
func RemoveHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// CopyHeaders copies headers from src to dst without hop-by-hop headers.
func CopyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	RemoveHopHeaders(dst)
}

// WriteResponse writes res to w and closes its body. It returns the number
// of body bytes copied.
func WriteResponse(w http.ResponseWriter, res *http.Response) (int64, error) {
	CopyHeaders(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)

	if res.Body == nil {
		return 0, nil
	}
	defer res.Body.Close()
	return io.Copy(w, res.Body)
}
