// Package bufutil buffers upstream response bodies for finalizers that need
// the whole payload before producing a replacement response.
package bufutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// DefaultMaxBody caps how much of a response body is buffered.
const DefaultMaxBody int64 = 10 << 20

// ErrTooLarge is returned when a body exceeds the buffering limit.
var ErrTooLarge = errors.New("response body too large")

// ReadAll drains and closes res.Body, reading at most max bytes.
// A max of zero or less means DefaultMaxBody.
func ReadAll(res *http.Response, max int64) ([]byte, error) {
	if res.Body == nil {
		return nil, nil
	}
	defer res.Body.Close()

	if max <= 0 {
		max = DefaultMaxBody
	}
	var buf bytes.Buffer
	if res.ContentLength > 0 && res.ContentLength <= max {
		buf.Grow(int(res.ContentLength))
	}
	n, err := io.Copy(&buf, io.LimitReader(res.Body, max+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if n > max {
		return nil, ErrTooLarge
	}
	return buf.Bytes(), nil
}

// JSON builds a fresh HTTP/1.1 response with an application/json body.
func JSON(code int, body []byte) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", code, http.StatusText(code)),
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
