// Package accesslog provides the logging handlers a route can attach: the
// per-request access log hook and the request/response log interceptors.
package accesslog

import (
	"net/http"
	"strconv"
	"strings"
)

// DefaultSensitiveHeaders are always masked unless overridden.
var DefaultSensitiveHeaders = []string{"Authorization", "Cookie", "Set-Cookie", "X-API-Key"}

// Option keys understood by Compile.
const (
	OptionStatusCodes      = "status_codes"
	OptionMethods          = "methods"
	OptionSensitiveHeaders = "sensitive_headers"
)

// StatusRange represents a contiguous range of HTTP status codes.
type StatusRange struct {
	Lo, Hi int
}

// ParseStatusRange parses a status range string like "4xx", "200", "200-299".
func ParseStatusRange(s string) (StatusRange, error) {
	s = strings.TrimSpace(s)
	// Nxx
	if len(s) == 3 && s[1] == 'x' && s[2] == 'x' {
		base := int(s[0]-'0') * 100
		if base < 100 || base > 500 {
			return StatusRange{}, &ParseError{Input: s}
		}
		return StatusRange{Lo: base, Hi: base + 99}, nil
	}
	// N-M
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		l, err1 := strconv.Atoi(lo)
		h, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil || l < 100 || h > 599 || l > h {
			return StatusRange{}, &ParseError{Input: s}
		}
		return StatusRange{Lo: l, Hi: h}, nil
	}
	code, err := strconv.Atoi(s)
	if err != nil || code < 100 || code > 599 {
		return StatusRange{}, &ParseError{Input: s}
	}
	return StatusRange{Lo: code, Hi: code}, nil
}

// ParseError is returned when a status range string is invalid.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return "invalid status range: " + e.Input
}

// Filter decides which round-trips are logged and masks sensitive headers.
// The zero value logs everything and masks nothing.
type Filter struct {
	statusRanges     []StatusRange
	methods          map[string]bool
	sensitiveHeaders map[string]bool
}

// Compile builds a Filter from handler options. Lists are comma separated.
func Compile(opts map[string]string) (*Filter, error) {
	f := &Filter{sensitiveHeaders: make(map[string]bool)}

	for _, h := range DefaultSensitiveHeaders {
		f.sensitiveHeaders[http.CanonicalHeaderKey(h)] = true
	}
	for _, h := range splitList(opts[OptionSensitiveHeaders]) {
		f.sensitiveHeaders[http.CanonicalHeaderKey(h)] = true
	}

	for _, sc := range splitList(opts[OptionStatusCodes]) {
		sr, err := ParseStatusRange(sc)
		if err != nil {
			return nil, err
		}
		f.statusRanges = append(f.statusRanges, sr)
	}

	if methods := splitList(opts[OptionMethods]); len(methods) > 0 {
		f.methods = make(map[string]bool, len(methods))
		for _, m := range methods {
			f.methods[strings.ToUpper(m)] = true
		}
	}

	return f, nil
}

// ShouldLog reports whether a round-trip with this status and method passes
// the filter.
func (f *Filter) ShouldLog(status int, method string) bool {
	if f.methods != nil && !f.methods[method] {
		return false
	}
	if len(f.statusRanges) == 0 {
		return true
	}
	for _, sr := range f.statusRanges {
		if status >= sr.Lo && status <= sr.Hi {
			return true
		}
	}
	return false
}

// MaskHeaderValue returns "***" if the header name is sensitive, otherwise returns the value.
func (f *Filter) MaskHeaderValue(name, value string) string {
	if f.sensitiveHeaders[http.CanonicalHeaderKey(name)] {
		return "***"
	}
	return value
}

// CaptureHeaders returns a masked copy of h with multi-values joined.
func (f *Filter) CaptureHeaders(h http.Header) map[string]string {
	result := make(map[string]string, len(h))
	for name, vals := range h {
		canonical := http.CanonicalHeaderKey(name)
		result[canonical] = f.MaskHeaderValue(canonical, strings.Join(vals, ", "))
	}
	return result
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
