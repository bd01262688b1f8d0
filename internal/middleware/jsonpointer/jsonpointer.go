// Package jsonpointer provides a response finalizer that replaces a JSON
// response with the value found at an RFC 6901 pointer.
package jsonpointer

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/wudi/prefixgate/internal/errors"
	"github.com/wudi/prefixgate/internal/logging"
	"github.com/wudi/prefixgate/internal/middleware/bufutil"
)

// Config configures a Finalizer.
type Config struct {
	Pointer string // "" selects the whole document
	Wrap    string // optional object key the value is nested under
	MaxBody int64
}

// Finalizer extracts one value from a JSON body.
//
// Body read failures and invalid JSON produce 500, a pointer that does not
// resolve produces 404, and a resolved pointer produces 200 with the value
// re-encoded compactly as the body.
type Finalizer struct {
	tokens  []string
	wrap    string
	maxBody int64
}

// New parses the pointer.
func New(cfg Config) (*Finalizer, error) {
	tokens, err := Parse(cfg.Pointer)
	if err != nil {
		return nil, err
	}
	return &Finalizer{tokens: tokens, wrap: cfg.Wrap, maxBody: cfg.MaxBody}, nil
}

// Parse splits an RFC 6901 pointer into unescaped reference tokens.
func Parse(pointer string) ([]string, error) {
	if pointer == "" {
		return nil, nil
	}
	if pointer[0] != '/' {
		return nil, fmt.Errorf("json pointer %q must be empty or start with /", pointer)
	}
	parts := strings.Split(pointer[1:], "/")
	for i, p := range parts {
		// ~1 first so "~01" becomes "~1", not "/".
		parts[i] = strings.ReplaceAll(strings.ReplaceAll(p, "~1", "/"), "~0", "~")
	}
	return parts, nil
}

// Finalize implements pipeline.Finalizer.
func (f *Finalizer) Finalize(_ context.Context, res *http.Response) *http.Response {
	body, err := bufutil.ReadAll(res, f.maxBody)
	if err != nil {
		logging.Error("json pointer: could not read response body", zap.Error(err))
		return errors.ErrInternalServer.Response()
	}
	if !gjson.ValidBytes(body) {
		logging.Error("json pointer: response body is not valid JSON")
		return errors.ErrInternalServer.Response()
	}

	value, ok := Lookup(gjson.ParseBytes(body), f.tokens)
	if !ok {
		return errors.ErrNotFound.Response()
	}

	out := pretty.Ugly([]byte(value.Raw))
	if f.wrap != "" {
		wrapped, err := sjson.SetRawBytes([]byte(`{}`), escapeKey(f.wrap), out)
		if err != nil {
			logging.Error("json pointer: could not wrap value", zap.Error(err))
			return errors.ErrInternalServer.Response()
		}
		out = wrapped
	}
	return bufutil.JSON(http.StatusOK, out)
}

// Lookup resolves tokens against doc. Object members match keys exactly;
// array members require a canonical decimal index.
func Lookup(doc gjson.Result, tokens []string) (gjson.Result, bool) {
	cur := doc
	for _, tok := range tokens {
		switch {
		case cur.IsObject():
			var (
				next  gjson.Result
				found bool
			)
			cur.ForEach(func(key, value gjson.Result) bool {
				if key.String() == tok {
					next, found = value, true
					return false
				}
				return true
			})
			if !found {
				return gjson.Result{}, false
			}
			cur = next

		case cur.IsArray():
			idx, ok := arrayIndex(tok)
			if !ok {
				return gjson.Result{}, false
			}
			items := cur.Array()
			if idx >= len(items) {
				return gjson.Result{}, false
			}
			cur = items[idx]

		default:
			return gjson.Result{}, false
		}
	}
	return cur, true
}

func arrayIndex(tok string) (int, bool) {
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(tok)
	return n, err == nil
}

// escapeKey makes key a literal single-segment sjson path.
func escapeKey(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteByte(key[i])
	}
	return b.String()
}
