// Package jmespath provides a response finalizer that replaces a JSON
// response with the result of a pre-compiled JMESPath expression.
package jmespath

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/jmespath/go-jmespath"
	"go.uber.org/zap"

	"github.com/wudi/prefixgate/internal/errors"
	"github.com/wudi/prefixgate/internal/logging"
	"github.com/wudi/prefixgate/internal/middleware/bufutil"
)

// Config configures a Finalizer.
type Config struct {
	Expression      string
	WrapCollections bool // nest array results under "collection"
	MaxBody         int64
}

// Finalizer applies a JMESPath expression to the upstream body. Unreadable
// or invalid JSON gives 500 and a null result gives 404.
type Finalizer struct {
	compiled        *jmespath.JMESPath
	wrapCollections bool
	maxBody         int64
	applied         atomic.Int64
}

// New creates a Finalizer, compiling the expression at init time.
func New(cfg Config) (*Finalizer, error) {
	if cfg.Expression == "" {
		return nil, fmt.Errorf("jmespath: expression is required")
	}
	compiled, err := jmespath.Compile(cfg.Expression)
	if err != nil {
		return nil, fmt.Errorf("jmespath: invalid expression %q: %w", cfg.Expression, err)
	}
	return &Finalizer{
		compiled:        compiled,
		wrapCollections: cfg.WrapCollections,
		maxBody:         cfg.MaxBody,
	}, nil
}

// Finalize implements pipeline.Finalizer.
func (f *Finalizer) Finalize(_ context.Context, res *http.Response) *http.Response {
	body, err := bufutil.ReadAll(res, f.maxBody)
	if err != nil {
		logging.Error("jmespath: could not read response body", zap.Error(err))
		return errors.ErrInternalServer.Response()
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		logging.Error("jmespath: response body is not valid JSON", zap.Error(err))
		return errors.ErrInternalServer.Response()
	}

	result, err := f.compiled.Search(data)
	if err != nil {
		logging.Error("jmespath: search failed", zap.Error(err))
		return errors.ErrInternalServer.Response()
	}
	if result == nil {
		return errors.ErrNotFound.Response()
	}

	if f.wrapCollections {
		if arr, ok := result.([]interface{}); ok {
			result = map[string]interface{}{"collection": arr}
		}
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		logging.Error("jmespath: could not encode result", zap.Error(err))
		return errors.ErrInternalServer.Response()
	}

	f.applied.Add(1)
	return bufutil.JSON(http.StatusOK, encoded)
}

// Applied returns the number of successful transformations.
func (f *Finalizer) Applied() int64 {
	return f.applied.Load()
}
