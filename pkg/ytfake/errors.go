package ytfake

import (
	"fmt"

	"go.ytsaurus.tech/yt/go/yterrors"

	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func newError(code yterrors.ErrorCode, format string, args ...any) *yterrors.Error {
	return &yterrors.Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func resolveError(path string) *yterrors.Error {
	e := newError(yterrs.CodeResolveError, "Error resolving path %s", path)
	e.Attributes = map[string]any{"path": path}
	return e
}

func noSuchTransaction(id string) *yterrors.Error {
	e := newError(yterrs.CodeNoSuchTransaction, "No such transaction %s", id)
	e.Attributes = map[string]any{"transaction_id": id}
	return e
}

func badParam(format string, args ...any) *yterrors.Error {
	return newError(yterrs.CodeGeneric, format, args...)
}

// errorNode renders an error the way the scheduler stores operation results.
func errorNode(e *yterrors.Error) *ytree.Node {
	result := ytree.Map(map[string]*ytree.Node{
		"code":    ytree.Int(int64(e.Code)),
		"message": ytree.String(e.Message),
	})
	if len(e.Attributes) > 0 {
		if attrs, err := ytree.FromGo(e.Attributes); err == nil {
			result.Set("attributes", attrs)
		}
	}
	if len(e.InnerErrors) > 0 {
		inner := ytree.List()
		for _, ie := range e.InnerErrors {
			inner.Append(errorNode(ie))
		}
		result.Set("inner_errors", inner)
	}
	return result
}

type fault struct {
	code    yterrors.ErrorCode
	message string
	times   int
}
