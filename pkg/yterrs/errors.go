package yterrs

import (
	"errors"
	"fmt"
	"strings"

	"go.ytsaurus.tech/yt/go/yterrors"
)

type Kind string

const (
	KindUnknown                       Kind = ""
	KindResolveError                  Kind = "ResolveError"
	KindSchemaViolation               Kind = "SchemaViolation"
	KindIncompatibleSchemas           Kind = "IncompatibleSchemas"
	KindRequestQueueSizeLimitExceeded Kind = "RequestQueueSizeLimitExceeded"
	KindRequestRateLimitExceeded      Kind = "RequestRateLimitExceeded"
	KindRPCUnavailable                Kind = "RpcUnavailable"
	KindRequestTimedOut               Kind = "RequestTimedOut"
	KindNoSuchTransaction             Kind = "NoSuchTransaction"
	KindConcurrentTransactionLock     Kind = "ConcurrentTransactionLockConflict"
	KindTabletTransactionLockConflict Kind = "TabletTransactionLockConflict"
	KindMasterCommunicationError      Kind = "MasterCommunicationError"
	KindChunkUnavailable              Kind = "ChunkUnavailable"
	KindTabletNotMounted              Kind = "TabletNotMounted"
	KindNoSuchTablet                  Kind = "NoSuchTablet"
	KindTabletInIntermediateState     Kind = "TabletInIntermediateState"
	KindTokenError                    Kind = "TokenError"
	KindEnvironmentUnhealthy          Kind = "EnvironmentUnhealthy"
	KindWaitFailed                    Kind = "WaitFailed"
	KindIsolationViolation            Kind = "IsolationViolation"
	KindOperationFailed               Kind = "OperationFailed"
	KindOperationAborted              Kind = "OperationAborted"
)

// kindCodes lists codes per kind. Order matters for Classify: the first kind
// whose code is found wins.
var kindCodes = []struct {
	kind  Kind
	codes []yterrors.ErrorCode
}{
	{KindEnvironmentUnhealthy, []yterrors.ErrorCode{CodeEnvironmentUnhealthy}},
	{KindOperationAborted, []yterrors.ErrorCode{CodeOperationAborted}},
	{KindOperationFailed, []yterrors.ErrorCode{CodeOperationFailed}},
	{KindWaitFailed, []yterrors.ErrorCode{CodeWaitFailed}},
	{KindIsolationViolation, []yterrors.ErrorCode{CodeIsolationViolation}},
	{KindTokenError, []yterrors.ErrorCode{CodeTokenError, CodeAuthenticationError, CodeRPCAuthenticationError}},
	{KindNoSuchTransaction, []yterrors.ErrorCode{CodeNoSuchTransaction}},
	{KindResolveError, []yterrors.ErrorCode{CodeResolveError}},
	{KindSchemaViolation, []yterrors.ErrorCode{CodeSchemaViolation}},
	{KindIncompatibleSchemas, []yterrors.ErrorCode{CodeIncompatibleSchemas}},
	{KindTabletNotMounted, []yterrors.ErrorCode{CodeTabletNotMounted}},
	{KindNoSuchTablet, []yterrors.ErrorCode{CodeNoSuchTablet}},
	{KindTabletInIntermediateState, []yterrors.ErrorCode{CodeInvalidTabletState}},
	{KindTabletTransactionLockConflict, []yterrors.ErrorCode{CodeTabletTransactionLockConflict}},
	{KindConcurrentTransactionLock, []yterrors.ErrorCode{CodeConcurrentTransactionLock}},
	{KindRequestQueueSizeLimitExceeded, []yterrors.ErrorCode{CodeRequestQueueSizeLimitExceeded}},
	{KindRequestRateLimitExceeded, []yterrors.ErrorCode{CodeRequestRateLimitExceeded}},
	{KindMasterCommunicationError, []yterrors.ErrorCode{CodeMasterCommunicationFailed}},
	{KindChunkUnavailable, []yterrors.ErrorCode{CodeChunkUnavailable}},
	{KindRPCUnavailable, []yterrors.ErrorCode{CodeRPCUnavailable, CodeTransportError}},
	{KindRequestTimedOut, []yterrors.ErrorCode{CodeTimeout}},
}

// AllKinds returns every kind of the taxonomy.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, len(kindCodes))
	for _, kc := range kindCodes {
		kinds = append(kinds, kc.kind)
	}
	return kinds
}

// CodesOf returns the error codes mapped to the kind.
func CodesOf(kind Kind) []yterrors.ErrorCode {
	for _, kc := range kindCodes {
		if kc.kind == kind {
			return kc.codes
		}
	}
	return nil
}

// Classified is implemented by harness errors that carry their own kind.
type Classified interface {
	error
	ErrorKind() Kind
}

// Classify assigns the primary kind to err. Harness errors are recognised
// first, then the server error tree is searched in kind priority order.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var classified Classified
	if errors.As(err, &classified) {
		return classified.ErrorKind()
	}
	codes := map[yterrors.ErrorCode]struct{}{}
	walk(err, func(e *yterrors.Error) bool {
		codes[e.Code] = struct{}{}
		return false
	})
	for _, kc := range kindCodes {
		for _, code := range kc.codes {
			if _, ok := codes[code]; ok {
				return kc.kind
			}
		}
	}
	return KindUnknown
}

// ContainsCode reports whether any error in the chain or in the inner error
// tree carries code.
func ContainsCode(err error, code yterrors.ErrorCode) bool {
	return walk(err, func(e *yterrors.Error) bool { return e.Code == code })
}

// ContainsKind reports whether err or any inner error maps to kind.
func ContainsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	for e := range chain(err) {
		if c, ok := e.(Classified); ok && c.ErrorKind() == kind {
			return true
		}
	}
	for _, code := range CodesOf(kind) {
		if ContainsCode(err, code) {
			return true
		}
	}
	return false
}

// ContainsText reports whether any message in the error tree contains s.
func ContainsText(err error, s string) bool {
	if err == nil {
		return false
	}
	if strings.Contains(err.Error(), s) {
		return true
	}
	return walk(err, func(e *yterrors.Error) bool { return strings.Contains(e.Message, s) })
}

// walk visits every *yterrors.Error reachable from err, including joined and
// inner errors. It stops once visit returns true.
func walk(err error, visit func(*yterrors.Error) bool) bool {
	for e := range chain(err) {
		var ytErr *yterrors.Error
		if x, ok := e.(*yterrors.Error); ok {
			ytErr = x
		}
		if ytErr != nil && walkTree(ytErr, visit) {
			return true
		}
	}
	return false
}

func walkTree(e *yterrors.Error, visit func(*yterrors.Error) bool) bool {
	if e == nil {
		return false
	}
	if visit(e) {
		return true
	}
	for _, inner := range e.InnerErrors {
		if walkTree(inner, visit) {
			return true
		}
	}
	return false
}

// chain yields err and everything reachable through Unwrap.
func chain(err error) func(yield func(error) bool) {
	return func(yield func(error) bool) {
		stack := []error{err}
		for len(stack) > 0 {
			e := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if e == nil {
				continue
			}
			if !yield(e) {
				return
			}
			switch x := e.(type) {
			case interface{ Unwrap() []error }:
				errs := x.Unwrap()
				for i := len(errs) - 1; i >= 0; i-- {
					stack = append(stack, errs[i])
				}
			case interface{ Unwrap() error }:
				stack = append(stack, x.Unwrap())
			}
		}
	}
}

// New builds a server-style error with the code of kind.
func New(kind Kind, format string, args ...any) *yterrors.Error {
	codes := CodesOf(kind)
	code := CodeGeneric
	if len(codes) > 0 {
		code = codes[0]
	}
	return &yterrors.Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap puts inner errors below a new error with the given code.
func Wrap(code yterrors.ErrorCode, message string, inner ...error) *yterrors.Error {
	e := &yterrors.Error{Code: code, Message: message}
	for _, err := range inner {
		e.InnerErrors = append(e.InnerErrors, AsYTError(err))
	}
	return e
}

// AsYTError converts any error into *yterrors.Error, keeping server errors as is.
func AsYTError(err error) *yterrors.Error {
	if err == nil {
		return nil
	}
	var ytErr *yterrors.Error
	if errors.As(err, &ytErr) {
		return ytErr
	}
	code := CodeGeneric
	if c, ok := err.(Classified); ok {
		if codes := CodesOf(c.ErrorKind()); len(codes) > 0 {
			code = codes[0]
		}
	}
	return &yterrors.Error{Code: code, Message: err.Error()}
}

// ExpectError runs f and checks that it fails with an error of kind.
// It returns nil on the expected failure.
func ExpectError(kind Kind, f func() error) error {
	err := f()
	if err == nil {
		return fmt.Errorf("expected %s error, got success", kind)
	}
	if !ContainsKind(err, kind) {
		return fmt.Errorf("expected %s error, got %s: %w", kind, Classify(err), err)
	}
	return nil
}

// ExpectErrorCode is ExpectError keyed by a raw code.
func ExpectErrorCode(code yterrors.ErrorCode, f func() error) error {
	err := f()
	if err == nil {
		return fmt.Errorf("expected error with code %d, got success", code)
	}
	if !ContainsCode(err, code) {
		return fmt.Errorf("expected error with code %d: %w", code, err)
	}
	return nil
}
