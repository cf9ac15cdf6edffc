package yterrs

import (
	"go.ytsaurus.tech/yt/go/yterrors"
)

// Server error codes the harness reacts to.
const (
	CodeGeneric                       yterrors.ErrorCode = 1
	CodeTimeout                       yterrors.ErrorCode = 3
	CodeTransportError                yterrors.ErrorCode = 100
	CodeRPCUnavailable                yterrors.ErrorCode = 105
	CodeRequestQueueSizeLimitExceeded yterrors.ErrorCode = 108
	CodeRPCAuthenticationError        yterrors.ErrorCode = 111
	CodeSortOrderViolation            yterrors.ErrorCode = 301
	CodeSchemaViolation               yterrors.ErrorCode = 307
	CodeIncompatibleSchemas           yterrors.ErrorCode = 316
	CodeConcurrentTransactionLock     yterrors.ErrorCode = 402
	CodeResolveError                  yterrors.ErrorCode = 500
	CodeAlreadyExists                 yterrors.ErrorCode = 501
	CodeMasterCommunicationFailed     yterrors.ErrorCode = 712
	CodeChunkUnavailable              yterrors.ErrorCode = 716
	CodeAuthenticationError           yterrors.ErrorCode = 900
	CodeAuthorizationError            yterrors.ErrorCode = 901
	CodeRequestRateLimitExceeded      yterrors.ErrorCode = 904
	CodeAlreadyPresentInGroup         yterrors.ErrorCode = 908
	CodeUserJobFailed                 yterrors.ErrorCode = 1205
	CodeTabletTransactionLockConflict yterrors.ErrorCode = 1700
	CodeNoSuchTablet                  yterrors.ErrorCode = 1701
	CodeTabletNotMounted              yterrors.ErrorCode = 1702
	CodeInvalidTabletState            yterrors.ErrorCode = 1703
	CodeNoSuchTransaction             yterrors.ErrorCode = 11000
)

// Harness-side failures live in a private range so they never collide with
// server codes but still flow through ContainsCode.
const (
	CodeEnvironmentUnhealthy yterrors.ErrorCode = 30001
	CodeWaitFailed           yterrors.ErrorCode = 30002
	CodeOperationFailed      yterrors.ErrorCode = 30003
	CodeOperationAborted     yterrors.ErrorCode = 30004
	CodeTokenError           yterrors.ErrorCode = 30005
	CodeIsolationViolation   yterrors.ErrorCode = 30006
)
