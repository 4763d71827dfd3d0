package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidWeight        ErrorCode = 102
	ErrCodeInvalidLookback      ErrorCode = 103
	ErrCodeInvalidManifest      ErrorCode = 104
	ErrCodeInvalidCalendar      ErrorCode = 105

	// Data/Resource errors (200-299)
	ErrCodeNotListed          ErrorCode = 200
	ErrCodeDataGap            ErrorCode = 201
	ErrCodeLookAheadViolation ErrorCode = 202
	ErrCodeQueryFailed        ErrorCode = 203
	ErrCodeDataLoadFailed     ErrorCode = 204
	ErrCodeVendorFetchFailed  ErrorCode = 205
	ErrCodeUnknownAsset       ErrorCode = 206

	// Portfolio construction errors (300-399)
	ErrCodeConstraintInfeasible ErrorCode = 300
	ErrCodeVolEstimateFailed    ErrorCode = 301

	// Execution errors (400-499)
	ErrCodeInsufficientCash ErrorCode = 400
	ErrCodeBatchRejected    ErrorCode = 401
	ErrCodeNoReferencePrice ErrorCode = 402

	// Ledger errors (500-599)
	ErrCodeReconciliationFailure ErrorCode = 500
	ErrCodeLedgerWriteFailed     ErrorCode = 502

	// Engine errors (600-699)
	ErrCodeRunPreCheckFailed ErrorCode = 600
	ErrCodeRunAborted        ErrorCode = 601
	ErrCodeResultWriteFailed ErrorCode = 602
)

// IsMissingData reports whether err represents a MissingData condition,
// either a not-yet-listed asset or a gap in an otherwise live series.
// The two are distinguishable via GetCode; callers that only care about
// "no bar here" can use this helper.
func IsMissingData(err error) bool {
	code := GetCode(err)

	return code == ErrCodeNotListed || code == ErrCodeDataGap
}

// IsFatal reports whether err must abort the run. Look-ahead violations and
// reconciliation failures are never recoverable.
func IsFatal(err error) bool {
	code := GetCode(err)

	return code == ErrCodeLookAheadViolation || code == ErrCodeReconciliationFailure
}
