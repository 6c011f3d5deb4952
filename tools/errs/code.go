package errs

// Error classes. Validation and authorization errors are rejected
// synchronously and never enqueued; transient errors are retried by the queue
// layer; permanent errors go straight to the dead-letter queue.
const (
	CodeInvalidParam   = 1001
	CodeEmptyContent   = 1002
	CodeMissingTarget  = 1003
	CodeNotParticipant = 1101
	CodeUnauthorized   = 1102
	CodeRecordNotFound = 1201
	CodeTransientInfra = 1301
	CodePermanent      = 1302
	CodeServerInternal = 1500
)

var (
	ErrInvalidParam   = NewCodeError(CodeInvalidParam, "INVALID_PARAM")
	ErrEmptyContent   = NewCodeError(CodeEmptyContent, "EMPTY_CONTENT")
	ErrMissingTarget  = NewCodeError(CodeMissingTarget, "MISSING_TARGET")
	ErrNotParticipant = NewCodeError(CodeNotParticipant, "NOT_PARTICIPANT")
	ErrUnauthorized   = NewCodeError(CodeUnauthorized, "UNAUTHORIZED")
	ErrRecordNotFound = NewCodeError(CodeRecordNotFound, "RECORD_NOT_FOUND")
	ErrTransientInfra = NewCodeError(CodeTransientInfra, "TRANSIENT_INFRA")
	ErrPermanent      = NewCodeError(CodePermanent, "PERMANENT")
	ErrServerInternal = NewCodeError(CodeServerInternal, "SERVER_INTERNAL")
)

// IsValidation reports whether err should be surfaced to the caller rather
// than retried.
func IsValidation(err error) bool {
	ce := CodeOf(err)
	if ce == nil {
		return false
	}
	return ce.Code >= CodeInvalidParam && ce.Code < CodeRecordNotFound
}
