package errs

import (
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CodeError carries a stable machine code alongside a short key the client can
// switch on (for example EMPTY_CONTENT in a message_send_error event).
type CodeError struct {
	Code   int    `json:"code"`
	Key    string `json:"key"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, key string) *CodeError {
	return &CodeError{Code: code, Key: key}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Key)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// WithDetail returns a copy with extra detail appended; the original stays
// shared and immutable.
func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Key: e.Key, Detail: d}
}

// WrapMsg attaches detail and a stack in one step.
func (e *CodeError) WrapMsg(msg string) error {
	return errors.WithStack(e.WithDetail(msg))
}

func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !stderrors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// CodeOf extracts the CodeError from an error chain, or nil.
func CodeOf(err error) *CodeError {
	var ce *CodeError
	if stderrors.As(err, &ce) {
		return ce
	}
	return nil
}

func Wrap(err error) error {
	return errors.WithStack(err)
}

func WrapMsg(err error, msg string) error {
	return errors.Wrap(err, msg)
}

func New(msg string) error {
	return errors.New(msg)
}
