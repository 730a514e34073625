package protocol

import (
	"errors"
	"fmt"
)

// Status is the closed result taxonomy of every transport/framing operation.
type Status int

const (
	StatusOK Status = iota
	StatusNoLink
	StatusCreateFailed
	StatusConnectFailed
	StatusSendFailed
	StatusReceiveFailed
	StatusCloseFailed
	StatusOther
)

var statusNames = [...]string{
	StatusOK:            "ok",
	StatusNoLink:        "no_link",
	StatusCreateFailed:  "create_failed",
	StatusConnectFailed: "connect_failed",
	StatusSendFailed:    "send_failed",
	StatusReceiveFailed: "receive_failed",
	StatusCloseFailed:   "close_failed",
	StatusOther:         "other",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

var (
	ErrNoLink        = errors.New("protocol: link is down")
	ErrCreateFailed  = errors.New("protocol: socket create failed")
	ErrConnectFailed = errors.New("protocol: connect failed")
	ErrSendFailed    = errors.New("protocol: send failed")
	ErrReceiveFailed = errors.New("protocol: receive failed")
	ErrCloseFailed   = errors.New("protocol: close failed")
	ErrOther         = errors.New("protocol: operation failed")
)

var statusSentinels = map[Status]error{
	StatusNoLink:        ErrNoLink,
	StatusCreateFailed:  ErrCreateFailed,
	StatusConnectFailed: ErrConnectFailed,
	StatusSendFailed:    ErrSendFailed,
	StatusReceiveFailed: ErrReceiveFailed,
	StatusCloseFailed:   ErrCloseFailed,
	StatusOther:         ErrOther,
}

// StatusError carries a Status together with the failing operation and cause.
type StatusError struct {
	Status Status
	Op     string
	Err    error
}

func NewStatusError(status Status, op string, err error) *StatusError {
	return &StatusError{Status: status, Op: op, Err: err}
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Status so callers can use errors.Is(err, ErrSendFailed).
func (e *StatusError) Is(target error) bool {
	sentinel, ok := statusSentinels[e.Status]
	return ok && sentinel == target
}

// StatusOf maps err onto the status taxonomy. nil is StatusOK and any error
// without a StatusError in its chain is StatusOther.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	for status, sentinel := range statusSentinels {
		if errors.Is(err, sentinel) {
			return status
		}
	}
	return StatusOther
}
