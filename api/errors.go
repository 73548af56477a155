// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy of the link framework and its wire status mapping.

package api

import (
	goerrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for link framework operations.
const (
	ErrCodeUnsupportedCommand = "LINK_UNSUPPORTED_COMMAND"
	ErrCodeInvalidParams      = "LINK_INVALID_PARAMS"
	ErrCodeNoMoreBuffers      = "LINK_NO_MORE_BUFFERS"
	ErrCodeFail               = "LINK_FAIL"
	ErrCodeNotFound           = "LINK_NOT_FOUND"
	ErrCodeTerminated         = "LINK_TERMINATED"
	ErrCodeTimeout            = "LINK_TIMEOUT"
	ErrCodeQueueFull          = "LINK_QUEUE_FULL"
	ErrCodeClosed             = "LINK_CLOSED"
)

// Wire statuses carried in the message slot. Zero means success.
const (
	StatusOK                 int32 = 0
	StatusFail               int32 = -1
	StatusUnsupportedCommand int32 = -2
	StatusInvalidParams      int32 = -3
	StatusNoMoreBuffers      int32 = -4
	StatusNotFound           int32 = -5
	StatusTerminated         int32 = -6
	StatusTimeout            int32 = -7
	StatusQueueFull          int32 = -8
	StatusClosed             int32 = -9
)

var codeToStatus = map[string]int32{
	ErrCodeFail:               StatusFail,
	ErrCodeUnsupportedCommand: StatusUnsupportedCommand,
	ErrCodeInvalidParams:      StatusInvalidParams,
	ErrCodeNoMoreBuffers:      StatusNoMoreBuffers,
	ErrCodeNotFound:           StatusNotFound,
	ErrCodeTerminated:         StatusTerminated,
	ErrCodeTimeout:            StatusTimeout,
	ErrCodeQueueFull:          StatusQueueFull,
	ErrCodeClosed:             StatusClosed,
}

var statusToCode = func() map[int32]string {
	m := make(map[int32]string, len(codeToStatus))
	for code, st := range codeToStatus {
		m[st] = code
	}
	return m
}()

// Sentinel-style errors for the most common conditions.
var (
	ErrNoMoreBuffers = errors.New(ErrCodeNoMoreBuffers, "no more buffers")
	ErrQueueFull     = errors.New(ErrCodeQueueFull, "buffer queue is full")
)

// CodeOf returns the framework error code carried by err, or ErrCodeFail for
// foreign errors. A nil error has no code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return string(coder.ErrorCode())
	}
	return ErrCodeFail
}

// HasCode reports whether err carries the given framework error code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// StatusOf maps err to its wire status.
func StatusOf(err error) int32 {
	if err == nil {
		return StatusOK
	}
	if st, ok := codeToStatus[CodeOf(err)]; ok {
		return st
	}
	return StatusFail
}

// ErrorFromStatus rebuilds an error from a wire status and message.
func ErrorFromStatus(status int32, msg string) error {
	if status == StatusOK {
		return nil
	}
	code, ok := statusToCode[status]
	if !ok {
		code = ErrCodeFail
	}
	if msg == "" {
		msg = "remote command failed"
	}
	return errors.New(errors.ErrorCode(code), msg).WithContext("status", status)
}

// Unsupported builds an UnsupportedCommand error for code in state.
func Unsupported(code CmdCode, state State) error {
	return errors.New(ErrCodeUnsupportedCommand, "command not supported in current state").
		WithContext("command", code.String()).
		WithContext("state", state.String())
}

// InvalidParams builds an InvalidParams error.
func InvalidParams(msg string) error {
	return errors.New(ErrCodeInvalidParams, msg)
}
