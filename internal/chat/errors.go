package chat

import (
	"errors"
	"fmt"
)

// ErrNotConnected is the cause of a ConnectionError raised before the
// session finished connecting.
var ErrNotConnected = errors.New("not connected")

// ConnectionError means the transport could not connect or is down.
// It is never fatal; the session reconnects on its own.
type ConnectionError struct {
	Op  string // "dial", "stomp", "subscribe", "publish"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RequestError is a REST call that failed or returned a non-success status.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int // 0 when the request never got a response
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("request error: %s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("request error: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// UploadError means a media upload failed; no optimistic message exists
// for that send.
type UploadError struct {
	FileName string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload error [%s]: %v", e.FileName, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// ProtocolError is an inbound frame that could not be decoded.
type ProtocolError struct {
	Channel string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error [%s]: %v", e.Channel, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
