package protocol

import (
	"errors"
	"fmt"
)

// ErrNoFrame means no frame code arrived within one read timeout. It is not
// a failure.
var ErrNoFrame = errors.New("protocol: no frame available")

// ErrReadTimeout may be returned by byte sources to signal a read timeout.
// Sources may also return (0, nil) or an error with a Timeout() bool method.
var ErrReadTimeout = errors.New("protocol: read timeout")

// TruncatedFrameError is a frame whose code arrived but whose length or
// payload did not.
type TruncatedFrameError struct {
	Code  Code
	Stage string // "length" or "payload"
	Want  int
	Got   int
}

func (e *TruncatedFrameError) Error() string {
	return fmt.Sprintf("protocol: truncated frame %s: timeout reading %s (got %d of %d bytes)", e.Code, e.Stage, e.Got, e.Want)
}

// DisconnectedError is a hard link failure. The link is not usable anymore.
type DisconnectedError struct {
	Err error
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("protocol: link disconnected: %v", e.Err)
}

func (e *DisconnectedError) Unwrap() error { return e.Err }

// MalformedResponseError is a response whose payload does not match its
// code's layout.
type MalformedResponseError struct {
	Code    Code
	Payload []byte
	Reason  string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("protocol: malformed %s response (%s): % X", e.Code, e.Reason, e.Payload)
}

// UnknownResponseCodeError is a frame code with no registered decoder.
type UnknownResponseCodeError struct {
	Code Code
}

func (e *UnknownResponseCodeError) Error() string {
	return fmt.Sprintf("protocol: unknown response code %s", e.Code)
}

func isTimeout(err error) bool {
	if errors.Is(err, ErrReadTimeout) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
