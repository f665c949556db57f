// Package session drives request/response exchanges with the chip on top of
// the transport's frame queue. It decodes frames, logs the chip's debug
// output and never checks which response answers which command; callers do
// that with CheckCounterpart.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"lr1110-host/internal/logging"
	"lr1110-host/internal/metrics"
	"lr1110-host/internal/protocol"
)

const DefaultResponseTimeout = time.Second

// Link is the part of the transport reader a session needs.
type Link interface {
	Send(frame []byte) (time.Time, error)
	Frames() <-chan protocol.Frame
	Done() <-chan struct{}
	Running() bool
	Err() error
}

type Config struct {
	// ResponseTimeout bounds each pop from the frame queue.
	ResponseTimeout time.Duration
	Logger          *zap.SugaredLogger
	Metrics         *metrics.Metrics
	Clock           clock.Clock
}

type Session struct {
	link    Link
	timeout time.Duration
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	clk     clock.Clock
}

func New(link Link, cfg Config) *Session {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Session{
		link:    link,
		timeout: cfg.ResponseTimeout,
		log:     logging.OrNop(cfg.Logger),
		metrics: cfg.Metrics,
		clk:     cfg.Clock,
	}
}

// NoResponseError means nothing was queued within the response timeout.
type NoResponseError struct {
	Timeout time.Duration
}

func (e *NoResponseError) Error() string {
	return fmt.Sprintf("session: was expecting a response but nothing was received in %s", e.Timeout)
}

// NotListeningError means the transport reader is not running anymore.
type NotListeningError struct {
	Err error
}

func (e *NotListeningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: serial reader should be running but it is stopped: %v", e.Err)
	}
	return "session: serial reader should be running but it is stopped"
}

func (e *NotListeningError) Unwrap() error { return e.Err }

// MismatchError is a response whose code does not answer the command sent.
type MismatchError struct {
	Sent     protocol.Code
	Received protocol.Code
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("session: mismatch between command %s and response %s", e.Sent, e.Received)
}

// CheckCounterpart returns a *MismatchError unless resp answers cmd.
func CheckCounterpart(cmd protocol.Command, resp protocol.Response) error {
	if resp == nil {
		return &MismatchError{Sent: cmd.Code()}
	}
	if !protocol.IsCounterpart(cmd.Code(), resp.ResponseCode()) {
		return &MismatchError{Sent: cmd.Code(), Received: resp.ResponseCode()}
	}
	return nil
}

var errEmpty = errors.New("session: queue empty")

// Exchange sends cmd and returns the next non-log response.
func (s *Session) Exchange(cmd protocol.Command) (protocol.Response, error) {
	if err := s.Send(cmd); err != nil {
		return nil, err
	}
	resp, err := s.Receive()
	if err != nil {
		return nil, err
	}
	s.log.Debugf("Response: %v", resp)
	return resp, nil
}

// Send writes cmd without waiting for an answer.
func (s *Session) Send(cmd protocol.Command) error {
	wire, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	at, err := s.link.Send(wire)
	if err != nil {
		return err
	}
	s.metrics.Exchange(cmd.Code().String())
	s.log.Debugf("Command: %v (sent %s)", cmd, at.Format(time.RFC3339Nano))
	return nil
}

// Receive waits for the next non-log response.
func (s *Session) Receive() (protocol.Response, error) {
	resp, err := s.pop()
	if errors.Is(err, errEmpty) {
		s.metrics.ExchangeTimeout()
		return nil, &NoResponseError{Timeout: s.timeout}
	}
	return resp, err
}

// HasEvent pops once and reports whether the frame was an event. Other
// frames are dropped.
func (s *Session) HasEvent() (bool, error) {
	resp, err := s.pop()
	if errors.Is(err, errEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, ok := resp.(*protocol.Event); ok {
		return true, nil
	}
	s.log.Debugf("dropped while waiting for event: %v", resp)
	return false, nil
}

// DrainQueue discards queued frames until the queue stays empty for one
// timeout and returns how many were dropped.
func (s *Session) DrainQueue() int {
	n := 0
	for {
		f, err := s.popRaw()
		if err != nil {
			return n
		}
		n++
		s.log.Infof("Remaining message in FIFO: %v", f)
	}
}

func (s *Session) pop() (protocol.Response, error) {
	for {
		f, err := s.popRaw()
		if err != nil {
			return nil, err
		}
		resp, err := protocol.DecodeResponse(f)
		if err != nil {
			return nil, err
		}
		if lm, ok := resp.(*protocol.LogMessage); ok {
			s.log.Debugw(fmt.Sprintf("[EMBEDDED DEBUG]: %s", lm.Text), "received", lm.ReceivedAt())
			continue
		}
		return resp, nil
	}
}

func (s *Session) popRaw() (protocol.Frame, error) {
	if !s.link.Running() {
		return protocol.Frame{}, &NotListeningError{Err: s.link.Err()}
	}
	t := s.clk.Timer(s.timeout)
	defer t.Stop()
	select {
	case f := <-s.link.Frames():
		return f, nil
	case <-t.C:
		return protocol.Frame{}, errEmpty
	case <-s.link.Done():
		return protocol.Frame{}, &NotListeningError{Err: s.link.Err()}
	}
}
