// Package transporttest provides an in-memory chip for exercising the
// link, session and job layers without hardware.
package transporttest

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"lr1110-host/internal/protocol"
)

// Responder returns the frames the chip emits after receiving cmd.
type Responder func(cmd protocol.Frame) []protocol.Frame

// Chip is an io.ReadWriteCloser standing in for the serial port. Reads with
// nothing queued return (0, nil) after ReadTimeout, like a real port.
type Chip struct {
	ReadTimeout time.Duration

	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu          sync.Mutex
	pending     []byte
	written     []byte
	received    []protocol.Frame
	handshaken  bool
	respond     Responder
	writeFailed error
}

func NewChip() *Chip {
	return &Chip{
		ReadTimeout: 10 * time.Millisecond,
		out:         make(chan []byte, 4096),
		closed:      make(chan struct{}),
	}
}

// OnCommand installs the function that answers commands.
func (c *Chip) OnCommand(r Responder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respond = r
}

// FailWrites makes every later Write fail with err.
func (c *Chip) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeFailed = err
}

// Boot emits the field test banner.
func (c *Chip) Boot() { c.EmitRaw([]byte("!TEST_HOST\x00")) }

// Emit queues one frame for the host.
func (c *Chip) Emit(code protocol.Code, payload []byte) {
	b, err := protocol.Encode(code, payload)
	if err != nil {
		panic(err)
	}
	c.EmitRaw(b)
}

// EmitRaw queues raw bytes for the host.
func (c *Chip) EmitRaw(b []byte) {
	select {
	case <-c.closed:
	case c.out <- append([]byte(nil), b...):
	}
}

func (c *Chip) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	t := time.NewTimer(c.ReadTimeout)
	defer t.Stop()
	select {
	case <-c.closed:
		return 0, io.EOF
	case b := <-c.out:
		c.mu.Lock()
		defer c.mu.Unlock()
		n := copy(p, b)
		c.pending = append(c.pending, b[n:]...)
		return n, nil
	case <-t.C:
		return 0, nil
	}
}

func (c *Chip) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.writeFailed != nil {
		err := c.writeFailed
		c.mu.Unlock()
		return 0, err
	}
	c.written = append(c.written, p...)
	frames := c.parseLocked()
	respond := c.respond
	c.mu.Unlock()

	if respond != nil {
		for _, f := range frames {
			for _, r := range respond(f) {
				c.Emit(r.Code, r.Payload)
			}
		}
	}
	return len(p), nil
}

func (c *Chip) parseLocked() []protocol.Frame {
	var frames []protocol.Frame
	for {
		if bytes.HasPrefix(c.written, protocol.HandshakeReply) {
			c.handshaken = true
			c.written = c.written[len(protocol.HandshakeReply):]
			continue
		}
		if len(c.written) < 4 {
			return frames
		}
		n := int(binary.LittleEndian.Uint16(c.written[2:4]))
		if len(c.written) < 4+n {
			return frames
		}
		f := protocol.Frame{
			Code:    protocol.CodeFromBytes([2]byte{c.written[0], c.written[1]}),
			Payload: append([]byte(nil), c.written[4:4+n]...),
		}
		c.written = c.written[4+n:]
		c.received = append(c.received, f)
		frames = append(frames, f)
	}
}

// Handshaken reports whether the host answered the banner.
func (c *Chip) Handshaken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshaken
}

// Received returns the commands the host sent so far.
func (c *Chip) Received() []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Frame(nil), c.received...)
}

// ReceivedCodes returns the codes of the commands the host sent so far.
func (c *Chip) ReceivedCodes() []protocol.Code {
	frames := c.Received()
	codes := make([]protocol.Code, len(frames))
	for i, f := range frames {
		codes[i] = f.Code
	}
	return codes
}

// Unplug makes pending and later reads fail as if the device vanished.
func (c *Chip) Unplug() {
	c.once.Do(func() { close(c.closed) })
}

func (c *Chip) Close() error {
	c.Unplug()
	return nil
}

// Ack is a one-byte acknowledgement frame.
func Ack(code protocol.Code, ok bool) protocol.Frame {
	v := byte(0)
	if ok {
		v = 1
	}
	return protocol.Frame{Code: code, Payload: []byte{v}}
}
