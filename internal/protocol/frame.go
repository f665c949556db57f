package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// MaxPayloadLen is the largest payload a u16 length prefix can describe.
const MaxPayloadLen = 0xFFFF

type Frame struct {
	Code       Code
	Payload    []byte
	ReceivedAt time.Time
}

func (f Frame) String() string {
	return fmt.Sprintf("%s (%d bytes): % X", f.Code, len(f.Payload), f.Payload)
}

// Encode returns code || len(payload) as u16 LE || payload.
func Encode(code Code, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("protocol: payload too long for %s: %d bytes", code, len(payload))
	}
	out := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint16(out[0:2], uint16(code))
	binary.LittleEndian.PutUint16(out[2:4], uint16(len(payload)))
	return append(out, payload...), nil
}

// EncodeCommand encodes cmd as a frame.
func EncodeCommand(cmd Command) ([]byte, error) {
	return Encode(cmd.Code(), cmd.Payload())
}

// FrameReader decodes frames from a byte source whose reads may time out.
type FrameReader struct {
	r   io.Reader
	now func() time.Time
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, now: time.Now}
}

// WithClock makes the reader stamp frames with now instead of time.Now.
func (fr *FrameReader) WithClock(now func() time.Time) *FrameReader {
	if now != nil {
		fr.now = now
	}
	return fr
}

// ReadFrame reads one frame.
//
// A timeout before the code is complete returns ErrNoFrame. A timeout after
// it returns *TruncatedFrameError. Any other read failure returns
// *DisconnectedError.
func (fr *FrameReader) ReadFrame() (Frame, error) {
	var hdr [2]byte
	if _, err := fr.readFull(hdr[:]); err != nil {
		if isTimeout(err) {
			return Frame{}, ErrNoFrame
		}
		return Frame{}, err
	}
	code := CodeFromBytes(hdr)
	at := fr.now().UTC()

	size := HandshakePayloadLen
	if code != CodeHandshake {
		var lb [2]byte
		if n, err := fr.readFull(lb[:]); err != nil {
			if isTimeout(err) {
				return Frame{}, &TruncatedFrameError{Code: code, Stage: "length", Want: 2, Got: n}
			}
			return Frame{}, err
		}
		size = int(binary.LittleEndian.Uint16(lb[:]))
	}

	payload := make([]byte, size)
	if n, err := fr.readFull(payload); err != nil {
		if isTimeout(err) {
			return Frame{}, &TruncatedFrameError{Code: code, Stage: "payload", Want: size, Got: n}
		}
		return Frame{}, err
	}
	return Frame{Code: code, Payload: payload, ReceivedAt: at}, nil
}

// readFull fills b. A read that yields nothing and no error counts as one
// elapsed read timeout.
func (fr *FrameReader) readFull(b []byte) (int, error) {
	got := 0
	for got < len(b) {
		n, err := fr.r.Read(b[got:])
		got += n
		if err != nil {
			if got == len(b) {
				return got, nil
			}
			if isTimeout(err) {
				return got, ErrReadTimeout
			}
			return got, &DisconnectedError{Err: err}
		}
		if n == 0 {
			return got, ErrReadTimeout
		}
	}
	return got, nil
}
