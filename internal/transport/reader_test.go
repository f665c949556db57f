package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lr1110-host/internal/metrics"
	"lr1110-host/internal/protocol"
	"lr1110-host/internal/transport/transporttest"
)

func startReader(t *testing.T, chip *transporttest.Chip) *Reader {
	t.Helper()
	r := New(chip, Config{Metrics: metrics.New()})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSendBeforeHandshake(t *testing.T) {
	r := startReader(t, transporttest.NewChip())
	if _, err := r.Send([]byte{0, 0, 0, 0}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err=%v want ErrNotReady", err)
	}
}

func TestHandshakeThenFrames(t *testing.T) {
	chip := transporttest.NewChip()
	r := startReader(t, chip)

	chip.Boot()
	if err := r.WaitReady(waitCtx(t)); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if !chip.Handshaken() || !r.Ready() {
		t.Fatalf("handshake not completed")
	}

	chip.Emit(protocol.CodeLog, []byte("boot"))
	chip.Emit(protocol.CodeEvent, nil)

	want := []protocol.Code{protocol.CodeLog, protocol.CodeEvent}
	for i, code := range want {
		select {
		case f := <-r.Frames():
			if f.Code != code {
				t.Fatalf("frame %d code=%s want %s", i, f.Code, code)
			}
			if f.ReceivedAt.IsZero() {
				t.Fatalf("frame %d has no reception time", i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not received", i)
		}
	}

	wire, _ := protocol.EncodeCommand(protocol.Status)
	if _, err := r.Send(wire); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := chip.ReceivedCodes(); len(got) != 1 || got[0] != protocol.CodeStatus {
		t.Fatalf("chip received %v", got)
	}
}

func TestTruncatedFrameKeepsRunning(t *testing.T) {
	chip := transporttest.NewChip()
	r := startReader(t, chip)

	chip.EmitRaw([]byte{0x81, 0x00, 0x19, 0x00, 0xAA})
	time.Sleep(50 * time.Millisecond)
	chip.Emit(protocol.CodeEvent, nil)

	select {
	case f := <-r.Frames():
		if f.Code != protocol.CodeEvent {
			t.Fatalf("code=%s want EVENT", f.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reader did not recover after a truncated frame")
	}
	if !r.Running() {
		t.Fatalf("reader stopped")
	}
}

func TestUnplugStopsReader(t *testing.T) {
	chip := transporttest.NewChip()
	r := startReader(t, chip)

	chip.Unplug()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("reader still running")
	}
	if r.Running() {
		t.Fatalf("Running()=true after unplug")
	}
	var de *protocol.DisconnectedError
	if !errors.As(r.Err(), &de) {
		t.Fatalf("Err()=%v want DisconnectedError", r.Err())
	}
	if err := r.WaitReady(waitCtx(t)); !errors.As(err, &de) {
		t.Fatalf("WaitReady=%v want DisconnectedError", err)
	}
}

func TestWriteFailureIsDisconnect(t *testing.T) {
	chip := transporttest.NewChip()
	r := startReader(t, chip)
	chip.Boot()
	if err := r.WaitReady(waitCtx(t)); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	chip.FailWrites(errors.New("usb reset"))
	var de *protocol.DisconnectedError
	if _, err := r.Send([]byte{0, 0, 0, 0}); !errors.As(err, &de) {
		t.Fatalf("err=%v want DisconnectedError", err)
	}
}

// slowLink is a silent link whose reads each take one read timeout. It
// counts reads that were in flight, or started, once Close was called.
type slowLink struct {
	mu       sync.Mutex
	inRead   bool
	closed   bool
	overlaps int
}

func (l *slowLink) Read(p []byte) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.overlaps++
	}
	l.inRead = true
	l.mu.Unlock()

	time.Sleep(30 * time.Millisecond)

	l.mu.Lock()
	l.inRead = false
	l.mu.Unlock()
	return 0, nil
}

func (l *slowLink) Write(p []byte) (int, error) { return len(p), nil }

func (l *slowLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inRead {
		l.overlaps++
	}
	l.closed = true
	return nil
}

func TestCloseJoinsReaderBeforeClosingLink(t *testing.T) {
	link := &slowLink{}
	r := New(link, Config{Metrics: metrics.New()})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Let the loop enter a read.
	time.Sleep(10 * time.Millisecond)

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.Running() {
		t.Fatalf("Running()=true after Close")
	}
	link.mu.Lock()
	defer link.mu.Unlock()
	if !link.closed {
		t.Fatalf("link not closed")
	}
	if link.overlaps != 0 {
		t.Fatalf("reads overlapping Close=%d want 0", link.overlaps)
	}
}
