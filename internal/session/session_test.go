package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"lr1110-host/internal/protocol"
	"lr1110-host/internal/transport"
	"lr1110-host/internal/transport/transporttest"
)

const testTimeout = 100 * time.Millisecond

func newSession(t *testing.T) (*Session, *transporttest.Chip, *observer.ObservedLogs) {
	t.Helper()
	chip := transporttest.NewChip()
	r := transport.New(chip, transport.Config{})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	chip.Boot()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	s := New(r, Config{ResponseTimeout: testTimeout, Logger: zap.New(core).Sugar()})
	return s, chip, logs
}

func TestExchangeFiltersLogFrames(t *testing.T) {
	s, chip, logs := newSession(t)
	chip.OnCommand(func(cmd protocol.Frame) []protocol.Frame {
		return []protocol.Frame{
			{Code: protocol.CodeLog, Payload: []byte("configuring radio")},
			{Code: protocol.CodeStatus, Payload: []byte{1, 0, 2, 0, 3, 0}},
		}
	})

	resp, err := s.Exchange(protocol.Status)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	st, ok := resp.(*protocol.StatusResponse)
	if !ok {
		t.Fatalf("resp=%T want *StatusResponse", resp)
	}
	if st.ErrorCount != 1 || st.RxCount != 2 || st.TxCount != 3 {
		t.Fatalf("status=%+v", st)
	}
	if err := CheckCounterpart(protocol.Status, resp); err != nil {
		t.Fatalf("CheckCounterpart: %v", err)
	}
	if n := logs.FilterMessage("[EMBEDDED DEBUG]: configuring radio").Len(); n != 1 {
		t.Fatalf("embedded debug lines=%d want 1", n)
	}
}

func TestExchangeNoResponseThenUsable(t *testing.T) {
	s, chip, _ := newSession(t)

	start := time.Now()
	_, err := s.Exchange(protocol.GetVersion)
	elapsed := time.Since(start)
	var nr *NoResponseError
	if !errors.As(err, &nr) {
		t.Fatalf("err=%v want NoResponseError", err)
	}
	if nr.Timeout != testTimeout {
		t.Fatalf("timeout=%v want %v", nr.Timeout, testTimeout)
	}
	if elapsed < testTimeout || elapsed > testTimeout+time.Second {
		t.Fatalf("elapsed=%v want about %v", elapsed, testTimeout)
	}

	chip.OnCommand(func(cmd protocol.Frame) []protocol.Frame {
		return []protocol.Frame{transporttest.Ack(cmd.Code, true)}
	})
	resp, err := s.Exchange(protocol.Reset)
	if err != nil {
		t.Fatalf("Exchange after timeout: %v", err)
	}
	if ack, ok := resp.(*protocol.Ack); !ok || !ack.OK {
		t.Fatalf("resp=%v", resp)
	}
}

func TestExchangeUnknownCode(t *testing.T) {
	s, chip, _ := newSession(t)
	chip.OnCommand(func(cmd protocol.Frame) []protocol.Frame {
		return []protocol.Frame{{Code: 0x0042}}
	})
	_, err := s.Exchange(protocol.Status)
	var ue *protocol.UnknownResponseCodeError
	if !errors.As(err, &ue) || ue.Code != 0x0042 {
		t.Fatalf("err=%v want UnknownResponseCodeError", err)
	}
}

func TestCheckCounterpartMismatch(t *testing.T) {
	s, chip, _ := newSession(t)
	chip.OnCommand(func(cmd protocol.Frame) []protocol.Frame {
		return []protocol.Frame{transporttest.Ack(protocol.CodeConfigure, true)}
	})
	resp, err := s.Exchange(protocol.Start)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	var me *MismatchError
	if err := CheckCounterpart(protocol.Start, resp); !errors.As(err, &me) {
		t.Fatalf("err=%v want MismatchError", err)
	}
	if me.Sent != protocol.CodeStart || me.Received != protocol.CodeConfigure {
		t.Fatalf("mismatch=%+v", me)
	}
}

func TestHasEvent(t *testing.T) {
	s, chip, _ := newSession(t)

	got, err := s.HasEvent()
	if err != nil || got {
		t.Fatalf("empty queue: got=%v err=%v", got, err)
	}

	chip.Emit(protocol.CodeFetchResult, []byte{3})
	got, err = s.HasEvent()
	if err != nil || got {
		t.Fatalf("non-event frame: got=%v err=%v", got, err)
	}

	chip.Emit(protocol.CodeLog, []byte("scan done"))
	chip.Emit(protocol.CodeEvent, nil)
	got, err = s.HasEvent()
	if err != nil || !got {
		t.Fatalf("event: got=%v err=%v", got, err)
	}
}

func TestDrainQueue(t *testing.T) {
	s, chip, logs := newSession(t)
	chip.Emit(protocol.CodeWifiResult, make([]byte, protocol.WifiResultLen))
	chip.Emit(protocol.CodeEvent, nil)
	time.Sleep(50 * time.Millisecond)

	if n := s.DrainQueue(); n != 2 {
		t.Fatalf("drained=%d want 2", n)
	}
	if n := logs.FilterMessageSnippet("Remaining message in FIFO").Len(); n != 2 {
		t.Fatalf("drain log lines=%d want 2", n)
	}
	if got, _ := s.HasEvent(); got {
		t.Fatalf("event survived the drain")
	}
}

func TestNotListening(t *testing.T) {
	s, chip, _ := newSession(t)
	chip.Unplug()
	time.Sleep(50 * time.Millisecond)

	_, err := s.Receive()
	var nl *NotListeningError
	if !errors.As(err, &nl) {
		t.Fatalf("err=%v want NotListeningError", err)
	}
	var de *protocol.DisconnectedError
	if !errors.As(err, &de) {
		t.Fatalf("err=%v should wrap DisconnectedError", err)
	}
}
