package job

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"lr1110-host/internal/protocol"
	"lr1110-host/internal/session"
	"lr1110-host/internal/transport"
	"lr1110-host/internal/transport/transporttest"
)

const testResponseTimeout = 100 * time.Millisecond

type testLink struct {
	sess   *session.Session
	reader *transport.Reader
	chip   *transporttest.Chip
	logs   *observer.ObservedLogs
	logger *zap.SugaredLogger
}

func newTestLink(t *testing.T) *testLink {
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
	logger := zap.New(core).Sugar()
	return &testLink{
		sess:   session.New(r, session.Config{ResponseTimeout: testResponseTimeout, Logger: logger}),
		reader: r,
		chip:   chip,
		logs:   logs,
		logger: logger,
	}
}

func wifiPayload(mac [6]byte, ch protocol.WifiChannel, typ protocol.WifiType, rssi int8) []byte {
	p := make([]byte, protocol.WifiResultLen)
	copy(p, mac[:])
	p[6] = byte(ch)
	p[7] = byte(typ)
	p[8] = byte(rssi)
	binary.LittleEndian.PutUint32(p[9:13], 100)
	binary.LittleEndian.PutUint32(p[13:17], 200)
	binary.LittleEndian.PutUint32(p[17:21], 300)
	binary.LittleEndian.PutUint32(p[21:25], 400)
	return p
}

func gnssPayload(delayMs uint32, nav []byte) []byte {
	p := make([]byte, 14, 14+len(nav)+4)
	binary.LittleEndian.PutUint32(p[0:4], delayMs)
	binary.LittleEndian.PutUint32(p[4:8], 50)
	binary.LittleEndian.PutUint32(p[8:12], 60)
	binary.LittleEndian.PutUint16(p[12:14], uint16(len(nav)))
	p = append(p, nav...)
	return append(p, 7, byte(protocol.ConstellationGPS), 40, 0)
}

// scanChip answers like firmware whose scans always succeed with results.
type scanChip struct {
	configureOK bool
	startOK     bool
	resetOK     bool
	sendEvent   bool
	results     []protocol.Frame
	// announced overrides the result count sent with FETCH_RESULT when >= 0.
	announced int
}

func defaultScanChip(results ...protocol.Frame) *scanChip {
	return &scanChip{configureOK: true, startOK: true, resetOK: true, sendEvent: true, results: results, announced: -1}
}

func (c *scanChip) respond(cmd protocol.Frame) []protocol.Frame {
	switch cmd.Code {
	case protocol.CodeConfigure:
		return []protocol.Frame{transporttest.Ack(protocol.CodeConfigure, c.configureOK)}
	case protocol.CodeSetDateLoc:
		return []protocol.Frame{transporttest.Ack(protocol.CodeSetDateLoc, true)}
	case protocol.CodeReset:
		return []protocol.Frame{transporttest.Ack(protocol.CodeReset, c.resetOK)}
	case protocol.CodeStart:
		out := []protocol.Frame{transporttest.Ack(protocol.CodeStart, c.startOK)}
		if c.startOK && c.sendEvent {
			out = append(out,
				protocol.Frame{Code: protocol.CodeLog, Payload: []byte("scan done")},
				protocol.Frame{Code: protocol.CodeEvent})
		}
		return out
	case protocol.CodeFetchResult:
		n := len(c.results)
		if c.announced >= 0 {
			n = c.announced
		}
		out := []protocol.Frame{{Code: protocol.CodeFetchResult, Payload: []byte{byte(n)}}}
		return append(out, c.results...)
	case protocol.CodeGetAlmanacDates:
		return []protocol.Frame{{Code: protocol.CodeGetAlmanacDates, Payload: []byte{2, 0x01, 0x00, 1, 0x00, 0x10}}}
	case protocol.CodeGetVersion:
		return []protocol.Frame{{Code: protocol.CodeGetVersion, Payload: []byte("v2.1;1.0;0x22;LR1110;0x0401;0xdeadbeef;0011223344556677\x00")}}
	}
	return nil
}

func wifiJob() Job {
	j := New("wifi")
	j.ID = 3
	j.Wifi.EnableMode = protocol.WifiScan
	j.Wifi.Channels = []protocol.WifiChannel{1, 6}
	j.Wifi.Types = []protocol.WifiType{protocol.WifiTypeB}
	j.Wifi.NbrRetrials = 1
	j.Wifi.MaxResults = 5
	j.Wifi.TimeoutMs = 100
	return j
}
