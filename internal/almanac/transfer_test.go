package almanac

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"lr1110-host/internal/metrics"
	"lr1110-host/internal/protocol"
	"lr1110-host/internal/transport/transporttest"
)

// fakeChip acknowledges bursts until failAt, then answers with reply.
type fakeChip struct {
	sent    []protocol.Command
	failAt  int
	reply   func(cmd protocol.Command) protocol.Frame
	checkOK bool
}

func (c *fakeChip) Exchange(cmd protocol.Command) (protocol.Response, error) {
	c.sent = append(c.sent, cmd)
	var f protocol.Frame
	switch {
	case cmd.Code() == protocol.CodeCheckAlmanacUpdate:
		f = transporttest.Ack(protocol.CodeCheckAlmanacUpdate, c.checkOK)
	case c.reply != nil && len(c.sent)-1 == c.failAt:
		f = c.reply(cmd)
	default:
		f = transporttest.Ack(protocol.CodeUpdateAlmanac, true)
	}
	return protocol.DecodeResponse(f)
}

func image(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestTransfer(t *testing.T) {
	c := &fakeChip{checkOK: true}
	m := metrics.New()
	if err := Transfer(c, image(45), 0xcafe, TransferConfig{Metrics: m}); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if len(c.sent) != 4 {
		t.Fatalf("commands=%d want 3 bursts + check", len(c.sent))
	}
	last := c.sent[2].(protocol.UpdateAlmanac)
	if len(last.Burst) != 5 || last.Burst[0] != 40 {
		t.Fatalf("last burst=%v", last.Burst)
	}
	if got := c.sent[3].(protocol.CheckAlmanacUpdate).CRC; got != 0xcafe {
		t.Fatalf("crc=%#x", got)
	}
	want := `
# HELP lr1110_almanac_bursts_total Almanac bursts acknowledged by the chip.
# TYPE lr1110_almanac_bursts_total counter
lr1110_almanac_bursts_total 3
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "lr1110_almanac_bursts_total"); err != nil {
		t.Fatalf("metrics: %v", err)
	}
}

func TestTransferNotAcknowledged(t *testing.T) {
	c := &fakeChip{checkOK: true, failAt: 1, reply: func(protocol.Command) protocol.Frame {
		return transporttest.Ack(protocol.CodeUpdateAlmanac, false)
	}}
	err := Transfer(c, image(60), 1, TransferConfig{})
	var df *DownloadFailureError
	if !errors.As(err, &df) {
		t.Fatalf("err=%v want DownloadFailureError", err)
	}
	if df.Burst != 1 || df.Bursts != 3 {
		t.Fatalf("failure=%+v", df)
	}
	if len(c.sent) != 2 {
		t.Fatalf("commands=%d want transfer to stop at burst 2", len(c.sent))
	}
}

func TestTransferWrongResponse(t *testing.T) {
	c := &fakeChip{checkOK: true, failAt: 0, reply: func(protocol.Command) protocol.Frame {
		return transporttest.Ack(protocol.CodeStart, true)
	}}
	err := Transfer(c, image(20), 1, TransferConfig{})
	var df *DownloadFailureError
	var wr *WrongResponseError
	if !errors.As(err, &df) || !errors.As(err, &wr) {
		t.Fatalf("err=%v want DownloadFailureError wrapping WrongResponseError", err)
	}
	if wr.Sent != protocol.CodeUpdateAlmanac || wr.Received != protocol.CodeStart {
		t.Fatalf("wrong response=%+v", wr)
	}
}

func TestTransferCheckFailure(t *testing.T) {
	c := &fakeChip{checkOK: false}
	err := Transfer(c, image(20), 0x1234, TransferConfig{})
	var cf *CheckFailureError
	if !errors.As(err, &cf) || cf.CRC != 0x1234 {
		t.Fatalf("err=%v want CheckFailureError", err)
	}
}
