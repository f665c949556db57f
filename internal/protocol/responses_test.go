package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func frame(code Code, payload ...byte) Frame {
	return Frame{Code: code, Payload: payload, ReceivedAt: at}
}

func TestDecodeAck(t *testing.T) {
	for _, code := range []Code{CodeStart, CodeConfigure, CodeReset, CodeSetDateLoc, CodeUpdateAlmanac, CodeCheckAlmanacUpdate} {
		for _, v := range []byte{0, 1} {
			r, err := DecodeResponse(frame(code, v))
			if err != nil {
				t.Fatalf("%s: %v", code, err)
			}
			a, ok := r.(*Ack)
			if !ok {
				t.Fatalf("%s decoded as %T", code, r)
			}
			if a.OK != (v == 1) || a.ResponseCode() != code {
				t.Fatalf("%s ack=%v code=%s", code, a.OK, a.ResponseCode())
			}
		}
	}

	for _, payload := range [][]byte{{2}, {0xFF}, nil} {
		_, err := DecodeResponse(frame(CodeStart, payload...))
		var me *MalformedResponseError
		if !errors.As(err, &me) {
			t.Fatalf("payload % X err=%v want malformed", payload, err)
		}
	}
}

func TestDecodeStatusAndFetch(t *testing.T) {
	r, err := DecodeResponse(frame(CodeStatus, 0x01, 0x00, 0x34, 0x12, 0xFF, 0xFF))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	s := r.(*StatusResponse)
	if s.ErrorCount != 1 || s.RxCount != 0x1234 || s.TxCount != 0xFFFF {
		t.Fatalf("status=%+v", s)
	}
	if _, err := DecodeResponse(frame(CodeStatus, 0x01)); err == nil {
		t.Fatalf("short status accepted")
	}

	r, err = DecodeResponse(frame(CodeFetchResult, 7))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := r.(*FetchResultResponse).Count; got != 7 {
		t.Fatalf("count=%d want 7", got)
	}
}

func TestDecodeVersion(t *testing.T) {
	r, err := DecodeResponse(frame(CodeGetVersion, []byte("v2.1;v1.0.3;0x22;0x01;0x0401;0x7c3a1b2e;0016c001f000a1b2")...))
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	got := r.(*VersionResponse)
	want := &VersionResponse{
		base:       base{CodeGetVersion, at},
		Software:   "v2.1",
		Driver:     "v1.0.3",
		Hardware:   "0x22",
		ChipType:   "0x01",
		Firmware:   "0x0401",
		AlmanacCRC: "0x7c3a1b2e",
		ChipUID:    "0016c001f000a1b2",
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(VersionResponse{}, base{})); diff != "" {
		t.Fatalf("version mismatch (-want +got):\n%s", diff)
	}

	if _, err := DecodeResponse(frame(CodeGetVersion, []byte("a;b;c")...)); err == nil {
		t.Fatalf("short version accepted")
	}
}

func TestDecodeAlmanacDates(t *testing.T) {
	r, err := DecodeResponse(frame(CodeGetAlmanacDates, 2, 0x01, 0x02, 1, 0x00, 0xFF))
	if err != nil {
		t.Fatalf("dates: %v", err)
	}
	ages := r.(*AlmanacDatesResponse).Ages
	want := []AlmanacAge{{2, 0x0102}, {1, 0x00FF}}
	if diff := cmp.Diff(want, ages); diff != "" {
		t.Fatalf("ages mismatch (-want +got):\n%s", diff)
	}
	if got := FormatAges(ages); got != "1,255|2,258" {
		t.Fatalf("FormatAges=%q", got)
	}
	if _, err := DecodeResponse(frame(CodeGetAlmanacDates, 1, 2)); err == nil {
		t.Fatalf("partial entry accepted")
	}
}

func TestDecodeWifiResult(t *testing.T) {
	payload := []byte{
		0xAA, 0xBB, 0xCC, 0x01, 0x02, 0x03,
		6, 2, 0xB5,
		0x10, 0x00, 0x00, 0x00,
		0x20, 0x00, 0x00, 0x00,
		0x30, 0x00, 0x00, 0x00,
		0x40, 0x01, 0x00, 0x00,
	}
	r, err := DecodeResponse(frame(CodeWifiResult, payload...))
	if err != nil {
		t.Fatalf("wifi: %v", err)
	}
	w := r.(*WifiResult)
	if w.MAC.String() != "aa:bb:cc:01:02:03" {
		t.Fatalf("mac=%s", w.MAC)
	}
	if w.Channel != 6 || w.Type != WifiTypeG || w.RSSI != -75 {
		t.Fatalf("channel=%s type=%s rssi=%d", w.Channel, w.Type, w.RSSI)
	}
	if w.DetectionTimeUs != 0x10 || w.CorrelationTimeUs != 0x20 || w.CaptureTimeUs != 0x30 || w.DemodulationTimeUs != 0x140 {
		t.Fatalf("timings=%+v", w)
	}

	bad := append([]byte(nil), payload...)
	bad[6] = 15
	if _, err := DecodeResponse(frame(CodeWifiResult, bad...)); err == nil {
		t.Fatalf("channel 15 accepted")
	}
	if _, err := DecodeResponse(frame(CodeWifiResult, payload[:24]...)); err == nil {
		t.Fatalf("24-byte result accepted")
	}
}

func TestDecodeGnssResult(t *testing.T) {
	payload := []byte{
		0xE8, 0x03, 0x00, 0x00, // 1000 ms delay
		0x0A, 0x00, 0x00, 0x00,
		0x14, 0x00, 0x00, 0x00,
		0x03, 0x00,
		0x01, 0x02, 0x03,
		12, 1, 0x2A, 0x00,
		70, 2, 0xFE, 0xFF,
	}
	r, err := DecodeResponse(frame(CodeGnssAssistedResult, payload...))
	if err != nil {
		t.Fatalf("gnss: %v", err)
	}
	g := r.(*GnssResult)
	if !g.Assisted() || g.NavHex() != "010203" || g.RadioMs != 10 || g.ComputationMs != 20 {
		t.Fatalf("gnss=%+v", g)
	}
	if !g.CapturedAt().Equal(at.Add(-time.Second)) {
		t.Fatalf("captured=%v", g.CapturedAt())
	}
	want := []SatelliteDetail{{12, ConstellationGPS, 42}, {70, ConstellationBeiDou, -2}}
	if diff := cmp.Diff(want, g.Satellites); diff != "" {
		t.Fatalf("satellites mismatch (-want +got):\n%s", diff)
	}
	if got := g.Satellites[1].String(); got != "70+BEIDOU+-2" {
		t.Fatalf("detail=%q", got)
	}

	for _, n := range []int{0, 13, 16, len(payload) - 1} {
		if _, err := DecodeResponse(frame(CodeGnssAutonomousResult, payload[:n]...)); err == nil {
			t.Fatalf("truncated %d accepted", n)
		}
	}
}

func TestDecodeLogEventUnknown(t *testing.T) {
	r, err := DecodeResponse(frame(CodeLog, []byte("scan done")...))
	if err != nil || r.(*LogMessage).Text != "scan done" {
		t.Fatalf("log=%v err=%v", r, err)
	}
	if r, err := DecodeResponse(frame(CodeEvent)); err != nil {
		t.Fatalf("event: %v", err)
	} else if _, ok := r.(*Event); !ok {
		t.Fatalf("event decoded as %T", r)
	}

	_, err = DecodeResponse(frame(0x00FE))
	var ue *UnknownResponseCodeError
	if !errors.As(err, &ue) || ue.Code != 0x00FE {
		t.Fatalf("err=%v want unknown code", err)
	}
}
