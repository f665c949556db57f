package resultlog

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	"lr1110-host/internal/protocol"
)

var received = time.Date(2021, 3, 4, 10, 20, 30, 123456000, time.UTC)

func decode(t *testing.T, code protocol.Code, payload []byte) protocol.Response {
	t.Helper()
	r, err := protocol.DecodeResponse(protocol.Frame{Code: code, Payload: payload, ReceivedAt: received})
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	return r
}

func wifiResult(t *testing.T) *protocol.WifiResult {
	p := make([]byte, protocol.WifiResultLen)
	copy(p, []byte{0x0a, 0x1b, 0x2c, 0x3d, 0x4e, 0x5f})
	p[6] = 11
	p[7] = byte(protocol.WifiTypeG)
	p[8] = 0xb5 // -75
	binary.LittleEndian.PutUint32(p[9:], 4)
	binary.LittleEndian.PutUint32(p[13:], 3)
	binary.LittleEndian.PutUint32(p[17:], 2)
	binary.LittleEndian.PutUint32(p[21:], 1)
	return decode(t, protocol.CodeWifiResult, p).(*protocol.WifiResult)
}

func gnssResult(t *testing.T) *protocol.GnssResult {
	p := make([]byte, 14)
	binary.LittleEndian.PutUint32(p[0:], 2000)
	binary.LittleEndian.PutUint32(p[4:], 120)
	binary.LittleEndian.PutUint32(p[8:], 35)
	binary.LittleEndian.PutUint16(p[12:], 3)
	p = append(p, 0x01, 0xab, 0xcd)
	p = append(p, 12, byte(protocol.ConstellationGPS), 38, 0)
	p = append(p, 65, byte(protocol.ConstellationBeiDou), 0xfe, 0xff)
	return decode(t, protocol.CodeGnssAutonomousResult, p).(*protocol.GnssResult)
}

func TestWriterFormat(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2021, 3, 4, 10, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "results.log")
	w, err := Create(path, clk)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Metadata(VersionPrefix + "1.0:v2:d:fw:crc::uid"); err != nil {
		t.Fatal(err)
	}
	if err := w.Wifi(wifiResult(t), 2, 5); err != nil {
		t.Fatal(err)
	}
	if err := w.Gnss(gnssResult(t), 3, 6); err != nil {
		t.Fatal(err)
	}
	if err := w.NoResult(0, 7); err != nil {
		t.Fatal(err)
	}
	if err := w.Exception(1, 8); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"# version: 1.0:v2:d:fw:crc::uid",
		"[2021-03-04 10:20:30.123456] [5 - 2] 0a:1b:2c:3d:4e:5f, CHANNEL_11, TYPE_G, -75, 1, 2, 3, 4",
		"[2021-03-04 10:20:28.123456] [6 - 3] 01abcd, 0, 120, 35, 12+GPS+38|65+BEIDOU+-2",
		"[2021-03-04 10:00:00.000000] [7 - 0] No result",
		"[2021-03-04 10:00:00.000000] [8 - 1] Exception",
	}
	got := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("file mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.log")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Create(path, nil)
	var fe *FileExistsError
	if !errors.As(err, &fe) || fe.Path != path {
		t.Fatalf("err=%v want FileExistsError", err)
	}
}

func TestWriterBuffersUntilLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.log")
	w, err := Create(path, clock.NewMock())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	size := func() int64 {
		st, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		return st.Size()
	}
	for i := 0; i < BufferLimit; i++ {
		if err := w.Comment("line"); err != nil {
			t.Fatal(err)
		}
	}
	if s := size(); s != 0 {
		t.Fatalf("size=%d want 0 before the limit", s)
	}
	if err := w.Comment("line"); err != nil {
		t.Fatal(err)
	}
	if s := size(); s == 0 {
		t.Fatalf("buffer not flushed after %d entries", BufferLimit+1)
	}
}

func TestReadRoundTrip(t *testing.T) {
	clk := clock.NewMock()
	path := filepath.Join(t.TempDir(), "results.log")
	w, err := Create(path, clk)
	if err != nil {
		t.Fatal(err)
	}
	_ = w.Metadata(VersionPrefix + "host:demo")
	_ = w.Comment("REF 45.0,5.0,200.0")
	_ = w.Gnss(gnssResult(t), 1, 2)
	_ = w.Wifi(wifiResult(t), 0, 1)
	_ = w.Exception(0, 3)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if f.Version != "host:demo" {
		t.Fatalf("version=%q", f.Version)
	}
	if diff := cmp.Diff([]string{"REF 45.0,5.0,200.0"}, f.Comments); diff != "" {
		t.Fatalf("comments mismatch (-want +got):\n%s", diff)
	}
	groups := f.Groups()
	if len(groups) != 3 || groups[0].Counter != 1 || groups[2].Counter != 3 {
		t.Fatalf("groups=%+v", groups)
	}

	wifi := groups[0].Entries[0]
	if wifi.Kind != KindWifi || wifi.Wifi.MAC != "0a:1b:2c:3d:4e:5f" || wifi.Wifi.RSSI != -75 || wifi.Wifi.DetectionTimeUs != 4 {
		t.Fatalf("wifi entry=%+v %+v", wifi, wifi.Wifi)
	}
	gnss := groups[1].Entries[0]
	if gnss.Kind != KindGnss || gnss.JobID != 1 {
		t.Fatalf("gnss entry=%+v", gnss)
	}
	wantSats := []protocol.SatelliteDetail{
		{ID: 12, Constellation: protocol.ConstellationGPS, SNR: 38},
		{ID: 65, Constellation: protocol.ConstellationBeiDou, SNR: -2},
	}
	if diff := cmp.Diff(wantSats, gnss.Gnss.Satellites); diff != "" {
		t.Fatalf("satellites mismatch (-want +got):\n%s", diff)
	}
	if !gnss.CapturedAt().Equal(received.Add(-2 * time.Second)) {
		t.Fatalf("captured=%v", gnss.CapturedAt())
	}
	if groups[2].Entries[0].Kind != KindException {
		t.Fatalf("kind=%v want exception", groups[2].Entries[0].Kind)
	}
}

func TestReadLegacyLines(t *testing.T) {
	in := strings.Join([]string{
		"[2020-06-01 08:00:00] [1 - 0] aabbcc, 2, 10, 20, ",
		"[2020-06-01 08:00:01.5] [1 - 0] something else",
		"garbage",
	}, "\n")
	f, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(f.Entries) != 2 || len(f.Malformed) != 1 {
		t.Fatalf("entries=%d malformed=%d", len(f.Entries), len(f.Malformed))
	}
	g := f.Entries[0]
	if g.Kind != KindGnss || g.Gnss.ElapsedS != 2 || len(g.Gnss.Satellites) != 0 {
		t.Fatalf("gnss entry=%+v", g)
	}
	if want := time.Date(2020, 6, 1, 7, 59, 58, 0, time.UTC); !g.CapturedAt().Equal(want) {
		t.Fatalf("captured=%v want %v", g.CapturedAt(), want)
	}
	if f.Entries[1].Kind != KindMalformed || f.Entries[1].Date.Nanosecond() != 500000000 {
		t.Fatalf("entry=%+v", f.Entries[1])
	}
}
