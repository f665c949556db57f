package resultlog

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"lr1110-host/internal/protocol"
)

type Kind int

const (
	KindMalformed Kind = iota
	KindWifi
	KindGnss
	KindNoResult
	KindException
)

func (k Kind) String() string {
	switch k {
	case KindWifi:
		return "wifi"
	case KindGnss:
		return "gnss"
	case KindNoResult:
		return "no_result"
	case KindException:
		return "exception"
	}
	return "malformed"
}

type WifiEntry struct {
	MAC                string
	Channel            protocol.WifiChannel
	Type               protocol.WifiType
	RSSI               int
	DemodulationTimeUs uint32
	CaptureTimeUs      uint32
	CorrelationTimeUs  uint32
	DetectionTimeUs    uint32
}

type GnssEntry struct {
	Nav           []byte
	ElapsedS      int
	RadioMs       uint32
	ComputationMs uint32
	Satellites    []protocol.SatelliteDetail
}

// Entry is one dated result line.
type Entry struct {
	Date    time.Time
	Counter int
	JobID   int
	Kind    Kind
	Wifi    *WifiEntry
	Gnss    *GnssEntry
	// Info is the scan info text after the job tag.
	Info string
}

// CapturedAt is when a GNSS scan happened.
func (e Entry) CapturedAt() time.Time {
	if e.Gnss == nil {
		return e.Date
	}
	return e.Date.Add(-time.Duration(e.Gnss.ElapsedS) * time.Second)
}

type File struct {
	// Version is the metadata of the "# version:" line, if any.
	Version  string
	Comments []string
	Entries  []Entry
	// Malformed holds lines that could not be parsed.
	Malformed []string
}

// Group is every entry of one job execution.
type Group struct {
	Counter int
	Entries []Entry
}

// Groups returns entries grouped by job counter in ascending order.
func (f *File) Groups() []Group {
	byCounter := lo.GroupBy(f.Entries, func(e Entry) int { return e.Counter })
	counters := lo.Keys(byCounter)
	sort.Ints(counters)
	return lo.Map(counters, func(c int, _ int) Group { return Group{Counter: c, Entries: byCounter[c]} })
}

var (
	entryRe = regexp.MustCompile(`^\[([^\]]+)\] \[([0-9]+) - ([0-9]+)\] ?(.*)$`)
	wifiRe  = regexp.MustCompile(`^([A-Za-z0-9:]+), ?(CHANNEL_[0-9]+), ?(TYPE_[BG]), ?(-?[0-9]+), ?([0-9]+), ?([0-9]+), ?([0-9]+), ?([0-9]+)$`)
	gnssRe  = regexp.MustCompile(`^([A-Za-z0-9]+), ?([0-9]+), ?([0-9]+), ?([0-9]+), ?([^,]*)$`)
)

// parseLayout accepts dates with or without fractional seconds.
const parseLayout = "2006-01-02 15:04:05"

func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open result file")
	}
	defer f.Close()
	return Read(f)
}

// Read parses a result file. Lines that do not parse are collected in
// File.Malformed instead of failing the whole file.
func Read(r io.Reader) (*File, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	out := &File{}
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if c, ok := strings.CutPrefix(line, "#"); ok {
			c = strings.TrimSpace(c)
			if v, ok := strings.CutPrefix(c, strings.TrimSpace(VersionPrefix)); ok {
				out.Version = strings.TrimSpace(v)
				continue
			}
			out.Comments = append(out.Comments, c)
			continue
		}
		e, err := ParseEntry(line)
		if err != nil {
			out.Malformed = append(out.Malformed, line)
			continue
		}
		out.Entries = append(out.Entries, e)
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "read result file")
	}
	return out, nil
}

// ParseEntry parses one dated result line. Scan info that is neither a
// known token nor a Wi-Fi or GNSS result yields KindMalformed.
func ParseEntry(line string) (Entry, error) {
	m := entryRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Entry{}, fmt.Errorf("not a result line: %q", line)
	}
	date, err := time.Parse(parseLayout, m[1])
	if err != nil {
		return Entry{}, errors.Wrap(err, "result date")
	}
	counter, _ := strconv.Atoi(m[2])
	jobID, _ := strconv.Atoi(m[3])
	e := Entry{Date: date, Counter: counter, JobID: jobID, Info: m[4]}

	switch {
	case e.Info == NoResultToken:
		e.Kind = KindNoResult
	case e.Info == ExceptionToken:
		e.Kind = KindException
	default:
		if w, err := parseWifi(e.Info); err == nil {
			e.Kind, e.Wifi = KindWifi, w
		} else if g, err := parseGnss(e.Info); err == nil {
			e.Kind, e.Gnss = KindGnss, g
		}
	}
	return e, nil
}

func parseWifi(info string) (*WifiEntry, error) {
	m := wifiRe.FindStringSubmatch(info)
	if m == nil {
		return nil, fmt.Errorf("not a wifi result: %q", info)
	}
	ch, err := protocol.ParseWifiChannel(m[2])
	if err != nil {
		return nil, err
	}
	typ, err := protocol.ParseWifiType(m[3])
	if err != nil {
		return nil, err
	}
	w := &WifiEntry{MAC: m[1], Channel: ch, Type: typ}
	w.RSSI, _ = strconv.Atoi(m[4])
	w.DemodulationTimeUs = parseU32(m[5])
	w.CaptureTimeUs = parseU32(m[6])
	w.CorrelationTimeUs = parseU32(m[7])
	w.DetectionTimeUs = parseU32(m[8])
	return w, nil
}

func parseGnss(info string) (*GnssEntry, error) {
	m := gnssRe.FindStringSubmatch(info)
	if m == nil {
		return nil, fmt.Errorf("not a gnss result: %q", info)
	}
	nav, err := hex.DecodeString(m[1])
	if err != nil {
		return nil, errors.Wrap(err, "nav message")
	}
	g := &GnssEntry{Nav: nav, RadioMs: parseU32(m[3]), ComputationMs: parseU32(m[4])}
	g.ElapsedS, _ = strconv.Atoi(m[2])
	if sats := strings.TrimSpace(m[5]); sats != "" {
		for _, s := range strings.Split(sats, "|") {
			d, err := parseSatellite(s)
			if err != nil {
				return nil, err
			}
			g.Satellites = append(g.Satellites, d)
		}
	}
	return g, nil
}

func parseSatellite(s string) (protocol.SatelliteDetail, error) {
	parts := strings.Split(s, "+")
	if len(parts) != 3 {
		return protocol.SatelliteDetail{}, fmt.Errorf("satellite detail %q", s)
	}
	id, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return protocol.SatelliteDetail{}, errors.Wrapf(err, "satellite id %q", s)
	}
	snr, err := strconv.ParseInt(parts[2], 10, 16)
	if err != nil {
		return protocol.SatelliteDetail{}, errors.Wrapf(err, "satellite snr %q", s)
	}
	d := protocol.SatelliteDetail{ID: uint8(id), SNR: int16(snr)}
	switch parts[1] {
	case "GPS":
		d.Constellation = protocol.ConstellationGPS
	case "BEIDOU":
		d.Constellation = protocol.ConstellationBeiDou
	}
	return d, nil
}

func parseU32(s string) uint32 {
	v, _ := strconv.ParseUint(s, 10, 32)
	return uint32(v)
}
