package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"
)

// Response is a decoded frame from the chip.
type Response interface {
	ResponseCode() Code
	ReceivedAt() time.Time
}

type base struct {
	code Code
	at   time.Time
}

func (b base) ResponseCode() Code    { return b.code }
func (b base) ReceivedAt() time.Time { return b.at }

// Ack answers Start, Configure, Reset, SetDateLoc, UpdateAlmanac and
// CheckAlmanacUpdate.
type Ack struct {
	base
	OK bool
}

func (a *Ack) String() string {
	status := "Not Ok"
	if a.OK {
		status = "Ok"
	}
	return fmt.Sprintf("%s ack: %s", a.code, status)
}

type StatusResponse struct {
	base
	ErrorCount uint16
	RxCount    uint16
	TxCount    uint16
}

type FetchResultResponse struct {
	base
	Count uint8
}

type VersionResponse struct {
	base
	Software   string
	Driver     string
	Hardware   string
	ChipType   string
	Firmware   string
	AlmanacCRC string
	ChipUID    string
}

func (v *VersionResponse) String() string {
	return fmt.Sprintf("Version: software: %s, LR1110 HW: %s, LR1110 FW: %s, almanac crc: %s, chip uid: %s",
		v.Software, v.Hardware, v.Firmware, v.AlmanacCRC, v.ChipUID)
}

// AlmanacAge is the almanac age reported for one satellite.
type AlmanacAge struct {
	SatelliteID uint8
	Age         uint16
}

type AlmanacDatesResponse struct {
	base
	Ages []AlmanacAge
}

// FormatAges renders ages as "sat,age|sat,age" in ascending satellite order.
func FormatAges(ages []AlmanacAge) string {
	sorted := append([]AlmanacAge(nil), ages...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SatelliteID < sorted[j].SatelliteID })
	parts := make([]string, len(sorted))
	for i, a := range sorted {
		parts[i] = fmt.Sprintf("%d,%d", a.SatelliteID, a.Age)
	}
	return strings.Join(parts, "|")
}

// WifiResultLen is the payload size of one Wi-Fi result.
const WifiResultLen = 25

type WifiResult struct {
	base
	MAC                net.HardwareAddr
	Channel            WifiChannel
	Type               WifiType
	RSSI               int8
	DetectionTimeUs    uint32
	CorrelationTimeUs  uint32
	CaptureTimeUs      uint32
	DemodulationTimeUs uint32
}

func (w *WifiResult) String() string {
	return fmt.Sprintf("%s, %s, %s, %d", w.MAC, w.Channel, w.Type, w.RSSI)
}

type SatelliteDetail struct {
	ID            uint8
	Constellation ConstellationMask
	SNR           int16
}

func (s SatelliteDetail) String() string {
	name := "UNKNOWN"
	switch s.Constellation {
	case ConstellationGPS:
		name = "GPS"
	case ConstellationBeiDou:
		name = "BEIDOU"
	}
	return fmt.Sprintf("%d+%s+%d", s.ID, name, s.SNR)
}

type GnssResult struct {
	base
	MeasurementDelayMs uint32
	RadioMs            uint32
	ComputationMs      uint32
	Nav                []byte
	Satellites         []SatelliteDetail
}

// CapturedAt is when the scan happened on the chip.
func (g *GnssResult) CapturedAt() time.Time {
	return g.at.Add(-time.Duration(g.MeasurementDelayMs) * time.Millisecond)
}

func (g *GnssResult) NavHex() string { return hex.EncodeToString(g.Nav) }

// Assisted reports whether the result came from an assisted scan.
func (g *GnssResult) Assisted() bool { return g.code == CodeGnssAssistedResult }

func (g *GnssResult) String() string {
	return fmt.Sprintf("%s: %s (%d satellites)", g.code, g.NavHex(), len(g.Satellites))
}

type LogMessage struct {
	base
	Text string
}

type Event struct {
	base
}

type decoder func(f Frame) (Response, error)

var decoders = map[Code]decoder{
	CodeStatus:               decodeStatus,
	CodeStart:                decodeAck,
	CodeConfigure:            decodeAck,
	CodeFetchResult:          decodeFetchResult,
	CodeReset:                decodeAck,
	CodeSetDateLoc:           decodeAck,
	CodeGetVersion:           decodeVersion,
	CodeGetAlmanacDates:      decodeAlmanacDates,
	CodeUpdateAlmanac:        decodeAck,
	CodeCheckAlmanacUpdate:   decodeAck,
	CodeEvent:                func(f Frame) (Response, error) { return &Event{base{f.Code, f.ReceivedAt}}, nil },
	CodeWifiResult:           decodeWifiResult,
	CodeGnssAutonomousResult: decodeGnssResult,
	CodeGnssAssistedResult:   decodeGnssResult,
	CodeLog: func(f Frame) (Response, error) {
		return &LogMessage{base: base{f.Code, f.ReceivedAt}, Text: strings.ToValidUTF8(string(f.Payload), "�")}, nil
	},
}

// DecodeResponse turns a frame into its typed response.
func DecodeResponse(f Frame) (Response, error) {
	dec, ok := decoders[f.Code]
	if !ok {
		return nil, &UnknownResponseCodeError{Code: f.Code}
	}
	return dec(f)
}

func malformed(f Frame, format string, args ...any) error {
	return &MalformedResponseError{Code: f.Code, Payload: f.Payload, Reason: fmt.Sprintf(format, args...)}
}

func needLen(f Frame, n int) error {
	if len(f.Payload) < n {
		return malformed(f, "need %d bytes, got %d", n, len(f.Payload))
	}
	return nil
}

func decodeAck(f Frame) (Response, error) {
	if err := needLen(f, 1); err != nil {
		return nil, err
	}
	a := &Ack{base: base{f.Code, f.ReceivedAt}}
	switch f.Payload[0] {
	case 0:
	case 1:
		a.OK = true
	default:
		return nil, malformed(f, "ack value %d", f.Payload[0])
	}
	return a, nil
}

func decodeStatus(f Frame) (Response, error) {
	if err := needLen(f, 6); err != nil {
		return nil, err
	}
	p := f.Payload
	return &StatusResponse{
		base:       base{f.Code, f.ReceivedAt},
		ErrorCount: binary.LittleEndian.Uint16(p[0:2]),
		RxCount:    binary.LittleEndian.Uint16(p[2:4]),
		TxCount:    binary.LittleEndian.Uint16(p[4:6]),
	}, nil
}

func decodeFetchResult(f Frame) (Response, error) {
	if err := needLen(f, 1); err != nil {
		return nil, err
	}
	return &FetchResultResponse{base: base{f.Code, f.ReceivedAt}, Count: f.Payload[0]}, nil
}

func decodeVersion(f Frame) (Response, error) {
	fields := bytes.Split(f.Payload, []byte(";"))
	if len(fields) != 7 {
		return nil, malformed(f, "want 7 version fields, got %d", len(fields))
	}
	s := func(i int) string { return strings.TrimRight(string(fields[i]), "\x00") }
	return &VersionResponse{
		base:       base{f.Code, f.ReceivedAt},
		Software:   s(0),
		Driver:     s(1),
		Hardware:   s(2),
		ChipType:   s(3),
		Firmware:   s(4),
		AlmanacCRC: s(5),
		ChipUID:    s(6),
	}, nil
}

func decodeAlmanacDates(f Frame) (Response, error) {
	if len(f.Payload)%3 != 0 {
		return nil, malformed(f, "length %d is not a multiple of 3", len(f.Payload))
	}
	r := &AlmanacDatesResponse{base: base{f.Code, f.ReceivedAt}}
	for p := f.Payload; len(p) >= 3; p = p[3:] {
		r.Ages = append(r.Ages, AlmanacAge{SatelliteID: p[0], Age: binary.BigEndian.Uint16(p[1:3])})
	}
	return r, nil
}

func decodeWifiResult(f Frame) (Response, error) {
	if err := needLen(f, WifiResultLen); err != nil {
		return nil, err
	}
	p := f.Payload
	ch := WifiChannel(p[6])
	if ch < MinWifiChannel || ch > MaxWifiChannel {
		return nil, malformed(f, "wifi channel %d", p[6])
	}
	typ := WifiType(p[7])
	if typ != WifiTypeB && typ != WifiTypeG {
		return nil, malformed(f, "wifi type %d", p[7])
	}
	return &WifiResult{
		base:               base{f.Code, f.ReceivedAt},
		MAC:                net.HardwareAddr(append([]byte(nil), p[0:6]...)),
		Channel:            ch,
		Type:               typ,
		RSSI:               int8(p[8]),
		DetectionTimeUs:    binary.LittleEndian.Uint32(p[9:13]),
		CorrelationTimeUs:  binary.LittleEndian.Uint32(p[13:17]),
		CaptureTimeUs:      binary.LittleEndian.Uint32(p[17:21]),
		DemodulationTimeUs: binary.LittleEndian.Uint32(p[21:25]),
	}, nil
}

const gnssHeaderLen = 14

func decodeGnssResult(f Frame) (Response, error) {
	if err := needLen(f, gnssHeaderLen); err != nil {
		return nil, err
	}
	p := f.Payload
	navLen := int(binary.LittleEndian.Uint16(p[12:14]))
	if err := needLen(f, gnssHeaderLen+navLen); err != nil {
		return nil, err
	}
	rest := p[gnssHeaderLen+navLen:]
	if len(rest)%4 != 0 {
		return nil, malformed(f, "satellite details length %d is not a multiple of 4", len(rest))
	}
	g := &GnssResult{
		base:               base{f.Code, f.ReceivedAt},
		MeasurementDelayMs: binary.LittleEndian.Uint32(p[0:4]),
		RadioMs:            binary.LittleEndian.Uint32(p[4:8]),
		ComputationMs:      binary.LittleEndian.Uint32(p[8:12]),
		Nav:                append([]byte(nil), p[gnssHeaderLen:gnssHeaderLen+navLen]...),
	}
	for ; len(rest) >= 4; rest = rest[4:] {
		g.Satellites = append(g.Satellites, SatelliteDetail{
			ID:            rest[0],
			Constellation: ConstellationMask(rest[1]),
			SNR:           int16(binary.LittleEndian.Uint16(rest[2:4])),
		})
	}
	return g, nil
}
