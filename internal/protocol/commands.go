package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Command is anything that can be sent to the chip.
type Command interface {
	Code() Code
	Payload() []byte
}

type emptyCommand Code

func (c emptyCommand) Code() Code      { return Code(c) }
func (c emptyCommand) Payload() []byte { return nil }
func (c emptyCommand) String() string  { return Code(c).String() }

var (
	Status          Command = emptyCommand(CodeStatus)
	Start           Command = emptyCommand(CodeStart)
	FetchResults    Command = emptyCommand(CodeFetchResult)
	Reset           Command = emptyCommand(CodeReset)
	GetVersion      Command = emptyCommand(CodeGetVersion)
	GetAlmanacDates Command = emptyCommand(CodeGetAlmanacDates)
)

// GnssScanConfig is the per-mode (autonomous or assisted) part of Configure.
type GnssScanConfig struct {
	Enable         bool
	Option         GnssOption
	CaptureMode    GnssCaptureMode
	NbSatellites   uint8
	Antenna        GnssAntenna
	Constellations ConstellationMask
}

func (g GnssScanConfig) appendTo(b []byte) []byte {
	enable := byte(0)
	if g.Enable {
		enable = 1
	}
	return append(b, enable, byte(g.Option), byte(g.CaptureMode), g.NbSatellites, byte(g.Antenna), byte(g.Constellations))
}

type Configure struct {
	WifiEnableMode WifiEnableMode
	WifiChannels   []WifiChannel
	WifiTypes      []WifiType
	WifiRetrials   uint8
	WifiMaxResults uint8
	WifiTimeoutMs  uint16
	WifiMode       WifiMode
	Autonomous     GnssScanConfig
	Assisted       GnssScanConfig
	// WifiAbortOnTimeout makes the chip leave a channel at its first
	// preamble timeout.
	WifiAbortOnTimeout bool
}

func (Configure) Code() Code { return CodeConfigure }

// Payload layout: enable mode, channel mask u16 LE (bit ch-1), type mask,
// retrials, max results, timeout u16 LE, wifi mode, autonomous (6 bytes),
// assisted (6 bytes), wifi abort on timeout.
func (c Configure) Payload() []byte {
	var chanMask uint16
	for _, ch := range c.WifiChannels {
		if ch >= MinWifiChannel && ch <= MaxWifiChannel {
			chanMask |= 1 << (ch - 1)
		}
	}
	var typeMask uint8
	for _, t := range c.WifiTypes {
		typeMask |= uint8(t)
	}

	b := make([]byte, 0, 22)
	b = append(b, byte(c.WifiEnableMode))
	b = binary.LittleEndian.AppendUint16(b, chanMask)
	b = append(b, typeMask, c.WifiRetrials, c.WifiMaxResults)
	b = binary.LittleEndian.AppendUint16(b, c.WifiTimeoutMs)
	b = append(b, byte(c.WifiMode))
	b = c.Autonomous.appendTo(b)
	b = c.Assisted.appendTo(b)
	abort := byte(0)
	if c.WifiAbortOnTimeout {
		abort = 1
	}
	return append(b, abort)
}

func (c Configure) String() string {
	return fmt.Sprintf("CONFIGURE: % X", c.Payload())
}

// LocationScale is the fixed-point multiplier of SetDateLoc coordinates.
const LocationScale = 1000

type SetDateLoc struct {
	GPSSeconds uint32
	Latitude   float64
	Longitude  float64
	Altitude   float64
}

func (SetDateLoc) Code() Code { return CodeSetDateLoc }

// Payload is GPS seconds u32 LE, then longitude, latitude and altitude as
// int32 LE of value*1000.
func (s SetDateLoc) Payload() []byte {
	b := make([]byte, 0, 16)
	b = binary.LittleEndian.AppendUint32(b, s.GPSSeconds)
	for _, v := range []float64{s.Longitude, s.Latitude, s.Altitude} {
		b = binary.LittleEndian.AppendUint32(b, uint32(int32(v*LocationScale)))
	}
	return b
}

func (s SetDateLoc) String() string {
	return fmt.Sprintf("SET_DATE_LOC: gps_s=%d lat=%.6f lon=%.6f alt=%.1f", s.GPSSeconds, s.Latitude, s.Longitude, s.Altitude)
}

var gpsEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// GPSLeapSeconds is the GPS-UTC offset applied to the host clock.
const GPSLeapSeconds = 18 * time.Second

// GPSSeconds converts a UTC instant to whole seconds since the GPS epoch.
func GPSSeconds(t time.Time) uint32 {
	d := t.UTC().Add(GPSLeapSeconds).Sub(gpsEpoch)
	if d < 0 {
		return 0
	}
	return uint32(d / time.Second)
}

type UpdateAlmanac struct {
	Burst []byte
}

func (UpdateAlmanac) Code() Code        { return CodeUpdateAlmanac }
func (u UpdateAlmanac) Payload() []byte { return u.Burst }

type CheckAlmanacUpdate struct {
	CRC uint32
}

func (CheckAlmanacUpdate) Code() Code { return CodeCheckAlmanacUpdate }
func (c CheckAlmanacUpdate) Payload() []byte {
	return binary.LittleEndian.AppendUint32(nil, c.CRC)
}

func (c CheckAlmanacUpdate) String() string {
	return fmt.Sprintf("CHECK_ALMANAC_UPDATE: crc=0x%08X", c.CRC)
}
