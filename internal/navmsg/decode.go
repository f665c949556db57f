package navmsg

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Field widths in bits.
const (
	destinationBits      = 8
	hostStatusBits       = 8
	frameTypeBits        = 8
	gpsTimeIndicatorBits = 16
	assistanceCoordBits  = 12
	modulationBits       = 4
	satelliteCountBits   = 4
	satelliteIDBits      = 7
	cnRangeBits          = 2
	timestampBits        = 19
	dopplerBits          = 15
	bitChangeInfoBits    = 8

	// A constellation header is modulation + satellite count; fewer
	// remaining bits than that are padding.
	constellationHeaderBits = modulationBits + satelliteCountBits
)

// Message is one of *HostMessage, *SolverMessage or *DmcMessage.
type Message interface {
	Destination() Destination
}

type HostMessage struct {
	Status HostStatus
}

func (*HostMessage) Destination() Destination { return DestinationHost }

// Coordinate is in decimal degrees; Altitude is in meters.
type Coordinate struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

type SolverMessage struct {
	FrameType        FrameType
	GPSTimeIndicator uint16
	// AssistancePosition is nil unless the assistance flag was set.
	AssistancePosition *Coordinate
	Constellations     []Constellation
}

func (*SolverMessage) Destination() Destination { return DestinationGnssSolver }

// DmcMessage is recognized but its payload is not interpreted.
type DmcMessage struct{}

func (*DmcMessage) Destination() Destination { return DestinationGnssDmc }

type Constellation struct {
	Modulation Modulation
	Satellites []Satellite
}

// SatelliteFlags are the presence bits that follow the C/N range.
type SatelliteFlags struct {
	BitChangeInfo2   bool
	BitChangeInfo1   bool
	DopplerError     bool
	DopplerExists    bool
	Timestamp2Exists bool
	Timestamp1Exists bool
}

type Satellite struct {
	ID             uint8
	CnRange        CnRange
	Flags          SatelliteFlags
	Timestamp1     *uint32
	Timestamp2     *uint32
	Doppler        *int16
	BitChangeInfo1 *uint8
	BitChangeInfo2 *uint8
}

// Name is the display name of the satellite, see SatelliteName.
func (s Satellite) Name() string { return SatelliteName(s.ID) }

// DecodeHex decodes a hex-encoded NAV message. Malformed hex is reported as
// a plain error before any decoding happens.
func DecodeHex(s string) (Message, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("navmsg: malformed hex nav message: %w", err)
	}
	return Decode(raw)
}

// Decode builds the typed message tree for raw. Any failure aborts the whole
// decode.
func Decode(raw []byte) (Message, error) {
	c := NewCursor(raw)
	code, err := c.Uint(destinationBits)
	if err != nil {
		return nil, err
	}
	if _, err := Resolve(FamilyDestination, uint8(code)); err != nil {
		return nil, err
	}

	// Concrete results are checked before conversion so a failed decode
	// never yields a non-nil Message holding a nil pointer.
	switch Destination(code) {
	case DestinationHost:
		m, err := decodeHost(c)
		if err != nil {
			return nil, err
		}
		return m, nil
	case DestinationGnssSolver:
		m, err := decodeSolver(c)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return &DmcMessage{}, nil
	}
}

func decodeHost(c *Cursor) (*HostMessage, error) {
	code, err := c.Uint(hostStatusBits)
	if err != nil {
		return nil, err
	}
	if _, err := Resolve(FamilyHostStatus, uint8(code)); err != nil {
		return nil, err
	}
	return &HostMessage{Status: HostStatus(code)}, nil
}

func decodeSolver(c *Cursor) (*SolverMessage, error) {
	ft, err := c.Uint(frameTypeBits)
	if err != nil {
		return nil, err
	}
	if _, err := Resolve(FamilyFrameType, uint8(ft)); err != nil {
		return nil, err
	}
	// Both frame types share the same layout from here on.
	gti, err := c.Uint(gpsTimeIndicatorBits)
	if err != nil {
		return nil, err
	}
	msg := &SolverMessage{FrameType: FrameType(ft), GPSTimeIndicator: uint16(gti)}

	assisted, err := c.Flag()
	if err != nil {
		return nil, err
	}
	if assisted {
		lat, err := c.Uint(assistanceCoordBits)
		if err != nil {
			return nil, err
		}
		lon, err := c.Uint(assistanceCoordBits)
		if err != nil {
			return nil, err
		}
		msg.AssistancePosition = &Coordinate{
			Latitude:  float64(signExtend(lat, assistanceCoordBits)) * 90 / 2048,
			Longitude: float64(signExtend(lon, assistanceCoordBits)) * 180 / 2048,
		}
	}

	for {
		cons, ok, err := decodeConstellation(c)
		if err != nil {
			return nil, err
		}
		if ok {
			msg.Constellations = append(msg.Constellations, cons)
		}
		if c.RemainingBits() < constellationHeaderBits {
			break
		}
	}
	return msg, nil
}

// decodeConstellation reads one constellation block. A block announcing zero
// satellites carries nothing to attribute its modulation code to, so it is
// consumed and reported with ok=false instead of being resolved.
func decodeConstellation(c *Cursor) (Constellation, bool, error) {
	mod, err := c.Uint(modulationBits)
	if err != nil {
		return Constellation{}, false, err
	}
	n, err := c.Uint(satelliteCountBits)
	if err != nil {
		return Constellation{}, false, err
	}
	if n == 0 {
		return Constellation{}, false, nil
	}
	if _, err := Resolve(FamilyModulation, uint8(mod)); err != nil {
		return Constellation{}, false, err
	}

	cons := Constellation{Modulation: Modulation(mod), Satellites: make([]Satellite, 0, n)}
	for i := uint64(0); i < n; i++ {
		sat, err := decodeSatellite(c)
		if err != nil {
			return Constellation{}, false, err
		}
		cons.Satellites = append(cons.Satellites, sat)
	}
	return cons, true, nil
}

func decodeSatellite(c *Cursor) (Satellite, error) {
	var sat Satellite
	id, err := c.Uint(satelliteIDBits)
	if err != nil {
		return sat, err
	}
	sat.ID = uint8(id)

	cn, err := c.Uint(cnRangeBits)
	if err != nil {
		return sat, err
	}
	if _, err := Resolve(FamilyCnRange, uint8(cn)); err != nil {
		return sat, err
	}
	sat.CnRange = CnRange(cn)

	// Wire order, do not reorder.
	for _, dst := range []*bool{
		&sat.Flags.BitChangeInfo2,
		&sat.Flags.BitChangeInfo1,
		&sat.Flags.DopplerError,
		&sat.Flags.DopplerExists,
		&sat.Flags.Timestamp2Exists,
		&sat.Flags.Timestamp1Exists,
	} {
		if *dst, err = c.Flag(); err != nil {
			return sat, err
		}
	}

	if sat.Flags.Timestamp1Exists {
		v, err := c.Uint(timestampBits)
		if err != nil {
			return sat, err
		}
		ts := uint32(v)
		sat.Timestamp1 = &ts
	}
	if sat.Flags.Timestamp2Exists {
		v, err := c.Uint(timestampBits)
		if err != nil {
			return sat, err
		}
		ts := uint32(v)
		sat.Timestamp2 = &ts
	}
	if sat.Flags.DopplerExists {
		v, err := c.Uint(dopplerBits)
		if err != nil {
			return sat, err
		}
		d := DopplerFromRaw(uint16(v))
		sat.Doppler = &d
	}
	if sat.Flags.BitChangeInfo1 {
		v, err := c.Uint(bitChangeInfoBits)
		if err != nil {
			return sat, err
		}
		b := uint8(v)
		sat.BitChangeInfo1 = &b
	}
	if sat.Flags.BitChangeInfo2 {
		v, err := c.Uint(bitChangeInfoBits)
		if err != nil {
			return sat, err
		}
		b := uint8(v)
		sat.BitChangeInfo2 = &b
	}
	return sat, nil
}

// DopplerFromRaw decodes the 15-bit doppler field. Bit 14 is the sign; when
// set, bits 14 and 15 are forced high and the result read as int16.
func DopplerFromRaw(raw uint16) int16 {
	raw &= 0x7FFF
	if raw&0x4000 != 0 {
		return int16(raw | 0xC000)
	}
	return int16(raw)
}

func signExtend(v uint64, bits int) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

// SatelliteCN pairs a satellite display name with its C/N bucket.
type SatelliteCN struct {
	Name string
	CN   CnRange
}

// SatelliteCNs lists every satellite of m in wire order.
func (m *SolverMessage) SatelliteCNs() []SatelliteCN {
	var out []SatelliteCN
	for _, cons := range m.Constellations {
		for _, sat := range cons.Satellites {
			out = append(out, SatelliteCN{Name: sat.Name(), CN: sat.CnRange})
		}
	}
	return out
}
