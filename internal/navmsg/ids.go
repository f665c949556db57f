package navmsg

import (
	"fmt"
	"sort"
)

// Family names a table of identified elements.
type Family string

const (
	FamilyDestination Family = "destination"
	FamilyFrameType   Family = "gnss solver frame type"
	FamilyHostStatus  Family = "host status"
	FamilyCnRange     Family = "c/n range"
	FamilyModulation  Family = "modulation type"
)

// Element is an immutable (code, name) pair.
type Element struct {
	Family Family
	Code   uint8
	Name   string
}

func (e Element) String() string { return e.Name }

// UnknownIdentifierError reports a code absent from its family's table.
type UnknownIdentifierError struct {
	Family     Family
	Code       uint8
	KnownCodes []uint8
}

func (e *UnknownIdentifierError) Error() string {
	return fmt.Sprintf("navmsg: unknown %s code 0x%02X (known: % X)", e.Family, e.Code, e.KnownCodes)
}

type Destination uint8

const (
	DestinationHost       Destination = 0x00
	DestinationGnssSolver Destination = 0x01
	DestinationGnssDmc    Destination = 0x02
)

type FrameType uint8

const (
	FrameTypeNoAssistance FrameType = 0x00
	FrameTypeNav          FrameType = 0x01
)

type HostStatus uint8

const (
	HostStatusOk                       HostStatus = 0x00
	HostStatusCommandUnexpected        HostStatus = 0x01
	HostStatusCommandNotImplemented    HostStatus = 0x02
	HostStatusCommandParametersInvalid HostStatus = 0x03
	HostStatusMessageSanityCheckError  HostStatus = 0x04
	HostStatusIqCaptureFail            HostStatus = 0x05
	HostStatusNoTime                   HostStatus = 0x06
	HostStatusNoSatelliteDetected      HostStatus = 0x07
	HostStatusAlmanacTooOld            HostStatus = 0x08
	HostStatusAlmanacUpdateCrcError    HostStatus = 0x09
	HostStatusAlmanacUpdateFlashError  HostStatus = 0x0A
	HostStatusAlmanacUpdateTooOldError HostStatus = 0x0B
)

type CnRange uint8

const (
	CnRangeVeryHigh CnRange = 0x00
	CnRangeHigh     CnRange = 0x01
	CnRangeLow      CnRange = 0x02
	CnRangeVeryLow  CnRange = 0x03
)

type Modulation uint8

const (
	ModulationGPS    Modulation = 0x01
	ModulationBeiDou Modulation = 0x02
)

var registry = map[Family]map[uint8]string{
	FamilyDestination: {
		uint8(DestinationHost):       "Host",
		uint8(DestinationGnssSolver): "GNSS solver",
		uint8(DestinationGnssDmc):    "GNSS DMC",
	},
	FamilyFrameType: {
		uint8(FrameTypeNoAssistance): "No assistance position",
		uint8(FrameTypeNav):          "NAV message",
	},
	FamilyHostStatus: {
		uint8(HostStatusOk):                       "Ok",
		uint8(HostStatusCommandUnexpected):        "Command unexpected",
		uint8(HostStatusCommandNotImplemented):    "Command not implemented",
		uint8(HostStatusCommandParametersInvalid): "Command parameters invalid",
		uint8(HostStatusMessageSanityCheckError):  "Message sanity check error",
		uint8(HostStatusIqCaptureFail):            "IQ capture fail",
		uint8(HostStatusNoTime):                   "No time",
		uint8(HostStatusNoSatelliteDetected):      "No satellite detected",
		uint8(HostStatusAlmanacTooOld):            "Almanac in flash too old",
		uint8(HostStatusAlmanacUpdateCrcError):    "Almanac update fail due to CRC error",
		uint8(HostStatusAlmanacUpdateFlashError):  "Almanac update fail due to flash integrity error",
		uint8(HostStatusAlmanacUpdateTooOldError): "Almanac update fail due to almanac date too old",
	},
	FamilyCnRange: {
		uint8(CnRangeVeryHigh): ">= 45",
		uint8(CnRangeHigh):     "[41,45[",
		uint8(CnRangeLow):      "[37,41[",
		uint8(CnRangeVeryLow):  "< 37",
	},
	FamilyModulation: {
		uint8(ModulationGPS):    "GPS",
		uint8(ModulationBeiDou): "BeiDou",
	},
}

// Resolve looks code up in the family's table. There is no fallback: an
// unmapped code is always an *UnknownIdentifierError.
func Resolve(family Family, code uint8) (Element, error) {
	table, ok := registry[family]
	if !ok {
		return Element{}, fmt.Errorf("navmsg: unknown identifier family %q", family)
	}
	name, ok := table[code]
	if !ok {
		return Element{}, &UnknownIdentifierError{Family: family, Code: code, KnownCodes: KnownCodes(family)}
	}
	return Element{Family: family, Code: code, Name: name}, nil
}

// KnownCodes returns the sorted codes of a family.
func KnownCodes(family Family) []uint8 {
	table := registry[family]
	codes := make([]uint8, 0, len(table))
	for c := range table {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

func nameOf(family Family, code uint8) string {
	if name, ok := registry[family][code]; ok {
		return name
	}
	return fmt.Sprintf("unknown %s 0x%02X", family, code)
}

func (d Destination) String() string { return nameOf(FamilyDestination, uint8(d)) }
func (f FrameType) String() string   { return nameOf(FamilyFrameType, uint8(f)) }
func (s HostStatus) String() string  { return nameOf(FamilyHostStatus, uint8(s)) }
func (c CnRange) String() string     { return nameOf(FamilyCnRange, uint8(c)) }
func (m Modulation) String() string  { return nameOf(FamilyModulation, uint8(m)) }
