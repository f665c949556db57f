package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Scan configuration enumerations. Each has a wire value and the name used
// in job files.

type WifiEnableMode uint8

const (
	WifiDisabled    WifiEnableMode = 0x00
	WifiScan        WifiEnableMode = 0x01
	WifiCountryCode WifiEnableMode = 0x02
)

type WifiMode uint8

const (
	WifiBeaconOnly      WifiMode = 0x01
	WifiBeaconAndPacket WifiMode = 0x02
)

type WifiType uint8

const (
	WifiTypeB WifiType = 0x01
	WifiTypeG WifiType = 0x02
)

type GnssOption uint8

const (
	GnssOptionDefault    GnssOption = 0x00
	GnssOptionBestEffort GnssOption = 0x01
)

type GnssCaptureMode uint8

const (
	GnssCaptureSingle GnssCaptureMode = 0x00
	GnssCaptureDual   GnssCaptureMode = 0x01
)

type GnssAntenna uint8

const (
	GnssAntennaNoSelection GnssAntenna = 0x00
	GnssAntenna1           GnssAntenna = 0x01
	GnssAntenna2           GnssAntenna = 0x02
)

// ConstellationMask is a bit set of GnssConstellation values.
type ConstellationMask uint8

const (
	ConstellationGPS    ConstellationMask = 0x01
	ConstellationBeiDou ConstellationMask = 0x02
)

var (
	wifiEnableModeNames = map[string]WifiEnableMode{"disabled": WifiDisabled, "wifi_scan": WifiScan, "country_code": WifiCountryCode}
	wifiModeNames       = map[string]WifiMode{"beacon_only": WifiBeaconOnly, "beacon_and_packet": WifiBeaconAndPacket}
	wifiTypeNames       = map[string]WifiType{"TYPE_B": WifiTypeB, "TYPE_G": WifiTypeG}
	gnssOptionNames     = map[string]GnssOption{"default": GnssOptionDefault, "best_effort": GnssOptionBestEffort}
	gnssCaptureNames    = map[string]GnssCaptureMode{"single": GnssCaptureSingle, "dual": GnssCaptureDual}
	gnssAntennaNames    = map[string]GnssAntenna{"no_selection": GnssAntennaNoSelection, "select_antenna_1": GnssAntenna1, "select_antenna_2": GnssAntenna2}
	constellationNames  = map[string]ConstellationMask{"gps": ConstellationGPS, "beidou": ConstellationBeiDou}
)

func parseName[T comparable](kind string, names map[string]T, s string) (T, error) {
	if v, ok := names[s]; ok {
		return v, nil
	}
	known := make([]string, 0, len(names))
	for k := range names {
		known = append(known, k)
	}
	sort.Strings(known)
	var zero T
	return zero, fmt.Errorf("protocol: unknown %s %q (want one of %s)", kind, s, strings.Join(known, ", "))
}

func nameFor[T comparable](names map[string]T, v T) string {
	for k, x := range names {
		if x == v {
			return k
		}
	}
	return fmt.Sprintf("%v", any(v))
}

func ParseWifiEnableMode(s string) (WifiEnableMode, error) {
	return parseName("wifi api", wifiEnableModeNames, s)
}
func ParseWifiMode(s string) (WifiMode, error) { return parseName("wifi mode", wifiModeNames, s) }
func ParseWifiType(s string) (WifiType, error) { return parseName("wifi type", wifiTypeNames, s) }
func ParseGnssOption(s string) (GnssOption, error) {
	return parseName("gnss option", gnssOptionNames, s)
}
func ParseGnssCaptureMode(s string) (GnssCaptureMode, error) {
	return parseName("gnss capture mode", gnssCaptureNames, s)
}
func ParseGnssAntenna(s string) (GnssAntenna, error) {
	return parseName("gnss antenna selection", gnssAntennaNames, s)
}

// ParseConstellations ORs the named constellations into a mask.
func ParseConstellations(names []string) (ConstellationMask, error) {
	var m ConstellationMask
	for _, n := range names {
		c, err := parseName("gnss constellation", constellationNames, n)
		if err != nil {
			return 0, err
		}
		m |= c
	}
	return m, nil
}

func (m WifiEnableMode) String() string { return nameFor(wifiEnableModeNames, m) }
func (m WifiMode) String() string       { return nameFor(wifiModeNames, m) }
func (t WifiType) String() string       { return nameFor(wifiTypeNames, t) }

// WifiChannel is a 2.4 GHz channel number, 1 to 14.
type WifiChannel uint8

const (
	MinWifiChannel WifiChannel = 1
	MaxWifiChannel WifiChannel = 14
)

// ParseWifiChannel accepts names of the form CHANNEL_<n>.
func ParseWifiChannel(s string) (WifiChannel, error) {
	num, ok := strings.CutPrefix(s, "CHANNEL_")
	if ok {
		if n, err := strconv.Atoi(num); err == nil && n >= int(MinWifiChannel) && n <= int(MaxWifiChannel) {
			return WifiChannel(n), nil
		}
	}
	return 0, fmt.Errorf("protocol: unknown wifi channel %q", s)
}

func (c WifiChannel) String() string { return fmt.Sprintf("CHANNEL_%d", uint8(c)) }

// FrequencyMHz is the channel's center frequency.
func (c WifiChannel) FrequencyMHz() int {
	if c == 14 {
		return 2484
	}
	return 2407 + 5*int(c)
}
