package navmsg

import "fmt"

// sbasAliases holds historical operator names for some SBAS ids.
var sbasAliases = map[uint8]string{
	34: "AUS-NZ",
	35: "EGNOS",
	38: "EGNOS",
	39: "GAGAN",
	40: "GAGAN",
	41: "MSAS",
	42: "ARTEMIS",
	43: "WAAS",
	44: "GAGAN",
	45: "WAAS",
	48: "EGNOS",
	49: "MSAS",
	50: "WAAS",
}

// SatelliteName maps a 7-bit satellite id to its display name.
func SatelliteName(id uint8) string {
	switch {
	case id <= 31:
		return fmt.Sprintf("GPS #%d", int(id)+1)
	case id >= 64 && id <= 100:
		return fmt.Sprintf("BeiDou #%d", int(id)-63)
	case id >= 32 && id <= 50:
		return fmt.Sprintf("SBAS #%d", int(id)+88)
	default:
		return fmt.Sprintf("RFU (sv_id: %d)", id)
	}
}

// SBASAlias returns the operator name of an SBAS id, if one is known.
func SBASAlias(id uint8) (string, bool) {
	name, ok := sbasAliases[id]
	return name, ok
}
