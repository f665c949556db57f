package protocol

import "fmt"

// Code is a frame code. On the wire it is two bytes, low byte first.
type Code uint16

const (
	CodeStatus             Code = 0x0000
	CodeStart              Code = 0x0001
	CodeConfigure          Code = 0x0002
	CodeFetchResult        Code = 0x0003
	CodeReset              Code = 0x0004
	CodeSetDateLoc         Code = 0x0005
	CodeGetVersion         Code = 0x0006
	CodeGetAlmanacDates    Code = 0x0007
	CodeUpdateAlmanac      Code = 0x0008
	CodeCheckAlmanacUpdate Code = 0x0009

	// Unsolicited, response-only codes.
	CodeEvent                Code = 0x0080
	CodeWifiResult           Code = 0x0081
	CodeGnssAutonomousResult Code = 0x0082
	CodeGnssAssistedResult   Code = 0x0083
	CodeLog                  Code = 0x0084

	// CodeHandshake is "!T", the start of the chip's "!TEST_HOST" boot
	// banner. Its payload is a fixed 9 bytes with no length prefix.
	CodeHandshake Code = Code('!') | Code('T')<<8
)

const HandshakePayloadLen = 9

// HandshakeReply switches the chip into field test mode.
var HandshakeReply = []byte("fieldglog\x00")

var codeNames = map[Code]string{
	CodeStatus:               "STATUS",
	CodeStart:                "START",
	CodeConfigure:            "CONFIGURE",
	CodeFetchResult:          "FETCH_RESULT",
	CodeReset:                "RESET",
	CodeSetDateLoc:           "SET_DATE_LOC",
	CodeGetVersion:           "GET_VERSION",
	CodeGetAlmanacDates:      "GET_ALMANAC_DATES",
	CodeUpdateAlmanac:        "UPDATE_ALMANAC",
	CodeCheckAlmanacUpdate:   "CHECK_ALMANAC_UPDATE",
	CodeEvent:                "EVENT",
	CodeWifiResult:           "WIFI_RESULT",
	CodeGnssAutonomousResult: "GNSS_AUTONOMOUS_RESULT",
	CodeGnssAssistedResult:   "GNSS_ASSISTED_RESULT",
	CodeLog:                  "LOG",
	CodeHandshake:            "HANDSHAKE",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", uint16(c))
}

// Bytes returns the two wire bytes of c.
func (c Code) Bytes() [2]byte {
	return [2]byte{byte(c), byte(c >> 8)}
}

func CodeFromBytes(b [2]byte) Code {
	return Code(b[0]) | Code(b[1])<<8
}

// responseFor maps each command code to the code of its only valid response.
var responseFor = map[Code]Code{
	CodeStatus:             CodeStatus,
	CodeStart:              CodeStart,
	CodeConfigure:          CodeConfigure,
	CodeFetchResult:        CodeFetchResult,
	CodeReset:              CodeReset,
	CodeSetDateLoc:         CodeSetDateLoc,
	CodeGetVersion:         CodeGetVersion,
	CodeGetAlmanacDates:    CodeGetAlmanacDates,
	CodeUpdateAlmanac:      CodeUpdateAlmanac,
	CodeCheckAlmanacUpdate: CodeCheckAlmanacUpdate,
}

var commandFor = func() map[Code]Code {
	m := make(map[Code]Code, len(responseFor))
	for cmd, resp := range responseFor {
		m[resp] = cmd
	}
	return m
}()

// ResponseCodeFor returns the response code that answers cmd.
func ResponseCodeFor(cmd Code) (Code, bool) {
	c, ok := responseFor[cmd]
	return c, ok
}

// CommandCodeFor returns the command a response code answers. Unsolicited
// codes have none.
func CommandCodeFor(resp Code) (Code, bool) {
	c, ok := commandFor[resp]
	return c, ok
}

// IsCounterpart reports whether resp is the valid answer to cmd.
func IsCounterpart(cmd, resp Code) bool {
	want, ok := responseFor[cmd]
	return ok && want == resp
}
