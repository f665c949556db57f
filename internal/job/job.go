// Package job describes field test jobs, reads job files and runs jobs
// against the chip.
package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"lr1110-host/internal/protocol"
)

// Coordinate is a WGS84 position in decimal degrees and meters.
type Coordinate struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Altitude  float64 `json:"altitude" yaml:"altitude"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.1f", c.Latitude, c.Longitude, c.Altitude)
}

type Wifi struct {
	EnableMode     protocol.WifiEnableMode
	Channels       []protocol.WifiChannel
	Types          []protocol.WifiType
	NbrRetrials    uint8
	MaxResults     uint8
	TimeoutMs      uint16
	Mode           protocol.WifiMode
	AbortOnTimeout bool
}

// Job is one scan configuration. ID is the job's index in its file; every
// iteration of a job shares it.
type Job struct {
	ID                  int
	Name                string
	NIterations         int
	ResetBeforeJobStart bool
	NScanIteration      int

	Wifi       Wifi
	Autonomous protocol.GnssScanConfig
	Assisted   protocol.GnssScanConfig

	AssistedCoordinate Coordinate
}

// New returns a job with every scan disabled and the firmware's defaults.
func New(name string) Job {
	return Job{
		Name:        name,
		NIterations: 1,
		Wifi: Wifi{
			EnableMode: protocol.WifiDisabled,
			Types:      []protocol.WifiType{protocol.WifiTypeB},
			Mode:       protocol.WifiBeaconOnly,
		},
	}
}

func (j Job) HasWifi() bool           { return j.Wifi.EnableMode != protocol.WifiDisabled }
func (j Job) HasGnssAutonomous() bool { return j.Autonomous.Enable }
func (j Job) HasGnssAssisted() bool   { return j.Assisted.Enable }
func (j Job) HasGnss() bool           { return j.HasGnssAutonomous() || j.HasGnssAssisted() }

func (j Job) String() string {
	var parts []string
	if j.HasWifi() {
		chans := lo.Map(j.Wifi.Channels, func(c protocol.WifiChannel, _ int) string { return c.String() })
		types := lo.Map(j.Wifi.Types, func(t protocol.WifiType, _ int) string { return t.String() })
		parts = append(parts, fmt.Sprintf("[WiFi: %v, %v]", chans, types))
	}
	if j.HasGnssAutonomous() {
		parts = append(parts, "[GNSS Autonomous]")
	}
	if j.HasGnssAssisted() {
		parts = append(parts, "[GNSS Assisted]")
	}
	return fmt.Sprintf("Job %s [%s]", j.Name, strings.Join(parts, ", "))
}

// ConfigureCommand is the Configure command for this job.
func (j Job) ConfigureCommand() protocol.Configure {
	return protocol.Configure{
		WifiEnableMode: j.Wifi.EnableMode,
		WifiChannels:   j.Wifi.Channels,
		WifiTypes:      j.Wifi.Types,
		WifiRetrials:   j.Wifi.NbrRetrials,
		WifiMaxResults: j.Wifi.MaxResults,
		WifiTimeoutMs:  j.Wifi.TimeoutMs,
		WifiMode:       j.Wifi.Mode,
		Autonomous:     j.Autonomous,
		Assisted:       j.Assisted,

		WifiAbortOnTimeout: j.Wifi.AbortOnTimeout,
	}
}

// Scans is how many start, wait and fetch cycles one iteration runs. GNSS
// jobs aggregate NScanIteration scans, anything else scans once.
func (j Job) Scans() int {
	if j.HasGnss() && j.NScanIteration > 1 {
		return j.NScanIteration
	}
	return 1
}

// SetDateLocCommand carries the GPS time of now and the assisted coordinate.
func (j Job) SetDateLocCommand(now time.Time) protocol.SetDateLoc {
	return protocol.SetDateLoc{
		GPSSeconds: protocol.GPSSeconds(now),
		Latitude:   j.AssistedCoordinate.Latitude,
		Longitude:  j.AssistedCoordinate.Longitude,
		Altitude:   j.AssistedCoordinate.Altitude,
	}
}

// Per-mode scan durations used to bound the wait for the scan-done event.
const (
	EventBudgetGnssAssisted   = 40 * time.Second
	EventBudgetGnssAutonomous = 140 * time.Second
)

// EventBudget is how long the chip may take before signalling the end of
// this job's scans.
func (j Job) EventBudget() time.Duration {
	var budget time.Duration
	if j.HasGnssAssisted() {
		budget += EventBudgetGnssAssisted
	}
	if j.HasWifi() {
		perChannel := time.Duration(j.Wifi.TimeoutMs) * time.Millisecond
		budget += perChannel * time.Duration(len(j.Wifi.Types)*len(j.Wifi.Channels)*int(j.Wifi.NbrRetrials))
	}
	if j.HasGnssAutonomous() {
		budget += EventBudgetGnssAutonomous
	}
	return budget
}
