package job

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"lr1110-host/internal/protocol"
)

//go:embed schema.json
var schemaJSON string

var jobSchema = jsonschema.MustCompileString("jobs.schema.json", schemaJSON)

// File is a parsed job file. Jobs holds every iteration of every job in
// execution order.
type File struct {
	Jobs          []Job
	InfiniteLoops bool
	ScanInterval  time.Duration
}

type fileDoc struct {
	InfiniteLoops bool     `json:"infinite_loops"`
	ScanInterval  int      `json:"scan_interval"`
	Jobs          []jobDoc `json:"jobs"`
}

type jobDoc struct {
	Name                string `json:"name"`
	NIterations         *int   `json:"n_iterations"`
	ResetBeforeJobStart bool   `json:"reset_before_job_start"`
	NScanIteration      int    `json:"n_scan_iteration"`

	WifiAPI            *string  `json:"wifi_api"`
	WifiChannels       []string `json:"wifi_channels"`
	WifiTypes          []string `json:"wifi_types"`
	WifiNbrRetrial     uint8    `json:"wifi_nbr_retrial"`
	WifiMaxResults     uint8    `json:"wifi_max_result_per_scan"`
	WifiTimeout        uint16   `json:"wifi_timeout"`
	WifiMode           *string  `json:"wifi_mode"`
	WifiAbortOnTimeout bool     `json:"wifi_abort_on_timeout"`

	GnssAutonomousOption         *string  `json:"gnss_autonomous_option"`
	GnssAutonomousCaptureMode    *string  `json:"gnss_autonomous_capture_mode"`
	GnssAutonomousNbSatellite    uint8    `json:"gnss_autonomous_nb_satellite"`
	GnssAutonomousAntenna        *string  `json:"gnss_autonomous_antenna_selection"`
	GnssAutonomousConstellations []string `json:"gnss_autonomous_constellations"`

	GnssAssistedOption         *string  `json:"gnss_assisted_option"`
	GnssAssistedCaptureMode    *string  `json:"gnss_assisted_capture_mode"`
	GnssAssistedNbSatellite    uint8    `json:"gnss_assisted_nb_satellite"`
	GnssAssistedAntenna        *string  `json:"gnss_assisted_antenna_selection"`
	GnssAssistedConstellations []string `json:"gnss_assisted_constellations"`

	AssistedCoordinate *Coordinate `json:"assisted_coordinate"`
}

// ReadFile reads, validates and expands a JSON or YAML job file.
func ReadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read job file")
	}
	f, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "job file %s", path)
	}
	return f, nil
}

// Parse validates data against the job schema and expands each job
// n_iterations times. JSON is tried first, then YAML.
func Parse(data []byte) (*File, error) {
	jsonData, err := toJSON(data)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return nil, errors.Wrap(err, "decode job file")
	}
	if err := jobSchema.Validate(instance); err != nil {
		return nil, errors.Wrap(err, "job file does not match schema")
	}

	var doc fileDoc
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, errors.Wrap(err, "decode job file")
	}

	out := &File{
		InfiniteLoops: doc.InfiniteLoops,
		ScanInterval:  time.Duration(doc.ScanInterval) * time.Second,
	}
	for id, jd := range doc.Jobs {
		j, err := jd.toJob(id)
		if err != nil {
			return nil, errors.Wrapf(err, "job %d (%s)", id, jd.Name)
		}
		out.Jobs = append(out.Jobs, lo.Times(j.NIterations, func(int) Job { return j })...)
	}
	return out, nil
}

func toJSON(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
		return trimmed, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "job file is neither JSON nor YAML")
	}
	if v == nil {
		return nil, fmt.Errorf("job file is empty")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "convert YAML job file")
	}
	return b, nil
}

func (d jobDoc) toJob(id int) (Job, error) {
	j := New(d.Name)
	j.ID = id
	if d.NIterations != nil {
		j.NIterations = *d.NIterations
	}
	j.ResetBeforeJobStart = d.ResetBeforeJobStart
	j.NScanIteration = d.NScanIteration

	if d.WifiAPI != nil {
		mode, err := protocol.ParseWifiEnableMode(*d.WifiAPI)
		if err != nil {
			return j, err
		}
		j.Wifi.EnableMode = mode
	}
	for _, name := range d.WifiChannels {
		ch, err := protocol.ParseWifiChannel(name)
		if err != nil {
			return j, err
		}
		j.Wifi.Channels = append(j.Wifi.Channels, ch)
	}
	if d.WifiTypes != nil {
		j.Wifi.Types = nil
		for _, name := range d.WifiTypes {
			t, err := protocol.ParseWifiType(name)
			if err != nil {
				return j, err
			}
			j.Wifi.Types = append(j.Wifi.Types, t)
		}
	}
	j.Wifi.NbrRetrials = d.WifiNbrRetrial
	j.Wifi.MaxResults = d.WifiMaxResults
	j.Wifi.TimeoutMs = d.WifiTimeout
	j.Wifi.AbortOnTimeout = d.WifiAbortOnTimeout
	if d.WifiMode != nil {
		m, err := protocol.ParseWifiMode(*d.WifiMode)
		if err != nil {
			return j, err
		}
		j.Wifi.Mode = m
	}

	// Autonomous scans are enabled by the presence of their option, assisted
	// scans by the presence of an assistance coordinate.
	var err error
	j.Autonomous, err = gnssConfig(d.GnssAutonomousOption != nil, d.GnssAutonomousOption, d.GnssAutonomousCaptureMode,
		d.GnssAutonomousNbSatellite, d.GnssAutonomousAntenna, d.GnssAutonomousConstellations)
	if err != nil {
		return j, err
	}
	j.Assisted, err = gnssConfig(d.AssistedCoordinate != nil, d.GnssAssistedOption, d.GnssAssistedCaptureMode,
		d.GnssAssistedNbSatellite, d.GnssAssistedAntenna, d.GnssAssistedConstellations)
	if err != nil {
		return j, err
	}
	if d.AssistedCoordinate != nil {
		j.AssistedCoordinate = *d.AssistedCoordinate
	}
	return j, nil
}

func gnssConfig(enable bool, option, capture *string, nbSat uint8, antenna *string, constellations []string) (protocol.GnssScanConfig, error) {
	cfg := protocol.GnssScanConfig{Enable: enable, NbSatellites: nbSat}
	var err error
	if option != nil {
		if cfg.Option, err = protocol.ParseGnssOption(*option); err != nil {
			return cfg, err
		}
	}
	if capture != nil {
		if cfg.CaptureMode, err = protocol.ParseGnssCaptureMode(*capture); err != nil {
			return cfg, err
		}
	}
	if antenna != nil {
		if cfg.Antenna, err = protocol.ParseGnssAntenna(*antenna); err != nil {
			return cfg, err
		}
	}
	if cfg.Constellations, err = protocol.ParseConstellations(constellations); err != nil {
		return cfg, err
	}
	return cfg, nil
}
