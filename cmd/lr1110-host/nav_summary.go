package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"lr1110-host/internal/protocol"
	"lr1110-host/internal/resultlog"
)

type navSummary struct {
	Version     string
	Jobs        int
	Wifi        int
	Gnss        int
	NoResult    int
	Exception   int
	Malformed   int
	FirstEntry  time.Time
	LastEntry   time.Time
	UniqueMACs  int
	SatelliteNs map[string]int
}

func summarizeResults(f *resultlog.File) navSummary {
	s := navSummary{Version: f.Version, Malformed: len(f.Malformed), SatelliteNs: map[string]int{}}
	macs := map[string]struct{}{}
	for _, e := range f.Entries {
		if s.FirstEntry.IsZero() || e.Date.Before(s.FirstEntry) {
			s.FirstEntry = e.Date
		}
		if e.Date.After(s.LastEntry) {
			s.LastEntry = e.Date
		}
		switch e.Kind {
		case resultlog.KindWifi:
			s.Wifi++
			macs[e.Wifi.MAC] = struct{}{}
		case resultlog.KindGnss:
			s.Gnss++
			for _, sat := range e.Gnss.Satellites {
				s.SatelliteNs[satelliteKey(sat)]++
			}
		case resultlog.KindNoResult:
			s.NoResult++
		case resultlog.KindException:
			s.Exception++
		default:
			s.Malformed++
		}
	}
	s.Jobs = len(f.Groups())
	s.UniqueMACs = len(macs)
	return s
}

// satelliteKey is the "id+CONSTELLATION" prefix of a satellite detail.
func satelliteKey(d protocol.SatelliteDetail) string {
	name := "UNKNOWN"
	switch d.Constellation {
	case protocol.ConstellationGPS:
		name = "GPS"
	case protocol.ConstellationBeiDou:
		name = "BEIDOU"
	}
	return fmt.Sprintf("%d+%s", d.ID, name)
}

func printNavSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	f, err := resultlog.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeResults(f)

	fmt.Fprintf(w, "path: %s\n", path)
	if s.Version != "" {
		fmt.Fprintf(w, "version: %s\n", s.Version)
	}
	fmt.Fprintf(w, "jobs: %d\n", s.Jobs)
	fmt.Fprintf(w, "wifi_results: %d\n", s.Wifi)
	fmt.Fprintf(w, "unique_macs: %d\n", s.UniqueMACs)
	fmt.Fprintf(w, "gnss_results: %d\n", s.Gnss)
	fmt.Fprintf(w, "no_results: %d\n", s.NoResult)
	fmt.Fprintf(w, "exceptions: %d\n", s.Exception)
	fmt.Fprintf(w, "malformed_lines: %d\n", s.Malformed)
	if !s.FirstEntry.IsZero() {
		fmt.Fprintf(w, "duration: %s\n", s.LastEntry.Sub(s.FirstEntry))
	}

	names := make([]string, 0, len(s.SatelliteNs))
	for k := range s.SatelliteNs {
		names = append(names, k)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "satellites_seen:\n")
	for _, n := range names {
		fmt.Fprintf(w, "  %s: %d\n", n, s.SatelliteNs[n])
	}
	return nil
}
