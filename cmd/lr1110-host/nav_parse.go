package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"lr1110-host/internal/navmsg"
	"lr1110-host/internal/reference"
	"lr1110-host/internal/resultlog"
)

// printNavMessage interprets a single hex NAV message. ref, when set, is
// "lat,lon" of the true position.
func printNavMessage(w io.Writer, navHex, ref string) error {
	msg, err := navmsg.DecodeHex(navHex)
	if err != nil {
		return err
	}
	solver, ok := msg.(*navmsg.SolverMessage)
	if !ok {
		return fmt.Errorf("not a GNSS solver message (destination %s)", msg.Destination())
	}

	fmt.Fprintln(w, "Satellite Name, C/N indicator")
	for _, s := range solver.SatelliteCNs() {
		fmt.Fprintf(w, "%s, %s\n", s.Name, s.CN)
	}

	p := solver.AssistancePosition
	if p == nil {
		return nil
	}
	fmt.Fprintf(w, "Assistance position: %.6f, %.6f\n", p.Latitude, p.Longitude)
	if strings.TrimSpace(ref) == "" {
		return nil
	}
	lat, lon, err := parseLatLon(ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Distance to reference: %.1f m\n", reference.DistanceMeters(p.Latitude, p.Longitude, lat, lon))
	return nil
}

func parseLatLon(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("reference %q: want lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "reference latitude %q", parts[0])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "reference longitude %q", parts[1])
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("reference %q out of range", s)
	}
	return lat, lon, nil
}

// navOutput receives interpreted lines dated at the scan instant.
type navOutput interface {
	Metadata(text string) error
	Log(at time.Time, message string) error
}

type printOutput struct{ w io.Writer }

func (p printOutput) Metadata(text string) error {
	_, err := fmt.Fprintln(p.w, "# "+text)
	return err
}

func (p printOutput) Log(at time.Time, message string) error {
	_, err := fmt.Fprintf(p.w, "[%s] %s\n", at.UTC().Format(resultlog.DateLayout), message)
	return err
}

// parseResultFile interprets the NAV message of every GNSS result in a
// result file. With out set, lines go to a new result file.
func parseResultFile(w io.Writer, path, out string) error {
	f, err := resultlog.ReadFile(path)
	if err != nil {
		return err
	}
	if out == "" {
		return interpretNav(f, printOutput{w: w})
	}
	rw, err := resultlog.Create(out, clock.New())
	if err != nil {
		return err
	}
	if err := interpretNav(f, rw); err != nil {
		_ = rw.Close()
		return err
	}
	return rw.Close()
}

func interpretNav(f *resultlog.File, out navOutput) error {
	if f.Version != "" {
		if err := out.Metadata(resultlog.VersionPrefix + f.Version); err != nil {
			return err
		}
	}
	for _, g := range f.Groups() {
		var gnss *resultlog.Entry
		for i := range g.Entries {
			if g.Entries[i].Kind == resultlog.KindGnss {
				gnss = &g.Entries[i]
				break
			}
		}
		if gnss == nil {
			continue
		}

		at := gnss.CapturedAt()
		tag := fmt.Sprintf("[%d - %d]", gnss.Counter, gnss.JobID)
		header := fmt.Sprintf("%s %s, 0", tag, hex.EncodeToString(gnss.Gnss.Nav))

		msg, err := navmsg.Decode(gnss.Gnss.Nav)
		var outOfBound *navmsg.BitRangeError
		switch {
		case errors.As(err, &outOfBound):
			if err := out.Log(at, header); err != nil {
				return err
			}
			if err := out.Log(at, tag+" Failure: bit extraction out of bound"); err != nil {
				return err
			}
			continue
		case err != nil:
			continue
		}
		solver, ok := msg.(*navmsg.SolverMessage)
		if !ok {
			continue
		}

		if err := out.Log(at, header); err != nil {
			return err
		}
		for _, s := range solver.SatelliteCNs() {
			if err := out.Log(at, fmt.Sprintf("%s SV_id: %s, C/N: %s", tag, s.Name, s.CN)); err != nil {
				return err
			}
		}
	}
	return nil
}
