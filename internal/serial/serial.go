// Package serial opens the evaluation board's virtual COM port.
//
// Two drivers are available. "bugst" is portable and the default. "termios"
// puts a Linux tty into raw mode directly and needs nothing but the kernel.
// Both return reads of (0, nil) when the read timeout elapses.
package serial

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	DefaultBaud        = 921600
	DefaultReadTimeout = time.Second

	DriverBugst   = "bugst"
	DriverTermios = "termios"
)

// Port is an open serial link.
type Port interface {
	io.ReadWriteCloser
}

type Config struct {
	// Device may be empty to auto-detect.
	Device      string
	Baud        int
	Driver      string
	ReadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if strings.TrimSpace(c.Driver) == "" {
		c.Driver = DriverBugst
	}
	return c
}

// Open resolves the device and opens it. It returns the device path used.
func Open(cfg Config) (Port, string, error) {
	cfg = cfg.withDefaults()
	device := strings.TrimSpace(cfg.Device)
	if device == "" {
		d, err := Discover()
		if err != nil {
			return nil, "", err
		}
		device = d
	}

	var (
		p   Port
		err error
	)
	switch cfg.Driver {
	case DriverBugst:
		p, err = openBugst(device, cfg.Baud, cfg.ReadTimeout)
	case DriverTermios:
		p, err = openTermios(device, cfg.Baud, cfg.ReadTimeout)
	default:
		return nil, "", fmt.Errorf("serial: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, "", errors.Wrapf(err, "open %s (driver=%s baud=%d)", device, cfg.Driver, cfg.Baud)
	}
	return p, device, nil
}

func openBugst(device string, baud int, readTimeout time.Duration) (Port, error) {
	port, err := bugst.Open(device, &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, err
	}
	return port, nil
}

// The ST-LINK virtual COM port of the evaluation board.
var boardPortPattern = regexp.MustCompile(`(?i)(STM.*)|(374B)`)

// NoPortsError means no connected port looks like the evaluation board.
type NoPortsError struct{}

func (NoPortsError) Error() string {
	return fmt.Sprintf("serial: no connected port matches %q", boardPortPattern)
}

// TooManyPortsError means more than one port looks like the board.
type TooManyPortsError struct {
	Ports []string
}

func (e *TooManyPortsError) Error() string {
	return fmt.Sprintf("serial: %d ports match %q: %s", len(e.Ports), boardPortPattern, strings.Join(e.Ports, ", "))
}

// Discover finds the single connected port that looks like the board.
func Discover() (string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", errors.Wrap(err, "list serial ports")
	}
	return pickBoardPort(details)
}

func pickBoardPort(details []*enumerator.PortDetails) (string, error) {
	var matches []string
	for _, d := range details {
		if d == nil || !d.IsUSB {
			continue
		}
		if boardPortPattern.MatchString(d.Product) || boardPortPattern.MatchString(d.PID) {
			matches = append(matches, d.Name)
		}
	}
	switch len(matches) {
	case 0:
		return "", NoPortsError{}
	case 1:
		return matches[0], nil
	default:
		return "", &TooManyPortsError{Ports: matches}
	}
}
