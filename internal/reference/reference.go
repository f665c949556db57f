// Package reference reads a reference GNSS receiver over NMEA so scan
// results can be compared against a known position.
//
// Only GGA (position, altitude, fix quality) and RMC (position, date and
// validity) are used.
package reference

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/benbjohnson/clock"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"lr1110-host/internal/logging"
	"lr1110-host/internal/serial"
)

const (
	DefaultBaud           = 9600
	DefaultStaleAfter     = 5 * time.Second
	DefaultReconnectDelay = time.Second
	DefaultDialTimeout    = 2 * time.Second

	maxLineLen = 4096
)

type Config struct {
	Enable bool
	Device string
	Baud   int

	// Address is host:port of an NMEA TCP stream. When set it is used
	// instead of Device.
	Address        string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration

	// StaleAfter is how long a fix stays usable without a new sentence.
	StaleAfter time.Duration

	Logger *zap.SugaredLogger
	Clock  clock.Clock
}

// Fix is the last position reported by the receiver.
type Fix struct {
	Latitude   float64
	Longitude  float64
	AltitudeM  float64
	Quality    string
	Satellites int64
	// Time is the receiver's UTC time when RMC carried a date.
	Time time.Time
	// UpdatedAt is the host time of the last sentence that moved the fix.
	UpdatedAt time.Time
}

type Receiver struct {
	cfg Config
	log *zap.SugaredLogger
	clk clock.Clock

	mu     sync.Mutex
	fix    Fix
	valid  bool
	cancel context.CancelFunc
	closer io.Closer
	wg     sync.WaitGroup
}

func New(cfg Config) *Receiver {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Receiver{cfg: cfg, log: logging.OrNop(cfg.Logger), clk: cfg.Clock}
}

// Start opens the receiver's serial port, or its TCP stream, and follows
// it in the background.
func (r *Receiver) Start(ctx context.Context) error {
	if !r.cfg.Enable {
		return nil
	}
	if addr := strings.TrimSpace(r.cfg.Address); addr != "" {
		return r.startNetwork(ctx, addr)
	}
	if strings.TrimSpace(r.cfg.Device) == "" {
		return errors.New("reference receiver: device or address is required")
	}
	port, device, err := serial.Open(serial.Config{Device: r.cfg.Device, Baud: r.cfg.Baud, ReadTimeout: 500 * time.Millisecond})
	if err != nil {
		return errors.Wrap(err, "reference receiver")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		_ = port.Close()
		return nil
	}
	childCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.closer = port

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { _ = port.Close() }()
		r.log.Infof("reference receiver enabled device=%s baud=%d", device, r.cfg.Baud)
		if err := r.Consume(childCtx, port); err != nil && childCtx.Err() == nil {
			r.log.Warnf("reference receiver stopped: %v", err)
		}
	}()
	return nil
}

// Consume reads NMEA lines from src until ctx ends or src fails. Reads of
// (0, nil) are treated as timeouts.
func (r *Receiver) Consume(ctx context.Context, src io.Reader) error {
	buf := make([]byte, 512)
	var line []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		for _, b := range buf[:n] {
			switch {
			case b == '\n':
				r.Apply(string(line))
				line = line[:0]
			case len(line) < maxLineLen:
				line = append(line, b)
			}
		}
		if err != nil {
			if len(line) > 0 {
				r.Apply(string(line))
			}
			return err
		}
	}
}

// Apply feeds one NMEA sentence. Lines that are not valid NMEA are ignored.
func (r *Receiver) Apply(line string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return
	}
	s, err := nmea.Parse(line)
	if err != nil {
		r.log.Debugf("reference receiver: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clk.Now()
	switch m := s.(type) {
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			r.valid = false
			return
		}
		r.fix.Latitude = m.Latitude
		r.fix.Longitude = m.Longitude
		r.fix.AltitudeM = m.Altitude
		r.fix.Quality = m.FixQuality
		r.fix.Satellites = m.NumSatellites
		r.fix.UpdatedAt = now
		r.valid = true
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			r.valid = false
			return
		}
		r.fix.Latitude = m.Latitude
		r.fix.Longitude = m.Longitude
		if m.Date.Valid && m.Time.Valid {
			r.fix.Time = time.Date(2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
				m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
		}
		r.fix.UpdatedAt = now
		r.valid = true
	}
}

// Latest returns the current fix. ok is false without a valid, fresh fix.
func (r *Receiver) Latest() (Fix, bool) {
	if r == nil {
		return Fix{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.valid || r.clk.Since(r.fix.UpdatedAt) > r.cfg.StaleAfter {
		return r.fix, false
	}
	return r.fix, true
}

func (r *Receiver) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	cancel := r.cancel
	closer := r.closer
	r.cancel = nil
	r.closer = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	r.wg.Wait()
}

// DistanceMeters is the great circle distance between two positions.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.NewPoint(lat1, lon1).GreatCircleDistance(geo.NewPoint(lat2, lon2)) * 1000
}
