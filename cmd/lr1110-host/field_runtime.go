package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lr1110-host/internal/almanac"
	"lr1110-host/internal/config"
	"lr1110-host/internal/job"
	"lr1110-host/internal/metrics"
	"lr1110-host/internal/publish"
	"lr1110-host/internal/reference"
	"lr1110-host/internal/reset"
	"lr1110-host/internal/resultlog"
	"lr1110-host/internal/serial"
	"lr1110-host/internal/session"
	"lr1110-host/internal/transport"
)

const logFileName = "logging.log"

// chipLink is an open connection to the evaluation board.
type chipLink struct {
	device string
	reader *transport.Reader
	sess   *session.Session
}

func openChipLink(ctx context.Context, cfg config.Config, log *zap.SugaredLogger, m *metrics.Metrics) (*chipLink, error) {
	port, device, err := serial.Open(serial.Config{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		Driver:      cfg.Serial.Driver,
		ReadTimeout: cfg.Serial.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize serial device")
	}
	log.Infof("serial device=%s baud=%d driver=%s", device, cfg.Serial.Baud, cfg.Serial.Driver)

	r := transport.New(port, transport.Config{
		QueueSize: cfg.Session.QueueSize,
		Logger:    log,
		Metrics:   m,
	})
	if err := r.Start(ctx); err != nil {
		_ = port.Close()
		return nil, err
	}
	sess := session.New(r, session.Config{
		ResponseTimeout: cfg.Session.ResponseTimeout,
		Logger:          log,
		Metrics:         m,
	})
	return &chipLink{device: device, reader: r, sess: sess}, nil
}

func (l *chipLink) Close() error {
	if l == nil {
		return nil
	}
	return l.reader.Close()
}

// readyWithin bounds the wait for the chip handshake. A zero timeout waits
// until ctx ends.
type readyWithin struct {
	reader  *transport.Reader
	timeout time.Duration
}

func (w readyWithin) WaitReady(ctx context.Context) error {
	if w.timeout <= 0 {
		return w.reader.WaitReady(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.reader.WaitReady(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.Errorf("chip did not enter field test mode within %s; have you reset it?", w.timeout)
		}
		return err
	}
	return nil
}

// fieldRuntime holds everything a run owns.
type fieldRuntime struct {
	cfg     config.Config
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	results *resultlog.Writer
	link    *chipLink
	pub     *publish.Publisher
	ref     *reference.Receiver
	reset   *reset.Line
}

// prepareResults creates the run's folder, which must not exist yet, and
// copies the job file into it.
func prepareResults(cfg config.Config, jobPath string, now time.Time) (string, error) {
	dir := cfg.Results.ResultsDir(now)
	if _, err := os.Stat(dir); err == nil {
		return "", errors.Errorf("the directory %s already exists", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create results folder")
	}
	if err := copyFile(jobPath, filepath.Join(dir, filepath.Base(jobPath))); err != nil {
		return "", err
	}
	return dir, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open job file")
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(err, "copy job file")
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.Wrap(err, "copy job file")
	}
	return out.Close()
}

// openOptional starts the collaborators enabled in the configuration.
func (rt *fieldRuntime) openOptional(ctx context.Context) error {
	if rt.cfg.MQTT.Enable {
		p, err := publish.New(publish.Config{
			Broker:   rt.cfg.MQTT.Broker,
			ClientID: rt.cfg.MQTT.ClientID,
			Topic:    rt.cfg.MQTT.Topic,
			QoS:      rt.cfg.MQTT.QoS,
			Logger:   rt.log,
		})
		if err != nil {
			return err
		}
		rt.pub = p
	}
	if rt.cfg.Reference.Enable {
		r := reference.New(reference.Config{
			Enable:         true,
			Device:         rt.cfg.Reference.Device,
			Baud:           rt.cfg.Reference.Baud,
			Address:        rt.cfg.Reference.Address,
			ReconnectDelay: rt.cfg.Reference.ReconnectDelay,
			StaleAfter:     rt.cfg.Reference.StaleAfter,
			Logger:         rt.log,
		})
		if err := r.Start(ctx); err != nil {
			return err
		}
		rt.ref = r
	}
	if rt.cfg.Reset.Enable {
		l, err := reset.Open(reset.Config{
			Chip:   rt.cfg.Reset.Chip,
			Line:   rt.cfg.Reset.Line,
			Pulse:  rt.cfg.Reset.Pulse,
			Boot:   rt.cfg.Reset.Boot,
			Logger: rt.log,
		})
		if err != nil {
			return err
		}
		rt.reset = l
	}
	return nil
}

// runnerConfig leaves disabled collaborators as untyped nils.
func (rt *fieldRuntime) runnerConfig() job.RunnerConfig {
	rc := job.RunnerConfig{
		HostVersion: version,
		Ready:       readyWithin{reader: rt.link.reader, timeout: rt.cfg.Session.ReadyTimeout},
		Metrics:     rt.metrics,
		Logger:      rt.log,
	}
	if rt.pub != nil {
		rc.Publisher = rt.pub
	}
	if rt.ref != nil {
		rc.Reference = rt.ref
	}
	if rt.reset != nil {
		rc.HardReset = rt.reset
	}
	return rc
}

func (rt *fieldRuntime) Close() error {
	var err error
	if rt.link != nil {
		err = multierr.Append(err, rt.link.Close())
	}
	if rt.ref != nil {
		rt.ref.Close()
	}
	if rt.pub != nil {
		err = multierr.Append(err, rt.pub.Close())
	}
	if rt.reset != nil {
		err = multierr.Append(err, rt.reset.Close())
	}
	if rt.results != nil {
		err = multierr.Append(err, rt.results.Close())
	}
	return err
}

func runField(ctx context.Context, st *appState, jobPath string) error {
	jobs, err := job.ReadFile(jobPath)
	if err != nil {
		return err
	}
	dir, err := prepareResults(st.cfg, jobPath, time.Now())
	if err != nil {
		return err
	}
	log, syncLog, err := st.logger(filepath.Join(dir, logFileName))
	if err != nil {
		return err
	}
	defer syncLog()

	resultPath := filepath.Join(dir, st.cfg.Results.File)
	log.Infof("Start")
	log.Infof("Job filename: %s", jobPath)
	log.Infof("Result filename: %s", resultPath)

	rt := &fieldRuntime{cfg: st.cfg, log: log}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			log.Warnf("close: %v", cerr)
		}
		log.Infof("Terminating...")
	}()

	if rt.results, err = resultlog.Create(resultPath, clock.New()); err != nil {
		return err
	}
	if st.cfg.Metrics.Enable {
		rt.metrics = metrics.New()
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	if rt.metrics != nil {
		g.Go(func() error { return rt.metrics.Serve(gctx, st.cfg.Metrics.Listen, log) })
	}

	if err := rt.openOptional(gctx); err != nil {
		stop()
		return multierr.Append(err, g.Wait())
	}
	if rt.link, err = openChipLink(gctx, st.cfg, log, rt.metrics); err != nil {
		stop()
		return multierr.Append(err, g.Wait())
	}

	runner := job.NewRunner(rt.link.sess, rt.results, rt.runnerConfig())
	g.Go(func() error {
		defer stop()
		err := runner.Run(gctx, jobs)
		var crit *job.CriticalError
		switch {
		case errors.As(err, &crit):
			log.Errorf("Terminating on critical exception: %v", crit.Err)
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			log.Infof("User interrupt received after %d job(s)", runner.Counter())
			return nil
		}
		return err
	})
	return g.Wait()
}

func updateAlmanac(ctx context.Context, st *appState) error {
	log, syncLog, err := st.logger("")
	if err != nil {
		return err
	}
	defer syncLog()
	log.Infof("Starting")
	defer log.Infof("Bye")

	var image []byte
	if st.cfg.Almanac.File != "" {
		log.Infof("Reading file %s...", st.cfg.Almanac.File)
		image, err = almanac.ReadFile(st.cfg.Almanac.File)
	} else {
		svc := almanac.NewService(almanac.ServiceConfig{
			URLBase: st.cfg.Almanac.URLBase,
			Token:   st.cfg.Almanac.Token,
			Logger:  log,
		})
		log.Infof("Fetching almanac data from url %s...", st.cfg.Almanac.URLBase)
		image, err = svc.Fetch(ctx)
	}
	if err != nil {
		log.Errorf("Error getting almanac: %v", err)
		return err
	}
	crc, err := almanac.CRC(image)
	if err != nil {
		return err
	}
	log.Infof("CRC is %d", crc)

	link, err := openChipLink(ctx, st.cfg, log, nil)
	if err != nil {
		return err
	}
	defer link.Close()
	if err := (readyWithin{reader: link.reader, timeout: st.cfg.Session.ReadyTimeout}).WaitReady(ctx); err != nil {
		return err
	}

	err = almanac.Transfer(link.sess, image, crc, almanac.TransferConfig{Logger: log})
	var (
		check    *almanac.CheckFailureError
		download *almanac.DownloadFailureError
		noResp   *session.NoResponseError
	)
	switch {
	case err == nil:
		log.Infof("Almanac update done")
	case errors.As(err, &noResp):
		log.Errorf("Embedded seems connected but did not respond. Have you reset it?")
	case errors.As(err, &check):
		log.Errorf("Final CRC check failed")
	case errors.As(err, &download):
		log.Errorf("Download to chip failed")
	}
	return err
}
