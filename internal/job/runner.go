package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"lr1110-host/internal/logging"
	"lr1110-host/internal/metrics"
	"lr1110-host/internal/protocol"
	"lr1110-host/internal/reference"
)

// ResultSink stores job outcomes.
type ResultSink interface {
	Metadata(text string) error
	Comment(text string) error
	NoResult(jobID, counter int) error
	Exception(jobID, counter int) error
	Wifi(r *protocol.WifiResult, jobID, counter int) error
	Gnss(r *protocol.GnssResult, jobID, counter int) error
}

// Publisher forwards scan results to an external consumer.
type Publisher interface {
	Publish(kind string, v any) error
}

// ReadyWaiter blocks until the chip accepts commands.
type ReadyWaiter interface {
	WaitReady(ctx context.Context) error
}

// HardReset pulses the chip's reset line.
type HardReset interface {
	Pulse(ctx context.Context) error
}

// ReferenceSource reports the position of an external reference receiver.
type ReferenceSource interface {
	Latest() (reference.Fix, bool)
}

type RunnerConfig struct {
	HostVersion string

	// Optional collaborators.
	Ready     ReadyWaiter
	HardReset HardReset
	Reference ReferenceSource
	Publisher Publisher
	Metrics   *metrics.Metrics

	Logger *zap.SugaredLogger
	Clock  clock.Clock
}

// CriticalError stops a run: the link to the chip is gone.
type CriticalError struct {
	Err error
}

func (e *CriticalError) Error() string { return fmt.Sprintf("critical job executor error: %v", e.Err) }
func (e *CriticalError) Unwrap() error { return e.Err }

// Runner executes a job file and records every outcome.
type Runner struct {
	cfg     RunnerConfig
	sess    Session
	exec    *Executor
	results ResultSink
	log     *zap.SugaredLogger
	clk     clock.Clock

	counter int
}

func NewRunner(sess Session, results ResultSink, cfg RunnerConfig) *Runner {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	log := logging.OrNop(cfg.Logger)
	return &Runner{
		cfg:     cfg,
		sess:    sess,
		exec:    NewExecutor(sess, ExecutorConfig{Logger: log, Clock: cfg.Clock}),
		results: results,
		log:     log,
		clk:     cfg.Clock,
	}
}

// Counter is the number of jobs started so far in this run.
func (r *Runner) Counter() int { return r.counter }

func (r *Runner) info(format string, args ...any) {
	r.log.Infof("[LOG] "+format, args...)
}

func (r *Runner) exception(format string, args ...any) {
	r.log.Warnf("[EXCEPTION] "+format, args...)
}

// Run waits for the chip, records its versions and executes f. With
// InfiniteLoops it repeats f until ctx ends.
func (r *Runner) Run(ctx context.Context, f *File) error {
	if r.cfg.Ready != nil {
		if err := r.cfg.Ready.WaitReady(ctx); err != nil {
			return err
		}
	}
	if err := r.saveVersion(); err != nil {
		return err
	}

	for {
		if err := r.runJobs(ctx, f.Jobs); err != nil {
			return err
		}
		if !f.InfiniteLoops {
			return nil
		}
		if f.ScanInterval > 0 {
			r.info("Wait %s before starting next job list...", f.ScanInterval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clk.After(f.ScanInterval):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (r *Runner) saveVersion() error {
	v, err := r.exec.VersionInfo(r.cfg.HostVersion)
	if err != nil {
		if IsCritical(err) {
			return &CriticalError{Err: err}
		}
		return err
	}
	return r.results.Metadata("version: " + v.Metadata())
}

func (r *Runner) runJobs(ctx context.Context, jobs []Job) error {
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.RunJob(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

// RunJob executes one job. Only critical link failures and cancellation
// are returned; every other failure is recorded and followed by a reset.
func (r *Runner) RunJob(ctx context.Context, j Job) error {
	r.counter++
	counter := r.counter
	r.info("Execute job #%d: [%s]", counter, j)
	r.logReference(j)

	results, err := r.exec.Execute(ctx, j)
	switch {
	case err == nil:
		r.saveResults(j, counter, results)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	case IsCritical(err):
		r.cfg.Metrics.Job(metrics.OutcomeException)
		r.logExceptionResult(j, counter)
		r.exception("Communication failure: %v", err)
		return &CriticalError{Err: err}
	default:
		r.cfg.Metrics.Job(metrics.OutcomeException)
		r.logExceptionResult(j, counter)
		if IsCommunicationFailure(err) {
			r.exception("Communication failure: %v", err)
		} else {
			r.exception("Job failed with error: %v", err)
		}
		if err := r.recover(ctx); err != nil {
			return err
		}
	}
	r.info("Terminate job: %s", j)
	return nil
}

func (r *Runner) logExceptionResult(j Job, counter int) {
	if err := r.results.Exception(j.ID, counter); err != nil {
		r.log.Errorf("result log write failed: %v", err)
	}
}

// recover drains stale frames and resets the chip, falling back to the
// reset line when the soft reset is refused.
func (r *Runner) recover(ctx context.Context) error {
	r.sess.DrainQueue()
	r.info("Attempting reset")
	err := r.exec.Reset()
	if err == nil {
		return nil
	}
	if IsCritical(err) {
		return &CriticalError{Err: err}
	}
	r.exception("Soft reset failed: %v", err)
	if r.cfg.HardReset == nil {
		return nil
	}
	r.info("Pulsing reset line")
	if err := r.cfg.HardReset.Pulse(ctx); err != nil {
		r.exception("Hard reset failed: %v", err)
	}
	return nil
}

func (r *Runner) logReference(j Job) {
	if r.cfg.Reference == nil {
		return
	}
	fix, ok := r.cfg.Reference.Latest()
	if !ok {
		r.info("No reference position")
		return
	}
	text := fmt.Sprintf("REF %.7f,%.7f,%.1f", fix.Latitude, fix.Longitude, fix.AltitudeM)
	if j.HasGnssAssisted() {
		d := reference.DistanceMeters(fix.Latitude, fix.Longitude, j.AssistedCoordinate.Latitude, j.AssistedCoordinate.Longitude)
		text += fmt.Sprintf(" assist_distance_m=%.1f", d)
	}
	if err := r.results.Comment(text); err != nil {
		r.log.Errorf("result log write failed: %v", err)
	}
}

// WifiRecord is the published form of a Wi-Fi result.
type WifiRecord struct {
	Counter            int       `json:"counter"`
	JobID              int       `json:"job_id"`
	JobName            string    `json:"job_name"`
	Time               time.Time `json:"time"`
	MAC                string    `json:"mac"`
	Channel            string    `json:"channel"`
	FrequencyMHz       int       `json:"frequency_mhz"`
	Type               string    `json:"type"`
	RSSI               int8      `json:"rssi"`
	DemodulationTimeUs uint32    `json:"demodulation_us"`
	CaptureTimeUs      uint32    `json:"capture_us"`
	CorrelationTimeUs  uint32    `json:"correlation_us"`
	DetectionTimeUs    uint32    `json:"detection_us"`
}

// GnssRecord is the published form of a GNSS result.
type GnssRecord struct {
	Counter       int       `json:"counter"`
	JobID         int       `json:"job_id"`
	JobName       string    `json:"job_name"`
	Time          time.Time `json:"time"`
	Assisted      bool      `json:"assisted"`
	Nav           string    `json:"nav"`
	RadioMs       uint32    `json:"radio_ms"`
	ComputationMs uint32    `json:"computation_ms"`
	Satellites    []string  `json:"satellites,omitempty"`
}

func (r *Runner) saveResults(j Job, counter int, results []protocol.Response) {
	if len(results) == 0 {
		r.cfg.Metrics.Job(metrics.OutcomeNoResult)
		if err := r.results.NoResult(j.ID, counter); err != nil {
			r.log.Errorf("result log write failed: %v", err)
		}
		return
	}
	r.cfg.Metrics.Job(metrics.OutcomeOK)

	lines := make([]string, 0, len(results))
	for _, res := range results {
		lines = append(lines, fmt.Sprint(res))
	}
	r.info("[RESULTS] Job %d(%s): %d result(s)\n  - %s", j.ID, j.Name, len(results), strings.Join(lines, "\n  - "))

	for _, res := range results {
		var err error
		switch v := res.(type) {
		case *protocol.WifiResult:
			err = r.results.Wifi(v, j.ID, counter)
			r.publish("wifi", WifiRecord{
				Counter: counter, JobID: j.ID, JobName: j.Name, Time: v.ReceivedAt(),
				MAC: v.MAC.String(), Channel: v.Channel.String(), FrequencyMHz: v.Channel.FrequencyMHz(),
				Type: v.Type.String(), RSSI: v.RSSI,
				DemodulationTimeUs: v.DemodulationTimeUs, CaptureTimeUs: v.CaptureTimeUs,
				CorrelationTimeUs: v.CorrelationTimeUs, DetectionTimeUs: v.DetectionTimeUs,
			})
		case *protocol.GnssResult:
			err = r.results.Gnss(v, j.ID, counter)
			sats := make([]string, len(v.Satellites))
			for i, s := range v.Satellites {
				sats[i] = s.String()
			}
			r.publish("gnss", GnssRecord{
				Counter: counter, JobID: j.ID, JobName: j.Name, Time: v.CapturedAt(), Assisted: v.Assisted(),
				Nav: v.NavHex(), RadioMs: v.RadioMs, ComputationMs: v.ComputationMs, Satellites: sats,
			})
		default:
			r.log.Debugf("ignoring non-scan result %v", res)
		}
		if err != nil {
			r.log.Errorf("result log write failed: %v", err)
		}
	}
}

func (r *Runner) publish(kind string, v any) {
	if r.cfg.Publisher == nil {
		return
	}
	if err := r.cfg.Publisher.Publish(kind, v); err != nil {
		r.log.Warnf("publish %s result failed: %v", kind, err)
	}
}
