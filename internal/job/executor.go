package job

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"lr1110-host/internal/logging"
	"lr1110-host/internal/protocol"
	"lr1110-host/internal/session"
)

// Session is the exchange layer the executor drives.
type Session interface {
	Exchange(cmd protocol.Command) (protocol.Response, error)
	Receive() (protocol.Response, error)
	HasEvent() (bool, error)
	DrainQueue() int
}

// resultFetchPause spaces out result receptions.
const resultFetchPause = 10 * time.Millisecond

type ExecutorConfig struct {
	Logger *zap.SugaredLogger
	Clock  clock.Clock
}

// Executor runs the configure, start, wait and fetch sequence of one job.
type Executor struct {
	sess Session
	log  *zap.SugaredLogger
	clk  clock.Clock
}

func NewExecutor(sess Session, cfg ExecutorConfig) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Executor{sess: sess, log: logging.OrNop(cfg.Logger), clk: cfg.Clock}
}

func (e *Executor) logf(format string, args ...any) {
	e.log.Infof("[JobExecutor] "+format, args...)
}

// Execute runs j and returns the fetched results.
func (e *Executor) Execute(ctx context.Context, j Job) ([]protocol.Response, error) {
	if j.ResetBeforeJobStart {
		if err := e.Reset(); err != nil {
			return nil, err
		}
	}
	if err := e.configure(j); err != nil {
		return nil, err
	}

	var results []protocol.Response
	scans := j.Scans()
	for i := 0; i < scans; i++ {
		if scans > 1 {
			e.logf("Scan %d/%d", i+1, scans)
		}
		if err := e.start(j); err != nil {
			return results, err
		}
		if err := e.waitEvent(ctx, j); err != nil {
			return results, err
		}
		got, err := e.fetchResults(j)
		results = append(results, got...)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// exchange sends cmd and checks that the response answers it.
func (e *Executor) exchange(cmd protocol.Command) (protocol.Response, error) {
	resp, err := e.sess.Exchange(cmd)
	if err != nil {
		return nil, err
	}
	e.logf("Command: %v", cmd)
	e.logf("Response: %v", resp)
	if err := session.CheckCounterpart(cmd, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func ackOK(resp protocol.Response) bool {
	a, ok := resp.(*protocol.Ack)
	return ok && a.OK
}

func (e *Executor) configure(j Job) error {
	e.logf("Configuring...")
	resp, err := e.exchange(j.ConfigureCommand())
	if err != nil {
		return errors.Wrapf(err, "configure %s", j.Name)
	}
	if !ackOK(resp) {
		return &ConfigurationFailedError{Job: j}
	}

	if j.HasGnss() {
		e.logf("Updating date and loc...")
		if _, err := e.exchange(j.SetDateLocCommand(e.clk.Now())); err != nil {
			return errors.Wrapf(err, "set date and location %s", j.Name)
		}
	}
	return nil
}

func (e *Executor) start(j Job) error {
	e.logf("Starting...")
	resp, err := e.exchange(protocol.Start)
	if err != nil {
		return errors.Wrapf(err, "start %s", j.Name)
	}
	if !ackOK(resp) {
		return &StartFailedError{Job: j}
	}
	return nil
}

func (e *Executor) waitEvent(ctx context.Context, j Job) error {
	budget := j.EventBudget()
	e.logf("Waiting for event (timeout: %s)...", budget)
	start := e.clk.Now()
	for {
		got, err := e.sess.HasEvent()
		if err != nil {
			return errors.Wrapf(err, "wait event %s", j.Name)
		}
		if got {
			e.logf("Received event. Waited %s", e.clk.Since(start))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.clk.Since(start) > budget {
			e.logf("Did not receive event. Timeout: %s", budget)
			return &NoEventReceivedError{Job: j, Budget: budget}
		}
	}
}

func (e *Executor) fetchResults(j Job) ([]protocol.Response, error) {
	e.logf("Fetching results...")
	resp, err := e.exchange(protocol.FetchResults)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch results %s", j.Name)
	}
	fr, ok := resp.(*protocol.FetchResultResponse)
	if !ok {
		return nil, errors.Errorf("fetch results %s: unexpected response %T", j.Name, resp)
	}

	var results []protocol.Response
	for i := 0; i < int(fr.Count); i++ {
		r, err := e.sess.Receive()
		if err != nil {
			var nr *session.NoResponseError
			if errors.As(err, &nr) {
				e.logf("result %d/%d missing: %v", i+1, fr.Count, err)
				continue
			}
			return results, errors.Wrapf(err, "receive result %d/%d", i+1, fr.Count)
		}
		results = append(results, r)
		e.clk.Sleep(resultFetchPause)
	}
	return results, nil
}

// Reset sends a soft reset and requires a positive acknowledgement.
func (e *Executor) Reset() error {
	resp, err := e.exchange(protocol.Reset)
	if err != nil {
		if IsCritical(err) {
			return err
		}
		return errors.Wrap(ErrResetFailed, err.Error())
	}
	if !ackOK(resp) {
		return ErrResetFailed
	}
	return nil
}

// Version is the firmware and almanac description written at the top of a
// result log.
type Version struct {
	Host        string
	Demo        string
	Driver      string
	Firmware    string
	Hardware    string
	AlmanacCRC  string
	AlmanacAges []protocol.AlmanacAge
	ChipUID     string
}

const unknownVersion = "Unknown"

// Metadata renders v as host:demo:driver:firmware:crc:ages:uid.
func (v Version) Metadata() string {
	return v.Host + ":" + v.Demo + ":" + v.Driver + ":" + v.Firmware + ":" + v.AlmanacCRC + ":" +
		protocol.FormatAges(v.AlmanacAges) + ":" + v.ChipUID
}

// VersionInfo queries almanac ages and firmware versions. Responses that do
// not answer their command are reported as unknown rather than failing.
func (e *Executor) VersionInfo(host string) (Version, error) {
	v := Version{Host: host}

	resp, err := e.sess.Exchange(protocol.GetAlmanacDates)
	if err != nil {
		return v, errors.Wrap(err, "get almanac dates")
	}
	if dates, ok := resp.(*protocol.AlmanacDatesResponse); ok {
		v.AlmanacAges = dates.Ages
		e.logf("Almanac ages: %s", protocol.FormatAges(dates.Ages))
	} else {
		e.logf("Unknown almanac ages")
	}

	resp, err = e.sess.Exchange(protocol.GetVersion)
	if err != nil {
		return v, errors.Wrap(err, "get version")
	}
	ver, ok := resp.(*protocol.VersionResponse)
	if !ok {
		e.logf("Unknown software/LR1110 versions")
		return Version{
			Host: unknownVersion, Demo: unknownVersion, Driver: unknownVersion, Firmware: unknownVersion,
			AlmanacCRC: unknownVersion, ChipUID: unknownVersion,
		}, nil
	}
	v.Demo = ver.Software
	v.Driver = ver.Driver
	v.Firmware = ver.Firmware
	v.Hardware = ver.Hardware
	v.AlmanacCRC = ver.AlmanacCRC
	v.ChipUID = ver.ChipUID
	e.logf("Software version: %s", ver.Software)
	e.logf("LR1110 Hardware version: %s", ver.Hardware)
	e.logf("LR1110 Firmware version: %s", ver.Firmware)
	return v, nil
}
