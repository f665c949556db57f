// Package transport owns the serial link: a background reader that splits
// the byte stream into frames, answers the chip's boot handshake and queues
// every other frame for the session layer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tevino/abool/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lr1110-host/internal/logging"
	"lr1110-host/internal/metrics"
	"lr1110-host/internal/protocol"
)

const DefaultQueueSize = 256

// ErrNotReady is returned by Send before the chip has completed the
// field test handshake.
var ErrNotReady = errors.New("transport: chip has not been switched to field test mode yet")

// ErrNotRunning is returned when the reader loop is not running.
var ErrNotRunning = errors.New("transport: reader should be running but it is stopped")

type Config struct {
	QueueSize int
	Logger    *zap.SugaredLogger
	Metrics   *metrics.Metrics
	Clock     clock.Clock
}

type Reader struct {
	cfg  Config
	link io.ReadWriteCloser
	log  *zap.SugaredLogger
	clk  clock.Clock

	frames chan protocol.Frame
	ready  chan struct{}
	done   chan struct{}

	readyOnce sync.Once
	isReady   *abool.AtomicBool
	running   *abool.AtomicBool
	stopping  *abool.AtomicBool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu      sync.Mutex
	started bool
	lastErr error
}

func New(link io.ReadWriteCloser, cfg Config) *Reader {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Reader{
		cfg:      cfg,
		link:     link,
		log:      logging.OrNop(cfg.Logger),
		clk:      cfg.Clock,
		frames:   make(chan protocol.Frame, cfg.QueueSize),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		isReady:  abool.New(),
		running:  abool.New(),
		stopping: abool.New(),
	}
}

// Start launches the read loop. It may be called once.
func (r *Reader) Start(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("transport reader is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.started = true

	childCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running.Set()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.done)
		defer r.running.UnSet()
		r.loop(childCtx)
		r.log.Infof("[Serial Handler] Leaving runtime")
	}()
	return nil
}

func (r *Reader) loop(ctx context.Context) {
	fr := protocol.NewFrameReader(r.link).WithClock(r.clk.Now)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, err := fr.ReadFrame()
		if err != nil {
			var trunc *protocol.TruncatedFrameError
			switch {
			case errors.Is(err, protocol.ErrNoFrame):
				continue
			case errors.As(err, &trunc):
				r.cfg.Metrics.FrameTruncated()
				r.log.Warnf("timeout on received command: %v", err)
				continue
			}
			if r.stopping.IsNotSet() {
				r.log.Errorf("serial lost device, did it get disconnected? %v", err)
			}
			r.setErr(err)
			return
		}

		r.cfg.Metrics.FrameReceived(f.Code.String())
		if f.Code == protocol.CodeHandshake {
			r.handshake()
			continue
		}

		select {
		case r.frames <- f:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reader) handshake() {
	if err := r.write(protocol.HandshakeReply); err != nil {
		r.log.Errorf("field test handshake reply failed: %v", err)
		return
	}
	r.log.Infof("chip switched to field test mode")
	r.isReady.Set()
	r.readyOnce.Do(func() { close(r.ready) })
}

func (r *Reader) write(b []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, err := r.link.Write(b); err != nil {
		return &protocol.DisconnectedError{Err: err}
	}
	return nil
}

// Send writes one encoded frame and returns when it was handed to the link.
func (r *Reader) Send(frame []byte) (time.Time, error) {
	if r.isReady.IsNotSet() {
		return time.Time{}, ErrNotReady
	}
	if err := r.write(frame); err != nil {
		return time.Time{}, err
	}
	return r.clk.Now().UTC(), nil
}

// Frames is the queue of received frames, handshakes excluded.
func (r *Reader) Frames() <-chan protocol.Frame { return r.frames }

// Done is closed when the read loop exits.
func (r *Reader) Done() <-chan struct{} { return r.done }

func (r *Reader) Ready() bool   { return r.isReady.IsSet() }
func (r *Reader) Running() bool { return r.running.IsSet() }

// WaitReady blocks until the handshake completes, the loop stops or ctx ends.
func (r *Reader) WaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-r.done:
		if err := r.Err(); err != nil {
			return err
		}
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err is the failure that stopped the loop, if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Reader) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
}

// Close stops the loop, waits for it to leave its current read, then
// closes the link. The link's read timeout bounds the wait.
func (r *Reader) Close() error {
	if r == nil {
		return nil
	}
	r.stopping.Set()

	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	var err error
	if r.link != nil {
		err = multierr.Append(err, r.link.Close())
	}
	return err
}
