package reference

import (
	"context"
	"net"
	"time"
)

func (r *Receiver) startNetwork(ctx context.Context, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}
	childCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.log.Infof("reference receiver enabled addr=%s", addr)
		r.follow(childCtx, addr)
	}()
	return nil
}

// follow reads NMEA sentences from a TCP stream, reconnecting after
// ReconnectDelay whenever the stream drops, until ctx ends.
func (r *Receiver) follow(ctx context.Context, addr string) {
	dialer := &net.Dialer{Timeout: r.cfg.DialTimeout}
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			r.log.Debugf("reference receiver: dial %s: %v", addr, err)
			if !r.sleep(ctx, r.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		r.log.Infof("reference receiver connected to %s", addr)
		// Unblocks the read when ctx ends.
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = r.Consume(ctx, conn)
		stop()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		r.log.Warnf("reference receiver: stream %s lost: %v", addr, err)
		if !r.sleep(ctx, r.cfg.ReconnectDelay) {
			return
		}
	}
}

func (r *Receiver) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-r.clk.After(d):
		return true
	}
}
