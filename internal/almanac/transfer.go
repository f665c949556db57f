// Package almanac loads GNSS almanac images and streams them into the chip.
package almanac

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"lr1110-host/internal/logging"
	"lr1110-host/internal/metrics"
	"lr1110-host/internal/protocol"
	"lr1110-host/internal/session"
)

// BurstSize is the number of image bytes carried by one UpdateAlmanac.
const BurstSize = 20

// Exchanger sends a command and returns its response.
type Exchanger interface {
	Exchange(cmd protocol.Command) (protocol.Response, error)
}

// WrongResponseError means the chip answered a command with another code.
type WrongResponseError struct {
	Sent     protocol.Code
	Received protocol.Code
}

func (e *WrongResponseError) Error() string {
	return fmt.Sprintf("wrong response to %s: %s", e.Sent, e.Received)
}

// DownloadFailureError stops a transfer at Burst. The next attempt must
// start again from the first burst.
type DownloadFailureError struct {
	Burst  int
	Bursts int
	Err    error
}

func (e *DownloadFailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("almanac download failed at burst %d/%d: %v", e.Burst+1, e.Bursts, e.Err)
	}
	return fmt.Sprintf("almanac download failed at burst %d/%d: not acknowledged", e.Burst+1, e.Bursts)
}

func (e *DownloadFailureError) Unwrap() error { return e.Err }

type CheckFailureError struct {
	CRC uint32
}

func (e *CheckFailureError) Error() string {
	return fmt.Sprintf("almanac check failed for crc 0x%08x", e.CRC)
}

type TransferConfig struct {
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

// Transfer sends image in BurstSize bursts and asks the chip to verify crc.
// There is no retry or resume.
func Transfer(ex Exchanger, image []byte, crc uint32, cfg TransferConfig) error {
	log := logging.OrNop(cfg.Logger)
	bursts := lo.Chunk(image, BurstSize)
	log.Infof("almanac update: %s in %d bursts, crc 0x%08x", humanize.Bytes(uint64(len(image))), len(bursts), crc)

	for i, burst := range bursts {
		ok, err := exchangeAck(ex, protocol.UpdateAlmanac{Burst: burst})
		if err != nil {
			return &DownloadFailureError{Burst: i, Bursts: len(bursts), Err: err}
		}
		if !ok {
			return &DownloadFailureError{Burst: i, Bursts: len(bursts)}
		}
		cfg.Metrics.AlmanacBurst()
		if (i+1)%100 == 0 {
			log.Debugf("almanac update: %d/%d bursts", i+1, len(bursts))
		}
	}

	ok, err := exchangeAck(ex, protocol.CheckAlmanacUpdate{CRC: crc})
	if err != nil {
		return err
	}
	if !ok {
		return &CheckFailureError{CRC: crc}
	}
	log.Infof("almanac update: done")
	return nil
}

func exchangeAck(ex Exchanger, cmd protocol.Command) (bool, error) {
	resp, err := ex.Exchange(cmd)
	if err != nil {
		return false, err
	}
	if err := session.CheckCounterpart(cmd, resp); err != nil {
		return false, &WrongResponseError{Sent: cmd.Code(), Received: resp.ResponseCode()}
	}
	ack, ok := resp.(*protocol.Ack)
	if !ok {
		return false, &WrongResponseError{Sent: cmd.Code(), Received: resp.ResponseCode()}
	}
	return ack.OK, nil
}
