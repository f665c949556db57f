package job

import (
	"errors"
	"fmt"
	"time"

	"lr1110-host/internal/protocol"
	"lr1110-host/internal/session"
	"lr1110-host/internal/transport"
)

type ConfigurationFailedError struct {
	Job Job
}

func (e *ConfigurationFailedError) Error() string {
	return fmt.Sprintf("configuration failed on job: %s", e.Job)
}

type StartFailedError struct {
	Job Job
}

func (e *StartFailedError) Error() string {
	return fmt.Sprintf("start failed on job: %s", e.Job)
}

type NoEventReceivedError struct {
	Job    Job
	Budget time.Duration
}

func (e *NoEventReceivedError) Error() string {
	return fmt.Sprintf("event wait timeout (%s) for job %s", e.Budget, e.Job)
}

// ErrResetFailed means the chip did not acknowledge a soft reset.
var ErrResetFailed = errors.New("reset request failed")

// IsCritical reports whether err means the link is gone and the run cannot
// continue.
func IsCritical(err error) bool {
	var nl *session.NotListeningError
	var de *protocol.DisconnectedError
	return errors.As(err, &nl) || errors.As(err, &de)
}

// IsCommunicationFailure reports whether err comes from the link or the
// exchange layer rather than from the chip refusing a job.
func IsCommunicationFailure(err error) bool {
	if err == nil {
		return false
	}
	if IsCritical(err) || errors.Is(err, transport.ErrNotReady) {
		return true
	}
	var (
		nr *session.NoResponseError
		mm *session.MismatchError
		uc *protocol.UnknownResponseCodeError
		mr *protocol.MalformedResponseError
	)
	return errors.As(err, &nr) || errors.As(err, &mm) || errors.As(err, &uc) || errors.As(err, &mr)
}
