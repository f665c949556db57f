// Package resultlog writes and reads field test result files.
//
// Format: line-oriented text.
//
//   - "# <text>" lines are comments. "# version: <metadata>" carries the
//     chip and host versions.
//   - Entries are "[<UTC date>] [<counter> - <job id>] <scan info>" where
//     scan info is a Wi-Fi result, a GNSS result, "No result" or "Exception".
package resultlog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"lr1110-host/internal/protocol"
)

const (
	DateLayout = "2006-01-02 15:04:05.000000"

	NoResultToken  = "No result"
	ExceptionToken = "Exception"
	VersionPrefix  = "version: "

	// BufferLimit is the number of entries held before they are written out.
	BufferLimit = 20
)

// FileExistsError refuses to append to an earlier run's results.
type FileExistsError struct {
	Path string
}

func (e *FileExistsError) Error() string { return "file exists: " + e.Path }

type Writer struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	clk     clock.Clock
	pending int
	closed  bool
}

// Create opens a new result file. It fails if path already exists.
func Create(path string, clk clock.Clock) (*Writer, error) {
	if clk == nil {
		clk = clock.New()
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, &FileExistsError{Path: path}
		}
		return nil, errors.Wrap(err, "create result file")
	}
	return &Writer{f: f, w: bufio.NewWriterSize(f, 64*1024), clk: clk}, nil
}

func (ww *Writer) writeLine(line string) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("result writer is closed")
	}
	if _, err := ww.w.WriteString(line + "\n"); err != nil {
		return err
	}
	ww.pending++
	if ww.pending > BufferLimit {
		ww.pending = 0
		return ww.w.Flush()
	}
	return nil
}

// Log writes an entry dated at. A zero at means now.
func (ww *Writer) Log(at time.Time, message string) error {
	if at.IsZero() {
		at = ww.clk.Now()
	}
	return ww.writeLine(fmt.Sprintf("[%s] %s", at.UTC().Format(DateLayout), message))
}

func (ww *Writer) Comment(text string) error {
	return ww.writeLine("# " + text)
}

func (ww *Writer) Metadata(text string) error {
	return ww.Comment(text)
}

func jobTag(jobID, counter int) string {
	return fmt.Sprintf("[%d - %d]", counter, jobID)
}

func (ww *Writer) NoResult(jobID, counter int) error {
	return ww.Log(time.Time{}, jobTag(jobID, counter)+" "+NoResultToken)
}

func (ww *Writer) Exception(jobID, counter int) error {
	return ww.Log(time.Time{}, jobTag(jobID, counter)+" "+ExceptionToken)
}

// Wifi logs r dated at its reception.
func (ww *Writer) Wifi(r *protocol.WifiResult, jobID, counter int) error {
	fields := []string{
		r.MAC.String(),
		r.Channel.String(),
		r.Type.String(),
		strconv.Itoa(int(r.RSSI)),
		strconv.FormatUint(uint64(r.DemodulationTimeUs), 10),
		strconv.FormatUint(uint64(r.CaptureTimeUs), 10),
		strconv.FormatUint(uint64(r.CorrelationTimeUs), 10),
		strconv.FormatUint(uint64(r.DetectionTimeUs), 10),
	}
	return ww.Log(r.ReceivedAt(), jobTag(jobID, counter)+" "+strings.Join(fields, ", "))
}

// Gnss logs r dated at its capture instant. The elapsed field is always 0
// because the date is already corrected.
func (ww *Writer) Gnss(r *protocol.GnssResult, jobID, counter int) error {
	sats := make([]string, len(r.Satellites))
	for i, s := range r.Satellites {
		sats[i] = s.String()
	}
	fields := []string{
		r.NavHex(),
		"0",
		strconv.FormatUint(uint64(r.RadioMs), 10),
		strconv.FormatUint(uint64(r.ComputationMs), 10),
		strings.Join(sats, "|"),
	}
	return ww.Log(r.CapturedAt(), jobTag(jobID, counter)+" "+strings.Join(fields, ", "))
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.pending = 0
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}
