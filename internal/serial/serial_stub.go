//go:build !linux

package serial

import (
	"fmt"
	"time"
)

func openTermios(path string, baud int, readTimeout time.Duration) (Port, error) {
	return nil, fmt.Errorf("termios driver not supported on this platform")
}
