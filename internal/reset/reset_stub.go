//go:build !linux

package reset

import "fmt"

// Stub implementation for non-Linux platforms.
func openLine(chip string, offset int) (outputLine, error) {
	return nil, fmt.Errorf("reset: gpio unsupported on this platform")
}

var openLineFn = openLine
