//go:build linux

package reset

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

func openLine(chip string, offset int) (outputLine, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(1), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("reset: request %s line %d: %w", chip, offset, err)
	}
	return l, nil
}

var openLineFn = openLine
