package dma

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceExhausted means no descriptor, physical channel, or logical
	// slot is free. The caller may retry later.
	ErrResourceExhausted = errors.New("dma: resource exhausted")

	// ErrInvalidConfig means a width, burst, or port is not supported by the
	// controller.
	ErrInvalidConfig = errors.New("dma: invalid config")

	// ErrInvalidArgument means a malformed request, such as a zero length or
	// a period that does not divide the buffer.
	ErrInvalidArgument = errors.New("dma: invalid argument")

	// ErrBusy means a channel believed free had its enable bit set. The
	// channel has been reset.
	ErrBusy = errors.New("dma: channel busy")

	// ErrHardwareFault is delivered through the callback of a request the
	// controller flagged with an error.
	ErrHardwareFault = errors.New("dma: hardware fault")
)

func portError(port uint8) error {
	return fmt.Errorf("%w: port %d", ErrInvalidConfig, port)
}

func exhausted(what string) error {
	return fmt.Errorf("%w: %s", ErrResourceExhausted, what)
}
