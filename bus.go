package softi2c

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// Pin identifies a GPIO line within a Lines backend.
type Pin uint16

// Lines is the GPIO capability a software I2C master drives. Pins are used
// open-drain: SetLevel(pin, true) releases the line to its pull-up and
// SetLevel(pin, false) pulls it low, so GetLevel returns the real electrical
// state of the wire.
type Lines interface {
	ConfigureOpenDrainOutput(pin Pin) error
	SetLevel(pin Pin, high bool) error
	GetLevel(pin Pin) (bool, error)
}

// PinReleaser is implemented by backends able to hand a line back as a
// plain input on teardown.
type PinReleaser interface {
	ReleasePin(pin Pin) error
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
}
