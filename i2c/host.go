package i2c

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/softi2c"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var _ softi2c.I2CBus = &HostBus{}

// HostBus is a hardware I2C controller exposed by the host (e.g. /dev/i2c-1).
// It carries devices that are themselves GPIO backends, such as port
// expanders.
type HostBus struct {
	bus i2c.BusCloser
}

func NewHostBus(dev string) (*HostBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return &HostBus{
		bus: bus,
	}, nil
}

// ReadFromAddr fills buffer from the device at address. The kernel driver
// runs the whole transaction, so ctx is only checked before it starts.
func (b *HostBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from %s at %s: %w", b.bus, Address(address), err)
	}
	return nil
}

func (b *HostBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to %s at %s: %w", b.bus, Address(address), err)
	}
	return nil
}

// Release is a no-op: the controller never reports ErrBusBusy.
func (b *HostBus) Release(ctx context.Context) error {
	return nil
}

func (b *HostBus) Close() error {
	return b.bus.Close()
}
