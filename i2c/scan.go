package i2c

import (
	"context"
	"errors"
)

// Addresses outside this range are reserved by the I2C specification.
const (
	FirstScanAddress Address = 0x08
	LastScanAddress  Address = 0x77
)

// Probe addresses a device for writing and reports whether it acknowledged.
// It is a single attempt with no payload and no retries.
func (b *Bus) Probe(ctx context.Context, addr Address) (bool, error) {
	if b == nil {
		return false, newError(InvalidArgument, "probe", "nil bus")
	}
	if !addr.Valid() {
		return false, newError(InvalidArgument, "probe", "address %s is not a 7-bit address", addr)
	}
	if err := ctx.Err(); err != nil {
		return false, wrapError(Timeout, "probe", err, "address %s", addr)
	}
	b.tx.Lock()
	defer b.tx.Unlock()
	if err := b.Start(); err != nil {
		_ = b.Stop()
		return false, err
	}
	err := b.SendByte(addr.Byte(Write))
	if stopErr := b.Stop(); stopErr != nil {
		return false, stopErr
	}
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNACK):
		return false, nil
	default:
		return false, err
	}
}

// Scan probes every non-reserved address and returns those that answered.
func (b *Bus) Scan(ctx context.Context) ([]Address, error) {
	var found []Address
	for addr := FirstScanAddress; addr <= LastScanAddress; addr++ {
		ok, err := b.Probe(ctx, addr)
		if err != nil {
			return found, err
		}
		if ok {
			b.log.Debug("device found", "addr", addr.String())
			found = append(found, addr)
		}
	}
	return found, nil
}
