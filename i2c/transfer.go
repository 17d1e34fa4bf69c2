package i2c

import (
	"context"
	"fmt"
	"time"
)

// Transfer runs one full transaction: START, address byte, payload, STOP.
// A NACK consumes one attempt of the retry budget; an exceeded deadline
// (or a done context) between payload bytes aborts the whole transfer.
// For reads req.Data is filled in place.
func (b *Bus) Transfer(ctx context.Context, addr Address, req *Request) error {
	if b == nil {
		return newError(InvalidArgument, "transfer", "nil bus")
	}
	if err := validate(addr, req); err != nil {
		b.log.Error("invalid transfer parameters", "error", err)
		return err
	}
	b.tx.Lock()
	defer b.tx.Unlock()
	if b.isClosed() {
		return newError(InvalidArgument, "transfer", "bus closed")
	}

	log := b.log.With("addr", addr.String(), "dir", req.Dir.String(), "len", len(req.Data))
	log.Debug("starting transfer")
	var err error
	for attempt := 1; attempt <= b.retries; attempt++ {
		log.Log(ctx, LevelTrace, "attempt", "attempt", attempt)
		err = b.attempt(ctx, addr, req)
		if err == nil {
			log.Debug("transfer completed", "attempt", attempt)
			return nil
		}
		if !IsRetryable(err) {
			log.Error("transfer aborted", "attempt", attempt, "error", err)
			return err
		}
		log.Warn("transfer attempt failed", "attempt", attempt, "error", err)
		if attempt < b.retries {
			log.Info("retrying transfer", "backoff", b.backoff)
			b.delay(b.backoff)
		}
	}
	log.Error("transfer failed", "attempts", b.retries, "error", err)
	return err
}

func validate(addr Address, req *Request) error {
	switch {
	case req == nil:
		return newError(InvalidArgument, "transfer", "nil request")
	case len(req.Data) == 0:
		return newError(InvalidArgument, "transfer", "empty buffer")
	case !addr.Valid():
		return newError(InvalidArgument, "transfer", "address %s is not a 7-bit address", addr)
	case req.Dir != Read && req.Dir != Write:
		return newError(InvalidArgument, "transfer", "unknown %s", req.Dir)
	}
	return nil
}

// attempt runs a single START..STOP sequence. STOP is issued on every path
// that got past START.
func (b *Bus) attempt(ctx context.Context, addr Address, req *Request) error {
	began := b.now()
	if err := b.Start(); err != nil {
		_ = b.Stop()
		return err
	}
	if err := b.SendByte(addr.Byte(req.Dir)); err != nil {
		_ = b.Stop()
		return fmt.Errorf("device address %s: %w", addr, err)
	}
	err := b.payload(ctx, req, began)
	if stopErr := b.Stop(); err == nil {
		err = stopErr
	}
	return err
}

func (b *Bus) payload(ctx context.Context, req *Request, began time.Time) error {
	last := len(req.Data) - 1
	for i := range req.Data {
		if req.Dir == Read {
			v, err := b.ReceiveByte(i < last)
			if err != nil {
				return fmt.Errorf("receive byte %d: %w", i, err)
			}
			req.Data[i] = v
		} else {
			if err := b.SendByte(req.Data[i]); err != nil {
				return fmt.Errorf("send byte %d: %w", i, err)
			}
		}
		if elapsed := b.now().Sub(began); elapsed > b.deadline {
			return newError(Timeout, req.Dir.String(), "deadline exceeded after %s at byte %d", elapsed, i)
		}
		if err := ctx.Err(); err != nil {
			return wrapError(Timeout, req.Dir.String(), err, "cancelled at byte %d", i)
		}
	}
	return nil
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func hexByte(v byte) string {
	return fmt.Sprintf("0x%02x", v)
}
