package i2c

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/softi2c"
)

func TestTransfer_Write(t *testing.T) {
	slave := newSimSlave(0x50)
	lines := newSimLines(slave)
	b, _ := newTestBus(t, lines)

	err := b.Transfer(t.Context(), 0x50, &Request{Dir: Write, Data: []byte{0x01, 0x02, 0x03}})
	require.NoError(t, err)

	assert.Equal(t, 1, slave.starts)
	assert.Equal(t, 1, slave.stops)
	require.Len(t, slave.frames, 1)
	assert.Equal(t, []byte{0xA0, 0x01, 0x02, 0x03}, slave.frames[0])
	assert.True(t, lines.scl())
	assert.True(t, lines.sda())
}

func TestTransfer_Read(t *testing.T) {
	slave := newSimSlave(0x68)
	slave.data = []byte{0x11, 0x22, 0x33}
	lines := newSimLines(slave)
	b, _ := newTestBus(t, lines)

	buf := make([]byte, 3)
	err := b.Transfer(t.Context(), 0x68, &Request{Dir: Read, Data: buf})
	require.NoError(t, err)

	assert.Equal(t, []byte{0x11, 0x22, 0x33}, buf)
	// every byte but the last is acknowledged by the master
	assert.Equal(t, []bool{true, true, false}, slave.masterA)
	assert.Equal(t, [][]byte{{0xD1}}, slave.frames)
	assert.Equal(t, 1, slave.stops)
}

func TestTransfer_AlwaysNACK(t *testing.T) {
	slave := newSimSlave(0x50)
	slave.present = false
	lines := newSimLines(slave)
	b, clk := newTestBus(t, lines)

	err := b.Transfer(t.Context(), 0x50, &Request{Dir: Write, Data: []byte{0xFF}})
	assert.Equal(t, BusError, StatusOf(err))
	assert.ErrorIs(t, err, ErrNACK)
	assert.Equal(t, Retries, slave.starts)
	assert.Equal(t, Retries, slave.stops)
	// backoff between attempts, none after the last one
	perAttempt := (4 + 27 + 3) * b.HalfBit()
	assert.Equal(t, Retries*perAttempt+(Retries-1)*Backoff, clk.slept)
}

func TestTransfer_NACKInPayload(t *testing.T) {
	slave := newSimSlave(0x50)
	slave.nackByte = 1
	lines := newSimLines(slave)
	b, _ := newTestBus(t, lines)

	err := b.Transfer(t.Context(), 0x50, &Request{Dir: Write, Data: []byte{0x10, 0x20, 0x30}})
	assert.ErrorIs(t, err, BusError)
	assert.ErrorIs(t, err, ErrNACK)
	assert.Equal(t, 3, slave.starts)
	assert.Equal(t, 3, slave.stops)
	for _, frame := range slave.frames {
		// the transfer stops at the refused byte
		assert.Equal(t, []byte{0xA0, 0x10, 0x20}, frame)
	}
}

func TestTransfer_RetryThenSuccess(t *testing.T) {
	slave := newSimSlave(0x3C)
	slave.present = false
	slave.onStart = func(s *simSlave) {
		if s.starts == 2 {
			s.present = true
		}
	}
	lines := newSimLines(slave)
	b, clk := newTestBus(t, lines)

	err := b.Transfer(t.Context(), 0x3C, &Request{Dir: Write, Data: []byte{0xAE}})
	require.NoError(t, err)
	assert.Equal(t, 2, slave.starts)
	assert.Equal(t, 2, slave.stops)
	assert.Equal(t, []byte{0x78, 0xAE}, slave.frames[1])
	assert.GreaterOrEqual(t, clk.slept, Backoff)
}

func TestTransfer_Timeout(t *testing.T) {
	slave := newSimSlave(0x50)
	slave.data = []byte{0xAB}
	lines := newSimLines(slave)
	b, clk := newTestBus(t, lines)
	// each SDA sample takes 200ms: the first payload byte alone blows the deadline
	lines.onSample = func() { clk.sleep(200 * time.Millisecond) }

	buf := make([]byte, 3)
	err := b.Transfer(t.Context(), 0x50, &Request{Dir: Read, Data: buf})
	assert.Equal(t, Timeout, StatusOf(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 1, slave.starts, "a timeout is not retried")
	assert.Equal(t, 1, slave.stops, "a timeout still releases the bus")
	assert.Equal(t, []bool{true}, slave.masterA)
}

func TestTransfer_TimeoutOnLastByte(t *testing.T) {
	slave := newSimSlave(0x50)
	lines := newSimLines(slave)
	b, clk := newTestBus(t, lines, WithDeadline(10*time.Millisecond))
	var samples int
	lines.onSample = func() {
		samples++
		// address ACK and first byte ACK are fast, the last byte is slow
		if samples == 3 {
			clk.sleep(20 * time.Millisecond)
		}
	}

	err := b.Transfer(t.Context(), 0x50, &Request{Dir: Write, Data: []byte{0x01, 0x02}})
	assert.ErrorIs(t, err, Timeout)
	assert.Equal(t, 1, slave.starts)
	assert.Equal(t, []byte{0xA0, 0x01, 0x02}, slave.frames[0])
}

func TestTransfer_ContextCancelled(t *testing.T) {
	slave := newSimSlave(0x50)
	lines := newSimLines(slave)
	b, _ := newTestBus(t, lines)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := b.Transfer(ctx, 0x50, &Request{Dir: Write, Data: []byte{0x01, 0x02}})
	assert.ErrorIs(t, err, Timeout)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, slave.starts)
	assert.Equal(t, 1, slave.stops)
	assert.Equal(t, []byte{0xA0, 0x01}, slave.frames[0])
}

func TestTransfer_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		addr Address
		req  *Request
	}{
		{"nil request", 0x50, nil},
		{"empty buffer", 0x50, &Request{Dir: Write}},
		{"zero length buffer", 0x50, &Request{Dir: Read, Data: []byte{}}},
		{"address out of range", 0x80, &Request{Dir: Write, Data: []byte{1}}},
		{"unknown direction", 0x50, &Request{Dir: Direction(7), Data: []byte{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := newSimLines(nil)
			b, clk := newTestBus(t, lines)
			lines.events = nil

			err := b.Transfer(t.Context(), tt.addr, tt.req)
			assert.Equal(t, InvalidArgument, StatusOf(err))
			assert.Empty(t, lines.events, "no bus activity expected")
			assert.Zero(t, clk.slept)
		})
	}

	var b *Bus
	assert.ErrorIs(t, b.Transfer(t.Context(), 0x50, &Request{Data: []byte{1}}), InvalidArgument)
}

func TestTransfer_LineFailureIsRetried(t *testing.T) {
	lines := newSimLines(newSimSlave(0x50))
	b, _ := newTestBus(t, lines, WithRetries(2))
	lines.failSet = errLine

	err := b.Transfer(t.Context(), 0x50, &Request{Dir: Write, Data: []byte{1}})
	assert.ErrorIs(t, err, BusError)
	assert.ErrorIs(t, err, errLine)
}

func TestTransfer_Retries(t *testing.T) {
	slave := newSimSlave(0x50)
	slave.present = false
	b, _ := newTestBus(t, newSimLines(slave), WithRetries(1))

	err := b.Transfer(t.Context(), 0x50, &Request{Dir: Read, Data: make([]byte, 1)})
	assert.ErrorIs(t, err, BusError)
	assert.Equal(t, 1, slave.starts)
}

func TestTransfer_SerializedOnOneBus(t *testing.T) {
	slave := newSimSlave(0x50)
	lines := newSimLines(slave)
	b, _ := newTestBus(t, lines)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = b.Transfer(context.Background(), 0x50, &Request{Dir: Write, Data: []byte{byte(i)}})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	// interleaved transactions would corrupt the frames
	assert.Equal(t, workers, slave.starts)
	require.Len(t, slave.frames, workers)
	for _, frame := range slave.frames {
		require.Len(t, frame, 2)
		assert.Equal(t, byte(0xA0), frame[0])
	}
}

func TestTransfer_IndependentBuses(t *testing.T) {
	first, second := newSimSlave(0x20), newSimSlave(0x21)
	first.data = []byte{0x0F}
	second.data = []byte{0xF0}
	b1, _ := newTestBus(t, newSimLines(first))
	b2, _ := newTestBus(t, newSimLines(second))

	var wg sync.WaitGroup
	buf1, buf2 := make([]byte, 4), make([]byte, 4)
	var err1, err2 error
	wg.Add(2)
	go func() {
		defer wg.Done()
		err1 = b1.Transfer(context.Background(), 0x20, &Request{Dir: Read, Data: buf1})
	}()
	go func() {
		defer wg.Done()
		err2 = b2.Transfer(context.Background(), 0x21, &Request{Dir: Read, Data: buf2})
	}()
	wg.Wait()

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, []byte{0x0F, 0x0F, 0x0F, 0x0F}, buf1)
	assert.Equal(t, []byte{0xF0, 0xF0, 0xF0, 0xF0}, buf2)
}

func TestTransfer_Logging(t *testing.T) {
	var buf bytes.Buffer
	charm := chlog.NewWithOptions(&buf, chlog.Options{Level: chlog.InfoLevel})
	slave := newSimSlave(0x50)
	slave.present = false
	b, _ := newTestBus(t, newSimLines(slave), WithLogger(slog.New(charm)))

	err := b.Transfer(t.Context(), 0x50, &Request{Dir: Write, Data: []byte{1}})
	require.Error(t, err)

	out := buf.String()
	assert.Equal(t, Retries, bytes.Count(buf.Bytes(), []byte("transfer attempt failed")))
	assert.Equal(t, Retries-1, bytes.Count(buf.Bytes(), []byte("retrying transfer")))
	assert.Contains(t, out, "transfer failed")
	assert.NotContains(t, out, "generating START condition", "debug output is filtered")
}

func TestBus_AddressableInterface(t *testing.T) {
	slave := newSimSlave(0x48)
	slave.data = []byte{0x7E}
	lines := newSimLines(slave)
	b, _ := newTestBus(t, lines)
	var bus softi2c.I2CBus = b

	require.NoError(t, bus.WriteToAddr(t.Context(), 0x48, []byte{0x00}))
	buf := make([]byte, 2)
	require.NoError(t, bus.ReadFromAddr(t.Context(), 0x48, buf))
	assert.Equal(t, []byte{0x7E, 0x7E}, buf)
	require.NoError(t, bus.Release(t.Context()))
	assert.Equal(t, 3, slave.stops)

	slave.present = false
	err := bus.WriteToAddr(t.Context(), 0x48, []byte{0x00})
	assert.ErrorIs(t, err, ErrNACK)
	assert.Contains(t, err.Error(), "could not write to i2c bus 48")
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Code
	}{
		{"nil", nil, OK},
		{"bare code", Timeout, Timeout},
		{"error", newError(OutOfResources, "open", "pin %d", 3), OutOfResources},
		{"wrapped", errors.Join(errors.New("x"), wrapError(InvalidArgument, "op", errLine, "")), InvalidArgument},
		{"foreign", errLine, BusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusOf(tt.err))
		})
	}
}

func TestCode_Class(t *testing.T) {
	assert.Equal(t, None, OK.Class())
	assert.Equal(t, Retryable, BusError.Class())
	for _, c := range []Code{InvalidArgument, Timeout, OutOfResources, ConfigurationError} {
		assert.Equal(t, Fatal, c.Class(), c.Error())
	}
	assert.Equal(t, "retryable", Retryable.String())
}

func TestError_Message(t *testing.T) {
	err := wrapError(BusError, "send byte", ErrNACK, "byte %s", hexByte(0x0A))
	assert.Equal(t, "send byte: bus_error: byte 0x0a: NACK received", err.Error())
	assert.Equal(t, "0x05", Address(5).String())
	assert.Equal(t, byte(0x0B), Address(5).Byte(Read))
	assert.Equal(t, byte(0x0A), Address(5).Byte(Write))
}
