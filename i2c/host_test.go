package i2c

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestHostBus_ReadWrite(t *testing.T) {
	playback := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x20, W: []byte{0x12, 0xAA}},
			{Addr: 0x20, R: []byte{0x3C, 0x81}},
		},
		DontPanic: true,
	}
	b := &HostBus{bus: playback}

	require.NoError(t, b.WriteToAddr(t.Context(), 0x20, []byte{0x12, 0xAA}))
	buf := make([]byte, 2)
	require.NoError(t, b.ReadFromAddr(t.Context(), 0x20, buf))
	assert.Equal(t, []byte{0x3C, 0x81}, buf)
	assert.NoError(t, b.Release(t.Context()))
	assert.NoError(t, b.Close(), "every recorded transaction was played")
}

func TestHostBus_Errors(t *testing.T) {
	playback := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: 0x20, W: []byte{0x01}}},
		DontPanic: true,
	}
	b := &HostBus{bus: playback}

	err := b.WriteToAddr(t.Context(), 0x21, []byte{0x01})
	assert.ErrorContains(t, err, "could not write to playback at 0x21")
	err = b.ReadFromAddr(t.Context(), 0x20, make([]byte, 1))
	assert.ErrorContains(t, err, "could not read from playback at 0x20")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.ErrorIs(t, b.WriteToAddr(ctx, 0x20, []byte{0x01}), context.Canceled)
	assert.ErrorIs(t, b.ReadFromAddr(ctx, 0x20, make([]byte, 1)), context.Canceled)
	assert.Error(t, b.Close(), "the write was never played")
}
