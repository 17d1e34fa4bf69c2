package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/softi2c/adapter"
	"github.com/mklimuk/softi2c/config"
	"github.com/mklimuk/softi2c/i2c"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		given    string
		expected i2c.Address
		fails    bool
	}{
		{"50", 0x50, false},
		{"0x3C", 0x3C, false},
		{"7f", 0x7F, false},
		{"80", 0, true},
		{"zz", 0, true},
		{"100", 0, true},
	}
	for _, test := range tests {
		t.Run(test.given, func(t *testing.T) {
			addr, err := parseAddress(test.given)
			if test.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, addr)
		})
	}
}

func testContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range busFlags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestSelectBus_Flags(t *testing.T) {
	b, err := selectBus(testContext(t, "--backend", "mcp2221", "--scl", "0", "--sda", "1", "--rate", "1kHz"))
	require.NoError(t, err)
	assert.Equal(t, config.BackendMCP2221, b.Backend)
	cfg, err := b.Config()
	require.NoError(t, err)
	assert.Equal(t, i2c.Config{SCL: 0, SDA: 1, ClockRate: physic.KiloHertz}, cfg)

	_, err = selectBus(testContext(t, "--backend", "spi"))
	assert.ErrorIs(t, err, i2c.ConfigurationError)
	_, err = selectBus(testContext(t, "--rate", "fast"))
	assert.ErrorIs(t, err, i2c.ConfigurationError)
}

func TestSelectBus_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buses.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
buses:
  - name: a
    backend: mcp2221
    scl: 0
    sda: 1
    clock_rate: 2kHz
  - name: b
    scl: 2
    sda: 3
    clock_rate: 100kHz
`), 0o600))

	b, err := selectBus(testContext(t, "--config", path, "--bus", "a"))
	require.NoError(t, err)
	assert.Equal(t, "a", b.Name)

	_, err = selectBus(testContext(t, "--config", path, "--bus", "c"))
	assert.ErrorIs(t, err, config.ErrBusNotFound)
}

func TestOpenLines_MCP2221(t *testing.T) {
	b, err := selectBus(testContext(t, "--backend", "mcp2221"))
	require.NoError(t, err)
	lines, closer, err := openLines(b)
	require.NoError(t, err)
	assert.IsType(t, &adapter.MCP2221{}, lines)
	// nothing was opened yet
	assert.NoError(t, closer())
}
