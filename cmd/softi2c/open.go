package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/softi2c"
	"github.com/mklimuk/softi2c/adapter"
	"github.com/mklimuk/softi2c/config"
	"github.com/mklimuk/softi2c/gpio"
	"github.com/mklimuk/softi2c/i2c"
)

var busFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "bus configuration file",
		EnvVars: []string{"SOFTI2C_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "bus",
		Aliases: []string{"b"},
		Usage:   "name of the configured bus to use",
	},
	&cli.StringFlag{
		Name:  "backend",
		Usage: "GPIO backend when no config file is given (periph|gobot|mcp2221|mcp23017)",
		Value: string(config.BackendPeriph),
	},
	&cli.UintFlag{
		Name:  "scl",
		Usage: "SCL pin when no config file is given",
		Value: 3,
	},
	&cli.UintFlag{
		Name:  "sda",
		Usage: "SDA pin when no config file is given",
		Value: 2,
	},
	&cli.StringFlag{
		Name:  "rate",
		Usage: "clock rate when no config file is given",
		Value: "100kHz",
	},
	&cli.StringFlag{
		Name:  "device",
		Usage: "host I2C device carrying an MCP23017 expander, or mcp2221",
		Value: "/dev/i2c-1",
	},
}

// selectBus returns the bus named by --bus in --config, or a bus built from
// the pin flags.
func selectBus(c *cli.Context) (config.Bus, error) {
	if path := c.String("config"); path != "" {
		f, err := config.Load(path)
		if err != nil {
			return config.Bus{}, err
		}
		return f.Lookup(c.String("bus"))
	}
	var rate physic.Frequency
	if err := rate.Set(c.String("rate")); err != nil {
		return config.Bus{}, fmt.Errorf("%w: invalid rate: %w", i2c.ConfigurationError, err)
	}
	scl, sda := softi2c.Pin(c.Uint("scl")), softi2c.Pin(c.Uint("sda"))
	freq := config.Frequency(rate)
	b := config.Bus{
		Name:      "cli",
		Backend:   config.Backend(c.String("backend")),
		SCL:       &scl,
		SDA:       &sda,
		ClockRate: &freq,
		Device:    c.String("device"),
	}
	if !b.Backend.Valid() {
		return config.Bus{}, fmt.Errorf("%w: unknown backend %q", i2c.ConfigurationError, b.Backend)
	}
	return b, nil
}

// openLines builds the GPIO backend of b. The returned closer releases
// whatever the backend holds.
func openLines(b config.Bus) (softi2c.Lines, func() error, error) {
	nop := func() error { return nil }
	switch b.Backend {
	case config.BackendPeriph:
		lines, err := gpio.NewPeriphLines()
		if err != nil {
			return nil, nil, err
		}
		return lines, nop, nil
	case config.BackendGobot:
		if b.SCL == nil || b.SDA == nil {
			return nil, nil, fmt.Errorf("%w: bus %q: missing pins", i2c.ConfigurationError, b.Name)
		}
		lines, err := gpio.NewNanoPiLines(*b.SCL, *b.SDA)
		if err != nil {
			return nil, nil, err
		}
		return lines, lines.Close, nil
	case config.BackendMCP2221:
		a := adapter.NewMCP2221(adapter.WithDevice(b.Adapter))
		return a, a.Close, nil
	case config.BackendMCP23017:
		transport, closer, err := openTransport(b.Device)
		if err != nil {
			return nil, nil, err
		}
		addr := b.Address
		if addr == 0 {
			addr = gpio.DefaultMCP23017Address
		}
		return gpio.NewMCP23017(transport, addr), closer, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", i2c.ConfigurationError, b.Backend)
	}
}

// openTransport opens the hardware bus an expander sits on.
func openTransport(device string) (softi2c.I2CBus, func() error, error) {
	if device == string(config.BackendMCP2221) {
		a := adapter.NewMCP2221()
		return a, a.Close, nil
	}
	host, err := i2c.NewHostBus(device)
	if err != nil {
		return nil, nil, err
	}
	return host, host.Close, nil
}

// openBus opens the software bus selected by the command line. The closer
// closes the bus and then its backend.
func openBus(c *cli.Context) (*i2c.Bus, func() error, error) {
	b, err := selectBus(c)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := b.Config()
	if err != nil {
		return nil, nil, err
	}
	lines, closeLines, err := openLines(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", i2c.OutOfResources, err)
	}
	log := slog.Default().With("bus", b.Name, "backend", string(b.Backend))
	opts := append(b.Options(), i2c.WithLogger(log))
	bus, err := i2c.Open(lines, cfg, opts...)
	if err != nil {
		_ = closeLines()
		return nil, nil, err
	}
	return bus, func() error {
		return errors.Join(bus.Close(), closeLines())
	}, nil
}
