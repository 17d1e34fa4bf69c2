package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/softi2c/cmd/softi2c/console"
	"github.com/mklimuk/softi2c/gpio"
)

var expanderCmd = cli.Command{
	Name:  "expander",
	Usage: "inspect the MCP23017 expander carrying a bus",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "expander address (hex)",
			Value: fmt.Sprintf("%x", gpio.DefaultMCP23017Address),
		},
	},
	Subcommands: []*cli.Command{
		&expanderReadCmd,
		&expanderStatusCmd,
		&expanderConfigureCmd,
		&expanderPullCmd,
	},
}

// withExpander opens the device transport and runs fn against the expander.
func withExpander(c *cli.Context, fn func(ctx context.Context, exp *gpio.MCP23017) error) error {
	addr, err := parseAddress(c.String("addr"))
	if err != nil {
		return console.Exit(2, "%v", err)
	}
	transport, closer, err := openTransport(c.String("device"))
	if err != nil {
		return console.Fail(err, "could not open %s", c.String("device"))
	}
	defer func() { _ = closer() }()
	ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
	defer cancel()
	return fn(ctx, gpio.NewMCP23017(transport, byte(addr)))
}

func hexArg(c *cli.Context) (byte, error) {
	if c.NArg() != 1 {
		return 0, console.Exit(1, "expected 1 argument, got %d", c.NArg())
	}
	data, err := hex.DecodeString(c.Args().Get(0))
	if err != nil || len(data) != 1 {
		return 0, console.Exit(2, "could not decode data %q", c.Args().Get(0))
	}
	return data[0], nil
}

var expanderReadCmd = cli.Command{
	Name:  "read",
	Usage: "read the levels of port A and B",
	Action: func(c *cli.Context) error {
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017) error {
			res, err := exp.Read(ctx)
			if err != nil {
				return console.Exit(1, "could not read gpio: %v", err)
			}
			console.Printf("\nI/O A: %#08b\nI/O B: %#08b\n", res[0], res[1])
			return nil
		})
	},
}

var expanderStatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the IOCON registry",
	Action: func(c *cli.Context) error {
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017) error {
			data, err := exp.ReadSettings(ctx)
			if err != nil {
				return console.Exit(1, "could not read settings: %v", err)
			}
			console.Printf("\nIOCON content: %#X\n", data)
			return nil
		})
	},
}

var expanderConfigureCmd = cli.Command{
	Name:      "configure",
	Usage:     "write the IOCON registry",
	ArgsUsage: "<hex byte>",
	Action: func(c *cli.Context) error {
		v, err := hexArg(c)
		if err != nil {
			return err
		}
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017) error {
			if err := exp.WriteSettings(ctx, v); err != nil {
				return console.Exit(1, "could not write settings: %v", err)
			}
			console.Printf("\nWrote IOCON content: %#X\n", v)
			return nil
		})
	},
}

var expanderPullCmd = cli.Command{
	Name:      "pull",
	Usage:     "set the pull-up and direction of both ports (all inputs)",
	ArgsUsage: "<hex byte>",
	Action: func(c *cli.Context) error {
		v, err := hexArg(c)
		if err != nil {
			return err
		}
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017) error {
			if err := exp.Init(ctx, 0xFF, 0xFF); err != nil {
				return console.Exit(1, "could not initialize gpio: %v", err)
			}
			if err := exp.PullUp(ctx, v, v); err != nil {
				return console.Exit(1, "could not write pull up settings: %v", err)
			}
			console.Printf("\nWrote GPPU content: %#X\n", v)
			return nil
		})
	},
}
