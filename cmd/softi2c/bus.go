package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/softi2c/cmd/softi2c/console"
	"github.com/mklimuk/softi2c/i2c"
)

const commandTimeout = 10 * time.Second

func parseAddress(s string) (i2c.Address, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("could not decode address %q: %w", s, err)
	}
	addr := i2c.Address(v)
	if !addr.Valid() {
		return 0, fmt.Errorf("address %s is not a 7-bit address", addr)
	}
	return addr, nil
}

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "probe every non-reserved address",
	Action: func(c *cli.Context) error {
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Fail(err, "could not open bus")
		}
		defer func() { _ = closeBus() }()
		ctx, cancel := context.WithTimeout(c.Context, time.Minute)
		defer cancel()
		found, err := bus.Scan(ctx)
		if err != nil {
			return console.Fail(err, "scan failed")
		}
		for _, addr := range found {
			console.PInfof(console.PictoPin, "device at %s", console.White(addr))
		}
		console.PInfof(console.PictoFinish, "%d device(s) found on %s", len(found), bus)
		return nil
	},
}

var probeCmd = cli.Command{
	Name:      "probe",
	Usage:     "check whether a device acknowledges its address",
	ArgsUsage: "<addr>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected 1 argument, got %d", c.NArg())
		}
		addr, err := parseAddress(c.Args().Get(0))
		if err != nil {
			return console.Exit(2, "%v", err)
		}
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Fail(err, "could not open bus")
		}
		defer func() { _ = closeBus() }()
		ok, err := bus.Probe(c.Context, addr)
		if err != nil {
			return console.Fail(err, "probe failed")
		}
		if !ok {
			return console.Exit(3, "no device at %s", addr)
		}
		console.PInfof(console.PictoPin, "device at %s acknowledged", console.White(addr))
		return nil
	},
}

var readCmd = cli.Command{
	Name:      "read",
	Usage:     "read bytes from a device",
	ArgsUsage: "<addr> <count>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
		}
		addr, err := parseAddress(c.Args().Get(0))
		if err != nil {
			return console.Exit(2, "%v", err)
		}
		count, err := strconv.Atoi(c.Args().Get(1))
		if err != nil || count < 1 {
			return console.Exit(2, "invalid byte count %q", c.Args().Get(1))
		}
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Fail(err, "could not open bus")
		}
		defer func() { _ = closeBus() }()
		ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
		defer cancel()
		buf := make([]byte, count)
		err = bus.Transfer(ctx, addr, &i2c.Request{Dir: i2c.Read, Data: buf})
		if err != nil {
			return console.Fail(err, "read from %s failed", addr)
		}
		console.Printf("%s\n", console.Hex(buf))
		return nil
	},
}

var writeCmd = cli.Command{
	Name:      "write",
	Usage:     "write hex encoded bytes to a device",
	ArgsUsage: "<addr> <hex data>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "do not ask for confirmation",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
		}
		addr, err := parseAddress(c.Args().Get(0))
		if err != nil {
			return console.Exit(2, "%v", err)
		}
		data, err := hex.DecodeString(c.Args().Get(1))
		if err != nil {
			return console.Exit(2, "could not decode data: %v", err)
		}
		if !c.Bool("yes") {
			ok, err := console.Confirm(fmt.Sprintf("write %s to %s?", console.Hex(data), addr))
			if err != nil {
				return console.Exit(1, "prompt error: %v", err)
			}
			if !ok {
				console.PInfof(console.PictoStop, "aborted")
				return nil
			}
		}
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Fail(err, "could not open bus")
		}
		defer func() { _ = closeBus() }()
		ctx, cancel := context.WithTimeout(c.Context, commandTimeout)
		defer cancel()
		err = bus.Transfer(ctx, addr, &i2c.Request{Dir: i2c.Write, Data: data})
		if err != nil {
			return console.Fail(err, "write to %s failed", addr)
		}
		console.Infof("wrote %d byte(s) to %s", len(data), addr)
		return nil
	},
}

var linesCmd = cli.Command{
	Name:  "lines",
	Usage: "show the current SCL and SDA levels",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "release",
			Usage: "issue a STOP condition first",
		},
	},
	Action: func(c *cli.Context) error {
		bus, closeBus, err := openBus(c)
		if err != nil {
			return console.Fail(err, "could not open bus")
		}
		defer func() { _ = closeBus() }()
		if c.Bool("release") {
			if err := bus.Release(c.Context); err != nil {
				return console.Fail(err, "could not release bus")
			}
		}
		scl, sda, err := bus.Levels()
		if err != nil {
			return console.Fail(err, "could not read lines")
		}
		console.Printf("SCL (pin %d): %s  SDA (pin %d): %s  half-bit: %s\n",
			bus.SCL(), console.Level(scl), bus.SDA(), console.Level(sda), bus.HalfBit())
		if !scl || !sda {
			console.Warnf("bus is not idle")
		}
		return nil
	},
}
