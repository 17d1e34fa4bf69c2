package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/softi2c/adapter"
	"github.com/mklimuk/softi2c/cmd/softi2c/console"
)

var adapterIDFlag = &cli.IntFlag{
	Name:  "id",
	Usage: "index of the adapter when several are attached",
	Value: -1,
}

var adapterCmd = cli.Command{
	Name:  "adapter",
	Usage: "MCP2221 USB adapter utilities",
	Subcommands: cli.Commands{
		&adapterDetectCmd,
		&adapterStatusCmd,
		&adapterReleaseCmd,
		&adapterGPIOCmd,
	},
}

func encode(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer func() { _ = enc.Close() }()
	if err := enc.Encode(v); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return nil
}

var adapterDetectCmd = cli.Command{
	Name:  "detect",
	Usage: "list attached adapters",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "all",
			Usage: "list every HID device",
		},
	},
	Action: func(c *cli.Context) error {
		var devices []hid.DeviceInfo
		if c.Bool("all") {
			devices = hid.Enumerate(0, 0)
		} else {
			devices = adapter.Detect()
		}
		w := tabwriter.NewWriter(os.Stdout, 8, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "ID\tPATH\tSERIAL\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\n")
		for i, dev := range devices {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%#x\t%#x\t%s\t%s\n",
				i, dev.Path, dev.Serial, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product)
		}
		_ = w.Flush()
		return nil
	},
}

var adapterStatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the I2C engine status",
	Flags: []cli.Flag{adapterIDFlag},
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(adapter.WithDevice(c.Int("id")))
		defer func() { _ = a.Close() }()
		status, err := a.Status(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return encode(status)
	},
}

var adapterReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current I2C engine transfer",
	Flags: []cli.Flag{adapterIDFlag},
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(adapter.WithDevice(c.Int("id")))
		defer func() { _ = a.Close() }()
		status, err := a.ReleaseBus(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return encode(status)
	},
}

var adapterGPIOCmd = cli.Command{
	Name:  "gpio",
	Usage: "print GP line values and power-up settings",
	Flags: []cli.Flag{adapterIDFlag},
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(adapter.WithDevice(c.Int("id")))
		defer func() { _ = a.Close() }()
		values, err := a.ReadGPIO(c.Context)
		if err != nil {
			return console.Exit(1, "could not read GPIO values: %s", console.Red(err))
		}
		params, err := a.GetGPIOParameters(c.Context)
		if err != nil {
			return console.Exit(1, "could not read GPIO parameters: %s", console.Red(err))
		}
		return encode(map[string]any{
			"values":     values,
			"parameters": params,
		})
	},
}
