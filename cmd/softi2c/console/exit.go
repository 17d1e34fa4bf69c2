package console

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/softi2c/i2c"
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}

// exit codes per bus status
var statusCodes = map[i2c.Code]int{
	i2c.InvalidArgument:    2,
	i2c.BusError:           3,
	i2c.Timeout:            4,
	i2c.OutOfResources:     5,
	i2c.ConfigurationError: 6,
}

// Fail reports a bus error with an exit code derived from its status.
func Fail(err error, msg string, args ...interface{}) cli.ExitCoder {
	status := i2c.StatusOf(err)
	code, ok := statusCodes[status]
	if !ok {
		code = 1
	}
	return cli.Exit(fmt.Sprintf("%s: %s (%s)", fmt.Sprintf(msg, args...), Red(err), Yellow(status)), code)
}
