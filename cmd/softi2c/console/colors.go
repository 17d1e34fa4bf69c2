package console

import (
	"fmt"

	"github.com/fatih/color"
)

// Available ANSI colors
var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
	Bold   = color.New(color.Bold).SprintFunc()
)

// Level renders a line level as a colored H or L.
func Level(high bool) string {
	if high {
		return Green("H")
	}
	return Red("L")
}

// Hex renders b as space separated hex bytes.
func Hex(b []byte) string {
	var s string
	for i, v := range b {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%02x", v)
	}
	return White(s)
}
