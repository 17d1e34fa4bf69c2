package gpio

import (
	"fmt"
	"strconv"

	"github.com/mklimuk/softi2c"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/platforms/adaptors"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
)

// DigitalPins is the part of a gobot adaptor used to drive the lines.
type DigitalPins interface {
	gpio.DigitalReader
	gpio.DigitalWriter
}

var _ softi2c.Lines = &GobotLines{}

// GobotLines drives lines through a gobot adaptor whose pins are already
// set up as open-drain outputs: writing 1 releases the line.
type GobotLines struct {
	pins     DigitalPins
	finalize func() error
}

func NewGobotLines(pins DigitalPins) *GobotLines {
	return &GobotLines{pins: pins}
}

// NewNanoPiLines connects a NanoPi NEO adaptor with scl and sda (header pin
// numbers) as pulled-up open-drain lines.
func NewNanoPiLines(scl, sda softi2c.Pin) (*GobotLines, error) {
	sclName, sdaName := headerPin(scl), headerPin(sda)
	npi := nanopi.NewNeoAdaptor(
		adaptors.WithGpiosOpenDrain(sclName, sdaName),
		adaptors.WithGpiosPullUp(sclName, sdaName),
	)
	if err := npi.Connect(); err != nil {
		return nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	return &GobotLines{pins: npi, finalize: npi.Finalize}, nil
}

func headerPin(pin softi2c.Pin) string {
	return strconv.Itoa(int(pin))
}

func (l *GobotLines) ConfigureOpenDrainOutput(pin softi2c.Pin) error {
	return l.SetLevel(pin, true)
}

func (l *GobotLines) SetLevel(pin softi2c.Pin, high bool) error {
	var v byte
	if high {
		v = 1
	}
	if err := l.pins.DigitalWrite(headerPin(pin), v); err != nil {
		return fmt.Errorf("could not write pin %d: %w", pin, err)
	}
	return nil
}

func (l *GobotLines) GetLevel(pin softi2c.Pin) (bool, error) {
	v, err := l.pins.DigitalRead(headerPin(pin))
	if err != nil {
		return false, fmt.Errorf("could not read pin %d: %w", pin, err)
	}
	return v != 0, nil
}

// Close finalizes the adaptor if the lines own it.
func (l *GobotLines) Close() error {
	if l.finalize == nil {
		return nil
	}
	return l.finalize()
}
