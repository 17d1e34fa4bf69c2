package gpio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mklimuk/softi2c"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var _ softi2c.Lines = &PeriphLines{}

// PeriphLines drives host GPIO through periph. A released line is an input
// with the pull-up enabled, a low line is an output driving low.
type PeriphLines struct {
	mx     sync.Mutex
	lookup func(name string) gpio.PinIO
	pins   map[softi2c.Pin]gpio.PinIO
}

// NewPeriphLines initializes the host drivers and resolves pins by their
// GPIO number (e.g. GPIO2).
func NewPeriphLines() (*PeriphLines, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	return NewPeriphLinesWith(gpioreg.ByName), nil
}

// NewPeriphLinesWith resolves pins with lookup instead of the global registry.
func NewPeriphLinesWith(lookup func(name string) gpio.PinIO) *PeriphLines {
	return &PeriphLines{
		lookup: lookup,
		pins:   map[softi2c.Pin]gpio.PinIO{},
	}
}

func PinName(pin softi2c.Pin) string {
	return fmt.Sprintf("GPIO%d", pin)
}

func (l *PeriphLines) pin(pin softi2c.Pin) (gpio.PinIO, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	p, ok := l.pins[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d is not configured", pin)
	}
	return p, nil
}

func (l *PeriphLines) ConfigureOpenDrainOutput(pin softi2c.Pin) error {
	p := l.lookup(PinName(pin))
	if p == nil {
		return fmt.Errorf("could not find %s", PinName(pin))
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("could not release %s: %w", p, err)
	}
	l.mx.Lock()
	l.pins[pin] = p
	l.mx.Unlock()
	return nil
}

func (l *PeriphLines) SetLevel(pin softi2c.Pin, high bool) error {
	p, err := l.pin(pin)
	if err != nil {
		return err
	}
	if high {
		err = p.In(gpio.PullUp, gpio.NoEdge)
	} else {
		err = p.Out(gpio.Low)
	}
	if err != nil {
		return fmt.Errorf("could not set %s: %w", p, err)
	}
	return nil
}

func (l *PeriphLines) GetLevel(pin softi2c.Pin) (bool, error) {
	p, err := l.pin(pin)
	if err != nil {
		return false, err
	}
	return p.Read() == gpio.High, nil
}

// ReleasePin leaves the pin as a floating input and forgets it.
func (l *PeriphLines) ReleasePin(pin softi2c.Pin) error {
	p, err := l.pin(pin)
	if err != nil {
		return err
	}
	l.mx.Lock()
	delete(l.pins, pin)
	l.mx.Unlock()
	if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
		return fmt.Errorf("could not release %s: %w", p, err)
	}
	return nil
}
