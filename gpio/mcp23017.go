package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/softi2c"
)

type registry int

const DefaultMCP23017Address = 0x21

// MCP23017Pins is the number of lines on the expander: 0-7 are port A and
// 8-15 port B.
const MCP23017Pins = 16

// BRegistries
const (
	IODIRA registry = iota
	IOPOLA
	GPINTENA
	DEFVALA
	INTCONA
	IOCONA
	GPPUA
	INTFA
	INTCAPA
	GPIOA
	OLATA
	IODIRB
	IOPOLB
	GPINTENB
	DEFVALB
	INTCONB
	IOCONB
	GPPUB
	INTFB
	INTCAPB
	GPIOB
	OLATB
)

var (
	BankAddr = []map[registry]byte{
		{
			IODIRA:   0x00,
			IOPOLA:   0x02,
			GPINTENA: 0x04,
			DEFVALA:  0x06,
			INTCONA:  0x08,
			IOCONA:   0x0A,
			GPPUA:    0x0C,
			INTFA:    0x0E,
			INTCAPA:  0x10,
			GPIOA:    0x12,
			OLATA:    0x14,
			IODIRB:   0x01,
			IOPOLB:   0x03,
			GPINTENB: 0x05,
			DEFVALB:  0x07,
			INTCONB:  0x09,
			IOCONB:   0x0B,
			GPPUB:    0x0D,
			INTFB:    0x0F,
			INTCAPB:  0x11,
			GPIOB:    0x13,
			OLATB:    0x15,
		},
		{
			IODIRA:   0x00,
			IOPOLA:   0x01,
			GPINTENA: 0x02,
			DEFVALA:  0x03,
			INTCONA:  0x04,
			IOCONA:   0x05,
			GPPUA:    0x06,
			INTFA:    0x07,
			INTCAPA:  0x08,
			GPIOA:    0x09,
			OLATA:    0x0A,
			IODIRB:   0x10,
			IOPOLB:   0x11,
			GPINTENB: 0x12,
			DEFVALB:  0x13,
			INTCONB:  0x14,
			IOCONB:   0x15,
			GPPUB:    0x16,
			INTFB:    0x17,
			INTCAPB:  0x18,
			GPIOB:    0x19,
			OLATB:    0x1A,
		},
	}
)

type port struct {
	name  string
	iodir registry
	gppu  registry
	gpio  registry
	olat  registry
}

var ports = [2]port{
	{name: "A", iodir: IODIRA, gppu: GPPUA, gpio: GPIOA, olat: OLATA},
	{name: "B", iodir: IODIRB, gppu: GPPUB, gpio: GPIOB, olat: OLATB},
}

/*
MCP23017 drives its lines open-drain for a software I2C master:

1. Clear the line's OLAT bit so the output latch is always low
2. Enable the internal pull-up in GPPU
3. Release = IODIR bit set (input, pulled up); drive low = IODIR bit cleared
4. The wire level is read back from the GPIO register
*/
type MCP23017 struct {
	mx         sync.Mutex
	transport  softi2c.I2CBus
	bank       int
	address    byte
	retryLimit int
	timeout    time.Duration

	// register shadows, power-on values
	iodir [2]byte
	gppu  [2]byte
	olat  [2]byte
}

func NewMCP23017(bus softi2c.I2CBus, address byte) *MCP23017 {
	return &MCP23017{
		retryLimit: 3,
		transport:  bus,
		address:    address,
		timeout:    time.Second,
		iodir:      [2]byte{0xFF, 0xFF},
	}
}

var _ softi2c.Lines = &MCP23017{}

func (m *MCP23017) writeRegistry(ctx context.Context, reg registry, value byte) error {
	addr := BankAddr[m.bank][reg]
	var err error
	for i := m.retryLimit; i > 0; i-- {
		err = m.transport.WriteToAddr(ctx, m.address, []byte{addr, value})
		if err == nil {
			return nil
		}
		if !errors.Is(err, softi2c.ErrBusBusy) {
			return fmt.Errorf("could not write registry %#x: %w", addr, err)
		}
		// try to release the bus
		_ = m.transport.Release(ctx)
	}
	return fmt.Errorf("could not write registry %#x (retry limit reached): %w", addr, err)
}

func (m *MCP23017) readRegistry(ctx context.Context, reg registry) (byte, error) {
	addr := BankAddr[m.bank][reg]
	var err error
	buf := make([]byte, 1)
	for i := m.retryLimit; i > 0; i-- {
		err = m.transport.WriteToAddr(ctx, m.address, []byte{addr})
		if err == nil {
			err = m.transport.ReadFromAddr(ctx, m.address, buf)
		}
		if err == nil {
			return buf[0], nil
		}
		if !errors.Is(err, softi2c.ErrBusBusy) {
			return 0x00, fmt.Errorf("could not read registry %#x: %w", addr, err)
		}
		// try to release the bus
		_ = m.transport.Release(ctx)
	}
	return 0x00, fmt.Errorf("could not read registry %#x (retry limit reached): %w", addr, err)
}

// Init sets IODIR registry to inout on I/O pool A and B
func (m *MCP23017) Init(ctx context.Context, inoutA, inoutB byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	for i, v := range [2]byte{inoutA, inoutB} {
		if err := m.writeRegistry(ctx, ports[i].iodir, v); err != nil {
			return fmt.Errorf("could not initialize gpio %s set: %w", ports[i].name, err)
		}
		m.iodir[i] = v
	}
	return nil
}

// PullUp sets up pull up resistors on both sets
func (m *MCP23017) PullUp(ctx context.Context, settingsA, settingsB byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	for i, v := range [2]byte{settingsA, settingsB} {
		if err := m.writeRegistry(ctx, ports[i].gppu, v); err != nil {
			return fmt.Errorf("could not set pull-up on gpio %s set: %w", ports[i].name, err)
		}
		m.gppu[i] = v
	}
	return nil
}

// Read returns the levels of set A and B.
func (m *MCP23017) Read(ctx context.Context) ([]byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	res := make([]byte, 2)
	for i := range ports {
		v, err := m.readRegistry(ctx, ports[i].gpio)
		if err != nil {
			return nil, fmt.Errorf("could not read gpio set %s: %w", ports[i].name, err)
		}
		res[i] = v
	}
	return res, nil
}

// ReadSettings reads contents of IOCON registry
func (m *MCP23017) ReadSettings(ctx context.Context) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	v, err := m.readRegistry(ctx, IOCONA)
	if err != nil {
		return 0, fmt.Errorf("could not read settings: %w", err)
	}
	return v, nil
}

// WriteSettings writes IOCON. Both IOCON addresses map to the same
// registry; the BANK bit (7) switches the address layout used afterwards.
func (m *MCP23017) WriteSettings(ctx context.Context, settings byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if err := m.writeRegistry(ctx, IOCONA, settings); err != nil {
		return fmt.Errorf("could not write settings: %w", err)
	}
	m.bank = int(settings >> 7)
	return nil
}

func (m *MCP23017) locate(pin softi2c.Pin) (int, byte, error) {
	if pin >= MCP23017Pins {
		return 0, 0, fmt.Errorf("pin %d out of range (0-%d)", pin, MCP23017Pins-1)
	}
	return int(pin / 8), 1 << (pin % 8), nil
}

func (m *MCP23017) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

func (m *MCP23017) ConfigureOpenDrainOutput(pin softi2c.Pin) error {
	p, mask, err := m.locate(pin)
	if err != nil {
		return err
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	ctx, cancel := m.opContext()
	defer cancel()
	if err := m.writeRegistry(ctx, ports[p].olat, m.olat[p]&^mask); err != nil {
		return fmt.Errorf("could not clear output latch of pin %d: %w", pin, err)
	}
	m.olat[p] &^= mask
	if err := m.writeRegistry(ctx, ports[p].gppu, m.gppu[p]|mask); err != nil {
		return fmt.Errorf("could not enable pull-up of pin %d: %w", pin, err)
	}
	m.gppu[p] |= mask
	if err := m.writeRegistry(ctx, ports[p].iodir, m.iodir[p]|mask); err != nil {
		return fmt.Errorf("could not release pin %d: %w", pin, err)
	}
	m.iodir[p] |= mask
	return nil
}

// SetLevel releases the line (high) or turns it into a low output. IODIR is
// only written when the direction actually changes.
func (m *MCP23017) SetLevel(pin softi2c.Pin, high bool) error {
	p, mask, err := m.locate(pin)
	if err != nil {
		return err
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	dir := m.iodir[p] &^ mask
	if high {
		dir |= mask
	}
	if dir == m.iodir[p] {
		return nil
	}
	ctx, cancel := m.opContext()
	defer cancel()
	if err := m.writeRegistry(ctx, ports[p].iodir, dir); err != nil {
		return fmt.Errorf("could not set level of pin %d: %w", pin, err)
	}
	m.iodir[p] = dir
	return nil
}

func (m *MCP23017) GetLevel(pin softi2c.Pin) (bool, error) {
	p, mask, err := m.locate(pin)
	if err != nil {
		return false, err
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	ctx, cancel := m.opContext()
	defer cancel()
	v, err := m.readRegistry(ctx, ports[p].gpio)
	if err != nil {
		return false, fmt.Errorf("could not read level of pin %d: %w", pin, err)
	}
	return v&mask != 0, nil
}

// ReleasePin leaves the pin as a pulled-up input.
func (m *MCP23017) ReleasePin(pin softi2c.Pin) error {
	return m.SetLevel(pin, true)
}
