package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/softi2c"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

// GPIOPins is the number of general purpose lines (GP0-GP3).
const GPIOPins = 4

var ErrCommandUnsupported = errors.New("unsupported command")
var ErrCommandFailed = errors.New("command failed")
var ErrPayloadTooLarge = errors.New("payload does not fit in one report")
var ErrNotGPIO = errors.New("pin is not configured for GPIO operation")

const (
	cmdStatus         = 0x10
	cmdSetGPIOValues  = 0x50
	cmdGetGPIOValues  = 0x51
	cmdSetSRAM        = 0x60
	cmdGetSRAM        = 0x61
	cmdI2CWrite       = 0x90
	cmdI2CRead        = 0x91
	cmdI2CGetData     = 0x40
	cmdReadFlash      = 0xB0
	cmdWriteFlash     = 0xB1
	pinNotGPIO        = 0xEE
	reportSize        = 64
	defaultDeviceWait = 50 * time.Millisecond
)

// Device is an open HID handle.
type Device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Opener opens the adapter with the given enumeration index; a negative
// index requires exactly one adapter to be attached.
type Opener func(id int) (Device, error)

type MCP2221 struct {
	mx           sync.Mutex
	open         Opener
	id           int
	dev          Device
	request      []byte
	response     []byte
	responseWait time.Duration
	log          *slog.Logger
}

type Option func(*MCP2221)

// WithDevice selects one of several attached adapters by enumeration index.
func WithDevice(id int) Option {
	return func(d *MCP2221) {
		d.id = id
	}
}

func WithOpener(open Opener) Option {
	return func(d *MCP2221) {
		d.open = open
	}
}

// WithResponseWait sets how long I2C engine commands wait before reading
// the response.
func WithResponseWait(wait time.Duration) Option {
	return func(d *MCP2221) {
		d.responseWait = wait
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(d *MCP2221) {
		d.log = log
	}
}

type MCP2221Status struct {
	I2CDataBufferCounter   int
	I2CSpeedDivider        int
	I2CTimeout             int
	CurrentAddress         string
	LastWriteRequestedSize uint16
	LastWriteSentSize      uint16
	ReadPending            int
}

type GPIOMode byte

const (
	GPIOModeOut         GPIOMode = 0b00000000
	GPIOModeIn          GPIOMode = 0b00001000
	GPIOModeNoOperation GPIOMode = 0xEF
)

func (m GPIOMode) String() string {
	switch m {
	case GPIOModeIn:
		return "INPUT"
	case GPIOModeOut:
		return "OUTPUT"
	default:
		return "NOOP"
	}
}

type GPIODesignation byte

const (
	GPIOOperation GPIODesignation = 0b00000000
	// This is alternate function of GPIO0
	GPIO0LedUartRx GPIODesignation = 0b00000001
	// This is the dedicated function operation of GPIO0
	GPIO0SSPND GPIODesignation = 0b00000010
	// This is the dedicated function of GPIO1
	GPIO1ClockOutput GPIODesignation = 0b00000001
	// This is the alternate function 0 of GPIO1
	GPIO1ADC1 GPIODesignation = 0b00000010
	// This is the alternate function 1 of GPIO1
	GPIO1LedUartTx GPIODesignation = 0b00000011
	// This is the alternate function 2 of GPIO1
	GPIO1InterruptDetection GPIODesignation = 0b00000100
	// This is the dedicated function of GPIO2
	GPIO2ClockOutput GPIODesignation = 0b00000001
	// This is the alternate function 0 of GPIO2
	GPIO2ADC2 GPIODesignation = 0b00000010
	// This is the alternate function 1 of GPIO2
	GPIO2DAC1 GPIODesignation = 0b00000011
	// This is the dedicated function of GPIO3
	GPIO3LEDI2C GPIODesignation = 0b00000001
	// This is the alternate function 0 of GPIO3
	GPIO3ADC3 GPIODesignation = 0b00000010
	// This is the alternate function 1 of GPIO3
	GPIO3DAC2 GPIODesignation = 0b00000011
)

const gpioValueMask = 0b00010000
const gpioModeMask = 0b00001000
const gpioOperationMask = 0b00000111

// GPIOValue is the state of one GP line as reported by the adapter.
type GPIOValue struct {
	Mode  GPIOMode `yaml:"mode"`
	Value byte     `yaml:"value"`
}

// GPIOParameter is the power-up configuration of one GP line.
type GPIOParameter struct {
	Mode        GPIOMode        `yaml:"mode"`
	Designation GPIODesignation `yaml:"designation"`
}

func NewMCP2221(opts ...Option) *MCP2221 {
	d := &MCP2221{
		open:         OpenHID,
		id:           -1,
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: defaultDeviceWait,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect lists the attached adapters.
func Detect() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

// OpenHID opens an attached adapter through hidapi.
func OpenHID(id int) (Device, error) {
	devs := Detect()
	if len(devs) == 0 {
		return nil, fmt.Errorf("MCP2221 device not found")
	}
	if id < 0 {
		if len(devs) > 1 {
			return nil, fmt.Errorf("ambiguous device identification")
		}
		id = 0
	}
	if id >= len(devs) {
		return nil, fmt.Errorf("no device with id %d", id)
	}
	dev, err := devs[id].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

var (
	_ softi2c.I2CBus = &MCP2221{}
	_ softi2c.Lines  = &MCP2221{}
)

// WriteToAddr sends buffer in a single report, so at most reportSize-4
// bytes per call.
func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if len(buffer) > reportSize-4 {
		return fmt.Errorf("write to %x: %w: %d bytes", address, ErrPayloadTooLarge, len(buffer))
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdI2CWrite
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	if len(buffer) > 0 {
		copy(d.request[4:], buffer)
	}
	err := d.send(ctx, d.responseWait)
	if err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	// write could not be performed
	if d.response[1] == 0x01 {
		d.log.Debug("adapter busy")
		return softi2c.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdI2CRead
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	err := d.send(ctx, d.responseWait)
	if err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	if d.response[1] == 0x01 {
		d.log.Debug("adapter busy")
		return softi2c.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdI2CGetData
	err = d.send(ctx, d.responseWait)
	if err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == 0x41 {
		return fmt.Errorf("error reading the I2C slave data from the I2C engine")
	}
	if d.response[3] == 127 || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

// SetGPIOParameters writes the power-up GP configuration to flash.
func (d *MCP2221) SetGPIOParameters(ctx context.Context, params [GPIOPins]GPIOParameter) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdWriteFlash
	d.request[1] = 0x01
	for i, p := range params {
		d.request[2+i] = byte(p.Designation) | byte(p.Mode)
	}
	err := d.send(ctx, 0)
	if err != nil {
		return fmt.Errorf("set GP parameters command write failed: %w", err)
	}
	if d.response[1] == 0x01 {
		return ErrCommandFailed
	}
	return nil
}

// GetGPIOParameters reads the power-up GP configuration from flash.
func (d *MCP2221) GetGPIOParameters(ctx context.Context) ([GPIOPins]GPIOParameter, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	var res [GPIOPins]GPIOParameter
	d.resetBuffers()
	d.request[0] = cmdReadFlash
	d.request[1] = 0x01
	err := d.send(ctx, 0)
	if err != nil {
		return res, fmt.Errorf("get GP parameters command write failed: %w", err)
	}
	if d.response[1] == 0x01 {
		return res, ErrCommandUnsupported
	}
	for i := range res {
		v := d.response[4+i]
		res[i] = GPIOParameter{Mode: GPIOMode(v & gpioModeMask), Designation: GPIODesignation(v & gpioOperationMask)}
	}
	return res, nil
}

// ReadGPIO returns the current value and direction of every GP line. Lines
// not set up for GPIO operation report GPIOModeNoOperation.
func (d *MCP2221) ReadGPIO(ctx context.Context) ([GPIOPins]GPIOValue, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.readGPIO(ctx)
}

func (d *MCP2221) readGPIO(ctx context.Context) ([GPIOPins]GPIOValue, error) {
	var res [GPIOPins]GPIOValue
	d.resetBuffers()
	d.request[0] = cmdGetGPIOValues
	if err := d.send(ctx, 0); err != nil {
		return res, fmt.Errorf("read GPIO values command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return res, ErrCommandFailed
	}
	for i := range res {
		value, dir := d.response[2+2*i], d.response[3+2*i]
		res[i] = GPIOValue{Mode: GPIOModeNoOperation, Value: value}
		if dir != pinNotGPIO {
			res[i].Mode = GPIOMode(dir << 3)
		}
	}
	return res, nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	err := d.send(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

func (d *MCP2221) Release(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	_, err := d.releaseBus(ctx)
	return err
}

// ReleaseBus cancels the current I2C engine transfer and returns the status.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.releaseBus(ctx)
}

func (d *MCP2221) releaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = 0x10
	err := d.send(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// ConfigureOpenDrainOutput switches a GP line to GPIO operation as an input
// with a low output latch. The other lines keep their current function.
func (d *MCP2221) ConfigureOpenDrainOutput(pin softi2c.Pin) error {
	if pin >= GPIOPins {
		return fmt.Errorf("pin GP%d out of range", pin)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	ctx := context.Background()
	d.resetBuffers()
	d.request[0] = cmdGetSRAM
	if err := d.send(ctx, 0); err != nil {
		return fmt.Errorf("read SRAM settings failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	var gp [GPIOPins]byte
	copy(gp[:], d.response[22:26])
	gp[pin] = byte(GPIOOperation) | byte(GPIOModeIn)

	d.resetBuffers()
	d.request[0] = cmdSetSRAM
	// alter GP designation
	d.request[7] = 0x80
	copy(d.request[8:12], gp[:])
	if err := d.send(ctx, 0); err != nil {
		return fmt.Errorf("set SRAM settings failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	return nil
}

// SetLevel turns the line into an input (released) or a low output.
func (d *MCP2221) SetLevel(pin softi2c.Pin, high bool) error {
	if pin >= GPIOPins {
		return fmt.Errorf("pin GP%d out of range", pin)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdSetGPIOValues
	base := 2 + 4*int(pin)
	d.request[base] = 0x01   // alter value
	d.request[base+1] = 0x00 // latch low
	d.request[base+2] = 0x01 // alter direction
	if high {
		d.request[base+3] = 0x01
	}
	if err := d.send(context.Background(), 0); err != nil {
		return fmt.Errorf("set GPIO values command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	if d.response[base+3] == pinNotGPIO {
		return fmt.Errorf("GP%d: %w", pin, ErrNotGPIO)
	}
	return nil
}

func (d *MCP2221) GetLevel(pin softi2c.Pin) (bool, error) {
	if pin >= GPIOPins {
		return false, fmt.Errorf("pin GP%d out of range", pin)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	values, err := d.readGPIO(context.Background())
	if err != nil {
		return false, err
	}
	if values[pin].Mode == GPIOModeNoOperation {
		return false, fmt.Errorf("GP%d: %w", pin, ErrNotGPIO)
	}
	return values[pin].Value != 0, nil
}

// ReleasePin leaves the line as an input.
func (d *MCP2221) ReleasePin(pin softi2c.Pin) error {
	return d.SetLevel(pin, true)
}

// Close closes the HID handle if one is open.
func (d *MCP2221) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.dev == nil {
		return nil
	}
	err := d.dev.Close()
	d.dev = nil
	return err
}

// send writes the request report and reads the response report, waiting
// wait in between. The device is opened on first use and kept open.
func (d *MCP2221) send(ctx context.Context, wait time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.dev == nil {
		dev, err := d.open(d.id)
		if err != nil {
			return err
		}
		d.dev = dev
	}
	if d.log.Enabled(ctx, slog.LevelDebug) {
		d.log.Debug("sending message to adapter", "request", hex.EncodeToString(d.request[:16]))
	}
	n, err := d.dev.Write(d.request)
	if err != nil {
		d.drop()
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if wait > 0 {
		time.Sleep(wait)
	}
	n, err = d.dev.Read(d.response)
	if err != nil {
		d.drop()
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if d.log.Enabled(ctx, slog.LevelDebug) {
		d.log.Debug("read message from adapter", "response", hex.EncodeToString(d.response[:16]))
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to command %#x, expected %#x", d.response[0], d.request[0])
	}
	return nil
}

// drop forgets a handle that failed so the next command reopens it.
func (d *MCP2221) drop() {
	_ = d.dev.Close()
	d.dev = nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
