package i2c

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/softi2c"
	"periph.io/x/conn/v3/physic"
)

// Transfer policy defaults.
const (
	Retries  = 3
	Deadline = time.Second
	Backoff  = time.Millisecond
)

// LevelTrace is used for per-edge line logging.
const LevelTrace = slog.LevelDebug - 4

var _ softi2c.I2CBus = &Bus{}

// Config describes one physical bus.
type Config struct {
	SCL       softi2c.Pin
	SDA       softi2c.Pin
	ClockRate physic.Frequency
}

// Validate rejects configurations no protocol operation may run with.
func (c Config) Validate() error {
	if c.SCL == c.SDA {
		return newError(ConfigurationError, "config", "SCL and SDA share pin %d", c.SCL)
	}
	if _, err := HalfBit(c.ClockRate); err != nil {
		return err
	}
	return nil
}

// Source supplies bus configuration at initialization time.
type Source interface {
	BusConfig(name string) (Config, error)
}

// HalfBit returns the delay applied after every SCL or SDA edge:
// 1,000,000 / (2 × rate) microseconds.
func HalfBit(rate physic.Frequency) (time.Duration, error) {
	hz := int64(rate / physic.Hertz)
	if rate <= 0 || hz <= 0 {
		return 0, newError(ConfigurationError, "config", "invalid clock rate %s", rate)
	}
	return time.Duration(1_000_000) * time.Microsecond / time.Duration(2*hz), nil
}

type Opts struct {
	// Delay blocks the caller for the given duration. Defaults to a busy wait.
	Delay func(time.Duration)
	// Clock provides the time used for the transfer deadline.
	Clock    func() time.Time
	Logger   *slog.Logger
	Retries  int
	Deadline time.Duration
	Backoff  time.Duration
}

type Opt func(*Opts)

func WithDelay(delay func(time.Duration)) Opt {
	return func(o *Opts) {
		o.Delay = delay
	}
}

func WithClock(clock func() time.Time) Opt {
	return func(o *Opts) {
		o.Clock = clock
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

func WithRetries(retries int) Opt {
	return func(o *Opts) {
		o.Retries = retries
	}
}

func WithDeadline(deadline time.Duration) Opt {
	return func(o *Opts) {
		o.Deadline = deadline
	}
}

func WithBackoff(backoff time.Duration) Opt {
	return func(o *Opts) {
		o.Backoff = backoff
	}
}

// Bus is a software I2C master on two open-drain GPIO lines. All primitives
// on one Bus are serialized; distinct buses share nothing.
type Bus struct {
	// tx serializes whole transfers, mu guards every primitive.
	tx sync.Mutex
	mu sync.Mutex

	lines softi2c.Lines
	scl   softi2c.Pin
	sda   softi2c.Pin
	rate  physic.Frequency
	half  time.Duration

	delay    func(time.Duration)
	now      func() time.Time
	log      *slog.Logger
	retries  int
	deadline time.Duration
	backoff  time.Duration

	closed bool
}

// Open binds lines to a new bus, configures both pins as open-drain
// outputs and releases them.
func Open(lines softi2c.Lines, cfg Config, opts ...Opt) (*Bus, error) {
	o := Opts{
		Delay:    spin,
		Clock:    time.Now,
		Retries:  Retries,
		Deadline: Deadline,
		Backoff:  Backoff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if o.Delay == nil {
		o.Delay = spin
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Retries < 1 {
		o.Retries = 1
	}
	if lines == nil {
		err := newError(ConfigurationError, "open", "no GPIO lines bound")
		log.Error("could not initialize bus", "error", err)
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		log.Error("could not initialize bus", "error", err)
		return nil, err
	}
	half, _ := HalfBit(cfg.ClockRate)
	b := &Bus{
		lines:    lines,
		scl:      cfg.SCL,
		sda:      cfg.SDA,
		rate:     cfg.ClockRate,
		half:     half,
		delay:    o.Delay,
		now:      o.Clock,
		log:      log,
		retries:  o.Retries,
		deadline: o.Deadline,
		backoff:  o.Backoff,
	}
	log.Debug("initializing GPIO", "scl", cfg.SCL, "sda", cfg.SDA)
	if err := b.initLines(); err != nil {
		log.Error("could not initialize GPIO", "error", err)
		return nil, err
	}
	log.Info("bus initialized", "scl", cfg.SCL, "sda", cfg.SDA, "clock", cfg.ClockRate.String(), "half_bit", half)
	return b, nil
}

// OpenFrom reads the configuration of the named bus from src and opens it.
func OpenFrom(src Source, name string, lines softi2c.Lines, opts ...Opt) (*Bus, error) {
	if src == nil {
		return nil, newError(ConfigurationError, "open", "no configuration source")
	}
	cfg, err := src.BusConfig(name)
	if err != nil {
		if StatusOf(err) != ConfigurationError {
			err = wrapError(ConfigurationError, "open", err, "bus %q", name)
		}
		return nil, err
	}
	return Open(lines, cfg, opts...)
}

func (b *Bus) initLines() error {
	if err := b.lines.ConfigureOpenDrainOutput(b.scl); err != nil {
		return wrapError(OutOfResources, "open", err, "could not configure SCL pin %d", b.scl)
	}
	if err := b.lines.ConfigureOpenDrainOutput(b.sda); err != nil {
		b.unclaim(b.scl)
		return wrapError(OutOfResources, "open", err, "could not configure SDA pin %d", b.sda)
	}
	if err := b.lines.SetLevel(b.scl, true); err != nil {
		b.unclaim(b.scl, b.sda)
		return wrapError(OutOfResources, "open", err, "could not release SCL pin %d", b.scl)
	}
	if err := b.lines.SetLevel(b.sda, true); err != nil {
		b.unclaim(b.scl, b.sda)
		return wrapError(OutOfResources, "open", err, "could not release SDA pin %d", b.sda)
	}
	return nil
}

// unclaim hands pins configured by a failed Open back to the backend.
func (b *Bus) unclaim(pins ...softi2c.Pin) {
	r, ok := b.lines.(softi2c.PinReleaser)
	if !ok {
		return
	}
	for _, pin := range pins {
		if err := r.ReleasePin(pin); err != nil {
			b.log.Warn("could not release pin", "pin", pin, "error", err)
		}
	}
}

// Close releases both lines and detaches the bus from its backend. Any
// later operation fails with InvalidArgument.
func (b *Bus) Close() error {
	if b == nil {
		return newError(InvalidArgument, "close", "nil bus")
	}
	b.tx.Lock()
	defer b.tx.Unlock()
	g, err := b.acquire("close")
	if err != nil {
		// already closed
		return nil
	}
	defer g.release()
	g.scl(true)
	g.sda(true)
	errs := []error{g.err}
	if r, ok := b.lines.(softi2c.PinReleaser); ok {
		errs = append(errs, r.ReleasePin(b.scl), r.ReleasePin(b.sda))
	}
	b.closed = true
	if err := errors.Join(errs...); err != nil {
		b.log.Warn("bus closed with line errors", "error", err)
		return wrapError(BusError, "close", err, "could not release lines")
	}
	b.log.Info("bus closed")
	return nil
}

func (b *Bus) SCL() softi2c.Pin            { return b.scl }
func (b *Bus) SDA() softi2c.Pin            { return b.sda }
func (b *Bus) ClockRate() physic.Frequency { return b.rate }
func (b *Bus) HalfBit() time.Duration      { return b.half }
func (b *Bus) String() string {
	return fmt.Sprintf("softi2c(scl=%d, sda=%d, %s)", b.scl, b.sda, b.rate)
}

// ReadFromAddr performs a read transfer of len(buffer) bytes.
func (b *Bus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.Transfer(ctx, Address(address), &Request{Dir: Read, Data: buffer})
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

// WriteToAddr performs a write transfer of buffer.
func (b *Bus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.Transfer(ctx, Address(address), &Request{Dir: Write, Data: buffer})
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

// Release issues a STOP condition to leave the bus idle.
func (b *Bus) Release(ctx context.Context) error {
	if b == nil {
		return newError(InvalidArgument, "release", "nil bus")
	}
	b.tx.Lock()
	defer b.tx.Unlock()
	return b.Stop()
}

// spin blocks without yielding for d.
func spin(d time.Duration) {
	if d <= 0 {
		return
	}
	for start := time.Now(); time.Since(start) < d; {
	}
}
