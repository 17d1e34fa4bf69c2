// Package config loads bus definitions from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/softi2c"
	"github.com/mklimuk/softi2c/i2c"
)

// Backend names the GPIO implementation a bus is driven through.
type Backend string

const (
	BackendPeriph   Backend = "periph"
	BackendGobot    Backend = "gobot"
	BackendMCP2221  Backend = "mcp2221"
	BackendMCP23017 Backend = "mcp23017"
)

func (b Backend) Valid() bool {
	switch b {
	case BackendPeriph, BackendGobot, BackendMCP2221, BackendMCP23017:
		return true
	}
	return false
}

// Frequency accepts either a plain number of hertz or a periph frequency
// string such as "100kHz".
type Frequency physic.Frequency

// maxHertz is the largest plain number of hertz a physic.Frequency holds.
const maxHertz = math.MaxInt64 / int64(physic.Hertz)

func (f *Frequency) UnmarshalYAML(value *yaml.Node) error {
	var hz int64
	if err := value.Decode(&hz); err == nil {
		if hz > maxHertz || hz < -maxHertz {
			return fmt.Errorf("line %d: clock rate %d Hz out of range", value.Line, hz)
		}
		*f = Frequency(physic.Frequency(hz) * physic.Hertz)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: clock rate must be a number or a string: %w", value.Line, err)
	}
	var freq physic.Frequency
	if err := freq.Set(s); err != nil {
		return fmt.Errorf("line %d: invalid clock rate %q: %w", value.Line, s, err)
	}
	*f = Frequency(freq)
	return nil
}

func (f Frequency) MarshalYAML() (any, error) {
	return physic.Frequency(f).String(), nil
}

// Bus is one configured bus. Pointer fields are required.
type Bus struct {
	Name      string        `yaml:"name"`
	Backend   Backend       `yaml:"backend"`
	SCL       *softi2c.Pin  `yaml:"scl"`
	SDA       *softi2c.Pin  `yaml:"sda"`
	ClockRate *Frequency    `yaml:"clock_rate"`
	Device    string        `yaml:"device,omitempty"`
	Address   uint8         `yaml:"address,omitempty"`
	Adapter   int           `yaml:"adapter,omitempty"`
	Retries   int           `yaml:"retries,omitempty"`
	Deadline  time.Duration `yaml:"deadline,omitempty"`
	Backoff   time.Duration `yaml:"backoff,omitempty"`
}

// Config returns the engine configuration of the bus.
func (b Bus) Config() (i2c.Config, error) {
	var missing []string
	if b.SCL == nil {
		missing = append(missing, "scl")
	}
	if b.SDA == nil {
		missing = append(missing, "sda")
	}
	if b.ClockRate == nil {
		missing = append(missing, "clock_rate")
	}
	if len(missing) > 0 {
		return i2c.Config{}, fmt.Errorf("%w: bus %q: missing %v", i2c.ConfigurationError, b.Name, missing)
	}
	cfg := i2c.Config{SCL: *b.SCL, SDA: *b.SDA, ClockRate: physic.Frequency(*b.ClockRate)}
	if err := cfg.Validate(); err != nil {
		return i2c.Config{}, fmt.Errorf("bus %q: %w", b.Name, err)
	}
	return cfg, nil
}

// Options returns the transfer policy overrides of the bus.
func (b Bus) Options() []i2c.Opt {
	var opts []i2c.Opt
	if b.Retries > 0 {
		opts = append(opts, i2c.WithRetries(b.Retries))
	}
	if b.Deadline > 0 {
		opts = append(opts, i2c.WithDeadline(b.Deadline))
	}
	if b.Backoff > 0 {
		opts = append(opts, i2c.WithBackoff(b.Backoff))
	}
	return opts
}

type File struct {
	Buses []Bus `yaml:"buses"`
}

var _ i2c.Source = &File{}

// Load reads and validates the configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read config: %w", i2c.ConfigurationError, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: could not parse config: %w", i2c.ConfigurationError, err)
	}
	seen := map[string]bool{}
	for i, b := range f.Buses {
		if b.Name == "" {
			return nil, fmt.Errorf("%w: bus #%d has no name", i2c.ConfigurationError, i)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("%w: duplicate bus %q", i2c.ConfigurationError, b.Name)
		}
		seen[b.Name] = true
		if b.Backend == "" {
			f.Buses[i].Backend = BackendPeriph
		} else if !b.Backend.Valid() {
			return nil, fmt.Errorf("%w: bus %q: unknown backend %q", i2c.ConfigurationError, b.Name, b.Backend)
		}
	}
	return &f, nil
}

var ErrBusNotFound = errors.New("bus not found")

// Lookup returns the bus called name. An empty name selects the only
// configured bus.
func (f *File) Lookup(name string) (Bus, error) {
	if name == "" && len(f.Buses) == 1 {
		return f.Buses[0], nil
	}
	for _, b := range f.Buses {
		if b.Name == name {
			return b, nil
		}
	}
	return Bus{}, fmt.Errorf("%w: %w: %q", i2c.ConfigurationError, ErrBusNotFound, name)
}

func (f *File) BusConfig(name string) (i2c.Config, error) {
	b, err := f.Lookup(name)
	if err != nil {
		return i2c.Config{}, err
	}
	return b.Config()
}
