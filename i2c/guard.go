package i2c

import (
	"context"
	"fmt"
	"runtime"

	"github.com/mklimuk/softi2c"
)

// State is the protocol phase of the primitive currently holding the bus.
type State uint8

const (
	Idle State = iota
	StartAsserted
	BitTransfer
	AckPhase
	StopAsserted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case StartAsserted:
		return "START-ASSERTED"
	case BitTransfer:
		return "BIT-TRANSFER"
	case AckPhase:
		return "ACK-PHASE"
	case StopAsserted:
		return "STOP-ASSERTED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// guard is the critical section around one primitive: the goroutine is
// pinned to its OS thread and holds the bus lock until release. It records
// the first line failure so a primitive always runs to completion.
type guard struct {
	b     *Bus
	op    string
	state State
	trace bool
	err   error
}

func (b *Bus) acquire(op string) (guard, error) {
	if b == nil {
		return guard{}, newError(InvalidArgument, op, "nil bus")
	}
	runtime.LockOSThread()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		runtime.UnlockOSThread()
		return guard{}, newError(InvalidArgument, op, "bus closed")
	}
	return guard{
		b:     b,
		op:    op,
		state: Idle,
		trace: b.log.Enabled(context.Background(), LevelTrace),
	}, nil
}

func (g *guard) release() {
	g.enter(Idle)
	g.b.mu.Unlock()
	runtime.UnlockOSThread()
}

func (g *guard) enter(s State) {
	if g.trace && s != g.state {
		g.b.log.Log(context.Background(), LevelTrace, "state", "op", g.op, "from", g.state.String(), "to", s.String())
	}
	g.state = s
}

func (g *guard) scl(high bool) { g.set("SCL", g.b.scl, high) }

func (g *guard) sda(high bool) { g.set("SDA", g.b.sda, high) }

// sdaNow changes SDA without the trailing half-bit delay.
func (g *guard) sdaNow(high bool) { g.drive("SDA", g.b.sda, high) }

func (g *guard) set(line string, pin softi2c.Pin, high bool) {
	g.drive(line, pin, high)
	g.b.delay(g.b.half)
}

func (g *guard) drive(line string, pin softi2c.Pin, high bool) {
	if err := g.b.lines.SetLevel(pin, high); err != nil {
		g.fail(fmt.Errorf("could not set %s (pin %d): %w", line, pin, err))
	}
	if g.trace {
		g.b.log.Log(context.Background(), LevelTrace, "line set", "line", line, "pin", pin, "high", high)
	}
}

// sample reads SDA.
func (g *guard) sample() bool {
	high, err := g.b.lines.GetLevel(g.b.sda)
	if err != nil {
		g.fail(fmt.Errorf("could not read SDA (pin %d): %w", g.b.sda, err))
	}
	if g.trace {
		g.b.log.Log(context.Background(), LevelTrace, "line read", "line", "SDA", "pin", g.b.sda, "high", high)
	}
	return high
}

func (g *guard) fail(err error) {
	if g.err == nil {
		g.err = err
	}
}

func (g *guard) result() error {
	if g.err != nil {
		return wrapError(BusError, g.op, g.err, "line failure in %s", g.state)
	}
	return nil
}
