package i2c

import (
	"errors"
	"time"

	"github.com/mklimuk/softi2c"
)

const (
	simSCL softi2c.Pin = 3
	simSDA softi2c.Pin = 2
)

type lineEvent struct {
	pin  softi2c.Pin
	high bool
}

// simLines is an open-drain line pair: a line is high only when neither the
// master nor the attached slave pulls it low. It records every level the
// master sets.
type simLines struct {
	master     map[softi2c.Pin]bool
	configured map[softi2c.Pin]bool
	released   []softi2c.Pin
	events     []lineEvent
	slave      *simSlave

	// optional hooks
	onSample  func()
	failSet   error
	failConf  error
	failPinAt softi2c.Pin
}

func newSimLines(slave *simSlave) *simLines {
	return &simLines{
		master:     map[softi2c.Pin]bool{simSCL: true, simSDA: true},
		configured: map[softi2c.Pin]bool{},
		slave:      slave,
	}
}

func (l *simLines) ConfigureOpenDrainOutput(pin softi2c.Pin) error {
	if l.failConf != nil && pin == l.failPinAt {
		return l.failConf
	}
	l.configured[pin] = true
	return nil
}

func (l *simLines) SetLevel(pin softi2c.Pin, high bool) error {
	if l.failSet != nil {
		return l.failSet
	}
	scl, sda := l.scl(), l.sda()
	l.master[pin] = high
	l.events = append(l.events, lineEvent{pin: pin, high: high})
	if l.slave == nil {
		return nil
	}
	switch pin {
	case simSCL:
		if !scl && l.scl() {
			l.slave.sclRise(l.sda())
		} else if scl && !l.scl() {
			l.slave.sclFall()
		}
	case simSDA:
		if l.scl() && sda != l.sda() {
			if l.sda() {
				l.slave.stop()
			} else {
				l.slave.start()
			}
		}
	}
	return nil
}

func (l *simLines) GetLevel(pin softi2c.Pin) (bool, error) {
	if pin == simSDA && l.onSample != nil {
		l.onSample()
	}
	if pin == simSCL {
		return l.scl(), nil
	}
	return l.sda(), nil
}

func (l *simLines) ReleasePin(pin softi2c.Pin) error {
	l.released = append(l.released, pin)
	return nil
}

func (l *simLines) scl() bool { return l.master[simSCL] }

func (l *simLines) sda() bool {
	return l.master[simSDA] && (l.slave == nil || !l.slave.drive)
}

// sdaWrites returns the levels the master set on SDA, in order.
func (l *simLines) sdaWrites() []bool {
	var res []bool
	for _, e := range l.events {
		if e.pin == simSDA {
			res = append(res, e.high)
		}
	}
	return res
}

// simSlave models a 7-bit I2C slave sampling on SCL rising edges and
// changing SDA while SCL is low.
type simSlave struct {
	addr     byte
	present  bool
	nackByte int // index of the first written payload byte to NACK, -1 for none
	data     []byte

	drive bool // pulls SDA low

	onStart func(s *simSlave)

	// transaction state
	inTxn     bool
	ignored   bool
	addressed bool
	read      bool
	masterNak bool
	clocks    int
	shift     byte
	index     int // 0 is the address byte

	starts  int
	stops   int
	frames  [][]byte // bytes received from the master, one slice per transaction
	masterA []bool   // ACK bits sent by the master on reads
}

func newSimSlave(addr byte) *simSlave {
	return &simSlave{addr: addr, present: true, nackByte: -1}
}

func (s *simSlave) start() {
	s.starts++
	s.inTxn = true
	s.ignored = false
	s.addressed = false
	s.read = false
	s.masterNak = false
	s.clocks = 0
	s.shift = 0
	s.index = 0
	s.drive = false
	s.frames = append(s.frames, nil)
	if s.onStart != nil {
		s.onStart(s)
	}
}

func (s *simSlave) stop() {
	s.stops++
	s.inTxn = false
	s.drive = false
}

func (s *simSlave) transmitting() bool {
	return s.addressed && s.read && s.index > 0 && !s.masterNak
}

func (s *simSlave) sclRise(sda bool) {
	if !s.inTxn || s.ignored {
		return
	}
	s.clocks++
	switch {
	case s.clocks <= 8 && !s.transmitting():
		s.shift <<= 1
		if sda {
			s.shift |= 1
		}
	case s.clocks == 9 && s.addressed && s.read && s.index > 0:
		ack := !sda
		s.masterA = append(s.masterA, ack)
		if !ack {
			s.masterNak = true
		}
	}
}

func (s *simSlave) sclFall() {
	if !s.inTxn || s.ignored {
		return
	}
	switch s.clocks {
	case 8:
		if s.transmitting() {
			s.drive = false
			return
		}
		s.drive = s.accept()
	case 9:
		s.clocks = 0
		s.shift = 0
		s.index++
		s.drive = false
		if !s.addressed {
			s.ignored = true
			return
		}
		if s.transmitting() {
			s.drive = !s.bit(7)
		}
	default:
		if s.transmitting() {
			s.drive = !s.bit(7 - s.clocks)
		}
	}
}

// accept decides the ACK for the byte just received from the master.
func (s *simSlave) accept() bool {
	b := s.shift
	last := len(s.frames) - 1
	s.frames[last] = append(s.frames[last], b)
	if s.index == 0 {
		if !s.present || b>>1 != s.addr {
			return false
		}
		s.addressed = true
		s.read = b&1 == 1
		return true
	}
	return s.nackByte < 0 || s.index-1 < s.nackByte
}

func (s *simSlave) bit(n int) bool {
	if len(s.data) == 0 {
		return true
	}
	v := s.data[(s.index-1)%len(s.data)]
	return v>>uint(n)&1 == 1
}

// fakeClock advances only when the bus delays.
type fakeClock struct {
	t     time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) {
	c.t = c.t.Add(d)
	c.slept += d
}

var errLine = errors.New("line stuck")
