package i2c

import "fmt"

// MaxAddress is the highest 7-bit slave address.
const MaxAddress Address = 0x7F

// Address is a 7-bit I2C slave address.
type Address uint8

func (a Address) Valid() bool { return a <= MaxAddress }

// Byte returns the first byte clocked out after START: the address in bits
// 7..1 and the R/W flag in bit 0.
func (a Address) Byte(dir Direction) byte {
	b := byte(a) << 1
	if dir == Read {
		b |= 1
	}
	return b
}

func (a Address) String() string { return fmt.Sprintf("0x%02x", uint8(a)) }

type Direction uint8

const (
	Write Direction = iota
	Read
)

func (d Direction) String() string {
	switch d {
	case Write:
		return "write"
	case Read:
		return "read"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Request is the payload of a single transfer. For reads Data is filled in
// place.
type Request struct {
	Dir  Direction
	Data []byte
}
