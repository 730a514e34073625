// Package scalar encodes the 1/2/4-byte data payloads. Multi-byte values
// are little-endian, the node's native memory layout.
package scalar

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/wotlink/internal/protocol"
)

var (
	ErrInvalidWidth  = errors.New("scalar: invalid width")
	ErrValueTooLarge = errors.New("scalar: value does not fit width")
	ErrShortValue    = errors.New("scalar: payload length does not match width")
)

// Width is the payload size in bytes: 1, 2 or 4.
type Width int

const (
	Width1 Width = 1
	Width2 Width = 2
	Width4 Width = 4
)

func (w Width) Valid() bool {
	return w == Width1 || w == Width2 || w == Width4
}

// MessageType returns the wire type carrying a scalar of width w.
func (w Width) MessageType() (protocol.MessageType, error) {
	switch w {
	case Width1:
		return protocol.MessageOneByteData, nil
	case Width2:
		return protocol.MessageTwoBytesData, nil
	case Width4:
		return protocol.MessageFourBytesData, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidWidth, int(w))
	}
}

// WidthOf is the inverse of Width.MessageType.
func WidthOf(t protocol.MessageType) (Width, bool) {
	switch t {
	case protocol.MessageOneByteData:
		return Width1, true
	case protocol.MessageTwoBytesData:
		return Width2, true
	case protocol.MessageFourBytesData:
		return Width4, true
	default:
		return 0, false
	}
}

func PutU8(v uint8) []byte {
	return []byte{v}
}

func PutU16(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(make([]byte, 0, 2), v)
}

func PutU32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(make([]byte, 0, 4), v)
}

// Encode checks that v fits w and renders it.
func Encode(w Width, v uint64) ([]byte, error) {
	switch w {
	case Width1:
		if v > 0xFF {
			return nil, fmt.Errorf("%w: %d in %d byte", ErrValueTooLarge, v, int(w))
		}
		return PutU8(uint8(v)), nil
	case Width2:
		if v > 0xFFFF {
			return nil, fmt.Errorf("%w: %d in %d bytes", ErrValueTooLarge, v, int(w))
		}
		return PutU16(uint16(v)), nil
	case Width4:
		if v > 0xFFFFFFFF {
			return nil, fmt.Errorf("%w: %d in %d bytes", ErrValueTooLarge, v, int(w))
		}
		return PutU32(uint32(v)), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidWidth, int(w))
	}
}

func Decode(b []byte) (uint64, error) {
	switch len(b) {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrShortValue, len(b))
	}
}
