package frame

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/danmuck/wotlink/internal/protocol"
)

const (
	LineSize   = 10
	LineCount  = 4
	HeaderSize = LineSize * LineCount
	TagSize    = protocol.UDPTagSize

	PadByte        byte = '-'
	TerminatorByte byte = '\n'

	// MaxFieldValue is the largest value whose digits plus terminator fit a line.
	MaxFieldValue uint64 = 999_999_999
)

var (
	ErrFieldTooLarge   = errors.New("frame: field does not fit header line")
	ErrMalformed       = errors.New("frame: malformed header")
	ErrShortHeader     = errors.New("frame: short header")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrInvalidTag      = errors.New("frame: invalid tag")
)

// Header is the fixed 40-byte ASCII wire header. Lines appear in field order.
type Header struct {
	DeviceID    uint32
	MessageType protocol.MessageType
	Mode        protocol.ConnectionMode
	PayloadSize uint64
}

// Frame is a header plus the payload it declares.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 16 * 1024 * 1024}
}

type field struct {
	name string
	bits int
}

var fields = [LineCount]field{
	{name: "device_id", bits: 32},
	{name: "message_type", bits: 8},
	{name: "connection_mode", bits: 8},
	{name: "payload_size", bits: 64},
}

func (h Header) values() [LineCount]uint64 {
	return [LineCount]uint64{
		uint64(h.DeviceID),
		uint64(h.MessageType),
		uint64(h.Mode),
		h.PayloadSize,
	}
}

// EncodeHeader renders h. The result is exactly HeaderSize bytes, or nil with
// an error wrapping ErrFieldTooLarge.
func EncodeHeader(h Header) ([]byte, error) {
	buf := make([]byte, HeaderSize)
	for i, v := range h.values() {
		if err := putLine(buf[i*LineSize:(i+1)*LineSize], v); err != nil {
			return nil, fmt.Errorf("%w: %s=%d", err, fields[i].name, v)
		}
	}
	return buf, nil
}

func putLine(line []byte, v uint64) error {
	digits := strconv.AppendUint(make([]byte, 0, 20), v, 10)
	if len(digits)+1 > LineSize {
		return ErrFieldTooLarge
	}
	n := copy(line, digits)
	for i := n; i < LineSize-1; i++ {
		line[i] = PadByte
	}
	line[LineSize-1] = TerminatorByte
	return nil
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, fmt.Errorf("%w: length %d", ErrMalformed, len(b))
	}
	var vals [LineCount]uint64
	for i := range fields {
		v, err := parseLine(b[i*LineSize:(i+1)*LineSize], fields[i].bits)
		if err != nil {
			return Header{}, fmt.Errorf("%w: %s: %v", ErrMalformed, fields[i].name, err)
		}
		vals[i] = v
	}
	return Header{
		DeviceID:    uint32(vals[0]),
		MessageType: protocol.MessageType(vals[1]),
		Mode:        protocol.ConnectionMode(vals[2]),
		PayloadSize: vals[3],
	}, nil
}

func parseLine(line []byte, bits int) (uint64, error) {
	if line[LineSize-1] != TerminatorByte {
		return 0, errors.New("missing terminator")
	}
	n := 0
	for n < LineSize-1 && line[n] >= '0' && line[n] <= '9' {
		n++
	}
	if n == 0 {
		return 0, errors.New("no digits")
	}
	for _, c := range line[n : LineSize-1] {
		if c != PadByte {
			return 0, fmt.Errorf("unexpected byte %q", c)
		}
	}
	v, err := strconv.ParseUint(string(line[:n]), 10, bits)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Header{}, ErrShortHeader
		}
		return Header{}, err
	}
	return DecodeHeader(buf[:])
}

func WriteHeader(w io.Writer, h Header) error {
	hb, err := EncodeHeader(h)
	if err != nil {
		return err
	}
	_, err = w.Write(hb)
	return err
}

// ReadFrame reads a header and the payload it declares.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Frame{}, err
	}
	if h.PayloadSize > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}
	payload := make([]byte, h.PayloadSize)
	if h.PayloadSize > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame writes f with PayloadSize taken from len(f.Payload).
func WriteFrame(w io.Writer, f Frame) error {
	h := f.Header
	h.PayloadSize = uint64(len(f.Payload))
	if err := WriteHeader(w, h); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}
