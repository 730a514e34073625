package frame

import (
	"bytes"
	"fmt"
)

// EncodeTag renders the UDP packet sub-header: tag left-justified, padded
// with PadByte, no terminator.
func EncodeTag(tag string) ([TagSize]byte, error) {
	var out [TagSize]byte
	if len(tag) > TagSize {
		return out, fmt.Errorf("%w: tag %q is %d bytes", ErrFieldTooLarge, tag, len(tag))
	}
	if bytes.IndexByte([]byte(tag), PadByte) >= 0 {
		return out, fmt.Errorf("%w: tag %q contains pad byte", ErrInvalidTag, tag)
	}
	n := copy(out[:], tag)
	for i := n; i < TagSize; i++ {
		out[i] = PadByte
	}
	return out, nil
}

// DecodeTag returns the tag carried in the first TagSize bytes of b.
func DecodeTag(b []byte) (string, error) {
	if len(b) < TagSize {
		return "", fmt.Errorf("%w: short packet (%d bytes)", ErrInvalidTag, len(b))
	}
	raw := b[:TagSize]
	end := bytes.IndexByte(raw, PadByte)
	if end < 0 {
		end = TagSize
	}
	for _, c := range raw[end:] {
		if c != PadByte {
			return "", fmt.Errorf("%w: byte %q after padding", ErrInvalidTag, c)
		}
	}
	return string(raw[:end]), nil
}
