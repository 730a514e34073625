// Package transfer moves payloads larger than one packet: chunked TCP with a
// header and end marker, tag-prefixed UDP datagrams with a completion notice,
// and the header-less TCP stream.
//
// Interior chunks are retried under a RetryPolicy; the final partial chunk,
// markers and completion notice are sent once. Any exhausted chunk aborts the
// transfer: the socket is closed and no marker is sent.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/wotlink/internal/exchange"
	"github.com/danmuck/wotlink/internal/protocol"
	"github.com/danmuck/wotlink/internal/protocol/frame"
	"github.com/danmuck/wotlink/internal/transport"
	"github.com/rs/zerolog/log"
)

var ErrPayloadTooLarge = errors.New("transfer: payload too large")

type Config struct {
	MaxPacketSize     int
	UDPPacketSize     int
	TCPRetry          RetryPolicy
	UDPRetry          RetryPolicy
	UDPPacketInterval time.Duration
	DeviceTag         string
	GeneralPort       uint16
}

func DefaultConfig() Config {
	return Config{
		MaxPacketSize:     protocol.MaxPacketSize,
		UDPPacketSize:     protocol.UDPPacketSize,
		TCPRetry:          RetryPolicy{MaxAttempts: 4, Delay: 10 * time.Millisecond},
		UDPRetry:          RetryPolicy{MaxAttempts: 3, Delay: 10 * time.Millisecond},
		UDPPacketInterval: 15 * time.Millisecond,
		GeneralPort:       protocol.PortGeneralTCP,
	}
}

// UDPBodySize is the data carried by one full datagram.
func (c Config) UDPBodySize() int {
	return c.UDPPacketSize - frame.TagSize
}

// State tracks one transfer. BytesSent only grows.
type State struct {
	BytesSent uint32
	TotalSize uint32
	Packets   int
	Retries   int
}

func (s *State) advance(n, attempts int) {
	s.BytesSent += uint32(n)
	s.Packets++
	if attempts > 1 {
		s.Retries += attempts - 1
	}
}

type Engine struct {
	Exchanger *exchange.Exchanger
	Transport transport.Transport
	Config    Config
}

func NewEngine(ex *exchange.Exchanger, cfg Config) *Engine {
	return &Engine{Exchanger: ex, Transport: ex.Transport, Config: cfg}
}

func newState(data []byte) (State, error) {
	if uint64(len(data)) > frame.MaxFieldValue {
		return State{}, protocol.NewStatusError(protocol.StatusOther, "transfer",
			fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data)))
	}
	return State{TotalSize: uint32(len(data))}, nil
}

// sendInterior sends every full slice that leaves at least one byte for the
// final send, retrying each under policy.
func (e *Engine) sendInterior(ctx context.Context, conn transport.Conn, data []byte, st *State, kind string) error {
	size := e.Config.MaxPacketSize
	total := len(data)
	for int(st.BytesSent)+size < total {
		off := int(st.BytesSent)
		chunk := data[off : off+size]
		attempts, err := e.Config.TCPRetry.Do(ctx, func() error { return conn.Send(chunk) })
		if err != nil {
			log.Warn().Err(err).Str("kind", kind).Int("offset", off).Int("attempts", attempts).
				Msg("transfer.Engine.chunk exhausted")
			st.Retries += attempts - 1
			return fmt.Errorf("transfer: chunk at offset %d: %w", off, err)
		}
		if attempts > 1 {
			log.Debug().Str("kind", kind).Int("offset", off).Int("attempts", attempts).Msg("transfer.Engine.chunk retried")
		}
		st.advance(size, attempts)
	}
	return nil
}

// sendTail sends the final partial chunk and the end marker, once each.
func (e *Engine) sendTail(conn transport.Conn, data []byte, st *State, marker []byte) error {
	if rest := data[st.BytesSent:]; len(rest) > 0 {
		if err := conn.Send(rest); err != nil {
			return fmt.Errorf("transfer: final chunk at offset %d: %w", st.BytesSent, err)
		}
		st.advance(len(rest), 1)
	}
	if err := conn.Send(marker); err != nil {
		return fmt.Errorf("transfer: end marker: %w", err)
	}
	return nil
}

// SendChunkedTCP connects to port, sends a header declaring len(data), the
// data in MaxPacketSize slices and the 'F' marker. With KeepAlive the open
// connection is returned; otherwise it is closed and the Conn is nil.
func (e *Engine) SendChunkedTCP(ctx context.Context, typ protocol.MessageType, mode protocol.ConnectionMode, data []byte, port uint16) (transport.Conn, State, error) {
	st, err := newState(data)
	if err != nil {
		return nil, st, err
	}
	conn, err := e.Transport.DialTCP(ctx, port)
	if err != nil {
		return nil, st, err
	}
	st, err = e.SendChunkedTCPOnOpen(ctx, conn, typ, mode, data)
	if err != nil || mode != protocol.KeepAlive {
		return nil, st, err
	}
	return conn, st, nil
}

// SendChunkedTCPOnOpen is SendChunkedTCP on an already open connection. conn
// is closed on failure and after success in CloseAfterSend mode.
func (e *Engine) SendChunkedTCPOnOpen(ctx context.Context, conn transport.Conn, typ protocol.MessageType, mode protocol.ConnectionMode, data []byte) (State, error) {
	st, err := newState(data)
	if err != nil {
		exchange.Abort(conn)
		return st, err
	}
	if err := e.Exchanger.SendHeader(conn, typ, mode, uint64(len(data))); err != nil {
		exchange.Abort(conn)
		return st, err
	}
	if err := e.sendInterior(ctx, conn, data, &st, "chunked_tcp"); err != nil {
		exchange.Abort(conn)
		return st, err
	}
	if err := e.sendTail(conn, data, &st, []byte{protocol.ChunkedEndMarker}); err != nil {
		exchange.Abort(conn)
		return st, err
	}
	if mode != protocol.KeepAlive {
		e.Exchanger.Close(conn, "chunked_tcp")
	}
	return st, nil
}

// SendStreamTCP is the header-less image path: slices, remainder, "END", close.
func (e *Engine) SendStreamTCP(ctx context.Context, data []byte, port uint16) (State, error) {
	st, err := newState(data)
	if err != nil {
		return st, err
	}
	conn, err := e.Transport.DialTCP(ctx, port)
	if err != nil {
		return st, err
	}
	if err := e.sendInterior(ctx, conn, data, &st, "stream_tcp"); err != nil {
		exchange.Abort(conn)
		return st, err
	}
	if err := e.sendTail(conn, data, &st, []byte(protocol.StreamEndMarker)); err != nil {
		exchange.Abort(conn)
		return st, err
	}
	e.Exchanger.Close(conn, "stream_tcp")
	return st, nil
}

// SendImageUDP opens a datagram socket and runs SendChunkedUDP on it.
func (e *Engine) SendImageUDP(ctx context.Context, data []byte, port uint16) (State, error) {
	pc, err := e.Transport.OpenUDP()
	if err != nil {
		return State{}, err
	}
	return e.SendChunkedUDP(ctx, pc, data, port)
}

// SendChunkedUDP sends data as tag-prefixed datagrams to port, closes pc and
// then sends a framed ImageComplete notice to GeneralPort. pc is always
// closed on return.
func (e *Engine) SendChunkedUDP(ctx context.Context, pc transport.PacketConn, data []byte, port uint16) (State, error) {
	st, err := newState(data)
	if err != nil {
		exchange.Abort(pc)
		return st, err
	}
	tag, err := frame.EncodeTag(e.Config.DeviceTag)
	if err != nil {
		exchange.Abort(pc)
		return st, protocol.NewStatusError(protocol.StatusOther, "udp_tag", err)
	}
	body := e.Config.UDPBodySize()
	if body <= 0 {
		exchange.Abort(pc)
		return st, protocol.NewStatusError(protocol.StatusOther, "udp_tag",
			fmt.Errorf("udp packet size %d leaves no room after the tag", e.Config.UDPPacketSize))
	}

	pkt := make([]byte, frame.TagSize+body)
	copy(pkt, tag[:])
	total := len(data)
	for total-int(st.BytesSent) > body {
		off := int(st.BytesSent)
		copy(pkt[frame.TagSize:], data[off:off+body])
		attempts, err := e.Config.UDPRetry.Do(ctx, func() error { return pc.SendTo(pkt, port) })
		if err != nil {
			log.Warn().Err(err).Int("offset", off).Int("attempts", attempts).Msg("transfer.Engine.datagram exhausted")
			st.Retries += attempts - 1
			exchange.Abort(pc)
			return st, fmt.Errorf("transfer: datagram at offset %d: %w", off, err)
		}
		st.advance(body, attempts)
		if err := wait(ctx, e.Config.UDPPacketInterval); err != nil {
			exchange.Abort(pc)
			return st, protocol.NewStatusError(protocol.StatusOther, "udp_send", err)
		}
	}
	if rest := data[st.BytesSent:]; len(rest) > 0 {
		last := append(pkt[:frame.TagSize:frame.TagSize], rest...)
		if err := pc.SendTo(last, port); err != nil {
			exchange.Abort(pc)
			return st, fmt.Errorf("transfer: final datagram at offset %d: %w", st.BytesSent, err)
		}
		st.advance(len(rest), 1)
	}
	e.Exchanger.Close(pc, "chunked_udp")

	_, err = e.Exchanger.SendFramed(ctx, protocol.MessageImageComplete, protocol.CloseAfterSend,
		[]byte{protocol.ImageCompleteByte}, e.Config.GeneralPort)
	if err != nil {
		return st, fmt.Errorf("transfer: image complete notice: %w", err)
	}
	return st, nil
}
