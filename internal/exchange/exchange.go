// Package exchange performs single-shot framed and raw request/response
// operations over a transport.Transport.
package exchange

import (
	"context"
	"io"
	"strconv"

	"github.com/danmuck/wotlink/internal/observability"
	"github.com/danmuck/wotlink/internal/protocol"
	"github.com/danmuck/wotlink/internal/protocol/frame"
	"github.com/danmuck/wotlink/internal/transport"
	"github.com/rs/zerolog/log"
)

type Exchanger struct {
	Transport transport.Transport
	DeviceID  uint32
}

func New(t transport.Transport, deviceID uint32) *Exchanger {
	return &Exchanger{Transport: t, DeviceID: deviceID}
}

func (e *Exchanger) node() string {
	return strconv.FormatUint(uint64(e.DeviceID), 10)
}

// SendHeader encodes and sends a header on conn. An unencodable header is
// StatusOther and nothing is written.
func (e *Exchanger) SendHeader(conn transport.Conn, typ protocol.MessageType, mode protocol.ConnectionMode, size uint64) error {
	hb, err := frame.EncodeHeader(frame.Header{
		DeviceID:    e.DeviceID,
		MessageType: typ,
		Mode:        mode,
		PayloadSize: size,
	})
	if err != nil {
		return protocol.NewStatusError(protocol.StatusOther, "encode_header", err)
	}
	return conn.Send(hb)
}

// Close closes a socket whose send already succeeded. A close failure is
// logged and counted but not returned.
func (e *Exchanger) Close(c io.Closer, op string) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("op", op).Uint32("device_id", e.DeviceID).Msg("exchange.Exchanger.close")
		observability.RecordCloseFailure(e.node(), op)
	}
}

// Abort closes a socket after a failure; the original failure wins.
func Abort(c io.Closer) {
	if err := c.Close(); err != nil {
		log.Debug().Err(err).Msg("exchange.abort close")
	}
}

// SendFramed connects to port and sends a header plus data. With KeepAlive the
// open connection is returned to the caller; otherwise it is closed and the
// returned Conn is nil.
func (e *Exchanger) SendFramed(ctx context.Context, typ protocol.MessageType, mode protocol.ConnectionMode, data []byte, port uint16) (transport.Conn, error) {
	conn, err := e.Transport.DialTCP(ctx, port)
	if err != nil {
		return nil, err
	}
	if err := e.sendFramed(conn, typ, mode, data); err != nil {
		Abort(conn)
		return nil, err
	}
	if mode == protocol.KeepAlive {
		return conn, nil
	}
	e.Close(conn, "send_framed")
	return nil, nil
}

// SendFramedOnOpen is SendFramed on an already open connection. conn is
// closed on failure and after success in CloseAfterSend mode.
func (e *Exchanger) SendFramedOnOpen(conn transport.Conn, typ protocol.MessageType, mode protocol.ConnectionMode, data []byte) error {
	if err := e.sendFramed(conn, typ, mode, data); err != nil {
		Abort(conn)
		return err
	}
	if mode != protocol.KeepAlive {
		e.Close(conn, "send_framed_on_open")
	}
	return nil
}

func (e *Exchanger) sendFramed(conn transport.Conn, typ protocol.MessageType, mode protocol.ConnectionMode, data []byte) error {
	if err := e.SendHeader(conn, typ, mode, uint64(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return conn.Send(data)
}

// ReceiveFramed asks the peer for len(buf) bytes with a ReceiveRequest header
// and reads exactly that many.
func (e *Exchanger) ReceiveFramed(ctx context.Context, buf []byte, port uint16) error {
	conn, err := e.Transport.DialTCP(ctx, port)
	if err != nil {
		return err
	}
	if err := e.SendHeader(conn, protocol.MessageReceiveRequest, protocol.CloseAfterSend, 0); err != nil {
		Abort(conn)
		return err
	}
	if err := ReceiveFull(conn, buf); err != nil {
		Abort(conn)
		return err
	}
	e.Close(conn, "receive_framed")
	return nil
}

// SendThenReceive sends raw bytes (no header) and reads exactly len(recv).
func (e *Exchanger) SendThenReceive(ctx context.Context, send, recv []byte, port uint16) error {
	conn, err := e.Transport.DialTCP(ctx, port)
	if err != nil {
		return err
	}
	if err := conn.Send(send); err != nil {
		Abort(conn)
		return err
	}
	if err := ReceiveFull(conn, recv); err != nil {
		Abort(conn)
		return err
	}
	e.Close(conn, "send_then_receive")
	return nil
}

// SendRaw sends data with no header and closes.
func (e *Exchanger) SendRaw(ctx context.Context, data []byte, port uint16) error {
	conn, err := e.Transport.DialTCP(ctx, port)
	if err != nil {
		return err
	}
	if err := conn.Send(data); err != nil {
		Abort(conn)
		return err
	}
	e.Close(conn, "send_raw")
	return nil
}

// ReceiveRaw connects and reads exactly len(buf) bytes without a request.
func (e *Exchanger) ReceiveRaw(ctx context.Context, buf []byte, port uint16) error {
	conn, err := e.Transport.DialTCP(ctx, port)
	if err != nil {
		return err
	}
	if err := ReceiveFull(conn, buf); err != nil {
		Abort(conn)
		return err
	}
	e.Close(conn, "receive_raw")
	return nil
}

// ReceiveFull reads until buf is full.
func ReceiveFull(conn transport.Conn, buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := conn.Receive(buf[n:])
		if err != nil {
			return err
		}
		if m == 0 {
			return protocol.NewStatusError(protocol.StatusReceiveFailed, "tcp_receive", io.ErrUnexpectedEOF)
		}
		n += m
	}
	return nil
}
