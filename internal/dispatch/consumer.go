package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/wotlink/internal/exchange"
	"github.com/danmuck/wotlink/internal/journal"
	"github.com/danmuck/wotlink/internal/observability"
	"github.com/danmuck/wotlink/internal/protocol"
	"github.com/danmuck/wotlink/internal/protocol/scalar"
	"github.com/danmuck/wotlink/internal/transfer"
	"github.com/danmuck/wotlink/internal/transport"
	"github.com/rs/zerolog/log"
)

// Ports are the defaults applied to messages with a zero Port.
type Ports struct {
	General  uint16
	ImageTCP uint16
	ImageUDP uint16
}

func DefaultPorts() Ports {
	return Ports{
		General:  protocol.PortGeneralTCP,
		ImageTCP: protocol.PortImageTCP,
		ImageUDP: protocol.PortImageUDP,
	}
}

type Stats struct {
	Handled  uint64 `json:"handled"`
	Failed   uint64 `json:"failed"`
	Unknown  uint64 `json:"unknown"`
	OpenKeep int64  `json:"open_keep_alive"`
}

// Consumer is the single goroutine that drains the queue. At most one socket
// operation is in flight. Keep-alive connections are cached per port and
// reused for the next framed send to that port.
type Consumer struct {
	queue   *Queue
	ex      *exchange.Exchanger
	engine  *transfer.Engine
	journal journal.Journal
	ports   Ports
	node    string

	conns map[uint16]transport.Conn

	handled  atomic.Uint64
	failed   atomic.Uint64
	unknown  atomic.Uint64
	openKeep atomic.Int64
}

func NewConsumer(q *Queue, engine *transfer.Engine, j journal.Journal, ports Ports) *Consumer {
	if j == nil {
		j = journal.NewMemory(0)
	}
	return &Consumer{
		queue:   q,
		ex:      engine.Exchanger,
		engine:  engine,
		journal: j,
		ports:   ports,
		node:    q.node,
		conns:   make(map[uint16]transport.Conn),
	}
}

func (c *Consumer) Stats() Stats {
	return Stats{
		Handled:  c.handled.Load(),
		Failed:   c.failed.Load(),
		Unknown:  c.unknown.Load(),
		OpenKeep: c.openKeep.Load(),
	}
}

// Run handles messages in FIFO order until ctx ends. A message already taken
// off the queue runs to completion; cancellation only stops the loop between
// messages. Cached keep-alive connections are closed on return.
func (c *Consumer) Run(ctx context.Context) error {
	log.Info().Str("node", c.node).Int("capacity", c.queue.Cap()).Msg("dispatch.Consumer.run")
	defer c.closeAll()
	work := context.WithoutCancel(ctx)
	for {
		msg, err := c.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		c.Handle(work, msg)
	}
}

// Handle runs one message, then journals, counts and reports its outcome.
func (c *Consumer) Handle(ctx context.Context, msg Message) Result {
	start := time.Now()
	res, port := c.dispatch(ctx, msg)
	elapsed := time.Since(start)

	kind := "unknown"
	if !errors.Is(res.Err, ErrUnknownMessage) {
		kind = label(msg)
	}
	status := protocol.StatusOf(res.Err)
	c.handled.Add(1)
	if res.Err != nil {
		c.failed.Add(1)
		log.Warn().Err(res.Err).Str("kind", kind).Uint16("port", port).Str("status", status.String()).
			Int("bytes", res.Bytes).Int("attempts", res.Attempts).Msg("dispatch.Consumer.handle dropped")
	} else {
		log.Debug().Str("kind", kind).Uint16("port", port).Int("bytes", res.Bytes).
			Dur("elapsed", elapsed).Msg("dispatch.Consumer.handle")
	}

	entry := journal.Entry{
		Kind:     kind,
		Port:     port,
		Bytes:    res.Bytes,
		Attempts: res.Attempts,
		Status:   status.String(),
		Duration: elapsed,
		At:       start,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if err := c.journal.Append(entry); err != nil {
		log.Error().Err(err).Msg("dispatch.Consumer.journal")
	}
	observability.RecordDispatch(c.node, kind, status.String(), res.Bytes, elapsed)

	if msg != nil {
		if done := msg.callback(); done != nil {
			done(res)
		}
	}
	return res
}

func portOr(p, def uint16) uint16 {
	if p == 0 {
		return def
	}
	return p
}

func (c *Consumer) dispatch(ctx context.Context, msg Message) (Result, uint16) {
	switch m := msg.(type) {
	case OneByte:
		return c.framed(ctx, m.Type(), protocol.CloseAfterSend, scalar.PutU8(m.Value), c.ports.General), c.ports.General
	case TwoBytes:
		return c.framed(ctx, m.Type(), protocol.CloseAfterSend, scalar.PutU16(m.Value), c.ports.General), c.ports.General
	case FourBytes:
		return c.framed(ctx, m.Type(), protocol.CloseAfterSend, scalar.PutU32(m.Value), c.ports.General), c.ports.General
	case ImageComplete:
		return c.framed(ctx, m.Type(), protocol.CloseAfterSend, []byte{protocol.ImageCompleteByte}, c.ports.General), c.ports.General
	case TCPImage:
		port := portOr(m.Port, c.ports.ImageTCP)
		if m.Stream {
			st, err := c.engine.SendStreamTCP(ctx, m.Data, port)
			observability.RecordRetries(c.node, "tcp", st.Retries)
			return stateResult(m.Type(), st, err), port
		}
		return c.chunked(ctx, m.Type(), m.Mode, m.Data, port), port
	case UDPImage:
		port := portOr(m.Port, c.ports.ImageUDP)
		st, err := c.engine.SendImageUDP(ctx, m.Data, port)
		observability.RecordRetries(c.node, "udp", st.Retries)
		return stateResult(m.Type(), st, err), port
	case ReceiveRequest:
		port := portOr(m.Port, c.ports.General)
		if err := CheckReceiveSize(m.Size); err != nil {
			return Result{Kind: m.Type(), Err: err}, port
		}
		c.dropCached(port)
		buf := make([]byte, m.Size)
		err := c.ex.ReceiveFramed(ctx, buf, port)
		return exchangeResult(m.Type(), buf, err), port
	case SendReceive:
		port := portOr(m.Port, c.ports.General)
		if err := CheckReceiveSize(m.ReceiveSize); err != nil {
			return Result{Kind: m.Type(), Err: err}, port
		}
		c.dropCached(port)
		buf := make([]byte, m.ReceiveSize)
		err := c.ex.SendThenReceive(ctx, m.Data, buf, port)
		res := exchangeResult(m.Type(), buf, err)
		if err == nil {
			res.Bytes += len(m.Data)
		}
		return res, port
	default:
		c.unknown.Add(1)
		log.Error().Str("type", fmt.Sprintf("%T", msg)).Msg("dispatch.Consumer.dispatch unknown message kind")
		return Result{Err: fmt.Errorf("%w: %T", ErrUnknownMessage, msg)}, 0
	}
}

func stateResult(kind protocol.MessageType, st transfer.State, err error) Result {
	return Result{
		Kind:     kind,
		Err:      err,
		Attempts: st.Packets + st.Retries,
		Bytes:    int(st.BytesSent),
	}
}

func exchangeResult(kind protocol.MessageType, buf []byte, err error) Result {
	res := Result{Kind: kind, Err: err, Attempts: 1}
	if err == nil {
		res.Data = buf
		res.Bytes = len(buf)
	}
	return res
}

// framed sends one framed message, reusing a cached keep-alive conn for port.
func (c *Consumer) framed(ctx context.Context, typ protocol.MessageType, mode protocol.ConnectionMode, data []byte, port uint16) Result {
	res := Result{Kind: typ, Attempts: 1}
	if conn, ok := c.takeCached(port); ok {
		res.Err = c.ex.SendFramedOnOpen(conn, typ, mode, data)
		if res.Err == nil && mode == protocol.KeepAlive {
			c.cache(port, conn)
		}
	} else {
		conn, err := c.ex.SendFramed(ctx, typ, mode, data, port)
		res.Err = err
		if conn != nil {
			c.cache(port, conn)
		}
	}
	if res.Err == nil {
		res.Bytes = len(data)
	}
	return res
}

func (c *Consumer) chunked(ctx context.Context, typ protocol.MessageType, mode protocol.ConnectionMode, data []byte, port uint16) Result {
	var (
		st  transfer.State
		err error
	)
	if conn, ok := c.takeCached(port); ok {
		st, err = c.engine.SendChunkedTCPOnOpen(ctx, conn, typ, mode, data)
		if err == nil && mode == protocol.KeepAlive {
			c.cache(port, conn)
		}
	} else {
		var conn transport.Conn
		conn, st, err = c.engine.SendChunkedTCP(ctx, typ, mode, data, port)
		if conn != nil {
			c.cache(port, conn)
		}
	}
	observability.RecordRetries(c.node, "tcp", st.Retries)
	return stateResult(typ, st, err)
}

func (c *Consumer) takeCached(port uint16) (transport.Conn, bool) {
	conn, ok := c.conns[port]
	if ok {
		delete(c.conns, port)
		c.openKeep.Add(-1)
	}
	return conn, ok
}

func (c *Consumer) cache(port uint16, conn transport.Conn) {
	c.conns[port] = conn
	c.openKeep.Add(1)
}

// dropCached closes a keep-alive conn before a fresh exchange on its port.
func (c *Consumer) dropCached(port uint16) {
	if conn, ok := c.takeCached(port); ok {
		c.ex.Close(conn, "drop_keep_alive")
	}
}

func (c *Consumer) closeAll() {
	for port := range c.conns {
		c.dropCached(port)
	}
}
