// Package transporttest provides a scriptable in-memory Transport.
package transporttest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/danmuck/wotlink/internal/protocol"
	"github.com/danmuck/wotlink/internal/transport"
)

type Op string

const (
	OpDial     Op = "dial"
	OpSend     Op = "send"
	OpReceive  Op = "receive"
	OpClose    Op = "close"
	OpOpenUDP  Op = "udp_open"
	OpSendTo   Op = "udp_send"
	OpCloseUDP Op = "udp_close"
)

var opStatus = map[Op]protocol.Status{
	OpDial:     protocol.StatusConnectFailed,
	OpSend:     protocol.StatusSendFailed,
	OpReceive:  protocol.StatusReceiveFailed,
	OpClose:    protocol.StatusCloseFailed,
	OpOpenUDP:  protocol.StatusCreateFailed,
	OpSendTo:   protocol.StatusSendFailed,
	OpCloseUDP: protocol.StatusCloseFailed,
}

var errInjected = errors.New("transporttest: injected failure")

// Event is one recorded call. Conn numbers dialed connections from 1; UDP
// sockets share the same counter.
type Event struct {
	Op   Op
	Conn int
	Port uint16
	Data []byte
	Err  error
}

// Fake records every call and fails the calls scripted with Fail/FailFrom.
// Call indexes are 0-based and counted per Op across all connections.
type Fake struct {
	mu       sync.Mutex
	events   []Event
	calls    map[Op]int
	fail     map[Op]map[int]bool
	failFrom map[Op]int
	nextConn int
	reply    []byte
	link     *transport.Link
}

func New() *Fake {
	return &Fake{
		calls:    make(map[Op]int),
		fail:     make(map[Op]map[int]bool),
		failFrom: make(map[Op]int),
	}
}

// WithLink makes DialTCP honor l like the real transport.
func (f *Fake) WithLink(l *transport.Link) *Fake {
	f.mu.Lock()
	f.link = l
	f.mu.Unlock()
	return f
}

// Reply sets the bytes each new connection serves to Receive.
func (f *Fake) Reply(b []byte) *Fake {
	f.mu.Lock()
	f.reply = append([]byte(nil), b...)
	f.mu.Unlock()
	return f
}

// Fail scripts failures for the given call indexes of op.
func (f *Fake) Fail(op Op, calls ...int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[op] == nil {
		f.fail[op] = make(map[int]bool)
	}
	for _, c := range calls {
		f.fail[op][c] = true
	}
	return f
}

// FailFrom fails every call of op with index >= from.
func (f *Fake) FailFrom(op Op, from int) *Fake {
	f.mu.Lock()
	f.failFrom[op] = from + 1
	f.mu.Unlock()
	return f
}

// record must be called with f.mu held.
func (f *Fake) record(op Op, conn int, port uint16, data []byte) error {
	idx := f.calls[op]
	f.calls[op] = idx + 1
	var err error
	if f.fail[op][idx] || (f.failFrom[op] > 0 && idx >= f.failFrom[op]-1) {
		err = protocol.NewStatusError(opStatus[op], string(op), errInjected)
	}
	var cp []byte
	if data != nil {
		cp = append([]byte(nil), data...)
	}
	f.events = append(f.events, Event{Op: op, Conn: conn, Port: port, Data: cp, Err: err})
	return err
}

func (f *Fake) DialTCP(_ context.Context, port uint16) (transport.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.link != nil && !f.link.Up() {
		return nil, protocol.NewStatusError(protocol.StatusNoLink, "tcp_connect", nil)
	}
	f.nextConn++
	id := f.nextConn
	if err := f.record(OpDial, id, port, nil); err != nil {
		return nil, err
	}
	return &fakeConn{f: f, id: id, port: port, reply: append([]byte(nil), f.reply...)}, nil
}

func (f *Fake) OpenUDP() (transport.PacketConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextConn++
	id := f.nextConn
	if err := f.record(OpOpenUDP, id, 0, nil); err != nil {
		return nil, err
	}
	return &fakePacketConn{f: f, id: id}, nil
}

// Events returns a copy of every recorded call.
func (f *Fake) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

// Ops returns the recorded calls of op, including failed ones.
func (f *Fake) Ops(op Op) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, e := range f.events {
		if e.Op == op {
			out = append(out, e)
		}
	}
	return out
}

// Sent returns the payloads of successful sends (TCP and UDP) in order.
func (f *Fake) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, e := range f.events {
		if (e.Op == OpSend || e.Op == OpSendTo) && e.Err == nil {
			out = append(out, e.Data)
		}
	}
	return out
}

// Count returns how many times op was called.
func (f *Fake) Count(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

type fakeConn struct {
	f     *Fake
	id    int
	port  uint16
	reply []byte
}

func (c *fakeConn) Send(b []byte) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return c.f.record(OpSend, c.id, c.port, b)
}

func (c *fakeConn) Receive(p []byte) (int, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if err := c.f.record(OpReceive, c.id, c.port, nil); err != nil {
		return 0, err
	}
	if len(c.reply) == 0 {
		return 0, protocol.NewStatusError(protocol.StatusReceiveFailed, "tcp_receive", io.EOF)
	}
	n := copy(p, c.reply)
	c.reply = c.reply[n:]
	return n, nil
}

func (c *fakeConn) Close() error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return c.f.record(OpClose, c.id, c.port, nil)
}

type fakePacketConn struct {
	f  *Fake
	id int
}

func (p *fakePacketConn) SendTo(b []byte, port uint16) error {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	return p.f.record(OpSendTo, p.id, port, b)
}

func (p *fakePacketConn) Close() error {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	return p.f.record(OpCloseUDP, p.id, 0, nil)
}
