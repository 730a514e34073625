package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/wotlink/internal/protocol"
)

// NetTransport is the net package implementation of Transport.
type NetTransport struct {
	cfg  Config
	link *Link
}

func NewNetTransport(cfg Config, link *Link) *NetTransport {
	if link == nil {
		link = NewLink(true)
	}
	return &NetTransport{cfg: cfg, link: link}
}

func (t *NetTransport) Link() *Link {
	return t.link
}

func (t *NetTransport) addr(port uint16) string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(int(port)))
}

func (t *NetTransport) DialTCP(ctx context.Context, port uint16) (Conn, error) {
	if !t.link.Up() {
		return nil, protocol.NewStatusError(protocol.StatusNoLink, "tcp_connect", nil)
	}
	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	c, err := d.DialContext(ctx, "tcp", t.addr(port))
	if err != nil {
		return nil, protocol.NewStatusError(classifyDialError(err), "tcp_connect", err)
	}
	return &netConn{c: c, readTimeout: t.cfg.ReadTimeout, writeTimeout: t.cfg.WriteTimeout}, nil
}

// classifyDialError separates failures to build an endpoint from refused or
// unreachable peers.
func classifyDialError(err error) protocol.Status {
	var dnsErr *net.DNSError
	var addrErr *net.AddrError
	if errors.As(err, &dnsErr) || errors.As(err, &addrErr) {
		return protocol.StatusCreateFailed
	}
	return protocol.StatusConnectFailed
}

func (t *NetTransport) OpenUDP() (PacketConn, error) {
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, protocol.NewStatusError(protocol.StatusCreateFailed, "udp_open", err)
	}
	return &netPacketConn{t: t, pc: pc, addrs: make(map[uint16]net.Addr)}, nil
}

type netConn struct {
	c            net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *netConn) Send(b []byte) error {
	if c.writeTimeout > 0 {
		if err := c.c.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return protocol.NewStatusError(protocol.StatusSendFailed, "tcp_send", err)
		}
	}
	if _, err := c.c.Write(b); err != nil {
		return protocol.NewStatusError(protocol.StatusSendFailed, "tcp_send", err)
	}
	return nil
}

func (c *netConn) Receive(p []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.c.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, protocol.NewStatusError(protocol.StatusReceiveFailed, "tcp_receive", err)
		}
	}
	n, err := c.c.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) && n > 0 {
			return n, nil
		}
		return n, protocol.NewStatusError(protocol.StatusReceiveFailed, "tcp_receive", err)
	}
	return n, nil
}

func (c *netConn) Close() error {
	if err := c.c.Close(); err != nil {
		return protocol.NewStatusError(protocol.StatusCloseFailed, "close", err)
	}
	return nil
}

type netPacketConn struct {
	t     *NetTransport
	pc    net.PacketConn
	mu    sync.Mutex
	addrs map[uint16]net.Addr
}

func (p *netPacketConn) resolve(port uint16) (net.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.addrs[port]; ok {
		return a, nil
	}
	a, err := net.ResolveUDPAddr("udp", p.t.addr(port))
	if err != nil {
		return nil, err
	}
	p.addrs[port] = a
	return a, nil
}

func (p *netPacketConn) SendTo(b []byte, port uint16) error {
	addr, err := p.resolve(port)
	if err != nil {
		return protocol.NewStatusError(protocol.StatusSendFailed, "udp_send", err)
	}
	if wt := p.t.cfg.WriteTimeout; wt > 0 {
		if err := p.pc.SetWriteDeadline(time.Now().Add(wt)); err != nil {
			return protocol.NewStatusError(protocol.StatusSendFailed, "udp_send", err)
		}
	}
	n, err := p.pc.WriteTo(b, addr)
	if err != nil {
		return protocol.NewStatusError(protocol.StatusSendFailed, "udp_send", err)
	}
	if n != len(b) {
		return protocol.NewStatusError(protocol.StatusSendFailed, "udp_send",
			fmt.Errorf("short datagram: %d of %d bytes", n, len(b)))
	}
	return nil
}

func (p *netPacketConn) Close() error {
	if err := p.pc.Close(); err != nil {
		return protocol.NewStatusError(protocol.StatusCloseFailed, "close", err)
	}
	return nil
}
