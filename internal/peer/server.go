// Package peer is the fixed-peer side of the wire format: TCP listeners for
// framed, raw and stream traffic plus a UDP listener that reassembles
// tag-prefixed image datagrams.
package peer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/wotlink/internal/config"
	"github.com/danmuck/wotlink/internal/protocol"
	"github.com/danmuck/wotlink/internal/protocol/frame"
	"github.com/danmuck/wotlink/internal/protocol/scalar"
	"github.com/rs/zerolog/log"
)

var ErrBadMarker = errors.New("peer: unexpected end marker")

// Request describes what the node asked for when the peer must reply.
type Request struct {
	DeviceID uint32
	Port     uint16
	Raw      []byte
}

// ReplyFunc returns the bytes sent back for ReceiveRequest headers, raw
// requests and idle readers.
type ReplyFunc func(req Request) []byte

func StaticReply(b []byte) ReplyFunc {
	return func(Request) []byte { return b }
}

type Config struct {
	Host            string
	Ports           config.PortsConfig
	DeviceTag       string
	MaxPayloadBytes uint64
	// IdleReply is how long a fresh connection may stay silent before the
	// peer assumes a header-less read and pushes the reply.
	IdleReply   time.Duration
	ReadTimeout time.Duration
	// UDPSettle delays finalizing a UDP image so datagrams still in the
	// socket buffer are counted.
	UDPSettle time.Duration
	// RawSettle ends a header-less request: the request is everything that
	// arrives before the connection goes quiet for this long.
	RawSettle time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Ports:           config.DefaultPorts(),
		MaxPayloadBytes: frame.DefaultLimits().MaxPayloadBytes,
		IdleReply:       250 * time.Millisecond,
		ReadTimeout:     30 * time.Second,
		UDPSettle:       50 * time.Millisecond,
		RawSettle:       20 * time.Millisecond,
	}
}

func ConfigFrom(cfg config.PeerConfig) Config {
	out := DefaultConfig()
	out.Host = cfg.ListenHost
	out.Ports = cfg.Ports
	out.DeviceTag = cfg.DeviceTag
	if cfg.MaxPayloadBytes > 0 {
		out.MaxPayloadBytes = cfg.MaxPayloadBytes
	}
	return out
}

type Server struct {
	cfg   Config
	sink  Sink
	reply ReplyFunc

	general net.Listener
	image   net.Listener
	udp     net.PacketConn

	mu      sync.Mutex
	pending map[string][]byte
	// dropped holds tags whose image overflowed; their packets are ignored
	// until the next completion notice.
	dropped map[string]bool

	wg sync.WaitGroup
}

func New(cfg Config, sink Sink, reply ReplyFunc) *Server {
	if sink == nil {
		sink = NewCollector()
	}
	if reply == nil {
		reply = StaticReply(nil)
	}
	return &Server{cfg: cfg, sink: sink, reply: reply, pending: make(map[string][]byte), dropped: make(map[string]bool)}
}

func (s *Server) addr(port uint16) string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(int(port)))
}

// Listen binds every listener. Zero ports bind ephemeral ports; see Ports.
func (s *Server) Listen() error {
	var err error
	if s.general, err = net.Listen("tcp", s.addr(s.cfg.Ports.GeneralTCP)); err != nil {
		return fmt.Errorf("peer: listen general: %w", err)
	}
	if s.image, err = net.Listen("tcp", s.addr(s.cfg.Ports.ImageTCP)); err != nil {
		_ = s.general.Close()
		return fmt.Errorf("peer: listen image: %w", err)
	}
	if s.udp, err = net.ListenPacket("udp", s.addr(s.cfg.Ports.ImageUDP)); err != nil {
		_ = s.general.Close()
		_ = s.image.Close()
		return fmt.Errorf("peer: listen udp: %w", err)
	}
	log.Info().Str("general", s.general.Addr().String()).Str("image", s.image.Addr().String()).
		Str("udp", s.udp.LocalAddr().String()).Msg("peer.Server.listen")
	return nil
}

// Ports reports the bound ports. Only valid after Listen.
func (s *Server) Ports() config.PortsConfig {
	p := s.cfg.Ports
	p.GeneralTCP = uint16(s.general.Addr().(*net.TCPAddr).Port)
	p.ImageTCP = uint16(s.image.Addr().(*net.TCPAddr).Port)
	p.ImageUDP = uint16(s.udp.LocalAddr().(*net.UDPAddr).Port)
	return p
}

// Serve accepts until ctx ends, then closes the listeners and waits for
// in-flight connections.
func (s *Server) Serve(ctx context.Context) error {
	generalPort := s.Ports().GeneralTCP
	imagePort := s.Ports().ImageTCP
	s.wg.Add(3)
	go s.acceptLoop(s.general, generalPort, false)
	go s.acceptLoop(s.image, imagePort, true)
	go s.udpLoop()

	<-ctx.Done()
	_ = s.general.Close()
	_ = s.image.Close()
	_ = s.udp.Close()
	s.wg.Wait()
	return nil
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) acceptLoop(ln net.Listener, port uint16, image bool) {
	defer s.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Uint16("port", port).Msg("peer.Server.accept")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer c.Close()
			if err := s.handle(c, port, image); err != nil {
				log.Warn().Err(err).Uint16("port", port).Str("remote", c.RemoteAddr().String()).Msg("peer.Server.handle")
			}
		}()
	}
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func (s *Server) handle(c net.Conn, port uint16, image bool) error {
	r := bufio.NewReaderSize(c, 64*1024)

	if s.cfg.IdleReply > 0 {
		_ = c.SetReadDeadline(time.Now().Add(s.cfg.IdleReply))
	}
	first, err := r.Peek(1)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return s.writeReply(c, Request{Port: port})
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	s.extendDeadline(c)

	if !image {
		if !isDigit(first[0]) {
			return s.handleRaw(c, r, port)
		}
		return s.framedLoop(c, r, port)
	}

	peek, err := r.Peek(frame.HeaderSize)
	if err == nil {
		if _, derr := frame.DecodeHeader(peek); derr == nil {
			return s.framedLoop(c, r, port)
		}
	} else if !errors.Is(err, io.EOF) {
		return err
	}
	return s.handleStream(r, port)
}

func (s *Server) extendDeadline(c net.Conn) {
	if s.cfg.ReadTimeout > 0 {
		_ = c.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	} else {
		_ = c.SetReadDeadline(time.Time{})
	}
}

func (s *Server) writeReply(w io.Writer, req Request) error {
	b := s.reply(req)
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

// handleRaw answers a header-less request. Raw requests carry no length, so
// the request ends when the connection goes quiet for RawSettle, at EOF, or
// at MaxPayloadBytes.
func (s *Server) handleRaw(c net.Conn, r *bufio.Reader, port uint16) error {
	limit := int(s.cfg.MaxPayloadBytes)
	raw := make([]byte, r.Buffered())
	if _, err := io.ReadFull(r, raw); err != nil {
		return err
	}
	buf := make([]byte, 4096)
	for len(raw) < limit {
		if s.cfg.RawSettle <= 0 {
			break
		}
		_ = c.SetReadDeadline(time.Now().Add(s.cfg.RawSettle))
		n, err := r.Read(buf[:min(len(buf), limit-len(raw))])
		raw = append(raw, buf[:n]...)
		if err != nil {
			var ne net.Error
			if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, io.EOF) {
				break
			}
			return err
		}
	}
	s.extendDeadline(c)
	s.sink.Deliver(Item{Kind: protocol.MessageSendReceive, Transport: TransportRaw, Port: port, Data: raw, At: time.Now()})
	return s.writeReply(c, Request{Port: port, Raw: raw})
}

// handleStream reads the header-less image path until EOF and strips "END".
func (s *Server) handleStream(r *bufio.Reader, port uint16) error {
	data, err := io.ReadAll(io.LimitReader(r, int64(s.cfg.MaxPayloadBytes)+int64(len(protocol.StreamEndMarker))))
	if err != nil {
		return err
	}
	if !bytes.HasSuffix(data, []byte(protocol.StreamEndMarker)) {
		return fmt.Errorf("%w: stream of %d bytes has no %q", ErrBadMarker, len(data), protocol.StreamEndMarker)
	}
	data = data[:len(data)-len(protocol.StreamEndMarker)]
	s.sink.Deliver(Item{Kind: protocol.MessageTCPImage, Transport: TransportStream, Port: port, Data: data, At: time.Now()})
	return nil
}

func (s *Server) framedLoop(c net.Conn, r *bufio.Reader, port uint16) error {
	limits := frame.Limits{MaxPayloadBytes: s.cfg.MaxPayloadBytes}
	for {
		s.extendDeadline(c)
		h, err := frame.ReadHeader(r)
		if err != nil {
			if errors.Is(err, frame.ErrShortHeader) {
				return nil
			}
			return err
		}
		if h.PayloadSize > limits.MaxPayloadBytes {
			return frame.ErrPayloadTooLarge
		}
		payload := make([]byte, h.PayloadSize)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("peer: read %s payload: %w", h.MessageType, err)
		}
		if err := s.dispatch(c, r, port, h, payload); err != nil {
			return err
		}
	}
}

func (s *Server) dispatch(c net.Conn, r *bufio.Reader, port uint16, h frame.Header, payload []byte) error {
	item := Item{Kind: h.MessageType, Transport: TransportTCP, DeviceID: h.DeviceID, Port: port, Data: payload, At: time.Now()}
	switch h.MessageType {
	case protocol.MessageOneByteData, protocol.MessageTwoBytesData, protocol.MessageFourBytesData:
		v, err := scalar.Decode(payload)
		if err != nil {
			return err
		}
		item.Value = v
		s.sink.Deliver(item)
	case protocol.MessageTCPImage:
		marker, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("peer: read end marker: %w", err)
		}
		if marker != protocol.ChunkedEndMarker {
			return fmt.Errorf("%w: %q", ErrBadMarker, marker)
		}
		s.sink.Deliver(item)
	case protocol.MessageReceiveRequest:
		return s.writeReply(c, Request{DeviceID: h.DeviceID, Port: port})
	case protocol.MessageImageComplete:
		if len(payload) != 1 || payload[0] != protocol.ImageCompleteByte {
			return fmt.Errorf("%w: image complete payload %q", ErrBadMarker, payload)
		}
		s.finalizeUDP(h.DeviceID)
	default:
		log.Warn().Str("type", h.MessageType.String()).Uint32("device_id", h.DeviceID).Msg("peer.Server.dispatch unhandled")
		s.sink.Deliver(item)
	}
	return nil
}

func (s *Server) udpLoop() {
	defer s.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, from, err := s.udp.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("peer.Server.udp read")
			continue
		}
		tag, err := frame.DecodeTag(buf[:n])
		if err != nil {
			log.Warn().Err(err).Str("from", from.String()).Msg("peer.Server.udp tag")
			continue
		}
		s.mu.Lock()
		switch {
		case s.dropped[tag]:
		case uint64(len(s.pending[tag])+n-frame.TagSize) > s.cfg.MaxPayloadBytes:
			log.Warn().Str("tag", tag).Int("buffered", len(s.pending[tag])).Uint64("limit", s.cfg.MaxPayloadBytes).
				Msg("peer.Server.udp image too large, discarded")
			delete(s.pending, tag)
			s.dropped[tag] = true
		default:
			s.pending[tag] = append(s.pending[tag], buf[frame.TagSize:n]...)
		}
		s.mu.Unlock()
	}
}

// finalizeUDP delivers the buffered UDP image for the configured tag, or every
// pending tag when none is configured.
func (s *Server) finalizeUDP(deviceID uint32) {
	if s.cfg.UDPSettle > 0 {
		time.Sleep(s.cfg.UDPSettle)
	}
	s.mu.Lock()
	var done map[string][]byte
	if s.cfg.DeviceTag != "" {
		if data, ok := s.pending[s.cfg.DeviceTag]; ok {
			done = map[string][]byte{s.cfg.DeviceTag: data}
			delete(s.pending, s.cfg.DeviceTag)
		}
		delete(s.dropped, s.cfg.DeviceTag)
	} else {
		done = s.pending
		s.pending = make(map[string][]byte)
		s.dropped = make(map[string]bool)
	}
	s.mu.Unlock()

	if len(done) == 0 {
		log.Warn().Uint32("device_id", deviceID).Msg("peer.Server.finalize no pending image")
		return
	}
	for tag, data := range done {
		s.sink.Deliver(Item{
			Kind:      protocol.MessageUDPImage,
			Transport: TransportUDP,
			DeviceID:  deviceID,
			Tag:       tag,
			Port:      s.Ports().ImageUDP,
			Data:      data,
			At:        time.Now(),
		})
	}
}
