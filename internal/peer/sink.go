package peer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/danmuck/wotlink/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	TransportTCP    = "tcp"
	TransportStream = "stream"
	TransportUDP    = "udp"
	TransportRaw    = "raw"
)

// Item is one fully received message.
type Item struct {
	Kind      protocol.MessageType
	Transport string
	DeviceID  uint32
	Tag       string
	Port      uint16
	Value     uint64
	Data      []byte
	At        time.Time
}

type Sink interface {
	Deliver(item Item)
}

type SinkFunc func(item Item)

func (f SinkFunc) Deliver(item Item) {
	f(item)
}

// Collector keeps every delivered item in memory.
type Collector struct {
	mu    sync.Mutex
	items []Item
	ch    chan Item
}

func NewCollector() *Collector {
	return &Collector{ch: make(chan Item, 64)}
}

func (c *Collector) Deliver(item Item) {
	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()
	select {
	case c.ch <- item:
	default:
	}
}

func (c *Collector) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Item(nil), c.items...)
}

// C streams delivered items; items are dropped from the stream when nobody reads.
func (c *Collector) C() <-chan Item {
	return c.ch
}

// FileSink writes images under Dir and logs scalars.
type FileSink struct {
	Dir string
	seq uint64
	mu  sync.Mutex
}

func (s *FileSink) Deliver(item Item) {
	switch item.Kind {
	case protocol.MessageOneByteData, protocol.MessageTwoBytesData, protocol.MessageFourBytesData:
		log.Info().Uint32("device_id", item.DeviceID).Str("kind", item.Kind.String()).Uint64("value", item.Value).
			Msg("peer.FileSink.scalar")
		return
	}
	if len(item.Data) == 0 {
		return
	}
	path, err := s.write(item)
	if err != nil {
		log.Error().Err(err).Str("kind", item.Kind.String()).Msg("peer.FileSink.write")
		return
	}
	log.Info().Str("path", path).Int("bytes", len(item.Data)).Str("transport", item.Transport).Msg("peer.FileSink.image")
}

func (s *FileSink) write(item Item) (string, error) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	who := fmt.Sprintf("%d", item.DeviceID)
	if item.Tag != "" {
		who = item.Tag
	}
	name := fmt.Sprintf("%s-%s-%s-%04d.bin", item.Transport, who, item.At.UTC().Format("20060102T150405"), seq)
	path := filepath.Join(s.Dir, name)
	return path, os.WriteFile(path, item.Data, 0o644)
}
