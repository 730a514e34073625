package node

import (
	"context"
	"net"
	"time"

	"github.com/danmuck/wotlink/internal/observability"
	"github.com/danmuck/wotlink/internal/transport"
	"github.com/rs/zerolog/log"
)

// Probe reports whether the named interface can carry traffic.
type Probe func(name string) (bool, error)

// InterfaceProbe treats an interface as linked when it is up and holds at
// least one address.
func InterfaceProbe(name string) (bool, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return false, err
	}
	if iface.Flags&net.FlagUp == 0 {
		return false, nil
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return false, err
	}
	return len(addrs) > 0, nil
}

// LinkMonitor keeps a transport.Link in step with a network interface.
// With no interface name the link is held up.
type LinkMonitor struct {
	node     string
	link     *transport.Link
	iface    string
	interval time.Duration
	probe    Probe
}

func NewLinkMonitor(node string, link *transport.Link, iface string, interval time.Duration) *LinkMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &LinkMonitor{node: node, link: link, iface: iface, interval: interval, probe: InterfaceProbe}
}

// Check polls once and returns the current link state.
func (m *LinkMonitor) Check() bool {
	up := true
	if m.iface != "" {
		ok, err := m.probe(m.iface)
		if err != nil {
			log.Debug().Err(err).Str("interface", m.iface).Msg("node.LinkMonitor.probe")
		}
		up = ok && err == nil
	}
	if m.link.Set(up) {
		log.Info().Str("node", m.node).Str("interface", m.iface).Bool("up", up).Msg("node.LinkMonitor.transition")
	}
	observability.SetLinkUp(m.node, up)
	return up
}

func (m *LinkMonitor) Run(ctx context.Context) error {
	m.Check()
	if m.iface == "" {
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check()
		}
	}
}
