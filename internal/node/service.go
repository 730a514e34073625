// Package node wires the transport stack into a running device: link
// monitor, dispatch consumer, uptime reporter and the status API.
package node

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/danmuck/wotlink/internal/config"
	"github.com/danmuck/wotlink/internal/dispatch"
	"github.com/danmuck/wotlink/internal/exchange"
	"github.com/danmuck/wotlink/internal/journal"
	"github.com/danmuck/wotlink/internal/server"
	"github.com/danmuck/wotlink/internal/transfer"
	"github.com/danmuck/wotlink/internal/transport"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Service struct {
	cfg  config.NodeConfig
	name string

	link     *transport.Link
	queue    *dispatch.Queue
	consumer *dispatch.Consumer
	journal  journal.Journal
	monitor  *LinkMonitor
	reporter *Reporter
	api      *server.Server
}

// NewService validates cfg and builds every component. With a monitored
// interface the link starts down until the monitor's first check.
func NewService(cfg config.NodeConfig) (*Service, error) {
	if err := config.ValidateNodeConfig(cfg); err != nil {
		return nil, err
	}
	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("node: open journal: %w", err)
	}
	return newService(cfg, transport.NewNetTransport(TransportConfig(cfg), transport.NewLink(cfg.Link.Interface == "")), j), nil
}

func newService(cfg config.NodeConfig, tr *transport.NetTransport, j journal.Journal) *Service {
	name := Name(cfg)
	ex := exchange.New(tr, cfg.DeviceID)
	engine := transfer.NewEngine(ex, TransferConfig(cfg))
	q := dispatch.NewQueue(name, cfg.Queue.Capacity)

	s := &Service{
		cfg:      cfg,
		name:     name,
		link:     tr.Link(),
		queue:    q,
		consumer: dispatch.NewConsumer(q, engine, j, DispatchPorts(cfg)),
		journal:  j,
		monitor:  NewLinkMonitor(name, tr.Link(), cfg.Link.Interface, cfg.Link.PollInterval.Duration),
		reporter: NewReporter(name, q, cfg.Reporter.Interval.Duration),
	}
	if cfg.Status.Addr != "" {
		s.api = server.New(ServerConfig(cfg), q, j, s.Snapshot)
	}
	return s
}

func (s *Service) Name() string {
	return s.name
}

// Queue is where producers submit messages.
func (s *Service) Queue() *dispatch.Queue {
	return s.queue
}

func (s *Service) Snapshot() server.Snapshot {
	return server.Snapshot{
		Node:       s.name,
		DeviceID:   s.cfg.DeviceID,
		DeviceTag:  s.cfg.DeviceTag,
		PeerHost:   s.cfg.PeerHost,
		LinkUp:     s.link.Up(),
		QueueDepth: s.queue.Len(),
		QueueCap:   s.queue.Cap(),
		Consumer:   s.consumer.Stats(),
	}
}

// Run starts every component and blocks until ctx ends or one of them fails.
// The journal is closed on return.
func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.journal.Close(); err != nil {
			log.Warn().Err(err).Str("node", s.name).Msg("node.Service.Run journal close")
		}
	}()

	log.Info().
		Str("node", s.name).
		Uint32("device_id", s.cfg.DeviceID).
		Str("peer", s.cfg.PeerHost).
		Int("queue_capacity", s.queue.Cap()).
		Msg("node.Service.Run starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.monitor.Run(gctx) })
	g.Go(func() error { return s.consumer.Run(gctx) })
	g.Go(func() error { return s.reporter.Run(gctx) })
	if s.api != nil {
		g.Go(func() error { return s.api.Run(gctx) })
	}
	err := g.Wait()
	log.Info().Str("node", s.name).Err(err).Msg("node.Service.Run stopped")
	return err
}

// Run builds a Service from cfg and runs it until SIGINT or SIGTERM.
func Run(cfg config.NodeConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := NewService(cfg)
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}
