package node

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/wotlink/internal/dispatch"
	"github.com/rs/zerolog/log"
)

type submitter interface {
	Submit(ctx context.Context, msg dispatch.Message, wait time.Duration) error
}

// Reporter periodically queues the node's uptime in seconds as a FourBytes
// message. A full queue drops the report.
type Reporter struct {
	node     string
	queue    submitter
	interval time.Duration
	started  time.Time
	now      func() time.Time
}

func NewReporter(node string, q submitter, interval time.Duration) *Reporter {
	return &Reporter{node: node, queue: q, interval: interval, started: time.Now(), now: time.Now}
}

func (r *Reporter) Uptime() uint32 {
	return uint32(r.now().Sub(r.started) / time.Second)
}

// Report queues one uptime message without blocking.
func (r *Reporter) Report(ctx context.Context) error {
	up := r.Uptime()
	err := r.queue.Submit(ctx, dispatch.FourBytes{Value: up}, 0)
	switch {
	case errors.Is(err, dispatch.ErrQueueFull):
		log.Warn().Str("node", r.node).Uint32("uptime_s", up).Msg("node.Reporter.report dropped: queue full")
	case err != nil:
		log.Error().Err(err).Str("node", r.node).Msg("node.Reporter.report")
	}
	return err
}

// Run reports every interval until ctx ends. A non-positive interval disables it.
func (r *Reporter) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = r.Report(ctx)
		}
	}
}
