package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/wotlink/internal/config"
	"github.com/danmuck/wotlink/internal/dispatch"
	"github.com/danmuck/wotlink/internal/journal"
	"github.com/danmuck/wotlink/internal/peer"
	"github.com/danmuck/wotlink/internal/protocol"
	"github.com/danmuck/wotlink/internal/testutil/testlog"
	"github.com/danmuck/wotlink/internal/transport"
	"github.com/stretchr/testify/require"
)

func TestConfigMapping(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultNodeConfig()
	cfg.PeerHost = "10.0.0.2"
	cfg.Transfer.ReadTimeout = config.Dur(2 * time.Second)

	tc := TransferConfig(cfg)
	if tc.TCPRetry.MaxAttempts != 4 || tc.UDPRetry.MaxAttempts != 3 {
		t.Fatalf("unexpected retry attempts tcp=%d udp=%d", tc.TCPRetry.MaxAttempts, tc.UDPRetry.MaxAttempts)
	}
	if tc.UDPPacketInterval != 15*time.Millisecond || tc.GeneralPort != protocol.PortGeneralTCP {
		t.Fatalf("unexpected transfer config: %+v", tc)
	}
	if tc.DeviceTag != "node01" {
		t.Fatalf("device tag not carried: %q", tc.DeviceTag)
	}

	tr := TransportConfig(cfg)
	if tr.Host != "10.0.0.2" || tr.ReadTimeout != 2*time.Second || tr.DialTimeout != 5*time.Second {
		t.Fatalf("unexpected transport config: %+v", tr)
	}

	if got := DispatchPorts(cfg); got != dispatch.DefaultPorts() {
		t.Fatalf("unexpected ports: %+v", got)
	}
	if got := ServerConfig(cfg); got.Node != "node01" || got.Addr != "127.0.0.1:8090" {
		t.Fatalf("unexpected server config: %+v", got)
	}

	cfg.DeviceTag = ""
	cfg.DeviceID = 42
	if got := Name(cfg); got != "device-42" {
		t.Fatalf("expected fallback name, got %q", got)
	}
}

func TestLinkMonitorCheck(t *testing.T) {
	testlog.Start(t)
	link := transport.NewLink(false)

	always := NewLinkMonitor("n", link, "", 0)
	if !always.Check() || !link.Up() {
		t.Fatalf("monitor without interface should hold the link up")
	}

	var state bool
	var probeErr error
	m := NewLinkMonitor("n", link, "wlan0", time.Millisecond)
	m.probe = func(name string) (bool, error) {
		if name != "wlan0" {
			t.Fatalf("probe got %q", name)
		}
		return state, probeErr
	}

	cases := []struct {
		name  string
		state bool
		err   error
		want  bool
	}{
		{name: "down", state: false, want: false},
		{name: "up", state: true, want: true},
		{name: "probe error", state: true, err: errors.New("no such interface"), want: false},
	}
	for _, tc := range cases {
		state, probeErr = tc.state, tc.err
		if got := m.Check(); got != tc.want || link.Up() != tc.want {
			t.Fatalf("%s: check=%v link=%v want %v", tc.name, got, link.Up(), tc.want)
		}
	}
}

func TestLinkMonitorRunStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	link := transport.NewLink(false)
	m := NewLinkMonitor("n", link, "eth9", time.Millisecond)
	m.probe = func(string) (bool, error) { return true, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	require.Eventually(t, link.Up, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestReporterQueuesUptime(t *testing.T) {
	testlog.Start(t)
	q := dispatch.NewQueue("n", 1)
	r := NewReporter("n", q, time.Minute)
	r.now = func() time.Time { return r.started.Add(90 * time.Second) }

	require.NoError(t, r.Report(context.Background()))
	msg, err := q.Next(context.Background())
	require.NoError(t, err)
	four, ok := msg.(dispatch.FourBytes)
	require.True(t, ok)
	require.Equal(t, uint32(90), four.Value)

	require.NoError(t, r.Report(context.Background()))
	require.ErrorIs(t, r.Report(context.Background()), dispatch.ErrQueueFull)
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultNodeConfig()
	cfg.PeerHost = ""
	if _, err := NewService(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestServiceDeliversToPeer(t *testing.T) {
	testlog.Start(t)

	pcfg := peer.DefaultConfig()
	pcfg.Host = "127.0.0.1"
	pcfg.Ports = config.PortsConfig{}
	pcfg.DeviceTag = "node01"
	col := peer.NewCollector()
	srv := peer.New(pcfg, col, nil)
	require.NoError(t, srv.Listen())
	pctx, pcancel := context.WithCancel(context.Background())
	pdone := make(chan struct{})
	go func() {
		_ = srv.Serve(pctx)
		close(pdone)
	}()
	t.Cleanup(func() {
		pcancel()
		<-pdone
	})

	cfg := config.DefaultNodeConfig()
	cfg.DeviceID = 7
	cfg.Ports = srv.Ports()
	cfg.Ports.ReceiveDataUDP = protocol.PortReceiveDataUDP
	cfg.Status.Addr = ""
	cfg.Reporter.Interval = config.Dur(0)
	cfg.Transfer.UDPPacketInterval = config.Dur(time.Millisecond)
	cfg.Transfer.ReadTimeout = config.Dur(2 * time.Second)
	require.NoError(t, config.ValidateNodeConfig(cfg))

	tr := transport.NewNetTransport(TransportConfig(cfg), transport.NewLink(true))
	svc := newService(cfg, tr, journal.NewMemory(16))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	results := make(chan dispatch.Result, 2)
	report := func(r dispatch.Result) { results <- r }
	require.NoError(t, svc.Queue().Submit(ctx, dispatch.FourBytes{Value: 1234, Done: report}, time.Second))
	require.NoError(t, svc.Queue().Submit(ctx, dispatch.TCPImage{Data: make([]byte, 2048), Done: report}, time.Second))

	for range 2 {
		select {
		case r := <-results:
			require.NoError(t, r.Err)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for dispatch result")
		}
	}

	got := map[protocol.MessageType]peer.Item{}
	for range 2 {
		select {
		case it := <-col.C():
			got[it.Kind] = it
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for peer delivery")
		}
	}
	require.Equal(t, uint64(1234), got[protocol.MessageFourBytesData].Value)
	require.Len(t, got[protocol.MessageTCPImage].Data, 2048)

	snap := svc.Snapshot()
	require.True(t, snap.LinkUp)
	require.Equal(t, uint64(2), snap.Consumer.Handled)
	require.Zero(t, snap.Consumer.Failed)

	cancel()
	require.NoError(t, <-done)
}
