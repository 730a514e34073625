package node

import (
	"fmt"
	"strings"

	"github.com/danmuck/wotlink/internal/config"
	"github.com/danmuck/wotlink/internal/dispatch"
	"github.com/danmuck/wotlink/internal/server"
	"github.com/danmuck/wotlink/internal/transfer"
	"github.com/danmuck/wotlink/internal/transport"
)

// Name labels this node in logs and metrics.
func Name(cfg config.NodeConfig) string {
	if tag := strings.TrimSpace(cfg.DeviceTag); tag != "" {
		return tag
	}
	return fmt.Sprintf("device-%d", cfg.DeviceID)
}

func TransportConfig(cfg config.NodeConfig) transport.Config {
	return transport.Config{
		Host:         cfg.PeerHost,
		DialTimeout:  cfg.Transfer.DialTimeout.Duration,
		ReadTimeout:  cfg.Transfer.ReadTimeout.Duration,
		WriteTimeout: cfg.Transfer.WriteTimeout.Duration,
	}
}

func TransferConfig(cfg config.NodeConfig) transfer.Config {
	t := cfg.Transfer
	return transfer.Config{
		MaxPacketSize:     t.MaxPacketSize,
		UDPPacketSize:     t.UDPPacketSize,
		TCPRetry:          transfer.RetryPolicy{MaxAttempts: t.TCPRetryAttempts, Delay: t.RetryDelay.Duration},
		UDPRetry:          transfer.RetryPolicy{MaxAttempts: t.UDPRetryAttempts, Delay: t.RetryDelay.Duration},
		UDPPacketInterval: t.UDPPacketInterval.Duration,
		DeviceTag:         cfg.DeviceTag,
		GeneralPort:       cfg.Ports.GeneralTCP,
	}
}

func DispatchPorts(cfg config.NodeConfig) dispatch.Ports {
	return dispatch.Ports{
		General:  cfg.Ports.GeneralTCP,
		ImageTCP: cfg.Ports.ImageTCP,
		ImageUDP: cfg.Ports.ImageUDP,
	}
}

func ServerConfig(cfg config.NodeConfig) server.Config {
	sc := server.DefaultConfig()
	sc.Node = Name(cfg)
	sc.Addr = cfg.Status.Addr
	sc.CorsOrigins = cfg.Status.CorsOrigins
	sc.Token = cfg.Status.Token
	sc.SubmitWait = cfg.Queue.SubmitWait.Duration
	return sc
}
