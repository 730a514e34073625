package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/danmuck/wotlink/internal/config"
	"github.com/danmuck/wotlink/internal/dispatch"
	"github.com/danmuck/wotlink/internal/exchange"
	"github.com/danmuck/wotlink/internal/journal"
	"github.com/danmuck/wotlink/internal/node"
	"github.com/danmuck/wotlink/internal/protocol"
	"github.com/danmuck/wotlink/internal/protocol/scalar"
	"github.com/danmuck/wotlink/internal/transfer"
	"github.com/danmuck/wotlink/internal/transport"
	"github.com/spf13/cobra"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	send := &cobra.Command{
		Use:   "send",
		Short: "Send one message to the peer and print the outcome",
	}

	var width int
	scalarCmd := &cobra.Command{
		Use:   "scalar VALUE",
		Short: "Send a 1, 2 or 4 byte value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 0, 32)
			if err != nil {
				return fmt.Errorf("parse value: %w", err)
			}
			if _, err := scalar.Encode(scalar.Width(width), v); err != nil {
				return err
			}
			var msg dispatch.Message
			switch scalar.Width(width) {
			case scalar.Width1:
				msg = dispatch.OneByte{Value: uint8(v)}
			case scalar.Width2:
				msg = dispatch.TwoBytes{Value: uint16(v)}
			default:
				msg = dispatch.FourBytes{Value: uint32(v)}
			}
			return sendOnce(cmd, opts, msg)
		},
	}
	scalarCmd.Flags().IntVarP(&width, "width", "w", 4, "value width in bytes: 1, 2 or 4")

	var via string
	var port uint16
	imageCmd := &cobra.Command{
		Use:   "image FILE",
		Short: "Send a file as an image over tcp, stream or udp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var msg dispatch.Message
			switch via {
			case "tcp":
				msg = dispatch.TCPImage{Data: data, Mode: protocol.CloseAfterSend, Port: port}
			case "stream":
				msg = dispatch.TCPImage{Data: data, Port: port, Stream: true}
			case "udp":
				msg = dispatch.UDPImage{Data: data, Port: port}
			default:
				return fmt.Errorf("unknown transport %q: want tcp, stream or udp", via)
			}
			return sendOnce(cmd, opts, msg)
		},
	}
	imageCmd.Flags().StringVarP(&via, "transport", "t", "tcp", "tcp, stream or udp")
	imageCmd.Flags().Uint16VarP(&port, "port", "p", 0, "peer port (0 uses the configured default)")

	var size int
	var payload string
	var recvPort uint16
	receiveCmd := &cobra.Command{
		Use:   "receive",
		Short: "Request bytes from the peer, optionally sending raw data first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if size <= 0 {
				return fmt.Errorf("--size must be positive")
			}
			if err := dispatch.CheckReceiveSize(size); err != nil {
				return err
			}
			var msg dispatch.Message = dispatch.ReceiveRequest{Size: size, Port: recvPort}
			if payload != "" {
				msg = dispatch.SendReceive{Data: []byte(payload), ReceiveSize: size, Port: recvPort}
			}
			return sendOnce(cmd, opts, msg)
		},
	}
	receiveCmd.Flags().IntVarP(&size, "size", "n", 0, "bytes to receive")
	receiveCmd.Flags().StringVarP(&payload, "data", "d", "", "raw request to send first")
	receiveCmd.Flags().Uint16VarP(&recvPort, "port", "p", 0, "peer port (0 uses the general port)")

	completeCmd := &cobra.Command{
		Use:   "complete",
		Short: "Send a standalone image-complete notice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sendOnce(cmd, opts, dispatch.ImageComplete{})
		},
	}

	send.AddCommand(scalarCmd, imageCmd, receiveCmd, completeCmd)
	return send
}

// oneShot builds a consumer that handles messages inline with the link held up.
func oneShot(cfg config.NodeConfig) *dispatch.Consumer {
	name := node.Name(cfg)
	tr := transport.NewNetTransport(node.TransportConfig(cfg), transport.NewLink(true))
	engine := transfer.NewEngine(exchange.New(tr, cfg.DeviceID), node.TransferConfig(cfg))
	return dispatch.NewConsumer(dispatch.NewQueue(name, 1), engine, journal.NewMemory(1), node.DispatchPorts(cfg))
}

func sendOnce(cmd *cobra.Command, opts *rootOptions, msg dispatch.Message) error {
	cfg, err := opts.load(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res := oneShot(cfg).Handle(ctx, msg)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "kind=%s status=%s bytes=%d attempts=%d\n",
		res.Kind, protocol.StatusOf(res.Err), res.Bytes, res.Attempts)
	if len(res.Data) > 0 {
		fmt.Fprintf(out, "data=%q\n", res.Data)
	}
	return res.Err
}
