package command

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"time"

	"eventnet/internal/protocol"

	"github.com/spf13/cobra"
)

type probeOptions struct {
	transport  string
	addr       string
	eventID    uint32
	payloadHex string
	wait       bool
	timeout    time.Duration
}

var probeOpts probeOptions

// probeCmd sends one frame to a running server
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send a single frame to a running server",
	Long: `Send one [length][event id][payload] frame over TCP or UDP.

The payload is given as hex, e.g. an int32 of 42 is 2a000000. With --wait the
probe blocks until one frame comes back or --timeout elapses, then prints it.`,
	Example: `  eventnet probe --addr 127.0.0.1:4242 --event 1 --payload-hex 2a000000
  eventnet probe --transport udp --addr 127.0.0.1:4243 --event 1 --payload-hex 2a000000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return probe(cmd.Context(), probeOpts, cmd.OutOrStdout())
	},
}

func probe(ctx context.Context, opts probeOptions, out io.Writer) error {
	payload, err := hex.DecodeString(opts.payloadHex)
	if err != nil {
		return fmt.Errorf("invalid --payload-hex: %w", err)
	}
	if opts.transport != "tcp" && opts.transport != "udp" {
		return fmt.Errorf("unknown transport %q, want tcp or udp", opts.transport)
	}

	dialer := net.Dialer{Timeout: opts.timeout}
	conn, err := dialer.DialContext(ctx, opts.transport, opts.addr)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer conn.Close()

	frame := protocol.Encode(opts.eventID, payload)
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	fmt.Fprintf(out, "sent event=%d bytes=%d via %s to %s\n", opts.eventID, len(frame), opts.transport, opts.addr)

	if !opts.wait {
		return nil
	}

	if err := conn.SetReadDeadline(time.Now().Add(opts.timeout)); err != nil {
		return err
	}
	reply, err := readReply(conn, opts.transport)
	if err != nil {
		return fmt.Errorf("no reply: %w", err)
	}
	fmt.Fprintf(out, "received event=%d payload=%s\n", reply.EventID, hex.EncodeToString(reply.Payload))
	return nil
}

func readReply(conn net.Conn, transport string) (protocol.Frame, error) {
	if transport == "tcp" {
		return protocol.ReadFrame(conn, protocol.DefaultMaxFrameSize)
	}

	buffer := make([]byte, 64*1024)
	n, err := conn.Read(buffer)
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.ParseDatagram(buffer[:n])
}

func init() {
	probeCmd.Flags().StringVar(&probeOpts.transport, "transport", "tcp", "transport to use: tcp or udp")
	probeCmd.Flags().StringVar(&probeOpts.addr, "addr", "", "server address as host:port")
	probeCmd.Flags().Uint32Var(&probeOpts.eventID, "event", 0, "event id")
	probeCmd.Flags().StringVar(&probeOpts.payloadHex, "payload-hex", "", "payload bytes as hex")
	probeCmd.Flags().BoolVar(&probeOpts.wait, "wait", false, "wait for one reply frame")
	probeCmd.Flags().DurationVar(&probeOpts.timeout, "timeout", 5*time.Second, "dial and reply timeout")
	probeCmd.MarkFlagRequired("addr")

	rootCmd.AddCommand(probeCmd)
}
