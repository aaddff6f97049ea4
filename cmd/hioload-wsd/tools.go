// File: cmd/hioload-wsd/tools.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"

	"github.com/momentics/hioload-wsengine/highlevel"
	"github.com/momentics/hioload-wsengine/internal/discovery"
	"github.com/momentics/hioload-wsengine/protocol"
)

func dialCmd() *cobra.Command {
	var (
		messages []string
		compress bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dial <url>",
		Short: "Connect to a WebSocket server, send messages and print replies",
		Long: `Connect to a ws:// or wss:// URL. Each --message is sent as a text
message and one reply is printed for it. Without --message, every received
message is printed until the peer closes or the process is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := highlevel.DefaultOptions()
			opts.EnableCompression = compress
			opts.HandshakeTimeout = timeout
			c, resp, err := highlevel.DialWithOptions(ctx, args[0], opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "connected %s (%s) extensions=%q\n",
				c.RemoteAddr(), resp.Status, c.Agreement().String())

			for _, m := range messages {
				if err := c.WriteText(ctx, m); err != nil {
					return err
				}
				rctx, cancel := context.WithTimeout(ctx, timeout)
				mt, p, err := c.ReadMessage(rctx)
				cancel()
				if err != nil {
					c.Abort()
					return err
				}
				printMessage(out, mt, p)
			}
			if len(messages) > 0 {
				return c.Close(protocol.CloseNormalClosure, "")
			}

			for {
				mt, p, err := c.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return c.Close(protocol.CloseGoingAway, "")
					}
					if highlevel.IsCloseError(err, protocol.CloseNormalClosure, protocol.CloseGoingAway) {
						return nil
					}
					return err
				}
				printMessage(out, mt, p)
			}
		},
	}

	cmd.Flags().StringArrayVarP(&messages, "message", "m", nil, "Text message to send (repeatable)")
	cmd.Flags().BoolVar(&compress, "compress", false, "Offer permessage-deflate")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Handshake and reply timeout")

	return cmd
}

func printMessage(w io.Writer, mt highlevel.MessageType, p []byte) {
	if mt == highlevel.TextMessage {
		fmt.Fprintf(w, "< %s\n", p)
		return
	}
	fmt.Fprintf(w, "< [%d bytes] %s\n", len(p), hex.EncodeToString(p))
}

func browseCmd() *cobra.Command {
	var (
		service string
		wait    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List WebSocket servers announced over mDNS",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			endpoints, err := discovery.Browse(ctx, service, discovery.ServiceDomain)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range endpoints {
				fmt.Fprintf(out, "%-24s %s compression=%t version=%s\n", e.Instance, e.URL(), e.Compression, e.Version)
			}
			if len(endpoints) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no servers found")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", discovery.ServiceType, "mDNS service type")
	cmd.Flags().DurationVar(&wait, "wait", discovery.DefaultBrowseTimeout, "How long to listen for announcements")

	return cmd
}

func acceptKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept-key <key>",
		Short: "Compute Sec-WebSocket-Accept for a Sec-WebSocket-Key",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), protocol.ComputeAcceptKey(args[0]))
		},
	}
}

func decodeCmd() *cobra.Command {
	var (
		role    string
		deflate bool
	)

	cmd := &cobra.Command{
		Use:   "decode <hex|->",
		Short: "Decode raw frame bytes and print each frame as JSON",
		Long: `Decode a hex-encoded byte stream into frames. Whitespace in the input is
ignored and "-" reads the hex from stdin. --role names the receiving side:
an acceptor expects masked frames, an initiator expects unmasked ones.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			src := args[0]
			if src == "-" {
				b, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
				if err != nil {
					return err
				}
				src = string(b)
			}
			data, err := hexBytes(src)
			if err != nil {
				return err
			}
			var allowed byte
			if deflate {
				allowed = protocol.Rsv1Bit
			}
			return decodeFrames(cmd.OutOrStdout(), data, r, allowed)
		},
	}

	cmd.Flags().StringVar(&role, "role", "acceptor", "Receiving role: acceptor or initiator")
	cmd.Flags().BoolVar(&deflate, "deflate", false, "Allow RSV1 as negotiated by permessage-deflate")

	return cmd
}

func parseRole(s string) (protocol.Role, error) {
	switch strings.ToLower(s) {
	case "acceptor", "server":
		return protocol.RoleAcceptor, nil
	case "initiator", "client":
		return protocol.RoleInitiator, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// hexBytes decodes s ignoring whitespace.
func hexBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("input is not hex: %w", err)
	}
	return b, nil
}

type frameDump struct {
	Offset  int    `json:"offset"`
	Fin     bool   `json:"fin"`
	Rsv     byte   `json:"rsv"`
	Opcode  string `json:"opcode"`
	Masked  bool   `json:"masked"`
	MaskKey string `json:"mask_key,omitempty"`
	Length  int64  `json:"length"`
	Text    string `json:"text,omitempty"`
	Hex     string `json:"hex,omitempty"`
	Code    uint16 `json:"close_code,omitempty"`
	Reason  string `json:"close_reason,omitempty"`
}

// decodeFrames writes one JSON line per complete frame in data. Trailing
// bytes of an incomplete frame are reported as an error.
func decodeFrames(w io.Writer, data []byte, role protocol.Role, allowedRsv byte) error {
	fr := protocol.NewFrameReader(protocol.FrameReaderConfig{Role: role, AllowedRsv: allowedRsv})
	off := 0
	for off < len(data) {
		start := off
		f, n, ok, err := fr.Next(data[off:])
		off += n
		if err != nil {
			return fmt.Errorf("offset %d: %w", start, err)
		}
		if !ok {
			return fmt.Errorf("offset %d: truncated frame (%s, %d bytes buffered)", start, fr.State(), fr.Pending())
		}
		d := frameDump{
			Offset: start,
			Fin:    f.Fin,
			Rsv:    f.Rsv >> 4,
			Opcode: f.Opcode.String(),
			Masked: f.Masked,
			Length: f.Length,
		}
		if f.Masked {
			d.MaskKey = hex.EncodeToString(f.MaskKey[:])
		}
		switch {
		case f.Opcode == protocol.OpcodeClose:
			info, err := protocol.ParseClosePayload(f.Payload)
			if err != nil {
				return fmt.Errorf("offset %d: %w", start, err)
			}
			d.Code, d.Reason = uint16(info.Code), info.Reason
		case f.Rsv == 0 && utf8.Valid(f.Payload) && f.Opcode != protocol.OpcodeBinary:
			d.Text = string(f.Payload)
		default:
			d.Hex = hex.EncodeToString(f.Payload)
		}
		line, err := sonnet.Marshal(d)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}
