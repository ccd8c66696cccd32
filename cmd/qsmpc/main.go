// Command qsmpc is the QSMP client: it dials a qsmpd server and exposes the
// resulting secure channel to ordinary TCP applications through a local
// SOCKS5 proxy or a fixed local-port-to-remote-target tunnel.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qsmplabs/qsmp/core/internal/client"
	"github.com/qsmplabs/qsmp/core/internal/connstate"
	"github.com/qsmplabs/qsmp/core/internal/def"
	"github.com/qsmplabs/qsmp/core/internal/frontend"
	"github.com/qsmplabs/qsmp/core/internal/kex"
	"github.com/qsmplabs/qsmp/core/internal/pqc"
	"github.com/qsmplabs/qsmp/core/internal/transport"
	"github.com/qsmplabs/qsmp/core/lib/logging"
	"github.com/qsmplabs/qsmp/core/lib/netutil"
)

// dialConfig names how qsmpc reaches the server, independent of the
// tunnel-specific flags (listen address, target) each subcommand adds.
type dialConfig struct {
	server    string
	keyIDHex  string
	verKeyHex string
	transport string
	kcpKey    string
	kcpSalt   string
	h2Path    string
}

func main() {
	root := &cobra.Command{
		Use:   "qsmpc",
		Short: "QSMP client",
		Long:  "qsmpc dials a qsmpd server and tunnels local TCP traffic over the resulting session.",
	}

	root.AddCommand(socksCmd())
	root.AddCommand(fixedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commonFlags(cmd *cobra.Command) (dc *dialConfig, debug *bool) {
	dc = &dialConfig{}
	cmd.Flags().StringVarP(&dc.server, "server", "s", "", "qsmpd server address (required)")
	cmd.Flags().StringVar(&dc.keyIDHex, "key-id", "", "hex-encoded 16-byte server key ID (required)")
	cmd.Flags().StringVar(&dc.verKeyHex, "ver-key", "", "hex-encoded Dilithium2 server verification key (required)")
	cmd.Flags().StringVar(&dc.transport, "transport", "tcp", "carrier to dial with: tcp, kcp, h2")
	cmd.Flags().StringVar(&dc.kcpKey, "kcp-key", "", "pre-shared key for the kcp transport's block cipher")
	cmd.Flags().StringVar(&dc.kcpSalt, "kcp-salt", "qsmp-kcp-salt", "PBKDF2 salt for the kcp transport's block cipher")
	cmd.Flags().StringVar(&dc.h2Path, "h2-path", "/qsmp", "HTTP path the h2 transport upgrades to a QSMP stream, as a full URL when combined with --server")
	debug = cmd.Flags().Bool("debug", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("key-id")
	_ = cmd.MarkFlagRequired("ver-key")
	return
}

func socksCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "socks",
		Short: "Run a local SOCKS5 proxy over a QSMP tunnel",
	}
	dc, debug := commonFlags(cmd)
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "127.0.0.1:1080", "local SOCKS5 listen address")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if *debug {
			logging.SetDebugLevel(3)
		}
		dial, err := dialerFor(dc)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		logging.Infof("qsmpc: SOCKS5 proxy on %s -> %s", listenAddr, dc.server)
		return frontend.SocksFront(ctx, listenAddr, dial)
	}
	return cmd
}

func fixedCmd() *cobra.Command {
	var listenAddr, target string

	cmd := &cobra.Command{
		Use:   "tunnel",
		Short: "Tunnel a local port to a fixed remote target over QSMP",
	}
	dc, debug := commonFlags(cmd)
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "local listen address (required)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "remote host:port reached through the server (required)")
	_ = cmd.MarkFlagRequired("listen")
	_ = cmd.MarkFlagRequired("target")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if *debug {
			logging.SetDebugLevel(3)
		}
		dial, err := dialerFor(dc)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		logging.Infof("qsmpc: tunnel %s -> %s -> %s", listenAddr, dc.server, target)
		return frontend.FixedTarget(ctx, listenAddr, target, dial)
	}
	return cmd
}

// dialerFor builds a frontend.Dialer that opens one fresh QSMP connection
// per call over dc's chosen carrier, authenticating the server identity
// named by dc.keyIDHex/dc.verKeyHex.
func dialerFor(dc *dialConfig) (frontend.Dialer, error) {
	if dc.transport != "h2" {
		host, _, err := net.SplitHostPort(dc.server)
		if err != nil {
			return nil, fmt.Errorf("server address must be host:port: %w", err)
		}
		if !netutil.ValidateHostName(host) {
			return nil, fmt.Errorf("server address %q is not a valid host", host)
		}
	}

	keyIDBytes, err := hex.DecodeString(dc.keyIDHex)
	if err != nil || len(keyIDBytes) != def.KeyIDSize {
		return nil, fmt.Errorf("key-id must be %d hex-encoded bytes", def.KeyIDSize)
	}
	verKey, err := hex.DecodeString(dc.verKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid ver-key: %w", err)
	}

	var keyID [16]byte
	copy(keyID[:], keyIDBytes)

	cfg := client.Config{
		KeyID:  keyID,
		VerKey: verKey,
		KEM:    pqc.KEM{},
		Signer: pqc.Signer{},
		Sizes: kex.Sizes{
			KEMPublicKeySize:  pqc.PublicKeySize,
			KEMCiphertextSize: pqc.CiphertextSize,
			SignatureSize:     pqc.SignatureSize,
		},
	}

	dialConn, err := connectorFor(dc)
	if err != nil {
		return nil, err
	}

	return func() (*connstate.ConnectionState, error) {
		conn, err := dialConn()
		if err != nil {
			return nil, err
		}
		cs, err := client.Dial(conn, cfg)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return cs, nil
	}, nil
}

// connectorFor returns the raw net.Conn dialer for dc's chosen carrier,
// leaving the QSMP handshake itself to dialerFor's caller.
func connectorFor(dc *dialConfig) (func() (net.Conn, error), error) {
	switch dc.transport {
	case "", "tcp":
		return func() (net.Conn, error) { return net.Dial("tcp", dc.server) }, nil
	case "kcp":
		if dc.kcpKey == "" {
			return nil, fmt.Errorf("--kcp-key is required for the kcp transport")
		}
		cfg := transport.DefaultKCPConfig(dc.kcpKey, dc.kcpSalt)
		return func() (net.Conn, error) { return transport.DialKCP(dc.server, cfg) }, nil
	case "h2":
		return func() (net.Conn, error) {
			return transport.DialH2(context.Background(), "https://"+dc.server+dc.h2Path)
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want tcp, kcp, or h2)", dc.transport)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
