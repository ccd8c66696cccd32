// Command qsmpd runs a QSMP server and provides operator subcommands for
// generating server identities and inspecting a running instance's
// connection table.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/qsmplabs/qsmp/core/internal/admin"
	"github.com/qsmplabs/qsmp/core/internal/def"
	"github.com/qsmplabs/qsmp/core/internal/kex"
	"github.com/qsmplabs/qsmp/core/internal/pqc"
	"github.com/qsmplabs/qsmp/core/internal/server"
	"github.com/qsmplabs/qsmp/core/internal/transport"
	"github.com/qsmplabs/qsmp/core/lib/logging"
)

func main() {
	root := &cobra.Command{
		Use:   "qsmpd",
		Short: "QSMP server daemon",
		Long:  "qsmpd runs a post-quantum secure messaging server and manages its identity keys.",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(genkeyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		listenAddr    string
		adminAddr     string
		sigPrivHex    string
		verKeyHex     string
		keyIDHex      string
		debug         bool
		transportName string
		kcpKey        string
		kcpSalt       string
		h2Path        string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the QSMP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logging.SetDebugLevel(3)
			}

			key, err := loadServerKey(keyIDHex, sigPrivHex, verKeyHex)
			if err != nil {
				return err
			}

			sizes := kex.Sizes{
				KEMPublicKeySize:  pqc.PublicKeySize,
				KEMCiphertextSize: pqc.CiphertextSize,
				SignatureSize:     pqc.SignatureSize,
			}
			srv := server.New(key, pqc.KEM{}, pqc.Signer{}, sizes, nil)

			if adminAddr != "" {
				go func() {
					logging.Infof("qsmpd: admin status listening on %s", adminAddr)
					if err := http.ListenAndServe(adminAddr, admin.Handler(srv)); err != nil {
						logging.Errorf("qsmpd: admin server: %v", err)
					}
				}()
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				logging.Infof("qsmpd: shutting down")
				srv.Quit()
				cancel()
			}()

			lis, err := listenerFor(transportName, listenAddr, kcpKey, kcpSalt, h2Path)
			if err != nil {
				return err
			}

			logging.Infof("qsmpd: listening on %s (%s)", listenAddr, transportName)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(lis) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&listenAddr, "listen", "l", fmt.Sprintf(":%d", def.ServerPort), "address to listen on")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "address for the read-only admin HTTP status endpoint (disabled if empty)")
	cmd.Flags().StringVar(&sigPrivHex, "sig-priv", "", "hex-encoded Dilithium2 signing key (required)")
	cmd.Flags().StringVar(&verKeyHex, "ver-key", "", "hex-encoded Dilithium2 verification key (required)")
	cmd.Flags().StringVar(&keyIDHex, "key-id", "", "hex-encoded 16-byte key ID (required)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.Flags().StringVar(&transportName, "transport", "tcp", "carrier to listen with: tcp, kcp, h2")
	cmd.Flags().StringVar(&kcpKey, "kcp-key", "", "pre-shared key for the kcp transport's block cipher")
	cmd.Flags().StringVar(&kcpSalt, "kcp-salt", "qsmp-kcp-salt", "PBKDF2 salt for the kcp transport's block cipher")
	cmd.Flags().StringVar(&h2Path, "h2-path", "/qsmp", "HTTP path the h2 transport upgrades to a QSMP stream")
	_ = cmd.MarkFlagRequired("sig-priv")
	_ = cmd.MarkFlagRequired("ver-key")
	_ = cmd.MarkFlagRequired("key-id")

	return cmd
}

// listenerFor builds the net.Listener the server's accept loop consumes,
// selecting among the carriers core/internal/transport provides.
func listenerFor(name, addr, kcpKey, kcpSalt, h2Path string) (net.Listener, error) {
	switch name {
	case "", "tcp":
		return net.Listen("tcp", addr)
	case "kcp":
		if kcpKey == "" {
			return nil, fmt.Errorf("--kcp-key is required for the kcp transport")
		}
		return transport.ListenKCP(addr, transport.DefaultKCPConfig(kcpKey, kcpSalt))
	case "h2":
		return transport.ListenH2(addr, h2Path)
	default:
		return nil, fmt.Errorf("unknown transport %q (want tcp, kcp, or h2)", name)
	}
}

func statusCmd() *cobra.Command {
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running server's connection table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+adminAddr+"/connections", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("connect to qsmpd admin endpoint: %w", err)
			}
			defer resp.Body.Close()

			var conns []struct {
				InstanceID uint64 `json:"InstanceID"`
				PeerAddr   string `json:"PeerAddr"`
				State      int    `json:"State"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&conns); err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Instance ID", "Peer", "State"})
			for _, c := range conns {
				table.Append([]string{fmt.Sprintf("%d", c.InstanceID), c.PeerAddr, stateName(c.State)})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&adminAddr, "admin", "a", "localhost:8090", "qsmpd admin HTTP address")
	return cmd
}

func genkeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a new server identity (key ID and Dilithium2 key pair)",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer := pqc.Signer{}
			pub, priv, err := signer.GenerateKey()
			if err != nil {
				return err
			}
			keyID := uuid.New()

			fmt.Printf("key-id:  %s\n", hex.EncodeToString(keyID[:]))
			fmt.Printf("ver-key: %s\n", hex.EncodeToString(pub))
			fmt.Printf("sig-priv: %s\n", hex.EncodeToString(priv))
			return nil
		},
	}
	return cmd
}

func loadServerKey(keyIDHex, sigPrivHex, verKeyHex string) (kex.ServerKey, error) {
	keyIDBytes, err := hex.DecodeString(keyIDHex)
	if err != nil || len(keyIDBytes) != def.KeyIDSize {
		return kex.ServerKey{}, fmt.Errorf("key-id must be %d hex-encoded bytes", def.KeyIDSize)
	}
	sigPriv, err := hex.DecodeString(sigPrivHex)
	if err != nil {
		return kex.ServerKey{}, fmt.Errorf("invalid sig-priv: %w", err)
	}
	verKey, err := hex.DecodeString(verKeyHex)
	if err != nil {
		return kex.ServerKey{}, fmt.Errorf("invalid ver-key: %w", err)
	}

	var key kex.ServerKey
	copy(key.KeyID[:], keyIDBytes)
	key.SigPriv = sigPriv
	key.VerKey = verKey
	key.Expiration = time.Now().Add(365 * 24 * time.Hour)
	return key, nil
}

func stateName(s int) string {
	switch s {
	case 0:
		return "handshaking"
	case 1:
		return "established"
	case 2:
		return "closed"
	default:
		return "unknown"
	}
}
