// Package transport provides alternate Socket-contract carriers for the
// record layer: plain TCP is the default (see server.StartIPv4/6), this file
// adds a reliable-UDP profile for operators who need to cross lossy links.
//
// Adapted from xtaci/kcptun's client/server tunnel. Unlike kcptun, a KCP
// session here carries exactly one QSMP connection end to end -- there is no
// smux multiplexing layer, since stream multiplexing is outside QSMP's scope.
package transport

import (
	"crypto/sha1"
	"math/big"
	"net"

	"golang.org/x/crypto/pbkdf2"

	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/kcptun/std"
	"github.com/xtaci/qpp"
	"github.com/xtaci/tcpraw"

	"github.com/qsmplabs/qsmp/core/lib/logging"
)

// KCPConfig configures the reliable-UDP carrier. Fields mirror the subset of
// xtaci/kcptun's client/server Config that matters once smux is removed.
type KCPConfig struct {
	Key          string // pre-shared secret used to derive the KCP block cipher key
	Salt         string // PBKDF2 salt, distinct per deployment
	Crypt        string // aes, aes-128, aes-192, salsa20, tea, xor, none, ...
	Mode         string // fast, fast2, fast3, normal
	DataShard    int
	ParityShard  int
	MTU          int
	SndWnd       int
	RcvWnd       int
	NoDelay      int
	Interval     int
	Resend       int
	NoCongestion int
	TCP          bool // emulate a TCP connection via tcpraw instead of raw UDP
	QPP          bool // wrap the stream in a Quantum Permutation Pad obfuscator
	QPPCount     int
}

// DefaultKCPConfig returns a "fast3" profile tuned for interactive traffic,
// the same default emp3r0r's kcptun transport ships.
func DefaultKCPConfig(key, salt string) *KCPConfig {
	cfg := &KCPConfig{
		Key:         key,
		Salt:        salt,
		Crypt:       "aes",
		Mode:        "fast3",
		DataShard:   10,
		ParityShard: 3,
		MTU:         1350,
		SndWnd:      128,
		RcvWnd:      512,
		QPP:         false,
		QPPCount:    67,
	}
	switch cfg.Mode {
	case "normal":
		cfg.NoDelay, cfg.Interval, cfg.Resend, cfg.NoCongestion = 0, 40, 2, 1
	case "fast":
		cfg.NoDelay, cfg.Interval, cfg.Resend, cfg.NoCongestion = 0, 30, 2, 1
	case "fast2":
		cfg.NoDelay, cfg.Interval, cfg.Resend, cfg.NoCongestion = 1, 20, 2, 1
	default: // fast3
		cfg.NoDelay, cfg.Interval, cfg.Resend, cfg.NoCongestion = 1, 10, 2, 1
	}
	return cfg
}

func (c *KCPConfig) blockCrypt() kcp.BlockCrypt {
	pass := pbkdf2.Key([]byte(c.Key), []byte(c.Salt), 4096, 32, sha1.New)
	var block kcp.BlockCrypt
	switch c.Crypt {
	case "null", "none":
		block, _ = kcp.NewNoneBlockCrypt(pass)
	case "aes-128":
		block, _ = kcp.NewAESBlockCrypt(pass[:16])
	case "aes-192":
		block, _ = kcp.NewAESBlockCrypt(pass[:24])
	case "salsa20":
		block, _ = kcp.NewSalsa20BlockCrypt(pass)
	case "tea":
		block, _ = kcp.NewTEABlockCrypt(pass[:16])
	case "xor":
		block, _ = kcp.NewSimpleXORBlockCrypt(pass)
	default:
		block, _ = kcp.NewAESBlockCrypt(pass)
	}
	return block
}

func (c *KCPConfig) checkQPP() {
	if !c.QPP {
		return
	}
	if minLen := qpp.QPPMinimumSeedLength(8); len(c.Key) < minLen {
		logging.Warningf("QPP: key has %d bytes, %d required at minimum", len(c.Key), minLen)
	}
	if minPads := qpp.QPPMinimumPads(8); c.QPPCount < minPads {
		logging.Warningf("QPP: pad count %d, %d required at minimum", c.QPPCount, minPads)
	}
	if new(big.Int).GCD(nil, nil, big.NewInt(int64(c.QPPCount)), big.NewInt(8)).Int64() != 1 {
		logging.Warningf("QPP: pad count %d should be prime for best security", c.QPPCount)
	}
}

// KCPListener accepts QSMP-over-KCP connections.
type KCPListener struct {
	lis *kcp.Listener
	cfg *KCPConfig
	pad *qpp.QuantumPermutationPad
}

// ListenKCP opens a KCP listener on addr, ready to hand net.Conn values to
// the server's accept loop exactly like a TCP listener would.
func ListenKCP(addr string, cfg *KCPConfig) (*KCPListener, error) {
	cfg.checkQPP()
	block := cfg.blockCrypt()

	var lis *kcp.Listener
	var err error
	if cfg.TCP {
		pc, dialErr := tcpraw.Listen("tcp", addr)
		if dialErr != nil {
			return nil, errors.Wrap(dialErr, "tcpraw.Listen")
		}
		lis, err = kcp.ServeConn(block, cfg.DataShard, cfg.ParityShard, pc)
	} else {
		lis, err = kcp.ListenWithOptions(addr, block, cfg.DataShard, cfg.ParityShard)
	}
	if err != nil {
		return nil, errors.Wrap(err, "listen kcp")
	}

	var pad *qpp.QuantumPermutationPad
	if cfg.QPP {
		pad = qpp.NewQPP([]byte(cfg.Key), uint16(cfg.QPPCount))
	}

	return &KCPListener{lis: lis, cfg: cfg, pad: pad}, nil
}

// Accept blocks for the next KCP session and returns it as a net.Conn,
// optionally wrapped in the QPP obfuscation layer.
func (l *KCPListener) Accept() (net.Conn, error) {
	conn, err := l.lis.AcceptKCP()
	if err != nil {
		return nil, err
	}
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(l.cfg.NoDelay, l.cfg.Interval, l.cfg.Resend, l.cfg.NoCongestion)
	conn.SetMtu(l.cfg.MTU)
	conn.SetWindowSize(l.cfg.SndWnd, l.cfg.RcvWnd)

	if l.pad == nil {
		return conn, nil
	}
	return &qppConn{Conn: conn, port: std.NewQPPPort(conn, l.pad, []byte(l.cfg.Key))}, nil
}

func (l *KCPListener) Close() error   { return l.lis.Close() }
func (l *KCPListener) Addr() net.Addr { return l.lis.Addr() }

// DialKCP opens a QSMP-over-KCP connection to addr, matching ListenKCP's
// framing and obfuscation settings.
func DialKCP(addr string, cfg *KCPConfig) (net.Conn, error) {
	cfg.checkQPP()
	block := cfg.blockCrypt()

	var conn *kcp.UDPSession
	var err error
	if cfg.TCP {
		raw, dialErr := tcpraw.Dial("tcp", addr)
		if dialErr != nil {
			return nil, errors.Wrap(dialErr, "tcpraw.Dial")
		}
		udpAddr, resolveErr := net.ResolveUDPAddr("udp", addr)
		if resolveErr != nil {
			return nil, errors.WithStack(resolveErr)
		}
		conn, err = kcp.NewConn4(0, udpAddr, block, cfg.DataShard, cfg.ParityShard, true, raw)
	} else {
		conn, err = kcp.DialWithOptions(addr, block, cfg.DataShard, cfg.ParityShard)
	}
	if err != nil {
		return nil, errors.Wrap(err, "dial kcp")
	}
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(cfg.NoDelay, cfg.Interval, cfg.Resend, cfg.NoCongestion)
	conn.SetMtu(cfg.MTU)
	conn.SetWindowSize(cfg.SndWnd, cfg.RcvWnd)

	if !cfg.QPP {
		return conn, nil
	}
	pad := qpp.NewQPP([]byte(cfg.Key), uint16(cfg.QPPCount))
	return &qppConn{Conn: conn, port: std.NewQPPPort(conn, pad, []byte(cfg.Key))}, nil
}

// qppConn layers Quantum Permutation Pad obfuscation over a net.Conn's byte
// stream while keeping the surrounding net.Conn methods (deadlines,
// addresses) intact for the server's bookkeeping.
type qppConn struct {
	net.Conn
	port interface {
		Read(p []byte) (int, error)
		Write(p []byte) (int, error)
		Close() error
	}
}

func (c *qppConn) Read(p []byte) (int, error)  { return c.port.Read(p) }
func (c *qppConn) Write(p []byte) (int, error) { return c.port.Write(p) }
func (c *qppConn) Close() error {
	_ = c.port.Close()
	return c.Conn.Close()
}
