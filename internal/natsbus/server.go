// Package natsbus runs the embedded NATS server that carries run events and
// local IPC, and wraps the client connections to it.
package natsbus

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mtzanidakis/webextract/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

var ErrNotReady = errors.New("nats server not ready")

type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

// New starts an embedded server. Port 0 picks a random free port; the
// server only listens on loopback.
func New(cfg config.NATSConfig) (*Bus, error) {
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create nats data dir: %w", err)
		}
	}

	port := cfg.Port
	if port == 0 {
		port = natsserver.RANDOM_PORT
	}
	opts := &natsserver.Options{
		Host:     "127.0.0.1",
		Port:     port,
		NoLog:    true,
		NoSigs:   true,
		StoreDir: cfg.DataDir,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, ErrNotReady
	}

	return &Bus{server: ns, cfg: cfg}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Port returns the port the server actually listens on.
func (b *Bus) Port() int {
	if addr, ok := b.server.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return b.cfg.Port
}

// Connect opens a client connection to the bus.
func (b *Bus) Connect(name string) (*Client, error) {
	return dial(b.ClientURL(), name)
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
