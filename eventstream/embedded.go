package eventstream

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const embeddedStartTimeout = 5 * time.Second

// EmbeddedPublisher runs an in-process NATS server alongside its
// Publisher. Useful for development and single-binary deployments where
// no external broker exists.
type EmbeddedPublisher struct {
	*Publisher
	srv *server.Server
}

// ConnectEmbedded starts an embedded JetStream-enabled NATS server on a
// random port and returns a Publisher connected to it.
func ConnectEmbedded(prefix string, logger *slog.Logger) (*EmbeddedPublisher, error) {
	opts := &server.Options{
		Port:      -1, // Random available port
		JetStream: true,
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(embeddedStartTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start")
	}

	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect to embedded NATS: %w", err)
	}

	pub, err := NewPublisher(conn, prefix, logger)
	if err != nil {
		conn.Close()
		ns.Shutdown()
		return nil, err
	}
	pub.ownsConn = true

	return &EmbeddedPublisher{Publisher: pub, srv: ns}, nil
}

// ClientURL returns the embedded server's client URL.
func (e *EmbeddedPublisher) ClientURL() string {
	return e.srv.ClientURL()
}

// Close drains the connection and shuts the server down.
func (e *EmbeddedPublisher) Close() {
	e.Publisher.Close()
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
