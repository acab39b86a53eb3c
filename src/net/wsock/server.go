// Package wsock is the plain WebSocket transport of the rendezvous server.
// Clients speak a JSON action protocol over a single socket: registration,
// heartbeats, discovery queries and signaling envelopes all travel on the
// same connection, and the connection itself is the peer's delivery handle.
package wsock

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/mosaicnetworks/rendezvous/src/rendezvous"
	"github.com/sirupsen/logrus"
)

// Server accepts WebSocket connections and binds each one to the engine.
type Server struct {
	address    string
	engine     *rendezvous.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *logrus.Entry
}

// NewServer instantiates a Server which can be run at the specified address.
func NewServer(address string, engine *rendezvous.Engine, logger *logrus.Entry) *Server {
	s := &Server{
		address: address,
		engine:  engine,
		upgrader: websocket.Upgrader{
			// The rendezvous protocol is origin-agnostic; browsers from any
			// origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)

	s.httpServer = &http.Server{
		Addr:    address,
		Handler: mux,
	}

	return s
}

// Run starts the WebSocket server. This is a blocking call.
func (s *Server) Run() error {
	s.logger.WithField("bind_address", s.address).Debug("Serving WebSocket transport")

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Run")
		return err
	}
	return nil
}

// RunTLS starts the WebSocket server with TLS.
func (s *Server) RunTLS(certFile, keyFile string) error {
	err := s.httpServer.ListenAndServeTLS(certFile, keyFile)
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("RunTLS")
		return err
	}
	return nil
}

// Shutdown stops the server. Open connections are closed by their read
// loops, which removes the corresponding peers from the registry.
func (s *Server) Shutdown() {
	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.logger.WithError(err).Error("Shutting down http server")
	}
}

// Addr returns the address of the server.
func (s *Server) Addr() string {
	return s.address
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("Upgrading connection")
		return
	}

	c := newConn(ws, s.engine, r.RemoteAddr, s.logger)

	go c.readLoop()
}
