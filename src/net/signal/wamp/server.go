package wamp

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/mosaicnetworks/rendezvous/src/relay"
	"github.com/mosaicnetworks/rendezvous/src/rendezvous"
	"github.com/sirupsen/logrus"
)

// Server is the WAMP face of the rendezvous engine. It runs a WAMP router
// over WebSockets and serves the rendezvous meta-procedures from a local
// session on that router.
type Server struct {
	address     string
	realm       string
	router      router.Router
	local       *client.Client
	httpServer  *http.Server
	engine      *rendezvous.Engine
	callTimeout time.Duration
	useTLS      bool
	logger      *logrus.Entry
}

// NewServer instantiates a plaintext Server which can be run at the
// specified address. Plaintext is intended for LAN deployments and tests.
func NewServer(
	address string,
	realm string,
	engine *rendezvous.Engine,
	callTimeout time.Duration,
	logger *logrus.Entry,
) (*Server, error) {
	return newServer(address, realm, engine, callTimeout, nil, logger)
}

// NewTLSServer instantiates a Server with a TLS certificate loaded from
// certFile and keyFile.
func NewTLSServer(
	address string,
	realm string,
	certFile string,
	keyFile string,
	engine *rendezvous.Engine,
	callTimeout time.Duration,
	logger *logrus.Entry,
) (*Server, error) {
	tlscfg := &tls.Config{}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("error loading X509 key pair: %s", err)
	}
	tlscfg.Certificates = append(tlscfg.Certificates, cert)

	return newServer(address, realm, engine, callTimeout, tlscfg, logger)
}

func newServer(
	address string,
	realm string,
	engine *rendezvous.Engine,
	callTimeout time.Duration,
	tlscfg *tls.Config,
	logger *logrus.Entry,
) (*Server, error) {

	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
			},
		},
	}

	nxr, err := router.NewRouter(routerConfig, logger)
	if err != nil {
		return nil, err
	}

	// The local session serves the rendezvous meta-procedures and is also
	// the caller used to invoke peers' delivery procedures.
	local, err := client.ConnectLocal(nxr, client.Config{
		Realm:  realm,
		Logger: logger,
	})
	if err != nil {
		nxr.Close()
		return nil, err
	}

	wss := router.NewWebsocketServer(nxr)

	httpServer := &http.Server{
		Handler:   wss,
		Addr:      address,
		TLSConfig: tlscfg,
	}

	res := &Server{
		address:     address,
		realm:       realm,
		router:      nxr,
		local:       local,
		httpServer:  httpServer,
		engine:      engine,
		callTimeout: callTimeout,
		useTLS:      tlscfg != nil,
		logger:      logger,
	}

	if err := res.registerProcedures(); err != nil {
		nxr.Close()
		return nil, err
	}

	return res, nil
}

func (s *Server) registerProcedures() error {
	procedures := map[string]client.InvocationHandler{
		ProcRegister:   s.handleRegister,
		ProcHeartbeat:  s.handleHeartbeat,
		ProcUnregister: s.handleUnregister,
		ProcDiscover:   s.handleDiscover,
		ProcClosest:    s.handleClosest,
		ProcRelay:      s.handleRelay,
	}

	for uri, handler := range procedures {
		if err := s.local.Register(uri, handler, nil); err != nil {
			return fmt.Errorf("registering %s: %v", uri, err)
		}
	}

	return nil
}

// Run starts the WAMP websocket server. This is a blocking call.
func (s *Server) Run() error {
	var err error
	if s.useTLS {
		// Certificates were already loaded into the server's TLSConfig.
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		err = s.httpServer.ListenAndServe()
	}

	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Run")
	}
	return err
}

// Shutdown stops the websocket server and the WAMP router.
func (s *Server) Shutdown() {
	defer s.router.Close()

	s.local.Close()

	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.logger.WithError(err).Error("Shutting down http server")
	}
}

// Addr returns the address of the server.
func (s *Server) Addr() string {
	return s.address
}

// handleRegister processes rendezvous.register. The single argument is a
// JSON-encoded RegisterRequest. The peer's delivery procedure is assumed to
// be named after its peerId.
func (s *Server) handleRegister(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	raw, ok := singleString(inv)
	if !ok {
		return errResult("register expects one JSON argument")
	}

	req := &rendezvous.RegisterRequest{}
	if err := json.Unmarshal([]byte(raw), req); err != nil {
		return errResult(fmt.Sprintf("parsing register request: %v", err))
	}

	t := &peerTransport{
		caller:    s.local,
		procedure: req.PeerID,
		timeout:   s.callTimeout,
	}

	resp, err := s.engine.Register(req, t)
	if err != nil {
		return errResult(err.Error())
	}

	return jsonResult(resp)
}

func (s *Server) handleHeartbeat(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	peerID, ok := singleString(inv)
	if !ok {
		return errResult("heartbeat expects a peerId argument")
	}

	resp, err := s.engine.Heartbeat(peerID)
	if err != nil {
		return errResult(err.Error())
	}

	return jsonResult(resp)
}

func (s *Server) handleUnregister(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	peerID, ok := singleString(inv)
	if !ok {
		return errResult("unregister expects a peerId argument")
	}

	removed := s.engine.Unregister(peerID)

	return jsonResult(map[string]bool{"success": removed})
}

func (s *Server) handleDiscover(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	peerID, ok := singleString(inv)
	if !ok {
		return errResult("discover expects a peerId argument")
	}

	peers, err := s.engine.Discover(peerID)
	if err != nil {
		return errResult(err.Error())
	}

	return jsonResult(peers)
}

// handleClosest processes rendezvous.closest with arguments [targetKey, k].
func (s *Server) handleClosest(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) < 1 {
		return errResult("closest expects a targetKey argument")
	}

	targetKey, ok := wamp.AsString(inv.Arguments[0])
	if !ok || targetKey == "" {
		return errResult("closest expects a targetKey argument")
	}

	k := 0
	if len(inv.Arguments) > 1 {
		if n, ok := wamp.AsInt64(inv.Arguments[1]); ok {
			k = int(n)
		}
	}

	return jsonResult(s.engine.Closest(targetKey, k))
}

// handleRelay processes rendezvous.relay with arguments
// [action, from, to, payloadJSON].
func (s *Server) handleRelay(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) != 4 {
		return errResult(fmt.Sprintf(
			"relay expects 4 arguments, not %d", len(inv.Arguments)))
	}

	action, _ := wamp.AsString(inv.Arguments[0])
	from, _ := wamp.AsString(inv.Arguments[1])
	to, _ := wamp.AsString(inv.Arguments[2])
	rawPayload, _ := wamp.AsString(inv.Arguments[3])

	var payload interface{}
	if rawPayload != "" {
		if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
			return errResult(fmt.Sprintf("parsing relay payload: %v", err))
		}
	}

	if err := s.engine.Signal(relay.Action(action), from, to, payload); err != nil {
		return errResult(err.Error())
	}

	return jsonResult(map[string]bool{"success": true})
}

// peerTransport implements registry.Transport for a WAMP peer by invoking
// its delivery procedure on the router.
type peerTransport struct {
	caller    *client.Client
	procedure string
	timeout   time.Duration
}

func (t *peerTransport) Deliver(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	_, err := t.caller.Call(ctx, t.procedure, nil, wamp.List{string(data)}, nil, nil)
	return err
}

func (t *peerTransport) IsOpen() bool {
	return t.caller.Connected()
}

func singleString(inv *wamp.Invocation) (string, bool) {
	if len(inv.Arguments) != 1 {
		return "", false
	}
	return wamp.AsString(inv.Arguments[0])
}

func jsonResult(v interface{}) client.InvokeResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return errResult(fmt.Sprintf("encoding result: %v", err))
	}

	return client.InvokeResult{
		Args: wamp.List{string(raw)},
	}
}

func errResult(msg string) client.InvokeResult {
	return client.InvokeResult{
		Err:  ErrRendezvous,
		Args: wamp.List{msg},
	}
}
